package usage

import (
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/scrapers/cpauportal"
	"cpau-backend/lib/timezone"
)

// the backend lags real time, electric data is only trustworthy up to
// two days ago
const electricBackendLagDays = 2

func electricDefaultEnd() time.Time {
	return timezone.Today().AddDate(0, 0, -electricBackendLagDays)
}

// validateElectricRange applies defaults and fails fast before any
// network call. Ranges are never clamped, a caller asking for data the
// backend cannot have gets an error, not silently less data.
func validateElectricRange(interval Interval, start, end time.Time) (time.Time, time.Time, error) {
	if end.IsZero() {
		end = electricDefaultEnd()
	}
	if end.Before(start) {
		return start, end, apierr.New(apierr.KindInvalidRange, "end date before start date").
			WithInterval(interval.String()).
			WithRange(start, end)
	}
	if interval == IntervalHourly || interval == IntervalFifteenMinute {
		if latest := electricDefaultEnd(); end.After(latest) {
			return start, end, apierr.Newf(apierr.KindInvalidRange,
				"end date too recent, %s data lags %d days", interval, electricBackendLagDays).
				WithInterval(interval.String()).
				WithRange(start, end)
		}
	}
	return start, end, nil
}

// planElectricCalls expands a date range into the LoadUsage requests
// that cover it. The endpoint's window shape depends on mode: monthly
// answers with every billing period at once, daily with the 30 days
// ending on strDate, hourly and 15-minute with a single day.
func planElectricCalls(interval Interval, meterNumber string, start, end time.Time) []cpauportal.LoadUsageRequest {
	switch interval {
	case IntervalBilling, IntervalMonthly:
		return []cpauportal.LoadUsageRequest{
			cpauportal.NewLoadUsageRequest(cpauportal.ModeMonthly, meterNumber, time.Time{}),
		}

	case IntervalDaily:
		// walk backward from end in 30-day windows until start is covered
		var plan []cpauportal.LoadUsageRequest
		for current := end; !current.Before(start); current = current.AddDate(0, 0, -30) {
			plan = append(plan, cpauportal.NewLoadUsageRequest(cpauportal.ModeDaily, meterNumber, current))
		}
		return plan

	default:
		mode := cpauportal.ModeHourly
		if interval == IntervalFifteenMinute {
			mode = cpauportal.ModeFifteenMin
		}
		var plan []cpauportal.LoadUsageRequest
		for current := start; !current.After(end); current = current.AddDate(0, 0, 1) {
			plan = append(plan, cpauportal.NewLoadUsageRequest(mode, meterNumber, current))
		}
		return plan
	}
}
