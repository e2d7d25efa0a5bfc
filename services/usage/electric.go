package usage

import (
	"context"
	"log/slog"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/scrapers/cpauportal"
)

// ElectricMeter reads kWh usage through the portal's LoadUsage
// endpoint. Solar accounts report import and export separately; both
// survive into the records.
type ElectricMeter struct {
	portal *cpauportal.Client
	info   cpauportal.MeterInfo
}

func (m *ElectricMeter) Number() string  { return m.info.Number }
func (m *ElectricMeter) Address() string { return m.info.Address }

// RateCategory is the rate schedule the meter is billed under, e.g.
// "E-1 Residential".
func (m *ElectricMeter) RateCategory() string { return m.info.RateCategory }

func (m *ElectricMeter) AvailableIntervals() []Interval {
	return []Interval{
		IntervalBilling,
		IntervalMonthly,
		IntervalDaily,
		IntervalHourly,
		IntervalFifteenMinute,
	}
}

func (m *ElectricMeter) FetchUsage(ctx context.Context, interval Interval, start, end time.Time) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "ElectricMeter.FetchUsage")
	defer span.End()

	start, end, err := validateElectricRange(interval, start, end)
	if err != nil {
		return nil, err
	}

	plan := planElectricCalls(interval, m.info.Number, start, end)
	slog.DebugContext(ctx, "fetching electric usage",
		"meter", m.info.Number, "interval", interval.String(),
		"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"),
		"calls", len(plan))

	acc := newAccumulator(interval)
	for _, req := range plan {
		rows, err := m.portal.LoadUsage(ctx, req)
		if err != nil {
			return nil, err
		}
		err = acc.add(rows)
		if err != nil {
			return nil, err
		}
	}

	return acc.records(start, end), nil
}

func (m *ElectricMeter) StreamUsage(ctx context.Context, interval Interval, start, end time.Time, chunkDays int, yield YieldFunc) error {
	ctx, span := tracer.Start(ctx, "ElectricMeter.StreamUsage")
	defer span.End()

	// billing periods arrive in one upstream call, nothing to chunk
	if interval == IntervalBilling || interval == IntervalMonthly {
		records, err := m.FetchUsage(ctx, interval, start, end)
		if err != nil {
			return err
		}
		return yield(records)
	}

	start, end, err := validateElectricRange(interval, start, end)
	if err != nil {
		return err
	}
	if chunkDays <= 0 {
		chunkDays = DefaultChunkDays
	}

	for current := start; !current.After(end); current = current.AddDate(0, 0, chunkDays) {
		chunkEnd := current.AddDate(0, 0, chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		records, err := m.FetchUsage(ctx, interval, current, chunkEnd)
		if err != nil {
			return err
		}
		err = yield(records)
		if err != nil {
			return err
		}
	}
	return nil
}

// AvailabilityWindow probes the billing history, the cheapest call that
// reaches all the way back, and bounds the latest date by the backend's
// reporting lag.
func (m *ElectricMeter) AvailabilityWindow(ctx context.Context, interval Interval) (Window, error) {
	ctx, span := tracer.Start(ctx, "ElectricMeter.AvailabilityWindow")
	defer span.End()

	periods, err := m.FetchUsage(ctx, IntervalBilling, time.Time{}, electricDefaultEnd())
	if err != nil {
		return Window{}, err
	}
	if len(periods) == 0 {
		return Window{}, apierr.New(apierr.KindApi, "no billing history on meter").
			WithInterval(interval.String())
	}

	window := Window{
		Earliest: periods[0].Timestamp,
		Latest:   electricDefaultEnd(),
	}
	if interval == IntervalBilling || interval == IntervalMonthly {
		last := periods[len(periods)-1]
		if _, periodEnd, ok := parsePeriodLabel(last.BillingPeriod); ok {
			window.Latest = periodEnd
		}
	}
	return window, nil
}
