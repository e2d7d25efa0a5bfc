package usage

import (
	"math"
	"sort"
	"strings"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/scrapers/cpauportal"
	"cpau-backend/lib/timezone"
)

// accumulator folds raw LoadUsage rows into normalized records. Import
// and export arrive as separate rows per time bucket, and overlapping
// chunk calls replay the same rows, so buckets are keyed and assignment
// overwrites rather than sums.
type accumulator struct {
	interval Interval
	buckets  map[string]*Record
}

func newAccumulator(interval Interval) *accumulator {
	return &accumulator{
		interval: interval,
		buckets:  map[string]*Record{},
	}
}

func (a *accumulator) add(rows []cpauportal.UsageRow) error {
	for _, row := range rows {
		key, timestamp, err := a.bucket(row)
		if err != nil {
			return err
		}

		record := a.buckets[key]
		if record == nil {
			record = &Record{Timestamp: timestamp}
			if a.interval == IntervalBilling || a.interval == IntervalMonthly {
				record.BillingPeriod = row.BillPeriod
			}
			a.buckets[key] = record
		}

		value, err := row.UsageValue.Float64()
		if err != nil {
			return apierr.Wrap(apierr.KindApi, err, "unparseable usage value").
				WithInterval(a.interval.String())
		}

		switch {
		case strings.EqualFold(row.UsageType, "IUsage"):
			record.Imported = value
		case strings.EqualFold(row.UsageType, "EUsage"):
			// export rows come in negative
			record.Exported = math.Abs(value)
		}
	}
	return nil
}

func (a *accumulator) bucket(row cpauportal.UsageRow) (key string, timestamp time.Time, err error) {
	switch a.interval {
	case IntervalBilling, IntervalMonthly:
		// period labels key the bucket; the timestamp falls back to the
		// row's year/month when the label won't parse
		start, _, ok := parsePeriodLabel(row.BillPeriod)
		if !ok {
			start = timezone.Date(row.Year, time.Month(row.Month), 1)
		}
		return row.BillPeriod, start, nil

	case IntervalDaily:
		date, err := time.ParseInLocation(cpauportal.DateLayout, row.UsageDate, timezone.Location)
		if err != nil {
			return "", time.Time{}, apierr.Wrap(apierr.KindApi, err, "unparseable usage date").
				WithInterval(a.interval.String())
		}
		return row.UsageDate, date, nil

	default:
		date, err := time.ParseInLocation(cpauportal.DateLayout, row.UsageDate, timezone.Location)
		if err != nil {
			return "", time.Time{}, apierr.Wrap(apierr.KindApi, err, "unparseable usage date").
				WithInterval(a.interval.String())
		}
		clock, err := time.Parse(cpauportal.HourLayout, row.Hourly)
		if err != nil {
			return "", time.Time{}, apierr.Wrap(apierr.KindApi, err, "unparseable usage time").
				WithInterval(a.interval.String())
		}
		timestamp = date.Add(
			time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute,
		)
		return row.UsageDate + " " + row.Hourly, timestamp, nil
	}
}

// records filters the accumulated buckets to [start, end], recomputes
// net and returns them sorted ascending.
func (a *accumulator) records(start, end time.Time) []Record {
	var out []Record
	for _, record := range a.buckets {
		if !a.inRange(*record, start, end) {
			continue
		}
		record.Net = record.Imported - record.Exported
		out = append(out, *record)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].BillingPeriod < out[j].BillingPeriod
	})
	return out
}

func (a *accumulator) inRange(record Record, start, end time.Time) bool {
	switch a.interval {
	case IntervalBilling, IntervalMonthly:
		periodStart, periodEnd, ok := parsePeriodLabel(record.BillingPeriod)
		if !ok {
			// keep rather than silently drop data we can't place
			return true
		}
		return !periodEnd.Before(start) && !periodStart.After(end)

	default:
		// end is date-only, cover its whole day for timestamped records
		return !record.Timestamp.Before(start) && record.Timestamp.Before(end.AddDate(0, 0, 1))
	}
}

// parsePeriodLabel splits a "MM/DD/YY to MM/DD/YY" billing period
// label into its boundary dates.
func parsePeriodLabel(label string) (start, end time.Time, ok bool) {
	from, to, found := strings.Cut(label, " to ")
	if !found {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.ParseInLocation(cpauportal.DateLayout, strings.TrimSpace(from), timezone.Location)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.ParseInLocation(cpauportal.DateLayout, strings.TrimSpace(to), timezone.Location)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// FormatPeriodLabel renders period boundaries in the same label shape
// raw electric rows carry, so water billing records read uniformly.
func FormatPeriodLabel(start, end time.Time) string {
	return start.Format(cpauportal.DateLayout) + " to " + end.Format(cpauportal.DateLayout)
}
