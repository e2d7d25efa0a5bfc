package usage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/scrapers/cpauportal"
	"cpau-backend/lib/scrapers/watersmart"
	"cpau-backend/lib/timezone"
)

// WaterMeter reads consumption through watersmart's chart endpoints.
// Water only flows toward the customer, so gallons land in Imported and
// Exported and Net stay zero instead of pretending a kWh-style balance
// exists.
type WaterMeter struct {
	client *watersmart.Client
	info   cpauportal.MeterInfo
}

func (m *WaterMeter) Number() string  { return m.info.Number }
func (m *WaterMeter) Address() string { return m.info.Address }

// no 15-minute endpoint on the water side
func (m *WaterMeter) AvailableIntervals() []Interval {
	return []Interval{
		IntervalBilling,
		IntervalMonthly,
		IntervalDaily,
		IntervalHourly,
	}
}

// water data has no reporting lag worth defending against, default end
// is today
func validateWaterRange(interval Interval, start, end time.Time) (time.Time, time.Time, error) {
	if end.IsZero() {
		end = timezone.Today()
	}
	if end.Before(start) {
		return start, end, apierr.New(apierr.KindInvalidRange, "end date before start date").
			WithInterval(interval.String()).
			WithRange(start, end)
	}
	return start, end, nil
}

func (m *WaterMeter) FetchUsage(ctx context.Context, interval Interval, start, end time.Time) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "WaterMeter.FetchUsage")
	defer span.End()

	if !supportsInterval(m.AvailableIntervals(), interval) {
		return nil, apierr.Newf(apierr.KindInvalidRange, "water meters have no %s data", interval).
			WithInterval(interval.String())
	}

	start, end, err := validateWaterRange(interval, start, end)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "fetching water usage",
		"meter", m.info.Number, "interval", interval.String(),
		"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))

	var records []Record
	switch interval {
	case IntervalBilling:
		records, err = m.fetchBilling(ctx, start, end)
	case IntervalMonthly:
		records, err = m.fetchMonthly(ctx, start, end)
	case IntervalDaily:
		records, err = m.fetchDaily(ctx, start, end)
	case IntervalHourly:
		records, err = m.fetchHourly(ctx, start, end)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

func (m *WaterMeter) fetchBilling(ctx context.Context, start, end time.Time) ([]Record, error) {
	periods, err := m.client.BillingHistory(ctx)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, period := range periods {
		periodStart := timezone.DateOf(period.Start)
		periodEnd := timezone.DateOf(period.End)
		if periodEnd.Before(start) || periodStart.After(end) {
			continue
		}
		records = append(records, Record{
			Timestamp:     periodStart,
			Imported:      period.Gallons,
			BillingPeriod: FormatPeriodLabel(periodStart, periodEnd),
		})
	}
	return records, nil
}

func (m *WaterMeter) fetchDaily(ctx context.Context, start, end time.Time) ([]Record, error) {
	reads, err := m.client.ConsumptionChart(ctx)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, read := range reads {
		if read.Date.Before(start) || read.Date.After(end) {
			continue
		}
		records = append(records, Record{Timestamp: read.Date, Imported: read.Gallons})
	}
	return records, nil
}

// fetchMonthly aggregates the daily chart per calendar month; the water
// backend has no native monthly endpoint.
func (m *WaterMeter) fetchMonthly(ctx context.Context, start, end time.Time) ([]Record, error) {
	daily, err := m.fetchDaily(ctx, start, end)
	if err != nil {
		return nil, err
	}

	months := map[time.Time]*Record{}
	for _, day := range daily {
		monthStart := timezone.Date(day.Timestamp.Year(), day.Timestamp.Month(), 1)
		record := months[monthStart]
		if record == nil {
			monthEnd := monthStart.AddDate(0, 1, -1)
			record = &Record{
				Timestamp:     monthStart,
				BillingPeriod: FormatPeriodLabel(monthStart, monthEnd),
			}
			months[monthStart] = record
		}
		record.Imported += day.Imported
	}

	records := make([]Record, 0, len(months))
	for _, record := range months {
		records = append(records, *record)
	}
	return records, nil
}

func (m *WaterMeter) fetchHourly(ctx context.Context, start, end time.Time) ([]Record, error) {
	reads, err := m.client.RealTimeChart(ctx)
	if err != nil {
		return nil, err
	}

	dayAfterEnd := end.AddDate(0, 0, 1)
	var records []Record
	for _, read := range reads {
		if read.Timestamp.Before(start) || !read.Timestamp.Before(dayAfterEnd) {
			continue
		}
		records = append(records, Record{Timestamp: read.Timestamp, Imported: read.Gallons})
	}
	return records, nil
}

// StreamUsage yields in chunkDays windows for uniformity with electric
// meters, although the water backend hands the whole series over in one
// call either way.
func (m *WaterMeter) StreamUsage(ctx context.Context, interval Interval, start, end time.Time, chunkDays int, yield YieldFunc) error {
	ctx, span := tracer.Start(ctx, "WaterMeter.StreamUsage")
	defer span.End()

	records, err := m.FetchUsage(ctx, interval, start, end)
	if err != nil {
		return err
	}
	if interval == IntervalBilling || interval == IntervalMonthly {
		return yield(records)
	}

	if chunkDays <= 0 {
		chunkDays = DefaultChunkDays
	}
	if end.IsZero() {
		end = timezone.Today()
	}

	for current := start; !current.After(end); current = current.AddDate(0, 0, chunkDays) {
		chunkEnd := current.AddDate(0, 0, chunkDays)
		var chunk []Record
		for _, record := range records {
			if !record.Timestamp.Before(current) && record.Timestamp.Before(chunkEnd) {
				chunk = append(chunk, record)
			}
		}
		if len(chunk) == 0 {
			continue
		}
		err = yield(chunk)
		if err != nil {
			return err
		}
	}
	return nil
}

// AvailabilityWindow reports the span each chart endpoint actually
// holds: hourly history is short (roughly the trailing three months),
// daily reaches years back.
func (m *WaterMeter) AvailabilityWindow(ctx context.Context, interval Interval) (Window, error) {
	ctx, span := tracer.Start(ctx, "WaterMeter.AvailabilityWindow")
	defer span.End()

	if !supportsInterval(m.AvailableIntervals(), interval) {
		return Window{}, apierr.Newf(apierr.KindInvalidRange, "water meters have no %s data", interval).
			WithInterval(interval.String())
	}

	switch interval {
	case IntervalHourly:
		reads, err := m.client.RealTimeChart(ctx)
		if err != nil {
			return Window{}, err
		}
		if len(reads) == 0 {
			return Window{}, apierr.New(apierr.KindApi, "no hourly history on meter").
				WithInterval(interval.String())
		}
		return Window{
			Earliest: timezone.DateOf(reads[0].Timestamp),
			Latest:   timezone.DateOf(reads[len(reads)-1].Timestamp),
		}, nil

	case IntervalBilling:
		periods, err := m.client.BillingHistory(ctx)
		if err != nil {
			return Window{}, err
		}
		if len(periods) == 0 {
			return Window{}, apierr.New(apierr.KindApi, "no billing history on meter").
				WithInterval(interval.String())
		}
		return Window{
			Earliest: timezone.DateOf(periods[0].Start),
			Latest:   timezone.DateOf(periods[len(periods)-1].End),
		}, nil

	default:
		reads, err := m.client.ConsumptionChart(ctx)
		if err != nil {
			return Window{}, err
		}
		if len(reads) == 0 {
			return Window{}, apierr.New(apierr.KindApi, "no daily history on meter").
				WithInterval(interval.String())
		}
		return Window{
			Earliest: reads[0].Date,
			Latest:   reads[len(reads)-1].Date,
		}, nil
	}
}
