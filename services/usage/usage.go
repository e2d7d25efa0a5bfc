// Package usage turns the raw portal scrapers into a uniform meter
// reading api: one Meter interface over electric and water, one Record
// shape regardless of which backend or aggregation produced it.
package usage

import (
	"context"
	"time"

	"cpau-backend/lib/apierr"
)

type Interval int

const (
	// billed periods, roughly monthly but aligned to the billing cycle
	IntervalBilling Interval = iota
	IntervalMonthly
	IntervalDaily
	IntervalHourly
	IntervalFifteenMinute
)

func (i Interval) String() string {
	switch i {
	case IntervalBilling:
		return "billing"
	case IntervalMonthly:
		return "monthly"
	case IntervalDaily:
		return "daily"
	case IntervalHourly:
		return "hourly"
	case IntervalFifteenMinute:
		return "15min"
	}
	return "unknown"
}

func ParseInterval(name string) (Interval, error) {
	for _, interval := range []Interval{
		IntervalBilling,
		IntervalMonthly,
		IntervalDaily,
		IntervalHourly,
		IntervalFifteenMinute,
	} {
		if interval.String() == name {
			return interval, nil
		}
	}
	return 0, apierr.Newf(apierr.KindInvalidRange, "unknown interval %q", name)
}

// Record is one normalized reading. Electric records are kWh with
// imported and exported filled from the grid's point of view and
// net always recomputed as imported - exported. Water records carry
// gallons in Imported with Exported and Net zero, water only flows one
// way.
type Record struct {
	// naive local time; date-only for billing, monthly and daily
	Timestamp time.Time
	Imported  float64
	Exported  float64
	Net       float64
	// "MM/DD/YY to MM/DD/YY", only set on billing and monthly records
	BillingPeriod string
}

// Window is the span of data upstream holds for an interval.
type Window struct {
	Earliest time.Time
	Latest   time.Time
}

// YieldFunc receives one chunk of records during streaming. Returning
// an error stops the stream and propagates out of StreamUsage.
type YieldFunc func(records []Record) error

// Meter is a single metered service point. Implementations validate
// date ranges before touching the network and fail whole operations on
// any chunk error rather than returning partial data.
type Meter interface {
	Number() string
	Address() string
	AvailableIntervals() []Interval

	// FetchUsage returns all records for [start, end] inclusive. A zero
	// end selects the meter's default (electric: two days ago, water:
	// today).
	FetchUsage(ctx context.Context, interval Interval, start, end time.Time) ([]Record, error)

	// StreamUsage yields records in chunks of at most chunkDays days so
	// long ranges don't accumulate in memory. chunkDays <= 0 selects
	// DefaultChunkDays. Billing and monthly data arrives in a single
	// upstream call and degrades to one yield.
	StreamUsage(ctx context.Context, interval Interval, start, end time.Time, chunkDays int, yield YieldFunc) error

	// AvailabilityWindow reports the earliest and latest dates upstream
	// holds for the interval.
	AvailabilityWindow(ctx context.Context, interval Interval) (Window, error)
}

const DefaultChunkDays = 30

func supportsInterval(supported []Interval, interval Interval) bool {
	for _, s := range supported {
		if s == interval {
			return true
		}
	}
	return false
}
