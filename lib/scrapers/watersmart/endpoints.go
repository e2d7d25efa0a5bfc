package watersmart

import (
	"context"
	"encoding/json"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/timezone"
)

// billing period boundaries arrive as "2024-11-01 00:00:00.000000"
const periodDateLayout = "2006-01-02 15:04:05.000000"

const dayLayout = "2006-01-02"

// HourlyRead is one RealTimeChart sample. The endpoint covers roughly
// the trailing three months at hourly resolution.
type HourlyRead struct {
	Timestamp   time.Time
	Gallons     float64
	LeakGallons float64
}

type realTimeSample struct {
	ReadDatetime int64   `json:"read_datetime"`
	Gallons      float64 `json:"gallons"`
	LeakGallons  float64 `json:"leak_gallons"`
}

// RealTimeChart returns every hourly sample the portal has, oldest
// first as served.
func (c *Client) RealTimeChart(ctx context.Context) ([]HourlyRead, error) {
	ctx, span := tracer.Start(ctx, "RealTimeChart")
	defer span.End()

	raw, err := c.Call(ctx, "RealTimeChart", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Series []realTimeSample `json:"series"`
	}
	err = json.Unmarshal(raw, &parsed)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindApi, err, "failed to parse hourly series").
			WithEndpoint("RealTimeChart")
	}

	reads := make([]HourlyRead, 0, len(parsed.Series))
	for _, sample := range parsed.Series {
		reads = append(reads, HourlyRead{
			Timestamp:   time.Unix(sample.ReadDatetime, 0).In(timezone.Location),
			Gallons:     sample.Gallons,
			LeakGallons: sample.LeakGallons,
		})
	}
	return reads, nil
}

// DailyRead is one day of consumption from the weather overlay chart.
type DailyRead struct {
	Date    time.Time
	Gallons float64
}

// ConsumptionChart returns the full daily history the portal has. The
// chart pairs a date list with a parallel consumption list.
func (c *Client) ConsumptionChart(ctx context.Context) ([]DailyRead, error) {
	ctx, span := tracer.Start(ctx, "ConsumptionChart")
	defer span.End()

	raw, err := c.Call(ctx, "weatherConsumptionChart", map[string]string{
		"module":     "portal",
		"commentary": "full",
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ChartData struct {
			DailyData struct {
				Categories  []string  `json:"categories"`
				Consumption []float64 `json:"consumption"`
			} `json:"dailyData"`
		} `json:"chartData"`
	}
	err = json.Unmarshal(raw, &parsed)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindApi, err, "failed to parse daily chart").
			WithEndpoint("weatherConsumptionChart")
	}

	daily := parsed.ChartData.DailyData
	if len(daily.Categories) != len(daily.Consumption) {
		return nil, apierr.Newf(apierr.KindApi,
			"daily chart misaligned: %d dates, %d values",
			len(daily.Categories), len(daily.Consumption)).
			WithEndpoint("weatherConsumptionChart")
	}

	reads := make([]DailyRead, 0, len(daily.Categories))
	for i, category := range daily.Categories {
		date, err := time.ParseInLocation(dayLayout, category, timezone.Location)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindApi, err, "unparseable date in daily chart").
				WithEndpoint("weatherConsumptionChart")
		}
		reads = append(reads, DailyRead{Date: date, Gallons: daily.Consumption[i]})
	}
	return reads, nil
}

// BillingPeriod is one billed period from the billing history chart.
type BillingPeriod struct {
	Start   time.Time
	End     time.Time
	Gallons float64
}

type billingPeriodRow struct {
	Gallons json.Number `json:"gallons"`
	Period  struct {
		StartDate struct {
			Date string `json:"date"`
		} `json:"startDate"`
		EndDate struct {
			Date string `json:"date"`
		} `json:"endDate"`
	} `json:"period"`
}

// BillingHistory returns every billed period the portal has.
func (c *Client) BillingHistory(ctx context.Context) ([]BillingPeriod, error) {
	ctx, span := tracer.Start(ctx, "BillingHistory")
	defer span.End()

	raw, err := c.Call(ctx, "BillingHistoryChart", map[string]string{
		"flowType":   "per_day",
		"comparison": "cohort",
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ChartData []billingPeriodRow `json:"chart_data"`
	}
	err = json.Unmarshal(raw, &parsed)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindApi, err, "failed to parse billing history").
			WithEndpoint("BillingHistoryChart")
	}

	periods := make([]BillingPeriod, 0, len(parsed.ChartData))
	for _, row := range parsed.ChartData {
		start, err := time.ParseInLocation(periodDateLayout, row.Period.StartDate.Date, timezone.Location)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindApi, err, "unparseable period start").
				WithEndpoint("BillingHistoryChart")
		}
		end, err := time.ParseInLocation(periodDateLayout, row.Period.EndDate.Date, timezone.Location)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindApi, err, "unparseable period end").
				WithEndpoint("BillingHistoryChart")
		}
		gallons, err := row.Gallons.Float64()
		if err != nil {
			return nil, apierr.Wrap(apierr.KindApi, err, "unparseable gallons value").
				WithEndpoint("BillingHistoryChart")
		}
		periods = append(periods, BillingPeriod{Start: start, End: end, Gallons: gallons})
	}
	return periods, nil
}
