package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/scrapers/cpauportal"
	"cpau-backend/lib/telemetry"
	"cpau-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

// fakeElectricPortal synthesizes LoadUsage responses shaped like the
// real endpoint: daily mode answers the 30 days ending on strDate,
// hourly one day, monthly every billing period.
type fakeElectricPortal struct {
	t *testing.T

	loadUsageCalls []cpauportal.LoadUsageRequest
}

func (p *fakeElectricPortal) envelope(payload any) []byte {
	inner, err := json.Marshal(payload)
	require.NoError(p.t, err)
	body, err := json.Marshal(map[string]string{"d": string(inner)})
	require.NoError(p.t, err)
	return body
}

func (p *fakeElectricPortal) rows(req cpauportal.LoadUsageRequest) []cpauportal.UsageRow {
	switch req.Mode {
	case cpauportal.ModeMonthly:
		return []cpauportal.UsageRow{
			{BillPeriod: "11/13/24 to 12/10/24", Year: 2024, Month: 11, UsageType: "IUsage", UsageValue: "450"},
			{BillPeriod: "12/11/24 to 01/09/25", Year: 2024, Month: 12, UsageType: "IUsage", UsageValue: "480"},
		}

	case cpauportal.ModeDaily:
		end, err := time.ParseInLocation(cpauportal.DateLayout, req.StrDate, timezone.Location)
		require.NoError(p.t, err)
		var rows []cpauportal.UsageRow
		for day := end.AddDate(0, 0, -29); !day.After(end); day = day.AddDate(0, 0, 1) {
			rows = append(rows, cpauportal.UsageRow{
				UsageDate:  day.Format(cpauportal.DateLayout),
				UsageType:  "IUsage",
				UsageValue: "1.0",
			})
		}
		return rows

	default:
		var rows []cpauportal.UsageRow
		for hour := 0; hour < 24; hour++ {
			rows = append(rows, cpauportal.UsageRow{
				UsageDate:  req.StrDate,
				Hourly:     fmt.Sprintf("%02d:00", hour),
				UsageType:  "IUsage",
				UsageValue: "0.5",
			})
		}
		return rows
	}
}

func (p *fakeElectricPortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><input name="__RequestVerificationToken" type="hidden" value="t1"></body></html>`)
	})
	mux.HandleFunc("GET /Usages.aspx", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><input name="ctl00$hdnCSRFToken" type="hidden" value="t2"></body></html>`)
	})
	mux.HandleFunc("POST /Default.aspx/validateLogin", func(w http.ResponseWriter, r *http.Request) {
		w.Write(p.envelope(map[string]string{"STATUS": "1", "UserID": "resident"}))
	})
	mux.HandleFunc("POST /Usages.aspx/LoadUsage", func(w http.ResponseWriter, r *http.Request) {
		var req cpauportal.LoadUsageRequest
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))
		p.loadUsageCalls = append(p.loadUsageCalls, req)

		w.Write(p.envelope(map[string]any{
			"objUsageGenerationResultSetTwo": p.rows(req),
		}))
	})
	return mux
}

func newTestElectricMeter(t *testing.T) (*ElectricMeter, *fakeElectricPortal) {
	cleanup := telemetry.SetupForTesting(t, "test:usage")
	t.Cleanup(cleanup)

	portal := &fakeElectricPortal{t: t}
	server := httptest.NewServer(portal.handler())
	t.Cleanup(server.Close)

	client, err := cpauportal.NewClient(context.Background(), cpauportal.ClientOptions{
		BaseUrl:  server.URL,
		Userid:   "resident@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)

	meter := &ElectricMeter{
		portal: client,
		info: cpauportal.MeterInfo{
			Number:       "M100",
			Address:      "123 Emerson St",
			Type:         cpauportal.MeterTypeElectric,
			RateCategory: "E-1 Residential",
		},
	}
	return meter, portal
}

func TestElectricDailySpansMultipleWindows(t *testing.T) {
	meter, portal := newTestElectricMeter(t)

	records, err := meter.FetchUsage(context.Background(), IntervalDaily,
		timezone.Date(2024, 10, 1), timezone.Date(2024, 12, 4))
	require.NoError(t, err)

	// 65 days of coverage needs three 30-day windows
	require.Len(t, portal.loadUsageCalls, 3)
	// overlapping windows produce exactly one record per day
	require.Len(t, records, 65)
	require.Equal(t, timezone.Date(2024, 10, 1), records[0].Timestamp)
	require.Equal(t, timezone.Date(2024, 12, 4), records[64].Timestamp)
}

func TestElectricInvalidRangeMakesNoCalls(t *testing.T) {
	meter, portal := newTestElectricMeter(t)

	_, err := meter.FetchUsage(context.Background(), IntervalDaily,
		timezone.Date(2024, 12, 4), timezone.Date(2024, 10, 1))
	require.Error(t, err)

	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindInvalidRange, kind)
	require.Empty(t, portal.loadUsageCalls)
}

func TestElectricHourlyOneCallPerDay(t *testing.T) {
	meter, portal := newTestElectricMeter(t)

	records, err := meter.FetchUsage(context.Background(), IntervalHourly,
		timezone.Date(2024, 12, 1), timezone.Date(2024, 12, 3))
	require.NoError(t, err)

	require.Len(t, portal.loadUsageCalls, 3)
	require.Len(t, records, 72)
	require.Equal(t, timezone.Date(2024, 12, 1), records[0].Timestamp)
	require.Equal(t, timezone.Date(2024, 12, 3).Add(23*time.Hour), records[71].Timestamp)
}

func TestElectricStreamChunks(t *testing.T) {
	meter, _ := newTestElectricMeter(t)

	var chunks [][]Record
	err := meter.StreamUsage(context.Background(), IntervalHourly,
		timezone.Date(2024, 12, 1), timezone.Date(2024, 12, 3), 1,
		func(records []Record) error {
			chunks = append(chunks, records)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		require.Len(t, chunk, 24)
	}
}

func TestElectricStreamBillingSingleYield(t *testing.T) {
	meter, portal := newTestElectricMeter(t)

	yields := 0
	err := meter.StreamUsage(context.Background(), IntervalBilling,
		timezone.Date(2024, 11, 1), timezone.Date(2024, 12, 31), 7,
		func(records []Record) error {
			yields++
			require.Len(t, records, 2)
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 1, yields)
	require.Len(t, portal.loadUsageCalls, 1)
}

func TestElectricAvailabilityWindow(t *testing.T) {
	meter, _ := newTestElectricMeter(t)
	ctx := context.Background()

	window, err := meter.AvailabilityWindow(ctx, IntervalBilling)
	require.NoError(t, err)
	require.Equal(t, timezone.Date(2024, 11, 13), window.Earliest)
	require.Equal(t, timezone.Date(2025, 1, 9), window.Latest)

	window, err = meter.AvailabilityWindow(ctx, IntervalHourly)
	require.NoError(t, err)
	require.Equal(t, timezone.Date(2024, 11, 13), window.Earliest)
	require.Equal(t, timezone.Today().AddDate(0, 0, -2), window.Latest)
}
