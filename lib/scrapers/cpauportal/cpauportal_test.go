package cpauportal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/telemetry"
	"cpau-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

const (
	fakeLoginToken = "login-token-1"
	fakeDataToken  = "data-token-1"
)

// fakePortal emulates the portal's auth dance: tokens embedded in HTML,
// a login endpoint checking them, and data endpoints behind a session.
type fakePortal struct {
	t *testing.T

	acceptLogin bool
	// remaining data calls answered with 401 before recovering
	expireNext int

	logins    int
	dataCalls int
}

func envelope(payload any) []byte {
	inner, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	body, err := json.Marshal(map[string]string{"d": string(inner)})
	if err != nil {
		panic(err)
	}
	return body
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Login</title></head><body>
			<input name="__RequestVerificationToken" type="hidden" value=%q>
			</body></html>`, fakeLoginToken)
	})
	mux.HandleFunc("GET /Usages.aspx", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Usages</title></head><body>
			<input name="ctl00$hdnCSRFToken" type="hidden" value=%q>
			</body></html>`, fakeDataToken)
	})

	mux.HandleFunc("POST /Default.aspx/validateLogin", func(w http.ResponseWriter, r *http.Request) {
		p.logins++
		require.Equal(p.t, fakeLoginToken, r.Header.Get("csrftoken"))

		var req validateLoginRequest
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(p.t, req.Username)

		if !p.acceptLogin {
			w.Write(envelope(map[string]string{"STATUS": "0", "Message": "Invalid credentials"}))
			return
		}
		w.Write(envelope([]map[string]string{{"STATUS": "1", "UserID": req.Username}}))
	})

	dataCall := func(w http.ResponseWriter, r *http.Request) bool {
		p.dataCalls++
		if p.expireNext > 0 {
			p.expireNext--
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		require.Equal(p.t, fakeDataToken, r.Header.Get("csrftoken"))
		return true
	}

	mux.HandleFunc("POST /Usages.aspx/BindMultiMeter", func(w http.ResponseWriter, r *http.Request) {
		if !dataCall(w, r) {
			return
		}
		var req map[string]string
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))
		require.Contains(p.t, []string{"E", "W"}, req["MeterType"])

		w.Write(envelope(bindMultiMeterResponse{MeterDetails: []meterDetailRow{
			{MeterNumber: "M100", Address: "123 Emerson St", Status: 1, MeterType: req["MeterType"], MeterAttribute2: "E-1 Residential"},
			{MeterNumber: "M099", Address: "123 Emerson St", Status: 0, MeterType: req["MeterType"]},
		}}))
	})

	mux.HandleFunc("POST /Usages.aspx/LoadUsage", func(w http.ResponseWriter, r *http.Request) {
		if !dataCall(w, r) {
			return
		}
		var req LoadUsageRequest
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(p.t, "M100", req.MeterNumber)
		require.Equal(p.t, "1", req.UsageOrGeneration)

		w.Write(envelope(loadUsageResponse{Rows: []UsageRow{
			{UsageDate: "12/15/24", Hourly: "13:00", UsageType: "IUsage", UsageValue: "1.25"},
			{UsageDate: "12/15/24", Hourly: "13:00", UsageType: "Eusage", UsageValue: "-0.50"},
		}}))
	})

	return mux
}

func newTestClient(t *testing.T, portal *fakePortal) *Client {
	cleanup := telemetry.SetupForTesting(t, "test:cpauportal")
	t.Cleanup(cleanup)

	portal.t = t
	server := httptest.NewServer(portal.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:  server.URL,
		Userid:   "resident@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return client
}

func TestLoginAndMeters(t *testing.T) {
	portal := &fakePortal{acceptLogin: true}
	client := newTestClient(t, portal)

	meters, err := client.Meters(context.Background(), MeterTypeElectric)
	require.NoError(t, err)
	require.True(t, client.IsAuthenticated())
	require.Equal(t, 1, portal.logins)

	// inactive meter filtered out
	require.Len(t, meters, 1)
	require.Equal(t, MeterInfo{
		Number:       "M100",
		Address:      "123 Emerson St",
		Type:         MeterTypeElectric,
		RateCategory: "E-1 Residential",
	}, meters[0])
}

func TestLoginRejected(t *testing.T) {
	portal := &fakePortal{acceptLogin: false}
	client := newTestClient(t, portal)

	err := client.Login(context.Background())
	require.Error(t, err)
	require.False(t, client.IsAuthenticated())

	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindAuthentication, kind)
}

func TestSessionExpiryRetriesOnce(t *testing.T) {
	portal := &fakePortal{acceptLogin: true, expireNext: 1}
	client := newTestClient(t, portal)

	meters, err := client.Meters(context.Background(), MeterTypeElectric)
	require.NoError(t, err)
	require.Len(t, meters, 1)

	// first call expired, the client logged in again and retried
	require.Equal(t, 2, portal.logins)
	require.Equal(t, 2, portal.dataCalls)
}

func TestSessionExpiryGivesUpAfterRetry(t *testing.T) {
	portal := &fakePortal{acceptLogin: true, expireNext: 10}
	client := newTestClient(t, portal)

	_, err := client.Meters(context.Background(), MeterTypeElectric)
	require.Error(t, err)

	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindApi, kind)

	// exactly one retry, not a relogin loop
	require.Equal(t, 2, portal.logins)
	require.Equal(t, 2, portal.dataCalls)
}

func TestMeterLookup(t *testing.T) {
	portal := &fakePortal{acceptLogin: true}
	client := newTestClient(t, portal)
	ctx := context.Background()

	meter, err := client.Meter(ctx, MeterTypeElectric, "")
	require.NoError(t, err)
	require.Equal(t, "M100", meter.Number)

	meter, err = client.Meter(ctx, MeterTypeElectric, "M100")
	require.NoError(t, err)
	require.Equal(t, "M100", meter.Number)

	_, err = client.Meter(ctx, MeterTypeElectric, "M999")
	require.Error(t, err)
	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindMeterNotFound, kind)
}

func TestLoadUsage(t *testing.T) {
	portal := &fakePortal{acceptLogin: true}
	client := newTestClient(t, portal)

	req := NewLoadUsageRequest(ModeHourly, "M100", timezone.Date(2024, 12, 15))
	require.Equal(t, "12/15/24", req.StrDate)

	rows, err := client.LoadUsage(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "IUsage", rows[0].UsageType)
	require.Equal(t, "13:00", rows[0].Hourly)

	value, err := rows[1].UsageValue.Float64()
	require.NoError(t, err)
	require.Equal(t, -0.5, value)
}

func TestMonthlyRequestShape(t *testing.T) {
	req := NewLoadUsageRequest(ModeMonthly, "M100", timezone.Date(2024, 12, 15))
	require.Empty(t, req.StrDate)
	require.Equal(t, "", req.SeasonId)

	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.Contains(t, string(body), `"SeasonId":""`)

	daily := NewLoadUsageRequest(ModeDaily, "M100", timezone.Date(2024, 12, 15))
	body, err = json.Marshal(daily)
	require.NoError(t, err)
	require.Contains(t, string(body), `"SeasonId":0`)
}
