package watersmart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/cookiecache"
	"cpau-backend/lib/telemetry"
	"cpau-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

// fakeBrowser hands out the configured session value and counts how
// often the expensive login path runs.
type fakeBrowser struct {
	session string
	err     error
	logins  int
}

func (b *fakeBrowser) PerformSSOLogin(ctx context.Context, creds Credentials) ([]cookiecache.Cookie, error) {
	b.logins++
	if b.err != nil {
		return nil, b.err
	}
	return []cookiecache.Cookie{
		{Name: "PHPSESSID", Value: b.session, Domain: "paloalto.watersmart.com", Path: "/"},
	}, nil
}

// fakeWatersmart serves the chart endpoints to requests carrying a
// PHPSESSID cookie matching validSession and 401s everything else.
type fakeWatersmart struct {
	validSession string
	apiCalls     int
}

func chart(data any) []byte {
	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		panic(err)
	}
	return body
}

func (f *fakeWatersmart) handler() http.Handler {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.apiCalls++
			cookie, err := r.Cookie("PHPSESSID")
			if err != nil || cookie.Value != f.validSession {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("GET /index.php/rest/v1/Chart/RealTimeChart", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chart(map[string]any{"series": []map[string]any{
			{"read_datetime": 1702821600, "gallons": 12.5, "leak_gallons": 0},
			{"read_datetime": 1702825200, "gallons": 15.3, "leak_gallons": 0.2},
		}}))
	}))
	mux.HandleFunc("GET /index.php/rest/v1/Chart/weatherConsumptionChart", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chart(map[string]any{"chartData": map[string]any{"dailyData": map[string]any{
			"categories":  []string{"2024-12-01", "2024-12-02"},
			"consumption": []float64{168.309, 222.169},
		}}}))
	}))
	mux.HandleFunc("GET /index.php/rest/v1/Chart/BillingHistoryChart", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chart(map[string]any{"chart_data": []map[string]any{
			{
				"gallons": "9724.00",
				"period": map[string]any{
					"startDate": map[string]string{"date": "2024-11-01 00:00:00.000000"},
					"endDate":   map[string]string{"date": "2024-11-30 23:59:59.000000"},
				},
			},
		}}))
	}))

	return mux
}

func newTestClient(t *testing.T, server *fakeWatersmart, browser Browser, cacheDir string) *Client {
	cleanup := telemetry.SetupForTesting(t, "test:watersmart")
	t.Cleanup(cleanup)

	httpServer := httptest.NewServer(server.handler())
	t.Cleanup(httpServer.Close)

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:  httpServer.URL,
		Userid:   "resident@example.com",
		Password: "hunter2",
		Browser:  browser,
		Cache:    cookiecache.New(cacheDir),
	})
	require.NoError(t, err)
	return client
}

func TestColdStartLogsInOnce(t *testing.T) {
	server := &fakeWatersmart{validSession: "s1"}
	browser := &fakeBrowser{session: "s1"}
	client := newTestClient(t, server, browser, t.TempDir())
	ctx := context.Background()

	reads, err := client.RealTimeChart(ctx)
	require.NoError(t, err)
	require.Len(t, reads, 2)
	require.Equal(t, 1, browser.logins)

	// session stays live across calls within the process
	_, err = client.ConsumptionChart(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, browser.logins)
}

func TestWarmStartSkipsBrowser(t *testing.T) {
	server := &fakeWatersmart{validSession: "s1"}
	cacheDir := t.TempDir()

	first := &fakeBrowser{session: "s1"}
	client := newTestClient(t, server, first, cacheDir)
	_, err := client.RealTimeChart(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.logins)

	// a new process with a fresh cache hit never touches the browser
	second := &fakeBrowser{session: "s1"}
	client = newTestClient(t, server, second, cacheDir)
	_, err = client.RealTimeChart(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.logins)
}

func TestStaleCookiesRetryOnce(t *testing.T) {
	server := &fakeWatersmart{validSession: "s2"}
	cacheDir := t.TempDir()

	// seed the cache with cookies the server no longer accepts
	cache := cookiecache.New(cacheDir)
	require.NoError(t, cache.Store("resident@example.com", cookiecache.Artifact{
		CapturedAt: timezone.Now(),
		Cookies:    []cookiecache.Cookie{{Name: "PHPSESSID", Value: "s1", Path: "/"}},
	}))

	browser := &fakeBrowser{session: "s2"}
	client := newTestClient(t, server, browser, cacheDir)

	reads, err := client.RealTimeChart(context.Background())
	require.NoError(t, err)
	require.Len(t, reads, 2)
	require.Equal(t, 1, browser.logins)
	require.Equal(t, 2, server.apiCalls)

	// the stale artifact got replaced
	artifact, ok := cache.Load("resident@example.com", time.Minute*10)
	require.True(t, ok)
	require.Equal(t, "s2", artifact.Cookies[0].Value)
}

func TestPersistentRejectionSurfacesApiError(t *testing.T) {
	server := &fakeWatersmart{validSession: "never"}
	browser := &fakeBrowser{session: "s1"}
	client := newTestClient(t, server, browser, t.TempDir())

	_, err := client.RealTimeChart(context.Background())
	require.Error(t, err)

	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindApi, kind)

	// one login on cold start, one on the retry, then stop
	require.Equal(t, 2, browser.logins)
	require.Equal(t, 2, server.apiCalls)
}

func TestBrowserFailureIsAuthenticationError(t *testing.T) {
	server := &fakeWatersmart{validSession: "s1"}
	browser := &fakeBrowser{err: apierr.New(apierr.KindAuthentication, "helper crashed")}
	client := newTestClient(t, server, browser, t.TempDir())

	_, err := client.RealTimeChart(context.Background())
	require.Error(t, err)

	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindAuthentication, kind)
	require.Equal(t, 0, server.apiCalls)
}

func TestChartParsing(t *testing.T) {
	server := &fakeWatersmart{validSession: "s1"}
	browser := &fakeBrowser{session: "s1"}
	client := newTestClient(t, server, browser, t.TempDir())
	ctx := context.Background()

	hourly, err := client.RealTimeChart(ctx)
	require.NoError(t, err)
	require.Equal(t, 12.5, hourly[0].Gallons)
	require.Equal(t, timezone.Location, hourly[0].Timestamp.Location())
	require.Equal(t, time.Hour, hourly[1].Timestamp.Sub(hourly[0].Timestamp))

	daily, err := client.ConsumptionChart(ctx)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	require.Equal(t, timezone.Date(2024, 12, 1), daily[0].Date)
	require.Equal(t, 168.309, daily[0].Gallons)

	billing, err := client.BillingHistory(ctx)
	require.NoError(t, err)
	require.Len(t, billing, 1)
	require.Equal(t, timezone.Date(2024, 11, 1), billing[0].Start)
	require.Equal(t, 9724.0, billing[0].Gallons)
	require.Equal(t, 30, billing[0].End.Day())
}
