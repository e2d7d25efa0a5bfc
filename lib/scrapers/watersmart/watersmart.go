// Package watersmart reads water consumption out of the watersmart.com
// portal CPAU fronts for water accounts. The REST api only accepts
// browser-issued session cookies, so the client leans on a Browser for
// the SSO dance and a cookiecache.Cache so fresh cookies get reused
// across runs instead of paying the ~15s login every time.
package watersmart

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/cookiecache"
	"cpau-backend/lib/restyutil"
	"cpau-backend/lib/timezone"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"
)

const DefaultBaseUrl = "https://paloalto.watersmart.com"

const DefaultTrustWindow = time.Minute * 10

// headless browsers stall on slow SSO redirects, bound how long a
// refresh may take
const DefaultLoginTimeout = time.Minute * 2

type Client struct {
	Http *resty.Client

	creds        Credentials
	browser      Browser
	cache        cookiecache.Cache
	trustWindow  time.Duration
	loginTimeout time.Duration

	sessionLive bool
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string

	Userid   string
	Password string

	Browser Browser
	Cache   cookiecache.Cache

	// defaults to DefaultTrustWindow
	TrustWindow time.Duration
	// defaults to DefaultLoginTimeout
	LoginTimeout time.Duration
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.TrustWindow == 0 {
		opts.TrustWindow = DefaultTrustWindow
	}
	if opts.LoginTimeout == 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.Browser == nil {
		return nil, apierr.New(apierr.KindAuthentication, "no sso browser configured")
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	client.SetHeader("accept", "application/json, text/javascript, */*; q=0.01")
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return &Client{
		Http: client,
		creds: Credentials{
			Username: opts.Userid,
			Password: opts.Password,
		},
		browser:      opts.Browser,
		cache:        opts.Cache,
		trustWindow:  opts.TrustWindow,
		loginTimeout: opts.LoginTimeout,
	}, nil
}

func (c *Client) applyCookies(cookies []cookiecache.Cookie) {
	c.Http.Cookies = c.Http.Cookies[:0]
	for _, cookie := range cookies {
		c.Http.SetCookie(&http.Cookie{
			Name:  cookie.Name,
			Value: cookie.Value,
			Path:  cookie.Path,
		})
	}
	c.sessionLive = true
}

// ensureSession makes the client ready to issue api calls: reuse the
// in-process session, fall back to cookies cached on disk within the
// trust window, and only then pay for a browser login.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.sessionLive {
		return nil
	}

	artifact, ok := c.cache.Load(c.creds.Username, c.trustWindow)
	if ok {
		slog.DebugContext(ctx, "reusing cached watersmart session",
			"age", timezone.Now().Sub(artifact.CapturedAt))
		c.applyCookies(artifact.Cookies)
		return nil
	}

	return c.refreshSession(ctx)
}

// refreshSession runs the browser SSO login and caches the captured
// cookies for later runs.
func (c *Client) refreshSession(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "refreshSession")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	slog.InfoContext(ctx, "running watersmart sso login")
	start := timezone.Now()

	cookies, err := c.browser.PerformSSOLogin(ctx, c.creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sso login failed")
		if _, ok := apierr.KindOf(err); ok {
			return err
		}
		return apierr.Wrap(apierr.KindAuthentication, err, "sso login failed")
	}

	slog.InfoContext(ctx, "watersmart sso login succeeded",
		"took", timezone.Now().Sub(start), "cookies", len(cookies))

	err = c.cache.Store(c.creds.Username, cookiecache.Artifact{
		CapturedAt: timezone.Now(),
		Cookies:    cookies,
	})
	if err != nil {
		// a dead cache costs a login next run, not this one
		slog.WarnContext(ctx, "failed to cache watersmart cookies", "err", err)
	}

	c.applyCookies(cookies)
	return nil
}

// Call fetches a chart endpoint and unwraps its {"data": ...} envelope.
// A 401 means the cookies went stale server-side: discard them, run a
// fresh login and retry exactly once.
func (c *Client) Call(ctx context.Context, endpoint string, query map[string]string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Call")
	defer span.End()

	err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	raw, expired, err := c.call(ctx, endpoint, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "api call failed")
		return nil, err
	}
	if !expired {
		return raw, nil
	}

	slog.WarnContext(ctx, "watersmart session rejected, logging in again", "endpoint", endpoint)
	c.sessionLive = false
	c.cache.Discard(c.creds.Username)

	err = c.refreshSession(ctx)
	if err != nil {
		return nil, err
	}

	raw, expired, err = c.call(ctx, endpoint, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "api call failed after re-login")
		return nil, err
	}
	if expired {
		span.SetStatus(codes.Error, "session rejected after re-login")
		return nil, apierr.New(apierr.KindApi, "session rejected again after re-login").
			WithEndpoint(endpoint)
	}
	return raw, nil
}

func (c *Client) call(ctx context.Context, endpoint string, query map[string]string) (raw json.RawMessage, expired bool, err error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get("/index.php/rest/v1/Chart/" + endpoint)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.KindConnection, err, "api request failed").
			WithEndpoint(endpoint)
	}

	switch res.StatusCode() {
	case 200:
	case 401, 403:
		return nil, true, nil
	default:
		return nil, false, apierr.Newf(apierr.KindApi, "api request returned status %d", res.StatusCode()).
			WithEndpoint(endpoint)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	err = json.Unmarshal(res.Body(), &envelope)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.KindApi, err, "failed to parse api response").
			WithEndpoint(endpoint)
	}
	if len(envelope.Data) == 0 {
		return nil, false, apierr.New(apierr.KindApi, `response has no "data" member`).
			WithEndpoint(endpoint)
	}
	return envelope.Data, false, nil
}
