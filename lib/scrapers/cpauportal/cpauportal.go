// Package cpauportal maintains an authenticated session against the
// CPAU customer portal, an ASP.NET app with no public API. Every data
// call needs a page-scoped CSRF token scraped out of server-rendered
// HTML, and responses arrive double-encoded inside a `{"d": "..."}`
// envelope.
package cpauportal

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"time"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/htmlutil"
	"cpau-backend/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"
)

const DefaultBaseUrl = "https://mycpau.cityofpaloalto.org/Portal"

const (
	landingTokenField = "__RequestVerificationToken"
	usagesTokenField  = "ctl00$hdnCSRFToken"
)

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	userid   string
	password string

	// token scraped from Usages.aspx, required on every data call.
	// reloading the page invalidates the previous token.
	dataToken     string
	authenticated bool
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl  string
	Userid   string
	Password string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
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
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		userid:   opts.Userid,
		password: opts.Password,
	}, nil
}

func (c *Client) IsAuthenticated() bool {
	return c.authenticated
}

type validateLoginRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	RememberMe      bool   `json:"rememberme"`
	CalledFrom      string `json:"calledFrom"`
	ExternalLoginId string `json:"ExternalLoginId"`
	LoginMode       string `json:"LoginMode"`
}

// Login authenticates against the portal: fetch the landing page for
// the login-scoped CSRF token, post credentials, then load Usages.aspx
// for the data-scoped token. It may be called again to recover an
// expired session.
func (c *Client) Login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	c.authenticated = false
	c.dataToken = ""

	loginToken, err := c.pageToken(ctx, "/", landingTokenField)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract login token")
		return err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json; charset=UTF-8").
		SetHeader("accept", "application/json, text/javascript, */*; q=0.01").
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetHeader("isajax", "1").
		SetHeader("referer", c.BaseUrl.String()+"/").
		SetHeader("csrftoken", loginToken).
		SetBody(validateLoginRequest{
			Username:   c.userid,
			Password:   c.password,
			RememberMe: false,
			CalledFrom: "LN",
			LoginMode:  "1",
		}).
		Post("/Default.aspx/validateLogin")
	if err != nil {
		span.SetStatus(codes.Error, "login request failed")
		return apierr.Wrap(apierr.KindConnection, err, "login request failed")
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "login rejected")
		return apierr.Newf(apierr.KindAuthentication, "login rejected with status %d", res.StatusCode())
	}

	inner, err := decodeEnvelope(res.Body())
	if err != nil {
		span.SetStatus(codes.Error, "unparseable login response")
		return apierr.Wrap(apierr.KindAuthentication, err, "unparseable login response")
	}
	if !loginAccepted(inner) {
		span.SetStatus(codes.Error, "invalid credentials")
		return apierr.New(apierr.KindAuthentication, "invalid credentials")
	}

	dataToken, err := c.pageToken(ctx, "/Usages.aspx", usagesTokenField)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract data token")
		return err
	}

	c.dataToken = dataToken
	c.authenticated = true
	slog.DebugContext(ctx, "portal login succeeded", "userid", c.userid)
	return nil
}

// pageToken fetches a portal page and scrapes the named hidden input.
func (c *Client) pageToken(ctx context.Context, page, field string) (string, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(page)
	if err != nil {
		return "", apierr.Wrap(apierr.KindConnection, err, "failed to fetch "+page)
	}
	if res.StatusCode() != 200 {
		return "", apierr.Newf(apierr.KindConnection, "fetching %s returned status %d", page, res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return "", apierr.Wrap(apierr.KindAuthentication, err, "failed to parse "+page)
	}

	token := htmlutil.HiddenInput(doc, field)
	if token == "" {
		return "", apierr.Newf(
			apierr.KindAuthentication,
			"token %q missing from page %q", field, htmlutil.Title(doc),
		)
	}
	return token, nil
}

// Call posts a payload to a Usages.aspx api endpoint with the cached
// data token attached. When the portal signals session expiry the
// client logs in again and retries exactly once; a second rejection
// surfaces as an api error rather than looping against a permanently
// broken credential.
func (c *Client) Call(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Call")
	defer span.End()

	if !c.authenticated {
		err := c.Login(ctx)
		if err != nil {
			return nil, err
		}
	}

	raw, expired, err := c.call(ctx, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "api call failed")
		return nil, err
	}
	if !expired {
		return raw, nil
	}

	slog.WarnContext(ctx, "portal session expired, logging in again", "endpoint", endpoint)
	err = c.Login(ctx)
	if err != nil {
		return nil, err
	}

	raw, expired, err = c.call(ctx, endpoint, payload)
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

func (c *Client) call(ctx context.Context, endpoint string, payload any) (raw json.RawMessage, expired bool, err error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json; charset=utf-8").
		SetHeader("accept", "application/json, text/javascript, */*; q=0.01").
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetHeader("referer", c.BaseUrl.String()+"/Usages.aspx").
		SetHeader("csrftoken", c.dataToken).
		SetBody(payload).
		Post("/Usages.aspx/" + endpoint)
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

	body := res.Body()
	if looksLikeHtml(body) {
		// expired sessions get the login page back with a 200
		return nil, true, nil
	}

	raw, err = decodeEnvelope(body)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.KindApi, err, "failed to parse api response").
			WithEndpoint(endpoint)
	}
	return raw, false, nil
}

func looksLikeHtml(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// decodeEnvelope unwraps the ASP.NET ajax envelope: a JSON object with
// a single "d" member holding the real payload as a JSON string.
func decodeEnvelope(body []byte) (json.RawMessage, error) {
	var envelope struct {
		D string `json:"d"`
	}
	err := json.Unmarshal(body, &envelope)
	if err != nil {
		return nil, err
	}
	if envelope.D == "" {
		return nil, apierr.New(apierr.KindApi, `response envelope has no "d" member`)
	}
	return json.RawMessage(envelope.D), nil
}

// the login response nests either an object or a single-element list;
// success is STATUS == "1" or the presence of a UserID member.
func loginAccepted(inner json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if json.Unmarshal(inner, &obj) == nil {
		return loginResultOk(obj)
	}
	var list []map[string]json.RawMessage
	if json.Unmarshal(inner, &list) == nil && len(list) > 0 {
		return loginResultOk(list[0])
	}
	return false
}

func loginResultOk(obj map[string]json.RawMessage) bool {
	if raw, ok := obj["STATUS"]; ok {
		var status string
		if json.Unmarshal(raw, &status) == nil && status == "1" {
			return true
		}
	}
	_, ok := obj["UserID"]
	return ok
}
