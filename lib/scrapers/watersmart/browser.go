package watersmart

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/cookiecache"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Browser performs the SSO login dance (utility portal login followed by
// the SAML redirect into watersmart) and hands back the session cookies
// it ends up with. The REST api offers no credential login, a real
// browser engine has to walk the redirect chain.
type Browser interface {
	PerformSSOLogin(ctx context.Context, creds Credentials) ([]cookiecache.Cookie, error)
}

// CommandBrowser shells out to an external headless-browser helper. The
// helper reads credentials as JSON on stdin and prints the captured
// cookies as a JSON array on stdout. Keeping the browser engine out of
// process keeps its dependency weight out of this module.
type CommandBrowser struct {
	Path string
	Args []string
}

func (b CommandBrowser) PerformSSOLogin(ctx context.Context, creds Credentials) ([]cookiecache.Cookie, error) {
	input, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, b.Path, b.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuthentication, err,
			"sso login helper failed: "+stderr.String())
	}

	var cookies []cookiecache.Cookie
	err = json.Unmarshal(stdout.Bytes(), &cookies)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuthentication, err, "sso login helper printed invalid cookies")
	}
	if len(cookies) == 0 {
		return nil, apierr.New(apierr.KindAuthentication, "sso login helper captured no cookies")
	}
	return cookies, nil
}
