package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"consolerelay.dev/cli/internal/core/domain"
)

// authTransport attaches the configured credential to requests for the
// endpoint's host. Redirects elsewhere go out without it.
type authTransport struct {
	base   http.RoundTripper
	host   string
	scheme domain.AuthScheme
	user   string
	secret domain.Secret
}

func newAuthTransport(base http.RoundTripper, cfg domain.Configuration) *authTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &authTransport{
		base:   base,
		scheme: cfg.EffectiveAuthScheme(),
		user:   cfg.Username,
		secret: cfg.Credential,
	}
	if u, err := url.Parse(cfg.EndpointURL); err == nil {
		t.host = strings.ToLower(u.Host)
	}
	return t
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.secret.IsEmpty() || !t.authorizes(req.URL) {
		return t.base.RoundTrip(req)
	}

	newReq := req.Clone(req.Context())
	switch t.scheme {
	case domain.AuthSchemeBasic:
		newReq.SetBasicAuth(t.user, t.secret.Reveal())
	default:
		newReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.secret.Reveal()))
	}
	return t.base.RoundTrip(newReq)
}

// authorizes reports whether u is on the configured endpoint's host and port
func (t *authTransport) authorizes(u *url.URL) bool {
	return t.host != "" && u != nil && strings.ToLower(u.Host) == t.host
}

// clientFor returns a client that authenticates as cfg. Timeouts are applied
// per request through the context.
func clientFor(base http.RoundTripper, cfg domain.Configuration) *http.Client {
	return &http.Client{Transport: newAuthTransport(base, cfg)}
}
