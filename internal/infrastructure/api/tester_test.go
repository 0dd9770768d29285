package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"consolerelay.dev/cli/internal/core/domain"
)

func TestConnectionTester_Classification(t *testing.T) {
	tests := []struct {
		name       string
		headStatus int
		getStatus  int
		wantKind   domain.ConnectionErrorKind
		wantStatus int
		wantGET    bool
	}{
		{name: "head ok", headStatus: 200},
		{name: "head no content", headStatus: 204},
		{name: "head not allowed falls back to get", headStatus: 405, getStatus: 200, wantGET: true},
		{name: "head not implemented falls back to get", headStatus: 501, getStatus: 401, wantGET: true, wantKind: domain.ConnectionAuthRejected, wantStatus: 401},
		{name: "unauthorized", headStatus: 401, wantKind: domain.ConnectionAuthRejected, wantStatus: 401},
		{name: "forbidden", headStatus: 403, wantKind: domain.ConnectionAuthRejected, wantStatus: 403},
		{name: "not found", headStatus: 404, wantKind: domain.ConnectionUnexpectedStatus, wantStatus: 404},
		{name: "server error", headStatus: 500, wantKind: domain.ConnectionUnexpectedStatus, wantStatus: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sawGET atomic.Bool
			var auth atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				auth.Store(r.Header.Get("Authorization"))
				if r.Method == http.MethodGet {
					sawGET.Store(true)
					w.WriteHeader(tt.getStatus)
					return
				}
				w.WriteHeader(tt.headStatus)
			}))
			defer srv.Close()

			tester := NewConnectionTester(nil, "test", nil)
			err := tester.Test(context.Background(), testConfig(srv.URL+"/log"))

			assert.Equal(t, tt.wantGET, sawGET.Load())
			assert.Equal(t, "Bearer tok123", auth.Load())
			if tt.wantKind == 0 {
				assert.NoError(t, err)
				assert.Equal(t, SuccessMessage, Outcome(err))
				return
			}

			var cerr *domain.ConnectionError
			require.True(t, errors.As(err, &cerr), "expected ConnectionError, got %v", err)
			assert.Equal(t, tt.wantKind, cerr.Kind)
			assert.Equal(t, tt.wantStatus, cerr.Status)
			assert.Contains(t, Outcome(err), "Connection failed")
		})
	}
}

func TestConnectionTester_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.TestTimeout = 50 * time.Millisecond

	err := NewConnectionTester(nil, "", nil).Test(context.Background(), cfg)
	assert.Equal(t, domain.ConnectionTimeout, domain.ConnectionErrorKindOf(err))
}

func TestConnectionTester_UnreachableIsAlwaysUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	tester := NewConnectionTester(nil, "", nil)
	rapid.Check(t, func(rt *rapid.T) {
		path := rapid.StringMatching(`(/[a-z0-9]{1,8}){0,3}`).Draw(rt, "path")
		credential := rapid.StringMatching(`[A-Za-z0-9]{1,24}`).Draw(rt, "credential")
		username := rapid.SampledFrom([]string{"", "deployer"}).Draw(rt, "username")

		cfg := testConfig(base + path)
		cfg.Credential = domain.NewSecret(credential)
		cfg.Username = username

		err := tester.Test(context.Background(), cfg)
		if kind := domain.ConnectionErrorKindOf(err); kind != domain.ConnectionUnreachable {
			rt.Fatalf("expected unreachable, got %v (%v)", kind, err)
		}
	})
}

func TestConnectionTester_InvalidConfigMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		mutate func(*domain.Configuration)
	}{
		{name: "empty endpoint", mutate: func(c *domain.Configuration) { c.EndpointURL = "" }},
		{name: "ftp endpoint", mutate: func(c *domain.Configuration) { c.EndpointURL = "ftp://nexus.example.com" }},
		{name: "empty credential", mutate: func(c *domain.Configuration) {
			c.EndpointURL = srv.URL
			c.Credential = domain.NewSecret("")
		}},
	}

	tester := NewConnectionTester(nil, "", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(srv.URL)
			tt.mutate(&cfg)

			err := tester.Test(context.Background(), cfg)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
			assert.Equal(t, domain.ConnectionErrorKind(0), domain.ConnectionErrorKindOf(err))
		})
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestConnectionTester_DoesNotMutateConfiguration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Enabled = false
	cfg.Metadata = map[string]string{"branch": "main"}
	before := fmt.Sprintf("%+v", cfg)

	require.NoError(t, NewConnectionTester(nil, "", nil).Test(context.Background(), cfg))
	assert.Equal(t, before, fmt.Sprintf("%+v", cfg))
	assert.False(t, cfg.Enabled)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "Success. Connection with repository verified.", Outcome(nil))
	assert.Equal(t, "Connection failed: credentials rejected by endpoint (status 401)",
		Outcome(&domain.ConnectionError{Kind: domain.ConnectionAuthRejected, Status: 401}))
	assert.Equal(t, "boom", Outcome(errors.New("boom")))
}
