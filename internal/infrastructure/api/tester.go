package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"consolerelay.dev/cli/internal/core/domain"
)

// SuccessMessage is reported when the connection test passes
const SuccessMessage = "Success. Connection with repository verified."

const defaultTestTimeout = 5 * time.Second

// ConnectionTester checks that the endpoint is reachable and accepts the
// configured credential without sending log data.
type ConnectionTester struct {
	transport http.RoundTripper
	logger    *slog.Logger
	version   string
}

// NewConnectionTester creates a connection tester
func NewConnectionTester(transport http.RoundTripper, version string, logger *slog.Logger) *ConnectionTester {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &ConnectionTester{transport: transport, logger: logger, version: version}
}

// Test probes the endpoint with HEAD, falling back to GET when HEAD is not
// supported. The configuration is validated first and never modified.
func (t *ConnectionTester) Test(ctx context.Context, cfg domain.Configuration) error {
	check := cfg
	check.Enabled = true
	if err := check.WithDefaults().Validate(); err != nil {
		return err
	}

	timeout := cfg.TestTimeout
	if timeout <= 0 {
		timeout = defaultTestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.Info("testing endpoint connection", "endpoint", cfg.EndpointURL, "timeout", timeout)
	client := clientFor(t.transport, cfg)

	start := time.Now()
	status, err := t.probe(ctx, client, http.MethodHead, cfg.EndpointURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		t.logger.Debug("HEAD not supported, retrying with GET", "status", status)
		status, err = t.probe(ctx, client, http.MethodGet, cfg.EndpointURL)
	}
	if err != nil {
		cerr := classifyTransportError(ctx, err)
		t.logger.Warn("endpoint connection test failed", "kind", cerr.Kind, "error", err)
		return cerr
	}

	if cerr := classifyStatus(status); cerr != nil {
		t.logger.Warn("endpoint connection test failed", "kind", cerr.Kind, "status", status)
		return cerr
	}

	t.logger.Info("endpoint connection test successful",
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (t *ConnectionTester) probe(ctx context.Context, client *http.Client, method, endpoint string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", "consolerelay/"+t.version)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}

func classifyTransportError(ctx context.Context, err error) *domain.ConnectionError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ConnectionError{Kind: domain.ConnectionTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.ConnectionError{Kind: domain.ConnectionTimeout, Err: err}
	}
	return &domain.ConnectionError{Kind: domain.ConnectionUnreachable, Err: err}
}

func classifyStatus(status int) *domain.ConnectionError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &domain.ConnectionError{Kind: domain.ConnectionAuthRejected, Status: status}
	default:
		return &domain.ConnectionError{Kind: domain.ConnectionUnexpectedStatus, Status: status}
	}
}

// Outcome renders a connection test result for display
func Outcome(err error) string {
	if err == nil {
		return SuccessMessage
	}
	var cerr *domain.ConnectionError
	if errors.As(err, &cerr) {
		return "Connection failed: " + cerr.Error()
	}
	return err.Error()
}
