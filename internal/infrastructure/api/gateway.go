package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/session"
)

const maxErrorBody = 512

// RelayGateway delivers console batches to the configured endpoint
type RelayGateway struct {
	transport http.RoundTripper
	logger    *slog.Logger
	version   string
	sleep     func(ctx context.Context, d time.Duration) error
	stats     *APIStats
	mutex     sync.RWMutex
}

// APIStats tracks delivery statistics
type APIStats struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	TotalChunks        int64         `json:"total_chunks"`
	TotalPayloadSize   int64         `json:"total_payload_size"`
	AverageLatency     time.Duration `json:"average_latency"`
	LastRequestTime    time.Time     `json:"last_request_time"`
	LastError          string        `json:"last_error,omitempty"`
}

// GatewayOptions configures a RelayGateway
type GatewayOptions struct {
	Transport http.RoundTripper
	Logger    *slog.Logger

	// Version is reported in the User-Agent header and the batch body
	Version string

	// Sleep waits between retries. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRelayGateway creates a new relay gateway
func NewRelayGateway(opts GatewayOptions) *RelayGateway {
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &RelayGateway{
		transport: opts.Transport,
		logger:    opts.Logger,
		version:   opts.Version,
		sleep:     opts.Sleep,
		stats:     &APIStats{},
	}
}

// statusError is a non-2xx response from the endpoint
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned status %d", e.Status)
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.Status, e.Body)
}

// Deliver sends a batch, retrying transient failures according to the
// configured policy. Exhausted retries return domain.ErrDeliveryFailed along
// with a result describing the last attempt.
func (g *RelayGateway) Deliver(ctx context.Context, cfg domain.Configuration, batch *session.Batch) (domain.DeliveryResult, error) {
	if batch == nil || batch.Len() == 0 {
		return domain.DeliveryResult{}, fmt.Errorf("cannot send empty batch")
	}

	result := domain.DeliveryResult{Chunks: batch.Len()}
	body, err := g.encode(cfg, batch)
	if err != nil {
		result.ErrorDetail = err.Error()
		return result, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}

	g.logger.Debug("sending console batch",
		"batch_id", batch.ID,
		"build_id", batch.BuildID.Value(),
		"chunks", batch.Len(),
		"first_seq", batch.FirstSequence(),
		"last_seq", batch.LastSequence(),
		"final", batch.Final,
		"body_size", len(body),
	)

	client := clientFor(g.transport, cfg)
	attempts, status, err := g.executeWithRetry(ctx, cfg.Retry, func(ctx context.Context) (int, error) {
		reqCtx := ctx
		if cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()
		}
		return g.sendBatchRequest(reqCtx, client, cfg, batch, body)
	})

	result.Attempts = attempts
	result.HTTPStatus = status
	if err != nil {
		result.ErrorDetail = err.Error()
		g.logger.Warn("console batch delivery failed",
			"batch_id", batch.ID,
			"attempts", attempts,
			"status", status,
			"error", err,
		)
		return result, fmt.Errorf("%w after %d attempts: %w", domain.ErrDeliveryFailed, attempts, err)
	}

	result.Success = true
	g.recordDelivered(int64(batch.Len()), int64(len(body)))
	return result, nil
}

func (g *RelayGateway) encode(cfg domain.Configuration, batch *session.Batch) ([]byte, error) {
	jsonData, err := json.Marshal(NewBatchDto(batch, cfg.Metadata, g.version))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}
	if !cfg.Compress {
		return jsonData, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

// executeWithRetry runs fn up to policy.MaxAttempts times. It returns the
// number of attempts made and the last HTTP status seen.
func (g *RelayGateway) executeWithRetry(ctx context.Context, policy domain.RetryPolicy, fn func(context.Context) (int, error)) (int, int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var lastStatus int
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			g.logger.Debug("retrying request", "attempt", attempt+1, "delay", delay)
			if err := g.sleep(ctx, delay); err != nil {
				break
			}
		}

		attempts++
		g.recordAttempt()

		status, err := fn(ctx)
		if status != 0 {
			lastStatus = status
		}
		if err == nil {
			return attempts, lastStatus, nil
		}

		lastErr = err
		g.recordFailure(err)

		if !shouldRetry(ctx, err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return attempts, lastStatus, lastErr
}

// sendBatchRequest performs one POST and returns the response status
func (g *RelayGateway) sendBatchRequest(ctx context.Context, client *http.Client, cfg domain.Configuration, batch *session.Batch, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	g.setRequestHeaders(req, batch, cfg.Compress)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	g.logger.Debug("endpoint responded",
		"status", resp.StatusCode,
		"latency_ms", latency.Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &statusError{Status: resp.StatusCode, Body: scrubBody(respBody, cfg.Credential)}
	}

	g.updateLatency(latency)
	return resp.StatusCode, nil
}

// scrubBody trims an error response and masks the credential in case the
// endpoint echoes request headers back.
func scrubBody(body []byte, credential domain.Secret) string {
	text := string(bytes.TrimSpace(body))
	if !credential.IsEmpty() {
		text = strings.ReplaceAll(text, credential.Reveal(), credential.String())
	}
	return text
}

// setRequestHeaders sets common request headers. Authorization is added by
// the client's transport.
func (g *RelayGateway) setRequestHeaders(req *http.Request, batch *session.Batch, compressed bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "consolerelay/"+g.version)
	req.Header.Set("X-Relay-Build", batch.BuildID.Value())
	req.Header.Set("X-Relay-Sequence-Range", fmt.Sprintf("%d-%d", batch.FirstSequence(), batch.LastSequence()))
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
}

// shouldRetry determines if an error should trigger a retry. Every non-2xx
// status is retried except a rejected credential.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.Status != http.StatusUnauthorized && se.Status != http.StatusForbidden
	}

	// network errors and per-request timeouts
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the delivery statistics
func (g *RelayGateway) Stats() APIStats {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return *g.stats
}

func (g *RelayGateway) recordAttempt() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.stats.TotalRequests++
	g.stats.LastRequestTime = time.Now()
}

func (g *RelayGateway) recordFailure(err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.stats.FailedRequests++
	g.stats.LastError = err.Error()
}

func (g *RelayGateway) recordDelivered(chunks, payloadSize int64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.stats.SuccessfulRequests++
	g.stats.TotalChunks += chunks
	g.stats.TotalPayloadSize += payloadSize
	g.stats.LastError = ""
}

// updateLatency updates average latency
func (g *RelayGateway) updateLatency(latency time.Duration) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.stats.AverageLatency == 0 {
		g.stats.AverageLatency = latency
	} else {
		g.stats.AverageLatency = (g.stats.AverageLatency + latency) / 2
	}
}
