package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/ports"
	"consolerelay.dev/cli/internal/core/session"
)

// RelaySession connects one capture to one relay client for the duration
// of a build. Relay problems end up as report warnings; they are never
// returned as errors that could fail the build.
type RelaySession struct {
	deliverer ports.BatchDeliverer
	logger    *slog.Logger
}

// NewRelaySession creates a relay session runner
func NewRelaySession(deliverer ports.BatchDeliverer, logger *slog.Logger) *RelaySession {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelaySession{deliverer: deliverer, logger: logger}
}

// Relay consumes capture until it ends and delivers everything it produced.
// When ctx is cancelled the capture is stopped and whatever is already
// queued gets one final flush bounded by the drain timeout; chunks that
// could not be sent in that window are counted as abandoned.
func (s *RelaySession) Relay(ctx context.Context, buildID session.BuildID, cfg domain.Configuration, capture ports.LogCapture) (domain.Report, error) {
	cfg = cfg.Clone().WithDefaults()
	client := NewRelayClient(buildID, cfg, s.deliverer, s.logger)
	if err := client.Start(); err != nil {
		return domain.Report{}, err
	}

	r := &relayRun{
		client:  client,
		capture: capture,
		cfg:     cfg,
		logger:  s.logger.With("build_id", buildID.Value()),
	}

	err := r.consume(ctx)

	report := r.report()
	report.BuildID = buildID.Value()
	return report, err
}

type relayRun struct {
	client  *RelayClient
	capture ports.LogCapture
	cfg     domain.Configuration
	logger  *slog.Logger

	warnings []string

	// set when the build was aborted
	aborted         bool
	failedAtAbort   int
	unread          int
	deadlineReached bool
}

func (r *relayRun) consume(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	chunks := r.capture.Chunks()
	for {
		select {
		case <-ctx.Done():
			return r.abort(ctx)

		case c, ok := <-chunks:
			if !ok || c.EOF {
				return r.finish(ctx)
			}
			r.send(ctx, c)

		case <-ticker.C:
			if _, err := r.client.FlushDue(ctx); err != nil {
				r.warnDelivery(err)
			}
		}
	}
}

func (r *relayRun) send(ctx context.Context, c chunk.LogChunk) {
	_, err := r.client.Send(ctx, c)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDeliveryFailed):
		r.warnDelivery(err)
	default:
		// Only an out-of-order chunk gets here; keep relaying the rest.
		r.warn(fmt.Sprintf("console chunk %d dropped: %v", c.Sequence, err))
	}
}

// finish drains after the capture ended on its own
func (r *relayRun) finish(ctx context.Context) error {
	if err := r.capture.Err(); err != nil {
		r.warn(fmt.Sprintf("console capture ended early: %v", err))
	}
	if _, err := r.client.Drain(ctx); err != nil {
		if !errors.Is(err, domain.ErrDeliveryFailed) {
			return err
		}
		r.warnDelivery(err)
	}
	return nil
}

func (r *relayRun) abort(ctx context.Context) error {
	r.aborted = true
	r.failedAtAbort = r.client.Stats().Failed
	r.capture.Stop()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.DrainTimeout)
	defer cancel()

	r.logger.Info("build aborted, flushing queued console output",
		"pending", r.client.Pending(),
		"drain_timeout", r.cfg.DrainTimeout,
	)

	chunks := r.capture.Chunks()
collect:
	for {
		select {
		case c, ok := <-chunks:
			if !ok || c.EOF {
				break collect
			}
			if drainCtx.Err() != nil {
				r.unread++
				continue
			}
			r.send(drainCtx, c)
		case <-drainCtx.Done():
			r.deadlineReached = true
			break collect
		}
	}

	if _, err := r.client.Drain(drainCtx); err != nil {
		if !errors.Is(err, domain.ErrDeliveryFailed) {
			return err
		}
		r.logger.Warn("final flush after abort failed", "error", err)
	}
	if drainCtx.Err() != nil {
		r.deadlineReached = true
	}
	return nil
}

func (r *relayRun) warnDelivery(err error) {
	r.warn(err.Error())
}

func (r *relayRun) warn(msg string) {
	r.warnings = append(r.warnings, msg)
}

func (r *relayRun) report() domain.Report {
	stats := r.client.Stats()
	report := domain.Report{
		Relayed:         true,
		ChunksCaptured:  stats.Received + r.unread,
		ChunksDelivered: stats.Delivered,
		ChunksFailed:    stats.Failed,
		Deliveries:      r.client.Deliveries(),
		Warnings:        r.warnings,
	}

	if r.aborted {
		report.ChunksFailed = r.failedAtAbort
		report.ChunksAbandoned = report.ChunksCaptured - report.ChunksDelivered - report.ChunksFailed
		if report.ChunksAbandoned > 0 {
			msg := fmt.Sprintf("build aborted: %d console chunks abandoned", report.ChunksAbandoned)
			if r.deadlineReached {
				msg += fmt.Sprintf(" after drain timeout %s", r.cfg.DrainTimeout)
			}
			report.AddWarning(msg)
		}
	}
	return report
}
