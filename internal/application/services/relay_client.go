package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/ports"
	"consolerelay.dev/cli/internal/core/session"
)

// RelayStats counts what a relay client has done with its chunks
type RelayStats struct {
	Received  int
	Delivered int
	Failed    int
	Batches   int
}

// RelayClient batches the chunks of one build and hands each batch to the
// deliverer. It works on a configuration snapshot taken at construction.
// Delivery failures are returned to the caller but never stop the client:
// the next batch is attempted as usual.
type RelayClient struct {
	cfg       domain.Configuration
	deliverer ports.BatchDeliverer
	session   *session.Session
	logger    *slog.Logger

	// sendMu serializes deliveries so batches reach the endpoint in order
	sendMu sync.Mutex

	mu         sync.Mutex
	stats      RelayStats
	deliveries []domain.DeliveryResult
}

// NewRelayClient creates a relay client for one build
func NewRelayClient(buildID session.BuildID, cfg domain.Configuration, deliverer ports.BatchDeliverer, logger *slog.Logger) *RelayClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Clone().WithDefaults()
	return &RelayClient{
		cfg:       cfg,
		deliverer: deliverer,
		session: session.NewSessionWithID(buildID, session.Config{
			BatchSize:     cfg.BatchSize,
			MaxBatchBytes: cfg.MaxBatchBytes,
			FlushInterval: cfg.FlushInterval,
		}),
		logger: logger.With("build_id", buildID.Value()),
	}
}

// BuildID returns the build the client relays for
func (c *RelayClient) BuildID() session.BuildID {
	return c.session.ID()
}

// State returns the lifecycle state
func (c *RelayClient) State() session.State {
	return c.session.State()
}

// Start begins accepting chunks (Idle to Capturing)
func (c *RelayClient) Start() error {
	return c.session.Start()
}

// Send buffers a chunk and transmits a batch when it is full. The result is
// marked Buffered when nothing was transmitted. A failed transmission
// returns domain.ErrDeliveryFailed; the chunk itself is always accepted.
func (c *RelayClient) Send(ctx context.Context, ch chunk.LogChunk) (domain.DeliveryResult, error) {
	batch, err := c.session.Add(ch)
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	c.mu.Lock()
	c.stats.Received++
	c.mu.Unlock()

	if batch == nil {
		return domain.DeliveryResult{Buffered: true}, nil
	}
	return c.deliver(ctx, batch)
}

// FlushDue transmits pending chunks once the flush interval has passed
func (c *RelayClient) FlushDue(ctx context.Context) (domain.DeliveryResult, error) {
	batch := c.session.FlushDue()
	if batch == nil {
		return domain.DeliveryResult{Buffered: true}, nil
	}
	return c.deliver(ctx, batch)
}

// Flush transmits pending chunks immediately
func (c *RelayClient) Flush(ctx context.Context) (domain.DeliveryResult, error) {
	batch, err := c.session.ForceFlush()
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	if batch == nil {
		return domain.DeliveryResult{Buffered: true}, nil
	}
	return c.deliver(ctx, batch)
}

// Drain ends the build: the remaining chunks are sent as the final batch and
// the client returns to Idle whether or not that delivery succeeds.
func (c *RelayClient) Drain(ctx context.Context) (domain.DeliveryResult, error) {
	batch, err := c.session.Drain()
	if err != nil {
		return domain.DeliveryResult{}, err
	}

	result := domain.DeliveryResult{Buffered: true}
	var deliverErr error
	if batch != nil {
		result, deliverErr = c.deliver(ctx, batch)
	}
	if err := c.session.Finish(); err != nil {
		return result, errors.Join(deliverErr, err)
	}
	return result, deliverErr
}

// Pending returns the number of chunks not yet handed to the deliverer
func (c *RelayClient) Pending() int {
	return c.session.PendingChunks()
}

// Stats returns a snapshot of the relay counters
func (c *RelayClient) Stats() RelayStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Deliveries returns the result of every delivery in order
func (c *RelayClient) Deliveries() []domain.DeliveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DeliveryResult, len(c.deliveries))
	copy(out, c.deliveries)
	return out
}

func (c *RelayClient) deliver(ctx context.Context, batch *session.Batch) (domain.DeliveryResult, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	result, err := c.deliverer.Deliver(ctx, c.cfg, batch)
	if result.Chunks == 0 {
		result.Chunks = batch.Len()
	}
	if err != nil && !errors.Is(err, domain.ErrDeliveryFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}

	c.mu.Lock()
	c.stats.Batches++
	if err == nil {
		c.stats.Delivered += batch.Len()
	} else {
		c.stats.Failed += batch.Len()
	}
	c.deliveries = append(c.deliveries, result)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("console batch not delivered",
			"first_seq", batch.FirstSequence(),
			"last_seq", batch.LastSequence(),
			"attempts", result.Attempts,
			"error", err,
		)
		return result, err
	}
	c.logger.Debug("console batch delivered",
		"first_seq", batch.FirstSequence(),
		"last_seq", batch.LastSequence(),
		"final", batch.Final,
	)
	return result, nil
}
