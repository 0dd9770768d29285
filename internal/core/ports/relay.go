package ports

import (
	"context"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/session"
)

// LogCapture is a finite, ordered stream of console output for one build
type LogCapture interface {
	// Chunks yields chunks in emission order. The last value is the
	// end-of-stream sentinel, after which the channel is closed.
	Chunks() <-chan chunk.LogChunk

	// Err returns domain.ErrStreamClosed (wrapped) if the stream ended
	// abnormally, nil otherwise. Valid once Chunks is closed.
	Err() error

	// Stop ends the capture early
	Stop()
}

// BatchDeliverer transmits one batch to the configured endpoint, retrying
// transient failures.
type BatchDeliverer interface {
	Deliver(ctx context.Context, cfg domain.Configuration, batch *session.Batch) (domain.DeliveryResult, error)
}

// ConnectionTester checks endpoint reachability and credentials without
// sending log data.
type ConnectionTester interface {
	// Test returns nil or a *domain.ConnectionError. An invalid configuration
	// returns domain.ErrConfigInvalid before any network call.
	Test(ctx context.Context, cfg domain.Configuration) error
}
