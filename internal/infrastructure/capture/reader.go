package capture

import (
	"context"
	"fmt"
	"io"
	"sync"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/core/domain"
)

// ReaderCapture captures any reader, such as piped stdin, as a single stream
type ReaderCapture struct {
	opts   Options
	em     *emitter
	stream chunk.Stream

	mu      sync.RWMutex
	started bool
	err     error
	done    chan struct{}
}

// NewReaderCapture creates a capture that labels its chunks with stream
func NewReaderCapture(stream chunk.Stream, opts Options) *ReaderCapture {
	opts = opts.withDefaults()
	return &ReaderCapture{
		opts:   opts,
		em:     newEmitter(opts.QueueCapacity),
		stream: stream,
		done:   make(chan struct{}),
	}
}

// Start begins reading r in the background
func (c *ReaderCapture) Start(ctx context.Context, r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("capture already started")
	}
	c.started = true

	console := c.opts.Stdout
	if c.stream == chunk.StreamStderr {
		console = c.opts.Stderr
	}

	go func() {
		select {
		case <-ctx.Done():
			c.em.halt()
		case <-c.done:
		}
	}()

	go func() {
		defer close(c.done)
		err := c.em.pump(c.stream, r, console, c.opts.MaxLineSize, c.opts.Logger)
		if err != nil && ctx.Err() == nil {
			c.mu.Lock()
			c.err = fmt.Errorf("%w: %v", domain.ErrStreamClosed, err)
			c.mu.Unlock()
		}
		c.em.finish()
	}()
	return nil
}

// Chunks returns the captured stream
func (c *ReaderCapture) Chunks() <-chan chunk.LogChunk {
	return c.em.out
}

// Err returns the abnormal-close error, if any
func (c *ReaderCapture) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Stop ends the capture. A reader blocked in Read is not interrupted; close
// it to unblock.
func (c *ReaderCapture) Stop() {
	c.em.halt()
}

// Stats returns capture statistics
func (c *ReaderCapture) Stats() Stats {
	return c.em.snapshot()
}
