package capture

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"consolerelay.dev/cli/internal/core/chunk"
)

const (
	// DefaultMaxLineSize is the longest line emitted as a single chunk.
	// Longer lines are split into several chunks.
	DefaultMaxLineSize = 1024 * 1024

	// DefaultQueueCapacity bounds the chunks buffered ahead of the consumer
	DefaultQueueCapacity = 1000

	minLineSize = 16
)

// Options configures a capture
type Options struct {
	QueueCapacity int
	MaxLineSize   int

	// Stdout and Stderr receive a copy of everything captured, so the build
	// output still reaches the console.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.MaxLineSize <= 0 {
		o.MaxLineSize = DefaultMaxLineSize
	}
	if o.MaxLineSize < minLineSize {
		o.MaxLineSize = minLineSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats tracks capture statistics
type Stats struct {
	BytesRead        int64     `json:"bytes_read"`
	ChunksEmitted    int64     `json:"chunks_emitted"`
	ErrorCount       int64     `json:"error_count"`
	LastActivityTime time.Time `json:"last_activity_time"`
}

// emitter stamps chunks and queues them. Stamping and queueing happen under
// one lock so channel order matches sequence order across streams.
type emitter struct {
	mu       sync.Mutex
	seq      *chunk.Sequencer
	out      chan chunk.LogChunk
	stop     chan struct{}
	stopOnce sync.Once

	statsMu sync.Mutex
	stats   Stats
}

func newEmitter(capacity int) *emitter {
	return &emitter{
		seq:  chunk.NewSequencer(),
		out:  make(chan chunk.LogChunk, capacity),
		stop: make(chan struct{}),
	}
}

// emit blocks while the queue is full. It returns false once stopped.
func (e *emitter) emit(stream chunk.Stream, content []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.stop:
		return false
	default:
	}

	c := e.seq.Stamp(stream, content)
	select {
	case e.out <- c:
		e.record(int64(len(content)), 1, 0)
		return true
	case <-e.stop:
		return false
	}
}

// finish queues the end-of-stream sentinel and closes the channel
func (e *emitter) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case e.out <- e.seq.EndOfStream():
	case <-e.stop:
	}
	close(e.out)
}

func (e *emitter) halt() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *emitter) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

func (e *emitter) record(bytes, chunks, errs int64) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.BytesRead += bytes
	e.stats.ChunksEmitted += chunks
	e.stats.ErrorCount += errs
	e.stats.LastActivityTime = time.Now()
}

func (e *emitter) snapshot() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// pump reads r line by line, tees each line to console and emits it. It
// returns nil at end of input or when stopped.
func (e *emitter) pump(stream chunk.Stream, r io.Reader, console io.Writer, maxLine int, logger *slog.Logger) error {
	reader := bufio.NewReaderSize(r, maxLine)
	for {
		line, err := reader.ReadSlice('\n')
		if len(line) > 0 {
			if console != nil {
				if _, werr := console.Write(line); werr != nil {
					logger.Debug("console write failed", "stream", stream, "error", werr)
				}
			}
			if !e.emit(stream, line) {
				return nil
			}
		}

		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			return nil
		case e.stopped():
			return nil
		default:
			e.record(0, 0, 1)
			logger.Warn("error reading build output", "stream", stream, "error", err)
			return err
		}
	}
}
