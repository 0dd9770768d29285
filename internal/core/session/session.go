package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"consolerelay.dev/cli/internal/core/chunk"
)

// BuildID is a value object identifying one relayed build
type BuildID struct {
	value string
}

// NewBuildID creates a BuildID with validation
func NewBuildID(value string) (BuildID, error) {
	if value == "" {
		return BuildID{}, fmt.Errorf("build ID cannot be empty")
	}
	return BuildID{value: value}, nil
}

// GenerateBuildID creates a new unique BuildID
func GenerateBuildID() BuildID {
	return BuildID{value: uuid.NewString()}
}

// Value returns the string value of the BuildID
func (b BuildID) Value() string {
	return b.value
}

// String implements the Stringer interface
func (b BuildID) String() string {
	return b.value
}

// Config holds the batching thresholds for a session
type Config struct {
	BatchSize     int           `json:"batch_size"`
	MaxBatchBytes int           `json:"max_batch_bytes"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultConfig returns the default batching thresholds
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		MaxBatchBytes: 512 * 1024,
		FlushInterval: 2 * time.Second,
	}
}

// State is the build-wrapper lifecycle state
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateDraining  State = "draining"
)

// Batch is a run of consecutive chunks ready for transmission
type Batch struct {
	ID        string           `json:"id"`
	BuildID   BuildID          `json:"build_id"`
	Chunks    []chunk.LogChunk `json:"chunks"`
	CreatedAt time.Time        `json:"created_at"`
	Bytes     int              `json:"bytes"`

	// Final is set on the batch produced while draining
	Final bool `json:"final"`
}

// NewBatch creates a batch over the given chunks
func NewBatch(buildID BuildID, chunks []chunk.LogChunk) *Batch {
	size := 0
	for _, c := range chunks {
		size += c.Size()
	}
	return &Batch{
		ID:        uuid.NewString(),
		BuildID:   buildID,
		Chunks:    chunks,
		CreatedAt: time.Now(),
		Bytes:     size,
	}
}

// Len returns the number of chunks in the batch
func (b *Batch) Len() int {
	return len(b.Chunks)
}

// FirstSequence returns the sequence number of the first chunk
func (b *Batch) FirstSequence() uint64 {
	if len(b.Chunks) == 0 {
		return 0
	}
	return b.Chunks[0].Sequence
}

// LastSequence returns the sequence number of the last chunk
func (b *Batch) LastSequence() uint64 {
	if len(b.Chunks) == 0 {
		return 0
	}
	return b.Chunks[len(b.Chunks)-1].Sequence
}

// Session accumulates the chunks of one build into batches and tracks the
// build-wrapper lifecycle.
type Session struct {
	mu            sync.RWMutex
	id            BuildID
	config        Config
	state         State
	pending       []chunk.LogChunk
	pendingBytes  int
	lastSequence  uint64
	totalChunks   int
	batchedChunks int
	batches       int
	startTime     time.Time
	lastFlushTime time.Time
	now           func() time.Time
}

// NewSession creates an idle session with a generated build ID
func NewSession(config Config) *Session {
	return NewSessionWithID(GenerateBuildID(), config)
}

// NewSessionWithID creates an idle session with a specific build ID
func NewSessionWithID(id BuildID, config Config) *Session {
	return &Session{
		id:      id,
		config:  config,
		state:   StateIdle,
		pending: make([]chunk.LogChunk, 0, config.BatchSize),
		now:     time.Now,
	}
}

// ID returns the build ID
func (s *Session) ID() BuildID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Config returns the batching configuration
func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// TotalChunks returns the number of chunks accepted
func (s *Session) TotalChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalChunks
}

// BatchedChunks returns the number of chunks handed out in batches
func (s *Session) BatchedChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchedChunks
}

// PendingChunks returns the number of chunks waiting for the next batch
func (s *Session) PendingChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Batches returns the number of batches produced
func (s *Session) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

// LastSequence returns the sequence number of the last accepted chunk
func (s *Session) LastSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSequence
}

// Start moves the session from idle to capturing (build start)
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("session can only be started from idle state, current state: %s", s.state)
	}

	s.state = StateCapturing
	s.pending = s.pending[:0]
	s.pendingBytes = 0
	s.lastSequence = 0
	s.startTime = s.now()
	s.lastFlushTime = s.startTime
	return nil
}

// Add accepts the next chunk and returns a batch once a threshold is reached.
// Chunks must arrive in sequence order without gaps.
func (s *Session) Add(c chunk.LogChunk) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing {
		return nil, fmt.Errorf("cannot add chunks to session in state: %s", s.state)
	}
	if c.EOF {
		return nil, fmt.Errorf("end-of-stream sentinel cannot be batched")
	}
	if c.Sequence != s.lastSequence+1 {
		return nil, fmt.Errorf("out of order chunk: expected sequence %d, got %d", s.lastSequence+1, c.Sequence)
	}

	s.pending = append(s.pending, c)
	s.pendingBytes += c.Size()
	s.lastSequence = c.Sequence
	s.totalChunks++

	if len(s.pending) >= s.config.BatchSize {
		return s.createBatch(false), nil
	}
	if s.config.MaxBatchBytes > 0 && s.pendingBytes >= s.config.MaxBatchBytes {
		return s.createBatch(false), nil
	}
	return nil, nil
}

// FlushDue returns a batch of pending chunks if the flush interval has passed
func (s *Session) FlushDue() *Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing || len(s.pending) == 0 {
		return nil
	}
	if s.now().Sub(s.lastFlushTime) < s.config.FlushInterval {
		return nil
	}
	return s.createBatch(false)
}

// ForceFlush returns a batch of pending chunks regardless of thresholds
func (s *Session) ForceFlush() (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing {
		return nil, fmt.Errorf("cannot flush session in state: %s", s.state)
	}
	return s.createBatch(false), nil
}

// Drain moves the session to draining (build end) and returns the final
// batch, or nil when nothing is pending.
func (s *Session) Drain() (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing {
		return nil, fmt.Errorf("session can only be drained from capturing state, current state: %s", s.state)
	}

	s.state = StateDraining
	return s.createBatch(true), nil
}

// Finish returns the session to idle. It succeeds whether or not the final
// delivery worked.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDraining {
		return fmt.Errorf("session can only be finished from draining state, current state: %s", s.state)
	}
	s.state = StateIdle
	return nil
}

// Duration returns the time since the session started capturing
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return s.now().Sub(s.startTime)
}

// createBatch must be called with the lock held
func (s *Session) createBatch(final bool) *Batch {
	if len(s.pending) == 0 {
		return nil
	}

	chunks := make([]chunk.LogChunk, len(s.pending))
	copy(chunks, s.pending)

	batch := NewBatch(s.id, chunks)
	batch.Final = final

	s.batchedChunks += len(chunks)
	s.batches++
	s.lastFlushTime = s.now()
	s.pending = s.pending[:0]
	s.pendingBytes = 0

	return batch
}

// String returns a string representation of the session
func (s *Session) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fmt.Sprintf("Session{ID: %s, State: %s, TotalChunks: %d, BatchedChunks: %d, Batches: %d}",
		s.id.Value(),
		s.state,
		s.totalChunks,
		s.batchedChunks,
		s.batches,
	)
}
