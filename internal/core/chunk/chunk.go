package chunk

import (
	"fmt"
	"sync"
	"time"
)

// Stream identifies which output stream a chunk was read from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// NewStream creates a Stream with validation
func NewStream(value string) (Stream, error) {
	switch value {
	case "stdout", "out":
		return StreamStdout, nil
	case "stderr", "err":
		return StreamStderr, nil
	default:
		return "", fmt.Errorf("invalid stream: %s", value)
	}
}

// String returns the string representation of Stream
func (s Stream) String() string {
	return string(s)
}

// LogChunk is one captured unit of console output. Sequence numbers start at
// 1 and increase by one per chunk across both streams of a build.
type LogChunk struct {
	Sequence  uint64    `json:"seq"`
	Stream    Stream    `json:"stream"`
	Content   []byte    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// EOF marks the end-of-stream sentinel. It carries the last real
	// sequence number and no content.
	EOF bool `json:"eof,omitempty"`
}

// Size returns the content length in bytes
func (c LogChunk) Size() int {
	return len(c.Content)
}

// String returns a short description of the chunk
func (c LogChunk) String() string {
	if c.EOF {
		return fmt.Sprintf("LogChunk{EOF after %d}", c.Sequence)
	}
	return fmt.Sprintf("LogChunk{Seq: %d, Stream: %s, Size: %d}", c.Sequence, c.Stream, len(c.Content))
}

// Sequencer hands out gap-free sequence numbers
type Sequencer struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// NewSequencer creates a sequencer whose first chunk gets sequence 1
func NewSequencer() *Sequencer {
	return &Sequencer{now: time.Now}
}

// Stamp builds the next chunk. The content is copied so callers may reuse
// their read buffers.
func (s *Sequencer) Stamp(stream Stream, content []byte) LogChunk {
	data := make([]byte, len(content))
	copy(data, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return LogChunk{
		Sequence:  s.last,
		Stream:    stream,
		Content:   data,
		Timestamp: s.now(),
	}
}

// EndOfStream builds the sentinel that follows the last chunk
func (s *Sequencer) EndOfStream() LogChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LogChunk{Sequence: s.last, Timestamp: s.now(), EOF: true}
}

// Last returns the most recently issued sequence number
func (s *Sequencer) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
