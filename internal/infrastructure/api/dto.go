package api

import (
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/core/session"
)

// SchemaVersion identifies the batch wire format
const SchemaVersion = "consolerelay/v1"

const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// ChunkDto represents one console chunk on the wire
type ChunkDto struct {
	Sequence  uint64 `json:"seq"`
	Stream    string `json:"stream"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
	Encoding  string `json:"encoding"`
}

// BatchDto represents a batch of console chunks for the endpoint
type BatchDto struct {
	Schema         string            `json:"schema"`
	BuildID        string            `json:"buildId"`
	BatchID        string            `json:"batchId"`
	FirstSequence  uint64            `json:"firstSeq"`
	LastSequence   uint64            `json:"lastSeq"`
	Final          bool              `json:"final"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Chunks         []ChunkDto        `json:"chunks"`
	ClientVersion  string            `json:"clientVersion"`
	BatchTimestamp string            `json:"batchTimestamp"`
}

// NewBatchDto converts a batch to its wire form
func NewBatchDto(batch *session.Batch, metadata map[string]string, clientVersion string) BatchDto {
	chunks := make([]ChunkDto, len(batch.Chunks))
	for i, c := range batch.Chunks {
		chunks[i] = chunkToDTO(c)
	}
	return BatchDto{
		Schema:         SchemaVersion,
		BuildID:        batch.BuildID.Value(),
		BatchID:        batch.ID,
		FirstSequence:  batch.FirstSequence(),
		LastSequence:   batch.LastSequence(),
		Final:          batch.Final,
		Metadata:       metadata,
		Chunks:         chunks,
		ClientVersion:  clientVersion,
		BatchTimestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func chunkToDTO(c chunk.LogChunk) ChunkDto {
	dto := ChunkDto{
		Sequence:  c.Sequence,
		Stream:    c.Stream.String(),
		Timestamp: c.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if utf8.Valid(c.Content) {
		dto.Content = string(c.Content)
		dto.Encoding = EncodingUTF8
	} else {
		dto.Content = base64.StdEncoding.EncodeToString(c.Content)
		dto.Encoding = EncodingBase64
	}
	return dto
}

// ToChunk decodes the wire form back into a chunk
func (d ChunkDto) ToChunk() (chunk.LogChunk, error) {
	stream, err := chunk.NewStream(d.Stream)
	if err != nil {
		return chunk.LogChunk{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, d.Timestamp)
	if err != nil {
		return chunk.LogChunk{}, fmt.Errorf("invalid timestamp for chunk %d: %w", d.Sequence, err)
	}

	var content []byte
	switch d.Encoding {
	case EncodingUTF8, "":
		content = []byte(d.Content)
	case EncodingBase64:
		content, err = base64.StdEncoding.DecodeString(d.Content)
		if err != nil {
			return chunk.LogChunk{}, fmt.Errorf("invalid content for chunk %d: %w", d.Sequence, err)
		}
	default:
		return chunk.LogChunk{}, fmt.Errorf("unknown encoding %q for chunk %d", d.Encoding, d.Sequence)
	}

	return chunk.LogChunk{
		Sequence:  d.Sequence,
		Stream:    stream,
		Content:   content,
		Timestamp: ts,
	}, nil
}
