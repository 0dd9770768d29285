package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/session"
	"consolerelay.dev/cli/internal/infrastructure/logging"
)

// fakeDeliverer records batches and fails while failing returns true
type fakeDeliverer struct {
	mu      sync.Mutex
	batches []*session.Batch
	failing func(batch *session.Batch) bool
	block   bool
}

func (f *fakeDeliverer) Deliver(ctx context.Context, cfg domain.Configuration, batch *session.Batch) (domain.DeliveryResult, error) {
	if f.block {
		<-ctx.Done()
		return domain.DeliveryResult{Attempts: 1, Chunks: batch.Len(), ErrorDetail: ctx.Err().Error()},
			fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing != nil && f.failing(batch) {
		return domain.DeliveryResult{Attempts: cfg.Retry.MaxAttempts, Chunks: batch.Len(), HTTPStatus: 500},
			fmt.Errorf("%w after %d attempts: boom", domain.ErrDeliveryFailed, cfg.Retry.MaxAttempts)
	}
	f.batches = append(f.batches, batch)
	return domain.DeliveryResult{Success: true, Attempts: 1, Chunks: batch.Len(), HTTPStatus: 200}, nil
}

func (f *fakeDeliverer) Batches() []*session.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*session.Batch(nil), f.batches...)
}

func (f *fakeDeliverer) Sequences() []uint64 {
	var seqs []uint64
	for _, b := range f.Batches() {
		for _, c := range b.Chunks {
			seqs = append(seqs, c.Sequence)
		}
	}
	return seqs
}

func relayConfig(batchSize int) domain.Configuration {
	cfg := domain.DefaultConfiguration()
	cfg.Enabled = true
	cfg.EndpointURL = "https://nexus.example.com/log"
	cfg.Credential = domain.NewSecret("tok123")
	cfg.BatchSize = batchSize
	cfg.FlushInterval = time.Hour
	return cfg
}

func stamp(seq *chunk.Sequencer, n int) []chunk.LogChunk {
	chunks := make([]chunk.LogChunk, n)
	for i := range chunks {
		chunks[i] = seq.Stamp(chunk.StreamStdout, []byte(fmt.Sprintf("line %d\n", i+1)))
	}
	return chunks
}

func TestRelayClient_BatchesBySize(t *testing.T) {
	deliverer := &fakeDeliverer{}
	client := NewRelayClient(session.GenerateBuildID(), relayConfig(3), deliverer, logging.Discard())
	ctx := context.Background()

	assert.Equal(t, session.StateIdle, client.State())
	require.NoError(t, client.Start())
	assert.Equal(t, session.StateCapturing, client.State())

	chunks := stamp(chunk.NewSequencer(), 7)
	var transmitted int
	for _, c := range chunks {
		result, err := client.Send(ctx, c)
		require.NoError(t, err)
		if !result.Buffered {
			transmitted++
			assert.True(t, result.Success)
			assert.Equal(t, 3, result.Chunks)
		}
	}
	assert.Equal(t, 2, transmitted)
	assert.Equal(t, 1, client.Pending())

	result, err := client.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, session.StateIdle, client.State())

	batches := deliverer.Batches()
	require.Len(t, batches, 3)
	assert.True(t, batches[2].Final)
	assert.Equal(t, RelayStats{Received: 7, Delivered: 7, Batches: 3}, client.Stats())
	assert.Len(t, client.Deliveries(), 3)
}

func TestRelayClient_RejectsChunksOutsideCapture(t *testing.T) {
	client := NewRelayClient(session.GenerateBuildID(), relayConfig(3), &fakeDeliverer{}, logging.Discard())
	seq := chunk.NewSequencer()

	_, err := client.Send(context.Background(), seq.Stamp(chunk.StreamStdout, []byte("early\n")))
	assert.Error(t, err)

	_, err = client.Drain(context.Background())
	assert.Error(t, err)
}

func TestRelayClient_FailureDoesNotStopLaterBatches(t *testing.T) {
	deliverer := &fakeDeliverer{failing: func(b *session.Batch) bool { return b.FirstSequence() == 1 }}
	client := NewRelayClient(session.GenerateBuildID(), relayConfig(2), deliverer, logging.Discard())
	require.NoError(t, client.Start())
	ctx := context.Background()

	chunks := stamp(chunk.NewSequencer(), 4)
	_, err := client.Send(ctx, chunks[0])
	require.NoError(t, err)
	result, err := client.Send(ctx, chunks[1])
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.False(t, result.Success)
	assert.Equal(t, 500, result.HTTPStatus)

	_, err = client.Send(ctx, chunks[2])
	require.NoError(t, err)
	result, err = client.Send(ctx, chunks[3])
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, RelayStats{Received: 4, Delivered: 2, Failed: 2, Batches: 2}, client.Stats())
}

func TestRelayClient_FlushAndDrainEmpty(t *testing.T) {
	deliverer := &fakeDeliverer{}
	client := NewRelayClient(session.GenerateBuildID(), relayConfig(10), deliverer, logging.Discard())
	require.NoError(t, client.Start())
	ctx := context.Background()

	result, err := client.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, result.Buffered)

	_, err = client.Send(ctx, stamp(chunk.NewSequencer(), 1)[0])
	require.NoError(t, err)
	result, err = client.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = client.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, result.Buffered)
	assert.Len(t, deliverer.Batches(), 1)
}

func TestRelayClient_DrainFailureStillReturnsToIdle(t *testing.T) {
	deliverer := &fakeDeliverer{failing: func(*session.Batch) bool { return true }}
	client := NewRelayClient(session.GenerateBuildID(), relayConfig(10), deliverer, logging.Discard())
	require.NoError(t, client.Start())

	_, err := client.Send(context.Background(), stamp(chunk.NewSequencer(), 1)[0])
	require.NoError(t, err)

	_, err = client.Drain(context.Background())
	assert.True(t, errors.Is(err, domain.ErrDeliveryFailed))
	assert.Equal(t, session.StateIdle, client.State())
}

func TestRelayClient_SequencesAreGapFree(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		batchSize := rapid.IntRange(1, 20).Draw(rt, "batchSize")
		n := rapid.IntRange(0, 200).Draw(rt, "chunks")
		flushEvery := rapid.IntRange(0, 30).Draw(rt, "flushEvery")

		deliverer := &fakeDeliverer{}
		client := NewRelayClient(session.GenerateBuildID(), relayConfig(batchSize), deliverer, logging.Discard())
		if err := client.Start(); err != nil {
			rt.Fatalf("start: %v", err)
		}
		ctx := context.Background()

		for i, c := range stamp(chunk.NewSequencer(), n) {
			if _, err := client.Send(ctx, c); err != nil {
				rt.Fatalf("send: %v", err)
			}
			if flushEvery > 0 && i%flushEvery == 0 {
				if _, err := client.Flush(ctx); err != nil {
					rt.Fatalf("flush: %v", err)
				}
			}
		}
		if _, err := client.Drain(ctx); err != nil {
			rt.Fatalf("drain: %v", err)
		}

		seqs := deliverer.Sequences()
		if len(seqs) != n {
			rt.Fatalf("delivered %d chunks, want %d", len(seqs), n)
		}
		for i, seq := range seqs {
			if seq != uint64(i+1) {
				rt.Fatalf("position %d has sequence %d", i, seq)
			}
		}
		for _, b := range deliverer.Batches() {
			if b.Len() > batchSize {
				rt.Fatalf("batch of %d exceeds batch size %d", b.Len(), batchSize)
			}
		}
	})
}
