package lode

import (
	"context"
	"sync"

	"github.com/pithecene-io/colony/types"
)

// Sink is where the ingestion loop hands finished chunks.
// ChunkStore is the real implementation; StubSink is for tests.
type Sink interface {
	// Save persists one chunk and returns its handle.
	Save(ctx context.Context, chunk *types.Chunk) (types.ChunkHandle, error)

	// Merge consolidates the given chunks, in order, and removes the sources.
	Merge(ctx context.Context, handles []types.ChunkHandle) (*types.MergeResult, error)
}

// Verify ChunkStore implements Sink.
var _ Sink = (*ChunkStore)(nil)

// StubSink records saves and merges in memory.
type StubSink struct {
	mu sync.Mutex

	// SaveErr, when set, is returned by every Save.
	SaveErr error
	// MergeErr, when set, is returned by every Merge.
	MergeErr error

	Saved  []*types.Chunk
	Merged [][]types.ChunkHandle
}

// NewStubSink creates a new stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// Save implements Sink.
func (s *StubSink) Save(_ context.Context, chunk *types.Chunk) (types.ChunkHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return types.ChunkHandle{}, s.SaveErr
	}
	s.Saved = append(s.Saved, chunk)
	return types.ChunkHandle{
		Path:      ChunkPath(chunk.AgentID, chunk.ChunkID),
		AgentID:   chunk.AgentID,
		ChunkID:   chunk.ChunkID,
		StartTime: chunk.StartTime(),
		EndTime:   chunk.EndTime(),
		Rows:      len(chunk.Rows),
		Offset:    chunk.Offset,
		Profile:   chunk.Profile.Name,
		CreatedAt: chunk.CreatedAt,
	}, nil
}

// Merge implements Sink.
func (s *StubSink) Merge(_ context.Context, handles []types.ChunkHandle) (*types.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MergeErr != nil {
		return nil, s.MergeErr
	}
	if len(handles) == 0 {
		return &types.MergeResult{Nothing: true}, nil
	}
	s.Merged = append(s.Merged, append([]types.ChunkHandle(nil), handles...))
	rows := 0
	for _, h := range handles {
		rows += h.Rows
	}
	return &types.MergeResult{Path: mergedPrefix + "stub.csv", Sources: len(handles), Rows: rows}, nil
}

// SavedChunks returns a copy of the chunks saved so far.
func (s *StubSink) SavedChunks() []*types.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Chunk(nil), s.Saved...)
}

// MergeCalls returns a copy of the handle lists passed to Merge.
func (s *StubSink) MergeCalls() [][]types.ChunkHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]types.ChunkHandle(nil), s.Merged...)
}

// Verify StubSink implements Sink.
var _ Sink = (*StubSink)(nil)
