package lode

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/colony/clock"
	"github.com/pithecene-io/colony/timebase"
	"github.com/pithecene-io/colony/types"
)

// faultyStore wraps a real store and fails selected operations.
type faultyStore struct {
	lode.Store

	// putErrPrefix makes Put fail for paths with this prefix.
	putErrPrefix string
	deleteErr    error
	deleteCalls  int
}

func (s *faultyStore) Put(ctx context.Context, path string, r io.Reader) error {
	if s.putErrPrefix != "" && strings.HasPrefix(path, s.putErrPrefix) {
		return errors.New("write " + path + ": no space left on device")
	}
	return s.Store.Put(ctx, path, r)
}

func (s *faultyStore) Delete(ctx context.Context, path string) error {
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, path)
}

func newFaultyChunkStore(t *testing.T, opts ...Option) (*ChunkStore, *faultyStore) {
	t.Helper()
	fs := &faultyStore{Store: lode.NewMemory()}
	factory := func() (lode.Store, error) { return fs, nil }
	return NewChunkStore(factory, BackendMemory, opts...), fs
}

func saveAll(t *testing.T, s *ChunkStore, chunks ...*types.Chunk) []types.ChunkHandle {
	t.Helper()
	var handles []types.ChunkHandle
	for _, c := range chunks {
		h, err := s.Save(t.Context(), c)
		if err != nil {
			t.Fatalf("Save(%s) failed: %v", c.ChunkID, err)
		}
		handles = append(handles, h)
	}
	return handles
}

func TestChunkStore_SaveListRead(t *testing.T) {
	s := NewMemoryChunkStore()
	chunk := sampleChunk(3, "0190a1b2-0000-7000-8000-000000000001", 1718000000.123456, 4)
	chunk.Offset = 1717999999.875496

	h, err := s.Save(t.Context(), chunk)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if h.Path != "chunks/agent=3/chunk_0190a1b2-0000-7000-8000-000000000001.csv" {
		t.Errorf("Path = %q", h.Path)
	}
	if h.Rows != 4 || h.StartTime != chunk.StartTime() || h.EndTime != chunk.EndTime() {
		t.Errorf("handle = %+v", h)
	}

	listed, err := s.List(t.Context())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ChunkID != chunk.ChunkID || listed[0].Offset != chunk.Offset {
		t.Fatalf("List = %+v", listed)
	}
	if listed[0].Profile != "pico16" {
		t.Errorf("Profile = %q, want pico16", listed[0].Profile)
	}

	got, err := s.ReadChunk(t.Context(), listed[0])
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if len(got.Rows) != len(chunk.Rows) {
		t.Fatalf("rows = %d, want %d", len(got.Rows), len(chunk.Rows))
	}
	for i := range chunk.Rows {
		if got.Rows[i] != chunk.Rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, got.Rows[i], chunk.Rows[i])
		}
	}
}

func TestChunkStore_SaveEmpty(t *testing.T) {
	s := NewMemoryChunkStore()
	if _, err := s.Save(t.Context(), &types.Chunk{AgentID: 1, ChunkID: "x"}); !errors.Is(err, ErrEmptyChunk) {
		t.Errorf("error = %v, want ErrEmptyChunk", err)
	}
}

func TestChunkStore_SaveWriteFailure(t *testing.T) {
	s, fs := newFaultyChunkStore(t)
	fs.putErrPrefix = "chunks/"

	_, err := s.Save(t.Context(), sampleChunk(1, "c1", 10, 2))
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "write" {
		t.Fatalf("error = %v, want write StorageError", err)
	}
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("error kind = %v, want ErrDiskFull", se.Kind)
	}
}

func TestChunkStore_Merge(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	s := NewMemoryChunkStore(WithClock(fake))
	handles := saveAll(t, s,
		sampleChunk(1, "a", 100, 3),
		sampleChunk(2, "b", 101, 2),
		sampleChunk(1, "c", 102, 4),
	)

	res, err := s.Merge(t.Context(), handles)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if res.Nothing {
		t.Fatal("unexpected Nothing")
	}
	if res.Rows != 9 || res.Sources != 3 {
		t.Errorf("Rows=%d Sources=%d, want 9/3", res.Rows, res.Sources)
	}
	if !strings.HasPrefix(res.Path, "merged/merged_20260304_050607_") {
		t.Errorf("Path = %q", res.Path)
	}
	if len(res.AgentIDs) != 2 || res.AgentIDs[0] != 1 || res.AgentIDs[1] != 2 {
		t.Errorf("AgentIDs = %v, want [1 2]", res.AgentIDs)
	}
	if len(res.DeleteFailures) != 0 {
		t.Errorf("DeleteFailures = %v", res.DeleteFailures)
	}

	rows, err := s.ReadRows(t.Context(), res.Path)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	wantIDs := []string{"a", "a", "a", "b", "b", "c", "c", "c", "c"}
	if len(rows) != len(wantIDs) {
		t.Fatalf("merged rows = %d, want %d", len(rows), len(wantIDs))
	}
	for i, id := range wantIDs {
		if rows[i].ChunkID != id {
			t.Errorf("row %d chunk_id = %q, want %q", i, rows[i].ChunkID, id)
		}
	}

	remaining, err := s.List(t.Context())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("sources still listed after merge: %+v", remaining)
	}
	merged, err := s.ListMerged(t.Context())
	if err != nil {
		t.Fatalf("ListMerged failed: %v", err)
	}
	if len(merged) != 1 || merged[0] != res.Path {
		t.Errorf("ListMerged = %v, want [%s]", merged, res.Path)
	}
}

func TestChunkStore_MergeNothing(t *testing.T) {
	s := NewMemoryChunkStore()

	res, err := s.Merge(t.Context(), nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !res.Nothing || res.Path != "" {
		t.Errorf("result = %+v, want Nothing with no path", res)
	}
	if merged, _ := s.ListMerged(t.Context()); len(merged) != 0 {
		t.Errorf("merged artifacts = %v, want none", merged)
	}
}

func TestChunkStore_MergeSkipsUnreadable(t *testing.T) {
	s := NewMemoryChunkStore()
	handles := saveAll(t, s, sampleChunk(1, "a", 100, 2))
	missing := types.ChunkHandle{Path: ChunkPath(9, "gone"), AgentID: 9, ChunkID: "gone"}

	res, err := s.Merge(t.Context(), append(handles, missing))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if res.Sources != 1 || res.Rows != 2 {
		t.Errorf("Sources=%d Rows=%d, want 1/2", res.Sources, res.Rows)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != missing.Path {
		t.Errorf("Skipped = %v", res.Skipped)
	}
}

func TestChunkStore_MergeDeleteFailure(t *testing.T) {
	s, fs := newFaultyChunkStore(t)
	handles := saveAll(t, s, sampleChunk(1, "a", 100, 2), sampleChunk(2, "b", 101, 2))
	fs.deleteErr = errors.New("permission denied")

	res, err := s.Merge(t.Context(), handles)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if res.Path == "" || res.Rows != 4 {
		t.Errorf("result = %+v, want merged artifact with 4 rows", res)
	}
	// csv + manifest for each source, each attempted independently.
	if len(res.DeleteFailures) != 4 || fs.deleteCalls != 4 {
		t.Errorf("DeleteFailures=%v deleteCalls=%d, want 4/4", res.DeleteFailures, fs.deleteCalls)
	}
	if remaining, _ := s.List(t.Context()); len(remaining) != 2 {
		t.Errorf("remaining sources = %d, want 2", len(remaining))
	}
}

func TestChunkStore_MergeWriteFailure(t *testing.T) {
	s, fs := newFaultyChunkStore(t)
	handles := saveAll(t, s, sampleChunk(1, "a", 100, 2))
	fs.putErrPrefix = "merged/"

	res, err := s.Merge(t.Context(), handles)
	if err == nil {
		t.Fatalf("expected error, got %+v", res)
	}
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("error = %v, want ErrDiskFull", err)
	}
	if fs.deleteCalls != 0 {
		t.Errorf("deleteCalls = %d, want 0", fs.deleteCalls)
	}
	if remaining, _ := s.List(t.Context()); len(remaining) != 1 {
		t.Errorf("remaining sources = %d, want 1", len(remaining))
	}
}

func TestChunkStore_MergeStartAlignment(t *testing.T) {
	c := timebase.DefaultCorrection()
	s := NewMemoryChunkStore(WithStartAlignment(c))
	skewed := sampleChunk(3, "skewed", 105+c.OverflowPeriod, 2)
	handles := saveAll(t, s,
		sampleChunk(1, "a", 100, 2),
		sampleChunk(2, "b", 110, 2),
		skewed,
	)

	res, err := s.Merge(t.Context(), handles)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(res.Shifted) != 1 || res.Shifted[0] != "skewed" {
		t.Fatalf("Shifted = %v, want [skewed]", res.Shifted)
	}

	rows, err := s.ReadRows(t.Context(), res.Path)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	got := rows[4].AbsTime
	if want := 105.0; got < want-1e-6 || got > want+1e-6 {
		t.Errorf("shifted start = %v, want %v", got, want)
	}
}

func TestChunkStore_MergeLongSessionKeepsStarts(t *testing.T) {
	s := NewMemoryChunkStore(WithStartAlignment(timebase.DefaultCorrection()))
	ids := []string{"c00", "c01", "c02", "c03", "c04", "c05", "c06", "c07", "c08", "c09"}
	var chunks []*types.Chunk
	for i, id := range ids {
		chunks = append(chunks, sampleChunk(1, id, float64(i)*600, 2))
	}
	handles := saveAll(t, s, chunks...)

	res, err := s.Merge(t.Context(), handles)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(res.Shifted) != 0 {
		t.Fatalf("Shifted = %v, want none", res.Shifted)
	}

	rows, err := s.ReadRows(t.Context(), res.Path)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(rows) != 2*len(ids) {
		t.Fatalf("rows = %d, want %d", len(rows), 2*len(ids))
	}
	last := rows[len(rows)-1].AbsTime
	if want := 5400.1; last < want-1e-6 || last > want+1e-6 {
		t.Errorf("last row = %v, want %v", last, want)
	}
}

func TestChunkStore_ReadChunkUnknownProfile(t *testing.T) {
	s := NewMemoryChunkStore()
	h, err := s.Save(t.Context(), sampleChunk(2, "c1", 10, 2))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	h.Profile = "pico99"
	if _, err := s.ReadChunk(t.Context(), h); err == nil || !strings.Contains(err.Error(), "pico99") {
		t.Errorf("ReadChunk error = %v, want unknown profile", err)
	}
}

func TestChunkStore_ListOrder(t *testing.T) {
	s := NewMemoryChunkStore()
	saveAll(t, s,
		sampleChunk(2, "late", 300, 1),
		sampleChunk(1, "early", 100, 1),
		sampleChunk(3, "mid", 200, 1),
	)

	handles, err := s.List(t.Context())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"early", "mid", "late"}
	for i, id := range want {
		if handles[i].ChunkID != id {
			t.Errorf("handles[%d] = %q, want %q", i, handles[i].ChunkID, id)
		}
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(t.Context(), StoreConfig{Backend: BackendFS, Path: dir})
	if err != nil {
		t.Fatalf("Open(fs) failed: %v", err)
	}
	if s.Backend() != BackendFS {
		t.Errorf("Backend = %q", s.Backend())
	}
	if _, err := s.Save(t.Context(), sampleChunk(1, "fs-chunk", 10, 2)); err != nil {
		t.Fatalf("Save on fs failed: %v", err)
	}

	if _, err := Open(t.Context(), StoreConfig{Backend: "tape"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := Open(t.Context(), StoreConfig{Backend: BackendFS}); err == nil {
		t.Error("expected error for fs without path")
	}
	if _, err := NewS3ChunkStore(t.Context(), S3Config{}); err == nil {
		t.Error("expected error for s3 without bucket")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/chunks", "bucket", "chunks"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestDecodeRows_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"wrong header", "time,a0\n1,2\n"},
		{"bad number", strings.Join(Columns, ",") + "\nx,1,1,1,1,1,1,1,c\n"},
		{"byte overflow", strings.Join(Columns, ",") + "\n1,1,1,1,256,1,1,1,c\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeRows(strings.NewReader(tt.in)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("error = %v, want ErrCorrupt", err)
			}
		})
	}
}
