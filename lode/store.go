package lode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/justapithecus/lode/lode"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/colony/clock"
	"github.com/pithecene-io/colony/iox"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/timebase"
	"github.com/pithecene-io/colony/types"
)

const (
	chunkPrefix  = "chunks/"
	mergedPrefix = "merged/"
	csvExt       = ".csv"
	manifestExt  = ".meta"
)

// ChunkPath returns the artifact path for a chunk.
func ChunkPath(agentID uint8, chunkID string) string {
	return fmt.Sprintf("%sagent=%d/chunk_%s%s", chunkPrefix, agentID, chunkID, csvExt)
}

// ManifestPath returns the manifest sidecar path for a chunk artifact path.
func ManifestPath(artifactPath string) string {
	return strings.TrimSuffix(artifactPath, csvExt) + manifestExt
}

// manifest is the msgpack sidecar written next to every chunk artifact.
type manifest struct {
	ContractVersion string            `msgpack:"contract_version"`
	Handle          types.ChunkHandle `msgpack:"handle"`
}

// ChunkStore persists chunks and merges them on a Lode store.
//
// ChunkStore is not safe for concurrent writers across processes; within a
// process the ingestion loop is its only writer.
type ChunkStore struct {
	factory lode.StoreFactory
	backend string

	storeOnce sync.Once
	store     lode.Store
	storeErr  error

	clock       clock.Clock
	logger      *log.Logger
	correction  timebase.Correction
	alignStarts bool
}

// Option configures a ChunkStore.
type Option func(*ChunkStore)

// WithClock sets the clock used for manifest and merge timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *ChunkStore) { s.clock = c }
}

// WithLogger sets the logger for skipped sources and delete failures.
func WithLogger(l *log.Logger) Option {
	return func(s *ChunkStore) { s.logger = l }
}

// WithStartAlignment enables overflow start alignment during Merge.
func WithStartAlignment(c timebase.Correction) Option {
	return func(s *ChunkStore) {
		s.correction = c
		s.alignStarts = true
	}
}

// NewChunkStore creates a store over factory. The Lode store is created
// lazily on first use.
func NewChunkStore(factory lode.StoreFactory, backend string, opts ...Option) *ChunkStore {
	s := &ChunkStore{
		factory:    factory,
		backend:    backend,
		clock:      clock.Real(),
		logger:     log.Nop(),
		correction: timebase.DefaultCorrection(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend names the storage backend ("fs", "s3", "memory").
func (s *ChunkStore) Backend() string {
	return s.backend
}

func (s *ChunkStore) lodeStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
		if s.storeErr != nil {
			s.storeErr = WrapInitError(s.storeErr, s.backend)
		}
	})
	return s.store, s.storeErr
}

// Save writes chunk as a CSV artifact plus manifest and returns its handle.
// A chunk without rows is rejected with ErrEmptyChunk.
func (s *ChunkStore) Save(ctx context.Context, chunk *types.Chunk) (types.ChunkHandle, error) {
	if chunk == nil || len(chunk.Rows) == 0 {
		return types.ChunkHandle{}, ErrEmptyChunk
	}
	store, err := s.lodeStore()
	if err != nil {
		return types.ChunkHandle{}, err
	}

	path := ChunkPath(chunk.AgentID, chunk.ChunkID)
	data, err := encodeRows(chunkRows(chunk))
	if err != nil {
		return types.ChunkHandle{}, WrapWriteError(err, path)
	}

	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	handle := types.ChunkHandle{
		Path:      path,
		AgentID:   chunk.AgentID,
		ChunkID:   chunk.ChunkID,
		StartTime: chunk.StartTime(),
		EndTime:   chunk.EndTime(),
		Rows:      len(chunk.Rows),
		Offset:    chunk.Offset,
		Profile:   chunk.Profile.Name,
		CreatedAt: createdAt.UTC(),
	}
	meta, err := msgpack.Marshal(&manifest{ContractVersion: types.ContractVersion, Handle: handle})
	if err != nil {
		return types.ChunkHandle{}, WrapWriteError(err, ManifestPath(path))
	}

	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return types.ChunkHandle{}, WrapWriteError(err, path)
	}
	if err := store.Put(ctx, ManifestPath(path), bytes.NewReader(meta)); err != nil {
		// An artifact without a manifest is invisible to List; remove it.
		_ = store.Delete(ctx, path)
		return types.ChunkHandle{}, WrapWriteError(err, ManifestPath(path))
	}
	return handle, nil
}

// List returns the handles of every stored chunk, ordered by start time.
// Manifests that cannot be read are logged and skipped.
func (s *ChunkStore) List(ctx context.Context) ([]types.ChunkHandle, error) {
	store, err := s.lodeStore()
	if err != nil {
		return nil, err
	}
	paths, err := store.List(ctx, chunkPrefix)
	if err != nil {
		return nil, WrapListError(err, chunkPrefix)
	}

	var handles []types.ChunkHandle
	for _, p := range paths {
		if !strings.HasSuffix(p, manifestExt) {
			continue
		}
		h, err := s.readManifest(ctx, store, p)
		if err != nil {
			s.logger.Warn("skipping unreadable manifest", map[string]any{
				"path":  p,
				"error": err.Error(),
			})
			continue
		}
		handles = append(handles, h)
	}
	SortHandles(handles)
	return handles, nil
}

// ListMerged returns the paths of merged artifacts.
func (s *ChunkStore) ListMerged(ctx context.Context) ([]string, error) {
	store, err := s.lodeStore()
	if err != nil {
		return nil, err
	}
	paths, err := store.List(ctx, mergedPrefix)
	if err != nil {
		return nil, WrapListError(err, mergedPrefix)
	}
	slices.Sort(paths)
	return paths, nil
}

// SortHandles orders handles by start time, then chunk id.
func SortHandles(handles []types.ChunkHandle) {
	slices.SortStableFunc(handles, func(a, b types.ChunkHandle) int {
		switch {
		case a.StartTime < b.StartTime:
			return -1
		case a.StartTime > b.StartTime:
			return 1
		default:
			return strings.Compare(a.ChunkID, b.ChunkID)
		}
	})
}

func (s *ChunkStore) readManifest(ctx context.Context, store lode.Store, path string) (types.ChunkHandle, error) {
	data, err := readAll(ctx, store, path)
	if err != nil {
		return types.ChunkHandle{}, err
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return types.ChunkHandle{}, WrapReadError(fmt.Errorf("manifest: %v: %w", err, ErrCorrupt), path)
	}
	return m.Handle, nil
}

// ReadRows reads any chunk or merged artifact.
func (s *ChunkStore) ReadRows(ctx context.Context, path string) ([]Row, error) {
	store, err := s.lodeStore()
	if err != nil {
		return nil, err
	}
	data, err := readAll(ctx, store, path)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(bytes.NewReader(data))
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	return rows, nil
}

// ReadChunk loads the chunk behind h.
func (s *ChunkStore) ReadChunk(ctx context.Context, h types.ChunkHandle) (*types.Chunk, error) {
	rows, err := s.ReadRows(ctx, h.Path)
	if err != nil {
		return nil, err
	}
	profile, err := types.LookupProfile(h.Profile)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", h.ChunkID, err)
	}
	chunk := &types.Chunk{
		AgentID:   h.AgentID,
		ChunkID:   h.ChunkID,
		Offset:    h.Offset,
		Profile:   profile,
		CreatedAt: h.CreatedAt,
		Rows:      make([]types.ChunkRow, len(rows)),
	}
	for i, r := range rows {
		chunk.Rows[i] = r.ChunkRow
	}
	return chunk, nil
}

func readAll(ctx context.Context, store lode.Store, path string) ([]byte, error) {
	rc, err := store.Get(ctx, path)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	defer iox.DiscardClose(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	return data, nil
}

// Merge concatenates the given chunks, in the order given, into one merged
// artifact and deletes the consumed sources.
//
// No handles yields a result with Nothing set and no artifact. Sources that
// cannot be read are skipped and left in place. If the merged artifact
// cannot be written nothing is deleted and the error is returned. Each
// source is deleted independently; failures land in DeleteFailures.
func (s *ChunkStore) Merge(ctx context.Context, handles []types.ChunkHandle) (*types.MergeResult, error) {
	if len(handles) == 0 {
		return &types.MergeResult{Nothing: true}, nil
	}
	store, err := s.lodeStore()
	if err != nil {
		return nil, err
	}

	type source struct {
		handle types.ChunkHandle
		rows   []Row
	}
	result := &types.MergeResult{}
	var sources []source
	for _, h := range handles {
		rows, err := s.ReadRows(ctx, h.Path)
		if err != nil {
			s.logger.Warn("skipping unreadable chunk", map[string]any{
				"path":  h.Path,
				"error": err.Error(),
			})
			result.Skipped = append(result.Skipped, h.Path)
			continue
		}
		sources = append(sources, source{handle: h, rows: rows})
	}
	if len(sources) == 0 {
		result.Nothing = true
		return result, nil
	}

	if s.alignStarts && len(sources) > 1 {
		starts := make([]float64, len(sources))
		for i, src := range sources {
			if len(src.rows) > 0 {
				starts[i] = src.rows[0].AbsTime
			} else {
				starts[i] = src.handle.StartTime
			}
		}
		shifts, anomalies := timebase.AlignChunkStarts(starts, s.correction)
		for _, a := range anomalies {
			src := sources[a.Index]
			if !a.Corrected {
				s.logger.Warn("chunk start far past the others, left in place", map[string]any{
					"chunk_id": src.handle.ChunkID,
					"agent_id": src.handle.AgentID,
					"skew_sec": a.Delta,
				})
				continue
			}
			for j := range src.rows {
				src.rows[j].AbsTime += shifts[a.Index]
			}
			result.Shifted = append(result.Shifted, src.handle.ChunkID)
			s.logger.Warn("chunk start shifted by one overflow period", map[string]any{
				"chunk_id": src.handle.ChunkID,
				"agent_id": src.handle.AgentID,
				"skew_sec": a.Delta,
			})
		}
	}

	var merged []Row
	for _, src := range sources {
		merged = append(merged, src.rows...)
		if !slices.Contains(result.AgentIDs, src.handle.AgentID) {
			result.AgentIDs = append(result.AgentIDs, src.handle.AgentID)
		}
	}
	slices.Sort(result.AgentIDs)

	data, err := encodeRows(merged)
	if err != nil {
		return nil, WrapWriteError(err, mergedPrefix)
	}
	path, err := s.mergedPath()
	if err != nil {
		return nil, WrapWriteError(err, mergedPrefix)
	}
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return nil, WrapWriteError(err, path)
	}

	result.Path = path
	result.Sources = len(sources)
	result.Rows = len(merged)

	for _, src := range sources {
		for _, p := range []string{src.handle.Path, ManifestPath(src.handle.Path)} {
			if err := store.Delete(ctx, p); err != nil {
				s.logger.Warn("could not delete merged source", map[string]any{
					"path":  p,
					"error": WrapDeleteError(err, p).Error(),
				})
				result.DeleteFailures = append(result.DeleteFailures, p)
			}
		}
	}
	return result, nil
}

func (s *ChunkStore) mergedPath() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	stamp := s.clock.Now().Format("20060102_150405")
	return fmt.Sprintf("%smerged_%s_%s%s", mergedPrefix, stamp, id.String(), csvExt), nil
}
