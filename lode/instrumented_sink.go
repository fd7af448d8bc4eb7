package lode

import (
	"context"

	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/types"
)

// InstrumentedSink wraps a Sink and records storage metrics. Each Save
// increments chunks_saved or store_write_failures; each Merge that writes
// an artifact records merges, rows_merged and delete failures.
type InstrumentedSink struct {
	inner     Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// Save delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) Save(ctx context.Context, chunk *types.Chunk) (types.ChunkHandle, error) {
	h, err := s.inner.Save(ctx, chunk)
	if err != nil {
		s.collector.IncStoreWriteFailure()
	} else {
		s.collector.IncChunkSaved()
	}
	return h, err
}

// Merge delegates to the inner sink and records the outcome.
func (s *InstrumentedSink) Merge(ctx context.Context, handles []types.ChunkHandle) (*types.MergeResult, error) {
	res, err := s.inner.Merge(ctx, handles)
	if err != nil {
		s.collector.IncStoreWriteFailure()
		return res, err
	}
	if res != nil && !res.Nothing {
		s.collector.AddMerge(res.Rows)
		s.collector.AddStoreDeleteFailures(len(res.DeleteFailures))
	}
	return res, nil
}

// Verify InstrumentedSink implements Sink.
var _ Sink = (*InstrumentedSink)(nil)
