package runtime

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pithecene-io/colony/clock"
	"github.com/pithecene-io/colony/timebase"
	"github.com/pithecene-io/colony/types"
)

// BuildResult is a built chunk plus what the builder observed on the way.
type BuildResult struct {
	Chunk     *types.Chunk
	Estimate  timebase.OffsetEstimate
	Wraps     int
	Anomalies []timebase.Anomaly
}

// ChunkBuilder turns a session batch into an immutable chunk:
// unwrap counters, estimate the clock offset, place every record on the
// receiver clock and repair overflow-sized jumps.
type ChunkBuilder struct {
	profile      types.Profile
	unwrapper    timebase.Unwrapper
	correction   timebase.Correction
	correctJumps bool
	clock        clock.Clock
	newID        func() (string, error)
}

// NewChunkBuilder creates a builder for the given profile.
// When correctJumps is false, overflow jumps are neither repaired nor reported.
func NewChunkBuilder(profile types.Profile, correction timebase.Correction, correctJumps bool, clk clock.Clock) *ChunkBuilder {
	if clk == nil {
		clk = clock.Real()
	}
	return &ChunkBuilder{
		profile:      profile,
		unwrapper:    timebase.Unwrapper{Bits: profile.CounterBits},
		correction:   correction,
		correctJumps: correctJumps,
		clock:        clk,
		newID:        newChunkID,
	}
}

// newChunkID returns a time-ordered UUIDv7 string.
func newChunkID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Build builds a chunk from batch. An empty batch yields (nil, nil).
func (b *ChunkBuilder) Build(batch SessionBatch) (*BuildResult, error) {
	if batch.Empty() {
		return nil, nil
	}

	est, err := timebase.EstimateOffset(batch.Pairs, b.profile)
	if err != nil {
		return nil, fmt.Errorf("agent %d: %w", batch.AgentID, err)
	}

	chunkID, err := b.newID()
	if err != nil {
		return nil, fmt.Errorf("agent %d: chunk id: %w", batch.AgentID, err)
	}

	raw := make([]uint32, len(batch.Records))
	for i, r := range batch.Records {
		raw[i] = r.Counter
	}
	ext := b.unwrapper.Unwrap(raw)

	abs := make([]float64, len(ext))
	for i, e := range ext {
		abs[i] = timebase.LocalSeconds(e, b.profile.Shift) + est.Offset
	}

	var anomalies []timebase.Anomaly
	if b.correctJumps {
		anomalies = timebase.CorrectOverflowJumps(abs, b.correction)
	}

	rows := make([]types.ChunkRow, len(batch.Records))
	for i, r := range batch.Records {
		rows[i] = types.ChunkRow{
			AbsTime:       abs[i],
			CounterExt:    ext[i],
			CounterScaled: ext[i] << b.profile.Shift,
			LocalTime:     timebase.LocalSeconds(ext[i], b.profile.Shift),
			A0:            r.A0,
			A1:            r.A1,
			A2:            r.A2,
		}
	}

	return &BuildResult{
		Chunk: &types.Chunk{
			AgentID:   batch.AgentID,
			ChunkID:   chunkID,
			Offset:    est.Offset,
			Profile:   b.profile,
			Rows:      rows,
			CreatedAt: b.clock.Now(),
		},
		Estimate:  est,
		Wraps:     b.unwrapper.Wraps(raw),
		Anomalies: anomalies,
	}, nil
}
