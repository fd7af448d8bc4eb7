package runtime

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/colony/clock"
	"github.com/pithecene-io/colony/timebase"
	"github.com/pithecene-io/colony/types"
)

func TestChunkBuilder_EmptyBatch(t *testing.T) {
	b := NewChunkBuilder(types.ProfilePico16, timebase.DefaultCorrection(), true, nil)
	res, err := b.Build(SessionBatch{AgentID: 1})
	if err != nil || res != nil {
		t.Errorf("Build(empty) = %v, %v; want nil, nil", res, err)
	}
}

func TestChunkBuilder_TwoFrames(t *testing.T) {
	t0 := time.Unix(1000, 0)
	clk := clock.Fake(t0.Add(2 * time.Second))
	b := NewChunkBuilder(types.ProfilePico16, timebase.DefaultCorrection(), true, clk)

	s := newAgentSession(3)
	s.Append(telemetry(3, 100000, 0), t0)
	s.Append(telemetry(3, 200000, 0), t0.Add(50*time.Millisecond))

	res, err := b.Build(s.Take())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	c := res.Chunk

	wantOffset := 1000 - 0.124504
	if math.Abs(c.Offset-wantOffset) > 1e-6 {
		t.Errorf("Offset = %.9f, want %.9f", c.Offset, wantOffset)
	}
	if len(c.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(c.Rows))
	}
	for i, r := range c.Rows {
		if r.CounterExt != 0 || r.LocalTime != 0 {
			t.Errorf("row %d = %+v", i, r)
		}
		if math.Abs(r.AbsTime-wantOffset) > 1e-6 {
			t.Errorf("row %d AbsTime = %.9f, want %.9f", i, r.AbsTime, wantOffset)
		}
		if r.A0 != 1 || r.A1 != 2 || r.A2 != 3 {
			t.Errorf("row %d channels = %d,%d,%d", i, r.A0, r.A1, r.A2)
		}
	}
	if c.AgentID != 3 || c.Profile.Name != "pico16" {
		t.Errorf("chunk header = %d/%s", c.AgentID, c.Profile.Name)
	}
	if !c.CreatedAt.Equal(clk.Now()) {
		t.Errorf("CreatedAt = %v, want clock time", c.CreatedAt)
	}
	id, err := uuid.Parse(c.ChunkID)
	if err != nil || id.Version() != 7 {
		t.Errorf("ChunkID %q is not a UUIDv7", c.ChunkID)
	}
	if res.Estimate.Pairs != 2 {
		t.Errorf("Estimate.Pairs = %d", res.Estimate.Pairs)
	}
}

func TestChunkBuilder_UnwrapsCounters(t *testing.T) {
	b := NewChunkBuilder(types.ProfilePico16, timebase.DefaultCorrection(), true, nil)

	s := newAgentSession(1)
	s.Append(telemetry(1, 0, 65530, 65533), time.Unix(0, 0))
	s.Append(telemetry(1, 0, 2, 10), time.Unix(0, 0))

	res, err := b.Build(s.Take())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []uint64{65530, 65533, 65538, 65546}
	for i, r := range res.Chunk.Rows {
		if r.CounterExt != want[i] {
			t.Errorf("row %d CounterExt = %d, want %d", i, r.CounterExt, want[i])
		}
		if r.CounterScaled != want[i]<<10 {
			t.Errorf("row %d CounterScaled = %d, want %d", i, r.CounterScaled, want[i]<<10)
		}
		if i > 0 && r.AbsTime <= res.Chunk.Rows[i-1].AbsTime {
			t.Errorf("row %d not monotonic", i)
		}
	}
	if res.Wraps != 1 {
		t.Errorf("Wraps = %d, want 1", res.Wraps)
	}
}

func TestChunkBuilder_Pico24(t *testing.T) {
	b := NewChunkBuilder(types.ProfilePico24, timebase.DefaultCorrection(), true, nil)

	s := newAgentSession(2)
	s.Append(telemetry(2, 0, 1000, 2000), time.Unix(10, 0))

	res, err := b.Build(s.Take())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	r := res.Chunk.Rows[1]
	if r.CounterScaled != 2000<<8 {
		t.Errorf("CounterScaled = %d, want %d", r.CounterScaled, 2000<<8)
	}
	if math.Abs(r.LocalTime-float64(2000<<8)/1e6) > 1e-12 {
		t.Errorf("LocalTime = %g", r.LocalTime)
	}
}

func TestChunkBuilder_CorrectionToggle(t *testing.T) {
	// A tiny overflow period makes a natural one-second step look like a
	// counter overflow.
	corr := timebase.DefaultCorrection()
	corr.OverflowPeriod = 1.024
	corr.JumpTolerance = 0.01

	s := newAgentSession(1)
	// 0 and 1000 counts at shift 10 are 1.024s apart.
	s.Append(telemetry(1, 0, 0, 1000), time.Unix(0, 0))
	batch := s.Take()

	on, err := NewChunkBuilder(types.ProfilePico16, corr, true, nil).Build(batch)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(on.Anomalies) != 1 || !on.Anomalies[0].Corrected {
		t.Fatalf("anomalies = %+v, want one corrected", on.Anomalies)
	}
	if d := on.Chunk.Rows[1].AbsTime - on.Chunk.Rows[0].AbsTime; math.Abs(d) > 1e-9 {
		t.Errorf("corrected step = %g, want 0", d)
	}

	off, err := NewChunkBuilder(types.ProfilePico16, corr, false, nil).Build(batch)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(off.Anomalies) != 0 {
		t.Errorf("anomalies with correction off = %+v", off.Anomalies)
	}
	if d := off.Chunk.Rows[1].AbsTime - off.Chunk.Rows[0].AbsTime; math.Abs(d-1.024) > 1e-9 {
		t.Errorf("uncorrected step = %g, want 1.024", d)
	}
}
