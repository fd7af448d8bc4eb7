package types

import "time"

// ChunkRow is one reconstructed sample.
type ChunkRow struct {
	// AbsTime is receiver wall-clock seconds since the Unix epoch.
	AbsTime float64
	// CounterExt is the unwrapped sub-record counter.
	CounterExt uint64
	// CounterScaled is CounterExt shifted back to microsecond resolution.
	CounterScaled uint64
	// LocalTime is CounterScaled in seconds on the agent clock.
	LocalTime float64
	A0        uint8
	A1        uint8
	A2        uint8
}

// Chunk is the immutable result of flushing one agent session.
type Chunk struct {
	AgentID uint8
	ChunkID string
	// Offset is the estimated receiver-minus-agent clock offset in seconds.
	Offset    float64
	Profile   Profile
	Rows      []ChunkRow
	CreatedAt time.Time
}

// StartTime returns the first row's absolute time, or 0 for an empty chunk.
func (c *Chunk) StartTime() float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	return c.Rows[0].AbsTime
}

// EndTime returns the last row's absolute time, or 0 for an empty chunk.
func (c *Chunk) EndTime() float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	return c.Rows[len(c.Rows)-1].AbsTime
}

// ChunkHandle points at a persisted chunk artifact.
type ChunkHandle struct {
	Path      string    `json:"path" yaml:"path" msgpack:"path"`
	AgentID   uint8     `json:"agent_id" yaml:"agent_id" msgpack:"agent_id"`
	ChunkID   string    `json:"chunk_id" yaml:"chunk_id" msgpack:"chunk_id"`
	StartTime float64   `json:"start_time" yaml:"start_time" msgpack:"start_time"`
	EndTime   float64   `json:"end_time" yaml:"end_time" msgpack:"end_time"`
	Rows      int       `json:"rows" yaml:"rows" msgpack:"rows"`
	Offset    float64   `json:"offset" yaml:"offset" msgpack:"offset"`
	Profile   string    `json:"profile" yaml:"profile" msgpack:"profile"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at" msgpack:"created_at"`
}

// MergeResult describes one merge operation.
type MergeResult struct {
	// Path is the consolidated artifact; empty when Nothing is set.
	Path    string `json:"path"`
	Sources int    `json:"sources"`
	Rows    int    `json:"rows"`
	// Nothing reports that no input handles were given.
	Nothing bool `json:"nothing"`
	// Skipped lists sources that could not be read and were left in place.
	Skipped []string `json:"skipped,omitempty"`
	// DeleteFailures lists consumed sources whose deletion failed.
	DeleteFailures []string `json:"delete_failures,omitempty"`
	// Shifted lists chunk ids moved back one overflow period during merge.
	Shifted []string `json:"shifted,omitempty"`
	AgentIDs []uint8 `json:"agent_ids,omitempty"`
}
