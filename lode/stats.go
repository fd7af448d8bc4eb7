package lode

import (
	"context"
	"slices"

	"github.com/pithecene-io/colony/types"
)

// AgentStats summarizes the stored chunks of one agent.
type AgentStats struct {
	AgentID uint8 `json:"agent_id" yaml:"agent_id"`
	Chunks  int   `json:"chunks" yaml:"chunks"`
	Rows    int   `json:"rows" yaml:"rows"`
	// FirstStart and LastEnd bound the agent's chunks in absolute seconds.
	FirstStart float64 `json:"first_start" yaml:"first_start"`
	LastEnd    float64 `json:"last_end" yaml:"last_end"`
}

// StoreStats summarizes a chunk store.
type StoreStats struct {
	Backend string       `json:"backend" yaml:"backend"`
	Chunks  int          `json:"chunks" yaml:"chunks"`
	Rows    int          `json:"rows" yaml:"rows"`
	Merged  int          `json:"merged" yaml:"merged"`
	Agents  []AgentStats `json:"agents" yaml:"agents"`
}

// Summarize aggregates handles per agent, in agent id order.
func Summarize(backend string, handles []types.ChunkHandle, merged int) *StoreStats {
	stats := &StoreStats{Backend: backend, Merged: merged, Agents: []AgentStats{}}
	byAgent := make(map[uint8]*AgentStats)
	for _, h := range handles {
		a, ok := byAgent[h.AgentID]
		if !ok {
			a = &AgentStats{AgentID: h.AgentID, FirstStart: h.StartTime, LastEnd: h.EndTime}
			byAgent[h.AgentID] = a
		}
		a.Chunks++
		a.Rows += h.Rows
		a.FirstStart = min(a.FirstStart, h.StartTime)
		a.LastEnd = max(a.LastEnd, h.EndTime)
		stats.Chunks++
		stats.Rows += h.Rows
	}
	for _, a := range byAgent {
		stats.Agents = append(stats.Agents, *a)
	}
	slices.SortFunc(stats.Agents, func(a, b AgentStats) int {
		return int(a.AgentID) - int(b.AgentID)
	})
	return stats
}

// Stats summarizes the chunks and merged artifacts currently stored.
func (s *ChunkStore) Stats(ctx context.Context) (*StoreStats, error) {
	handles, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	merged, err := s.ListMerged(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(s.backend, handles, len(merged)), nil
}
