// Package adapter defines the notification boundary for merge events.
//
// Adapters tell downstream systems that a merged artifact is ready. The
// ingestion service owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/colony/types"
)

// EventTypeMergeCompleted is the only event type published today.
const EventTypeMergeCompleted = "merge_completed"

// MergeCompletedEvent is the payload published after a merge writes an artifact.
type MergeCompletedEvent struct {
	ContractVersion string   `json:"contract_version"`
	EventType       string   `json:"event_type"` // always "merge_completed"
	SessionID       string   `json:"session_id"`
	Reason          string   `json:"reason"` // manual, shutdown, cli
	StorageBackend  string   `json:"storage_backend"`
	StoragePath     string   `json:"storage_path"`
	Sources         int      `json:"sources"`
	Rows            int      `json:"rows"`
	AgentIDs        []int    `json:"agent_ids"`
	Skipped         []string `json:"skipped,omitempty"`
	DeleteFailures  []string `json:"delete_failures,omitempty"`
	Timestamp       string   `json:"timestamp"` // RFC 3339
}

// NewMergeCompletedEvent builds the event for a merge result.
func NewMergeCompletedEvent(res *types.MergeResult, sessionID, reason, backend string, at time.Time) *MergeCompletedEvent {
	return &MergeCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeMergeCompleted,
		SessionID:       sessionID,
		Reason:          reason,
		StorageBackend:  backend,
		StoragePath:     res.Path,
		Sources:         res.Sources,
		Rows:            res.Rows,
		AgentIDs:        agentIDs(res.AgentIDs),
		Skipped:         res.Skipped,
		DeleteFailures:  res.DeleteFailures,
		Timestamp:       at.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes merge events to a downstream system.
type Adapter interface {
	// Publish sends a merge event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *MergeCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// agentIDs widens ids so JSON encodes them as numbers rather than base64.
func agentIDs(ids []uint8) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
