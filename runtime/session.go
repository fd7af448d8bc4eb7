// Package runtime implements the colony ingestion loop: per-agent session
// buffering, chunk building and the flush paths.
package runtime

import (
	"slices"
	"time"

	"github.com/pithecene-io/colony/timebase"
	"github.com/pithecene-io/colony/types"
	"github.com/pithecene-io/colony/wire"
)

// AgentSession buffers one agent's telemetry between flushes.
// A session with records pending is ACCUMULATING; otherwise it is IDLE.
// Invariant: one sync pair per accepted frame.
type AgentSession struct {
	AgentID     uint8
	records     []types.Record
	pairs       []timebase.SyncPair
	lastReceive time.Time
}

// SessionBatch is the buffered content taken out of a session at flush.
type SessionBatch struct {
	AgentID uint8
	Records []types.Record
	Pairs   []timebase.SyncPair
}

// Empty reports whether the batch carries no records.
func (b SessionBatch) Empty() bool {
	return len(b.Records) == 0
}

func newAgentSession(agentID uint8) *AgentSession {
	return &AgentSession{AgentID: agentID}
}

// Append adds a telemetry frame's records and its (send, recv) pair.
func (s *AgentSession) Append(frame *wire.Telemetry, recv time.Time) {
	s.records = append(s.records, frame.Records...)
	s.pairs = append(s.pairs, timebase.SyncPair{SendCounter: frame.SendCounter, RecvTime: recv})
	s.lastReceive = recv
}

// Pending reports whether the session is ACCUMULATING.
func (s *AgentSession) Pending() bool {
	return len(s.records) > 0
}

// Len returns the number of buffered records.
func (s *AgentSession) Len() int {
	return len(s.records)
}

// Frames returns the number of buffered frames.
func (s *AgentSession) Frames() int {
	return len(s.pairs)
}

// LastReceive returns the receive time of the most recent frame.
func (s *AgentSession) LastReceive() time.Time {
	return s.lastReceive
}

// Expired reports whether an ACCUMULATING session has been silent for at
// least timeout at now.
func (s *AgentSession) Expired(now time.Time, timeout time.Duration) bool {
	return s.Pending() && now.Sub(s.lastReceive) >= timeout
}

// Take returns the buffered content and resets the session to IDLE.
func (s *AgentSession) Take() SessionBatch {
	b := SessionBatch{AgentID: s.AgentID, Records: s.records, Pairs: s.pairs}
	s.records = nil
	s.pairs = nil
	return b
}

// SessionTable holds exactly one session per agent id. Sessions are
// created on first telemetry and cleared, never removed, on flush.
//
// The table is owned by the ingestion loop and is not safe for concurrent use.
type SessionTable struct {
	sessions map[uint8]*AgentSession
}

// NewSessionTable creates an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[uint8]*AgentSession)}
}

// Get returns the agent's session, creating it if needed.
func (t *SessionTable) Get(agentID uint8) *AgentSession {
	s, ok := t.sessions[agentID]
	if !ok {
		s = newAgentSession(agentID)
		t.sessions[agentID] = s
	}
	return s
}

// Lookup returns the agent's session without creating one.
func (t *SessionTable) Lookup(agentID uint8) (*AgentSession, bool) {
	s, ok := t.sessions[agentID]
	return s, ok
}

// Len returns the number of known agents.
func (t *SessionTable) Len() int {
	return len(t.sessions)
}

// Active returns the number of ACCUMULATING sessions.
func (t *SessionTable) Active() int {
	n := 0
	for _, s := range t.sessions {
		if s.Pending() {
			n++
		}
	}
	return n
}

// Pending returns the ids of ACCUMULATING sessions in ascending order.
func (t *SessionTable) Pending() []uint8 {
	return t.collect(func(s *AgentSession) bool { return s.Pending() })
}

// Expired returns the ids of sessions expired at now, in ascending order.
func (t *SessionTable) Expired(now time.Time, timeout time.Duration) []uint8 {
	return t.collect(func(s *AgentSession) bool { return s.Expired(now, timeout) })
}

// BufferedRecords returns the total records held across all sessions.
func (t *SessionTable) BufferedRecords() int {
	n := 0
	for _, s := range t.sessions {
		n += s.Len()
	}
	return n
}

func (t *SessionTable) collect(match func(*AgentSession) bool) []uint8 {
	var ids []uint8
	for id, s := range t.sessions {
		if match(s) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
