// Package metrics provides ingest counters for a colony receiver.
//
// The Collector accumulates counters for the life of one serve session. It is
// a leaf package with no internal dependencies; anomaly kinds arrive as
// strings to keep it free of the timebase package.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all ingest metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Datagrams
	DatagramsReceived  int64
	Handshakes         int64
	ParamRequests      int64
	TelemetryFrames    int64
	RecordsBuffered    int64
	DecodeErrors       int64
	ProtocolViolations int64
	AcksSent           int64
	ReplyWriteFailures int64

	// Time reconstruction
	ClockAnomalies  int64
	AnomaliesByKind map[string]int64

	// Chunks / Storage
	ChunksBuilt         int64
	ChunksSaved         int64
	StoreWriteFailures  int64
	StoreDeleteFailures int64
	Merges              int64
	RowsMerged          int64

	// Sessions currently holding records.
	ActiveSessions int64

	// Dimensions (informational, set at construction)
	Profile        string
	StorageBackend string
	SessionID      string
}

// Collector accumulates metrics during a serve session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	datagramsReceived  int64
	handshakes         int64
	paramRequests      int64
	telemetryFrames    int64
	recordsBuffered    int64
	decodeErrors       int64
	protocolViolations int64
	acksSent           int64
	replyWriteFailures int64

	clockAnomalies  int64
	anomaliesByKind map[string]int64

	chunksBuilt         int64
	chunksSaved         int64
	storeWriteFailures  int64
	storeDeleteFailures int64
	merges              int64
	rowsMerged          int64

	activeSessions int64

	profile        string
	storageBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(profile, storageBackend, sessionID string) *Collector {
	return &Collector{
		anomaliesByKind: make(map[string]int64),
		profile:         profile,
		storageBackend:  storageBackend,
		sessionID:       sessionID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Datagrams ---

// IncDatagram records one datagram read from the socket.
func (c *Collector) IncDatagram() {
	if c == nil {
		return
	}
	c.add(&c.datagramsReceived, 1)
}

// IncHandshake records a handshake answered with READY.
func (c *Collector) IncHandshake() {
	if c == nil {
		return
	}
	c.add(&c.handshakes, 1)
}

// IncParamRequest records a parameter request.
func (c *Collector) IncParamRequest() {
	if c == nil {
		return
	}
	c.add(&c.paramRequests, 1)
}

// AddTelemetry records one telemetry frame carrying records samples.
func (c *Collector) AddTelemetry(records int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.telemetryFrames++
	c.recordsBuffered += int64(records)
	c.mu.Unlock()
}

// IncDecodeError records a datagram that matched no known frame.
func (c *Collector) IncDecodeError() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors, 1)
}

// IncProtocolViolation records a telemetry frame with a partial trailing record.
func (c *Collector) IncProtocolViolation() {
	if c == nil {
		return
	}
	c.add(&c.protocolViolations, 1)
}

// IncAckSent records an acknowledgment written back to an agent.
func (c *Collector) IncAckSent() {
	if c == nil {
		return
	}
	c.add(&c.acksSent, 1)
}

// IncReplyWriteFailure records a failed reply or ack write.
func (c *Collector) IncReplyWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.replyWriteFailures, 1)
}

// --- Time reconstruction ---

// AddAnomaly records a clock anomaly of the given kind.
func (c *Collector) AddAnomaly(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.clockAnomalies++
	c.anomaliesByKind[kind]++
	c.mu.Unlock()
}

// --- Chunks / Storage ---
// Storage counters are per-artifact: one chunk save is one write regardless
// of how many rows it carries.

// IncChunkBuilt records a chunk produced from a session.
func (c *Collector) IncChunkBuilt() {
	if c == nil {
		return
	}
	c.add(&c.chunksBuilt, 1)
}

// IncChunkSaved records a chunk persisted to the store.
func (c *Collector) IncChunkSaved() {
	if c == nil {
		return
	}
	c.add(&c.chunksSaved, 1)
}

// IncStoreWriteFailure records a failed chunk or merge write.
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.storeWriteFailures, 1)
}

// AddStoreDeleteFailures records source artifacts a merge could not delete.
func (c *Collector) AddStoreDeleteFailures(n int) {
	if c == nil || n == 0 {
		return
	}
	c.add(&c.storeDeleteFailures, int64(n))
}

// AddMerge records a completed merge and the rows it wrote.
func (c *Collector) AddMerge(rows int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.merges++
	c.rowsMerged += int64(rows)
	c.mu.Unlock()
}

// SetActiveSessions records how many sessions currently hold records.
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.activeSessions = int64(n)
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.anomaliesByKind))
	for k, v := range c.anomaliesByKind {
		byKind[k] = v
	}

	return Snapshot{
		DatagramsReceived:  c.datagramsReceived,
		Handshakes:         c.handshakes,
		ParamRequests:      c.paramRequests,
		TelemetryFrames:    c.telemetryFrames,
		RecordsBuffered:    c.recordsBuffered,
		DecodeErrors:       c.decodeErrors,
		ProtocolViolations: c.protocolViolations,
		AcksSent:           c.acksSent,
		ReplyWriteFailures: c.replyWriteFailures,

		ClockAnomalies:  c.clockAnomalies,
		AnomaliesByKind: byKind,

		ChunksBuilt:         c.chunksBuilt,
		ChunksSaved:         c.chunksSaved,
		StoreWriteFailures:  c.storeWriteFailures,
		StoreDeleteFailures: c.storeDeleteFailures,
		Merges:              c.merges,
		RowsMerged:          c.rowsMerged,

		ActiveSessions: c.activeSessions,

		Profile:        c.profile,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
	}
}
