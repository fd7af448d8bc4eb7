package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pithecene-io/colony/adapter"
	"github.com/pithecene-io/colony/clock"
	"github.com/pithecene-io/colony/iox"
	"github.com/pithecene-io/colony/lode"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/types"
	"github.com/pithecene-io/colony/wire"
)

// Flush reasons, used in logs and merge notifications.
const (
	ReasonTimeout  = "timeout"
	ReasonManual   = "manual"
	ReasonShutdown = "shutdown"
)

// ServiceError classifies errors that end the ingestion loop.
type ServiceError struct {
	Kind ServiceErrorKind
	Addr string
	Err  error
}

// ServiceErrorKind classifies service errors.
type ServiceErrorKind int

const (
	// ServiceErrorBind indicates the listen address could not be bound.
	ServiceErrorBind ServiceErrorKind = iota
	// ServiceErrorRead indicates the socket failed in a way the loop cannot continue from.
	ServiceErrorRead
)

func (e *ServiceError) Error() string {
	switch e.Kind {
	case ServiceErrorBind:
		return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
	default:
		return fmt.Sprintf("read %s: %v", e.Addr, e.Err)
	}
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsBindError returns true if the error is a bind failure.
func IsBindError(err error) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind == ServiceErrorBind
	}
	return false
}

// PacketWriter is the reply side of the socket.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Options carries the service's collaborators. Only Sink is required.
type Options struct {
	// Sink persists chunks and merges them.
	Sink lode.Sink
	// StorageBackend names the sink's backend for notifications.
	StorageBackend string
	// Adapter is notified after each merge that writes an artifact.
	// If nil, no notifications are sent.
	Adapter adapter.Adapter
	// Clock drives timeout evaluation (default real time).
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Collector records metrics. If nil, no metrics are recorded
	// (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Meta identifies this process in notifications.
	Meta *types.SessionMeta
}

// Service is the ingestion loop. It owns the socket, the session table,
// the timeout sweep and the manual and shutdown flush paths.
//
// All session state is touched from the loop goroutine only. Trigger is
// the one method safe to call from other goroutines.
type Service struct {
	config    Config
	codec     *wire.Codec
	sessions  *SessionTable
	builder   *ChunkBuilder
	params    *ParameterHandler
	sink      lode.Sink
	backend   string
	adapter   adapter.Adapter
	clock     clock.Clock
	logger    *log.Logger
	collector *metrics.Collector
	meta      *types.SessionMeta
	trigger   chan struct{}
	// pending holds chunks saved since the last successful merge.
	pending []types.ChunkHandle
}

// NewService validates cfg and wires the service.
func NewService(cfg Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Sink == nil {
		return nil, errors.New("sink is required")
	}
	codec, err := wire.NewCodec(cfg.Profile)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Meta == nil {
		opts.Meta = &types.SessionMeta{ListenAddr: cfg.ListenAddr, StartedAt: opts.Clock.Now()}
	}

	return &Service{
		config:    cfg,
		codec:     codec,
		sessions:  NewSessionTable(),
		builder:   NewChunkBuilder(cfg.Profile, cfg.Correction, cfg.CorrectJumps, opts.Clock),
		params:    NewParameterHandler(cfg.Parameters, cfg.AgentParameters),
		sink:      lode.NewInstrumentedSink(opts.Sink, opts.Collector),
		backend:   opts.StorageBackend,
		adapter:   opts.Adapter,
		clock:     opts.Clock,
		logger:    opts.Logger,
		collector: opts.Collector,
		meta:      opts.Meta,
		trigger:   make(chan struct{}, 1),
	}, nil
}

// Sessions exposes the session table for inspection.
func (s *Service) Sessions() *SessionTable {
	return s.sessions
}

// PendingMerge returns the chunks saved since the last merge.
func (s *Service) PendingMerge() []types.ChunkHandle {
	return append([]types.ChunkHandle(nil), s.pending...)
}

// Trigger requests a manual flush on the next loop iteration. Requests
// made while one is already queued collapse into it.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run binds the configured address and serves until ctx is done.
// Returns a *ServiceError with Kind=ServiceErrorBind if the bind fails.
func (s *Service) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.config.ListenAddr)
	if err != nil {
		return &ServiceError{Kind: ServiceErrorBind, Addr: s.config.ListenAddr, Err: err}
	}
	defer iox.DiscardClose(conn)

	// Unblock the pending read as soon as ctx is done rather than at the
	// next socket timeout.
	stop := iox.CloseOnDone(ctx, conn)
	defer stop()

	s.logger.Info("listening", map[string]any{
		"addr":          conn.LocalAddr().String(),
		"profile":       s.config.Profile.Name,
		"chunk_timeout": s.config.ChunkTimeout.String(),
	})
	return s.Serve(ctx, conn)
}

// Serve runs the receive loop on conn until ctx is done, then flushes
// every ACCUMULATING session and returns.
//
// Each iteration: one read bounded by SocketTimeout, dispatch of the
// datagram (if any), the timeout sweep, then a non-blocking trigger poll.
func (s *Service) Serve(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, s.config.BufferSize)
	for {
		if ctx.Err() != nil {
			s.shutdown(ctx)
			return nil
		}

		// The deadline is kernel time; session logic uses s.clock.
		if err := conn.SetReadDeadline(time.Now().Add(s.config.SocketTimeout)); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to set read deadline", map[string]any{"error": err.Error()})
		}

		n, addr, err := conn.ReadFrom(buf)
		switch {
		case err == nil:
			s.HandlePacket(ctx, conn, addr, buf[:n], s.clock.Now())
		case isTimeout(err):
		case ctx.Err() != nil || errors.Is(err, net.ErrClosed):
			s.shutdown(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return &ServiceError{Kind: ServiceErrorRead, Addr: conn.LocalAddr().String(), Err: err}
		default:
			s.logger.Warn("socket read failed", map[string]any{"error": err.Error()})
		}

		s.Sweep(ctx, s.clock.Now())

		select {
		case <-s.trigger:
			s.logger.Info("manual flush requested", nil)
			_, _ = s.FlushAll(ctx, ReasonManual)
		default:
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// shutdown flushes on a context detached from ctx's cancellation so the
// final writes are not aborted by the interrupt that caused them.
func (s *Service) shutdown(ctx context.Context) {
	s.logger.Info("shutting down", map[string]any{"active_sessions": s.sessions.Active()})
	_, _ = s.FlushAll(context.WithoutCancel(ctx), ReasonShutdown)
}

// HandlePacket decodes one datagram and applies it. Invalid frames are
// logged, counted and dropped without touching any session.
func (s *Service) HandlePacket(ctx context.Context, w PacketWriter, addr net.Addr, payload []byte, now time.Time) {
	s.collector.IncDatagram()

	frame, err := s.codec.Decode(payload)
	if err != nil {
		if wire.IsProtocolViolation(err) {
			s.collector.IncProtocolViolation()
		} else {
			s.collector.IncDecodeError()
		}
		s.logger.Warn("dropping invalid frame", map[string]any{
			"from":  addrString(addr),
			"bytes": len(payload),
			"error": err.Error(),
		})
		return
	}

	switch f := frame.(type) {
	case *wire.Handshake:
		s.collector.IncHandshake()
		s.reply(w, addr, []byte(wire.HandshakeReply), "handshake")
		s.logger.Info("handshake", map[string]any{"from": addrString(addr)})

	case *wire.ParameterRequest:
		s.collector.IncParamRequest()
		resp := s.params.Reply(f)
		s.reply(w, addr, resp, "parameters")
		s.logger.Info("sent parameters", map[string]any{
			"from":     addrString(addr),
			"agent_id": f.AgentID,
			"analog26": f.Analog26,
			"legacy":   f.Legacy,
			"reply":    string(resp),
		})

	case *wire.Telemetry:
		s.handleTelemetry(ctx, w, addr, f, now)
	}
}

func (s *Service) handleTelemetry(ctx context.Context, w PacketWriter, addr net.Addr, f *wire.Telemetry, now time.Time) {
	sess := s.sessions.Get(f.AgentID)

	// A gap this long means the buffered records belong to an earlier
	// activity period, even if the sweep has not run yet.
	if sess.Expired(now, s.config.ChunkTimeout) {
		s.flushSession(ctx, sess, ReasonTimeout)
	}

	sess.Append(f, now)
	s.collector.AddTelemetry(len(f.Records))
	s.collector.SetActiveSessions(s.sessions.Active())

	if s.reply(w, addr, s.codec.BuildAck(f.AgentID, f.LastCounter()), "ack") {
		s.collector.IncAckSent()
	}
}

// reply writes payload back to addr, logging and counting failures.
func (s *Service) reply(w PacketWriter, addr net.Addr, payload []byte, what string) bool {
	if _, err := w.WriteTo(payload, addr); err != nil {
		s.collector.IncReplyWriteFailure()
		s.logger.Warn("reply write failed", map[string]any{
			"to":    addrString(addr),
			"reply": what,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Sweep flushes every session silent for at least the chunk timeout at
// now. Returns the number of sessions flushed.
func (s *Service) Sweep(ctx context.Context, now time.Time) int {
	expired := s.sessions.Expired(now, s.config.ChunkTimeout)
	for _, id := range expired {
		sess, _ := s.sessions.Lookup(id)
		s.logger.Info("chunk timeout", map[string]any{
			"agent_id":     id,
			"silent_for_s": now.Sub(sess.LastReceive()).Seconds(),
		})
		s.flushSession(ctx, sess, ReasonTimeout)
	}
	return len(expired)
}

// FlushAll flushes every ACCUMULATING session in agent id order, then, if
// MergeOnFlush is set, merges the chunks saved since the last merge. The
// merge result is nil when merging is disabled.
func (s *Service) FlushAll(ctx context.Context, reason string) (*types.MergeResult, error) {
	for _, id := range s.sessions.Pending() {
		sess, _ := s.sessions.Lookup(id)
		s.flushSession(ctx, sess, reason)
	}
	if !s.config.MergeOnFlush {
		return nil, nil
	}
	return s.MergePending(ctx, reason)
}

// flushSession builds and saves a chunk from sess, leaving it IDLE.
// A save failure loses the chunk; it is logged and counted only.
func (s *Service) flushSession(ctx context.Context, sess *AgentSession, reason string) {
	batch := sess.Take()
	s.collector.SetActiveSessions(s.sessions.Active())

	res, err := s.builder.Build(batch)
	if err != nil {
		s.logger.Error("chunk build failed", map[string]any{
			"agent_id": batch.AgentID,
			"records":  len(batch.Records),
			"error":    err.Error(),
		})
		return
	}
	if res == nil {
		return
	}
	s.collector.IncChunkBuilt()

	for _, a := range res.Anomalies {
		s.collector.AddAnomaly(a.Kind.String())
		s.logger.Warn("clock anomaly", map[string]any{
			"agent_id":  batch.AgentID,
			"chunk_id":  res.Chunk.ChunkID,
			"kind":      a.Kind.String(),
			"index":     a.Index,
			"delta_s":   a.Delta,
			"corrected": a.Corrected,
		})
	}

	handle, err := s.sink.Save(ctx, res.Chunk)
	if err != nil {
		s.logger.Error("chunk save failed, records lost", map[string]any{
			"agent_id": batch.AgentID,
			"chunk_id": res.Chunk.ChunkID,
			"rows":     len(res.Chunk.Rows),
			"error":    err.Error(),
		})
		return
	}
	s.pending = append(s.pending, handle)

	s.logger.Info("chunk saved", map[string]any{
		"reason":   reason,
		"agent_id": handle.AgentID,
		"chunk_id": handle.ChunkID,
		"path":     handle.Path,
		"rows":     handle.Rows,
		"frames":   len(batch.Pairs),
		"offset_s": res.Estimate.Offset,
		"spread_s": res.Estimate.Spread,
		"wraps":    res.Wraps,
	})
}

// MergePending merges the chunks saved since the last merge, ordered by
// start time. On a merge error the handles stay pending for the next try.
func (s *Service) MergePending(ctx context.Context, reason string) (*types.MergeResult, error) {
	handles := s.PendingMerge()
	lode.SortHandles(handles)

	res, err := s.sink.Merge(ctx, handles)
	if err != nil {
		s.logger.Error("merge failed, chunks kept", map[string]any{
			"sources": len(handles),
			"error":   err.Error(),
		})
		return nil, err
	}
	s.pending = nil

	if res.Nothing {
		fields := map[string]any{"reason": reason}
		if len(res.Skipped) > 0 {
			fields["skipped"] = res.Skipped
			s.logger.Warn("nothing merged, unreadable chunks skipped", fields)
			return res, nil
		}
		s.logger.Info("nothing to merge", fields)
		return res, nil
	}

	fields := map[string]any{
		"reason":  reason,
		"path":    res.Path,
		"sources": res.Sources,
		"rows":    res.Rows,
	}
	if len(res.Skipped) > 0 {
		fields["skipped"] = res.Skipped
	}
	if len(res.DeleteFailures) > 0 {
		fields["delete_failures"] = res.DeleteFailures
	}
	if len(res.Shifted) > 0 {
		fields["shifted"] = res.Shifted
	}
	s.logger.Info("merge completed", fields)

	s.publish(ctx, res, reason)
	return res, nil
}

func (s *Service) publish(ctx context.Context, res *types.MergeResult, reason string) {
	if s.adapter == nil {
		return
	}
	event := adapter.NewMergeCompletedEvent(res, s.meta.SessionID, reason, s.backend, s.clock.Now())
	if err := s.adapter.Publish(ctx, event); err != nil {
		s.logger.Warn("merge notification failed", map[string]any{
			"path":  res.Path,
			"error": err.Error(),
		})
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
