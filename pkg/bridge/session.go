package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haivivi/voicebridge/pkg/audio/transcode"
	"github.com/haivivi/voicebridge/pkg/callleg"
	"github.com/haivivi/voicebridge/pkg/realtime"
	"github.com/haivivi/voicebridge/pkg/sink"
)

var (
	// ErrSessionExists is returned when a call id already has a live
	// session, or a second call leg tries to attach to one.
	ErrSessionExists = errors.New("bridge: session exists")

	// ErrSessionNotFound is returned for unknown session or call ids.
	ErrSessionNotFound = errors.New("bridge: session not found")

	// ErrPendingOverflow ends a session whose engine did not become ready
	// before the pending audio limit was reached.
	ErrPendingOverflow = errors.New("bridge: pending audio limit exceeded")
)

// Status is the lifecycle state of a Session.
type Status int32

const (
	StatusConnecting Status = iota
	StatusActive
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one bridged call.
type Session struct {
	// ID is the bridge's own id for the session.
	ID string
	// CallID is the provider's call id, e.g. a Twilio CallSid.
	CallID string
	// InternalID is the persistent call id resolved through the sink.
	InternalID string
	CreatedAt  time.Time

	svc    *Service
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	in, out *transcode.Plan

	status       atomic.Int32
	seq          atomic.Int64
	lastActivity atomic.Int64 // unix nanoseconds

	mu          sync.Mutex
	engine      realtime.Session
	leg         callleg.Conn
	pending     [][]byte
	stopPending bool
	closed      bool
	pairedID    string // engine session id
	text        map[string]*textBuffer

	closeOnce sync.Once
	done      chan struct{}
}

type textBuffer struct {
	responseID string
	buf        []byte
}

// Snapshot is a point-in-time view of a Session.
type Snapshot struct {
	ID         string    `json:"id" yaml:"id"`
	CallID     string    `json:"call_id" yaml:"call_id"`
	InternalID string    `json:"internal_id" yaml:"internal_id"`
	Status     string    `json:"status" yaml:"status"`
	Attached   bool      `json:"attached" yaml:"attached"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`

	LastActivityAt     time.Time `json:"last_activity_at" yaml:"last_activity_at"`
	PairedConnectionID string    `json:"paired_connection_id,omitempty" yaml:"paired_connection_id,omitempty"`
}

// Status returns the current state.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// LastActivity returns when audio or an engine event was last seen.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// PairedConnectionID returns the engine's id for its side of the call,
// empty until the engine has accepted the session.
func (s *Session) PairedConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairedID
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the session's current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	attached, paired := s.leg != nil, s.pairedID
	s.mu.Unlock()
	return Snapshot{
		ID:                 s.ID,
		CallID:             s.CallID,
		InternalID:         s.InternalID,
		Status:             s.Status().String(),
		Attached:           attached,
		CreatedAt:          s.CreatedAt,
		LastActivityAt:     s.LastActivity(),
		PairedConnectionID: paired,
	}
}

// advance moves the session to next if that is a forward move.
func (s *Session) advance(next Status) bool {
	for {
		cur := s.status.Load()
		if Status(cur) >= next {
			return false
		}
		if s.status.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

func (s *Session) attachLeg(leg callleg.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leg != nil || s.Status() >= StatusClosing {
		return false
	}
	s.leg = leg
	return true
}

// handleMedia forwards one inbound chunk, or queues it while the engine is
// connecting.
func (s *Session) handleMedia(payload []byte) error {
	s.touch()
	chunk, err := s.in.Convert(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Status() {
	case StatusConnecting:
		if limit := s.svc.cfg.PendingLimit; limit > 0 && len(s.pending) >= limit {
			return ErrPendingOverflow
		}
		s.pending = append(s.pending, chunk)
		return nil
	case StatusActive:
		return s.engine.AppendAudio(chunk)
	default:
		return nil
	}
}

// handleStop forces a response for audio received so far.
func (s *Session) handleStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Status() {
	case StatusConnecting:
		s.stopPending = true
		return nil
	case StatusActive:
		if err := s.requestResponse(); err != nil {
			return err
		}
		s.advance(StatusClosing)
	}
	return nil
}

// requestResponse must be called with mu held.
func (s *Session) requestResponse() error {
	if err := s.engine.CommitInput(); err != nil {
		return err
	}
	return s.engine.CreateResponse(nil)
}

// activate marks the engine ready and flushes queued audio in order.
// engineID is the engine's session id.
func (s *Session) activate(engineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engineID != "" {
		s.pairedID = engineID
	}
	if !s.advance(StatusActive) {
		return nil
	}
	pending := s.pending
	s.pending = nil
	for _, chunk := range pending {
		if err := s.engine.AppendAudio(chunk); err != nil {
			return err
		}
	}
	s.logger.Info("engine ready", "flushed_chunks", len(pending))
	if s.stopPending {
		if err := s.requestResponse(); err != nil {
			return err
		}
		s.advance(StatusClosing)
	}
	return nil
}

func (s *Session) callLeg() callleg.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leg
}

func (s *Session) engineSession() realtime.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// setEngine stores the dialed engine unless the session closed meanwhile.
func (s *Session) setEngine(e realtime.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.engine = e
	return true
}

// Close tears the session down. It is safe to call any number of times
// from any goroutine; only the first call has an effect and later calls
// return nil.
func (s *Session) Close(reason string) error {
	s.closeOnce.Do(func() {
		s.advance(StatusClosing)
		s.svc.remove(s)
		s.cancel()

		s.mu.Lock()
		eng, leg := s.engine, s.leg
		s.pending = nil
		s.closed = true
		s.mu.Unlock()

		if eng != nil {
			eng.Close()
		}
		if leg != nil {
			leg.Close()
		}
		s.in.Close()
		s.out.Close()

		s.flushText("")
		end := time.Now()
		s.lifecycleAt(sink.KindCallEnd, map[string]any{
			"reason":           reason,
			"ended_at":         end.UTC().Format(time.RFC3339Nano),
			"duration_seconds": int64(end.Sub(s.CreatedAt).Round(time.Second) / time.Second),
		}, end)
		s.advance(StatusClosed)
		close(s.done)
		s.logger.Info("session closed", "reason", reason)
	})
	return nil
}

func (s *Session) lifecycle(kind sink.Kind, payload map[string]any) {
	s.lifecycleAt(kind, payload, time.Now())
}

func (s *Session) lifecycleAt(kind sink.Kind, payload map[string]any, at time.Time) {
	err := s.svc.cfg.Sink.AppendLifecycle(context.Background(), sink.LifecycleEvent{
		CallID:    s.InternalID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: at,
	})
	if err != nil {
		s.logger.Warn("lifecycle write failed", "kind", kind, "error", err)
	}
}

func (s *Session) transcript(role sink.Role, content string) {
	if content == "" {
		return
	}
	err := s.svc.cfg.Sink.AppendTranscript(context.Background(), sink.TranscriptEntry{
		CallID:    s.InternalID,
		Seq:       s.seq.Add(1),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Warn("transcript write failed", "role", role, "error", err)
	}
}

// appendText aggregates an assistant text delta for one output item.
func (s *Session) appendText(responseID, itemID, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text == nil {
		s.text = make(map[string]*textBuffer)
	}
	tb, ok := s.text[itemID]
	if !ok {
		tb = &textBuffer{responseID: responseID}
		s.text[itemID] = tb
	}
	tb.buf = append(tb.buf, delta...)
}

// completeText writes one item's transcript. The engine's final text wins
// over the aggregated deltas when both are present.
func (s *Session) completeText(itemID, final string) {
	s.mu.Lock()
	tb := s.text[itemID]
	delete(s.text, itemID)
	s.mu.Unlock()

	if final == "" && tb != nil {
		final = string(tb.buf)
	}
	s.transcript(sink.RoleAssistant, final)
}

// flushText writes the aggregated text of every item of responseID, or of
// every item when responseID is empty.
func (s *Session) flushText(responseID string) {
	s.mu.Lock()
	var out []string
	for id, tb := range s.text {
		if responseID != "" && tb.responseID != responseID {
			continue
		}
		out = append(out, string(tb.buf))
		delete(s.text, id)
	}
	s.mu.Unlock()
	for _, text := range out {
		s.transcript(sink.RoleAssistant, text)
	}
}
