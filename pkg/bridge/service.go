package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/voicebridge/pkg/audio/pcm"
	"github.com/haivivi/voicebridge/pkg/audio/transcode"
	"github.com/haivivi/voicebridge/pkg/realtime"
	"github.com/haivivi/voicebridge/pkg/sink"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
)

// Connector opens engine sessions. *realtime.Client implements it.
type Connector interface {
	Connect(ctx context.Context, config *realtime.ConnectConfig) (realtime.Session, error)
}

// Config configures a Service.
type Config struct {
	// Connector dials the reasoning engine. Required.
	Connector Connector

	// Model is the engine model.
	Model string

	// Session is the session.update template. Audio formats are set from
	// EngineInput and EngineOutput, and tools from Tools.
	Session realtime.SessionConfig

	// Tools serves in-band function calls from the engine. Optional.
	Tools *toolrpc.Registry

	// Sink receives transcripts and lifecycle events. Required. It should
	// not block; see sink.Async.
	Sink sink.Sink

	// CallLeg is the call leg's native audio format.
	CallLeg pcm.Format
	// EngineInput and EngineOutput are the engine's audio formats.
	EngineInput  pcm.Format
	EngineOutput pcm.Format
	// Transcode selects the resampling mode. Defaults to linear.
	Transcode transcode.Mode

	// MaxAge is the age after which the sweeper closes a session.
	// Defaults to 30 minutes.
	MaxAge time.Duration
	// SweepInterval defaults to 30 seconds.
	SweepInterval time.Duration
	// HandshakeTimeout bounds dialing plus waiting for session.updated.
	// Defaults to 10 seconds.
	HandshakeTimeout time.Duration
	// DrainTimeout bounds how long engine output is relayed after stop.
	// Defaults to 10 seconds.
	DrainTimeout time.Duration
	// ResolveTimeout bounds sink.ResolveCall. Defaults to 2 seconds.
	ResolveTimeout time.Duration
	// PendingLimit bounds audio chunks queued while connecting. Zero means
	// 500.
	PendingLimit int

	// TeardownOnError closes the session on an engine error event.
	TeardownOnError bool

	Logger *slog.Logger
}

// Service is the session registry and relay.
type Service struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session // by provider call id
	// recent holds the session and call ids of closed sessions until the
	// sweeper forgets them, so a repeated destroy is a no-op.
	recent map[string]time.Time
}

// New creates a Service. The audio format combination is checked here so
// an unsupported conversion fails at startup.
func New(cfg Config) (*Service, error) {
	if cfg.Connector == nil {
		return nil, errors.New("bridge: connector is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("bridge: sink is required")
	}
	if cfg.Transcode == "" {
		cfg.Transcode = transcode.Linear
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 2 * time.Second
	}
	if cfg.PendingLimit == 0 {
		cfg.PendingLimit = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EngineInput.WireName() == "" || cfg.EngineOutput.WireName() == "" {
		return nil, fmt.Errorf("bridge: engine formats %v/%v are not engine audio formats", cfg.EngineInput, cfg.EngineOutput)
	}
	in, out, err := cfg.plans()
	if err != nil {
		return nil, err
	}
	in.Close()
	out.Close()

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		recent:   make(map[string]time.Time),
	}, nil
}

func (c *Config) plans() (in, out *transcode.Plan, err error) {
	in, err = transcode.NewPlan(c.CallLeg, c.EngineInput, c.Transcode)
	if err != nil {
		return nil, nil, fmt.Errorf("bridge: inbound audio: %w", err)
	}
	out, err = transcode.NewPlan(c.EngineOutput, c.CallLeg, c.Transcode)
	if err != nil {
		in.Close()
		return nil, nil, fmt.Errorf("bridge: outbound audio: %w", err)
	}
	return in, out, nil
}

// connectConfig builds the engine connection config for one session.
func (svc *Service) connectConfig() *realtime.ConnectConfig {
	sc := svc.cfg.Session
	sc.InputAudioFormat = svc.cfg.EngineInput.WireName()
	sc.OutputAudioFormat = svc.cfg.EngineOutput.WireName()
	if svc.cfg.Tools != nil && svc.cfg.Tools.Len() > 0 {
		sc.Tools = nil
		for _, d := range svc.cfg.Tools.List() {
			sc.Tools = append(sc.Tools, realtime.Tool{
				Type:        "function",
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			})
		}
		if sc.ToolChoice == "" {
			sc.ToolChoice = realtime.ToolChoiceAuto
		}
	}
	return &realtime.ConnectConfig{Model: svc.cfg.Model, Session: &sc}
}

// resolveCall maps a provider call id to the internal id, falling back to
// a fresh id when the sink is unavailable.
func (svc *Service) resolveCall(ctx context.Context, callID string) string {
	ctx, cancel := context.WithTimeout(ctx, svc.cfg.ResolveTimeout)
	defer cancel()
	id, err := svc.cfg.Sink.ResolveCall(ctx, callID)
	if err != nil || id == "" {
		id = uuid.NewString()
		svc.logger.Warn("call id resolution failed, using local id",
			"provider_call_id", callID, "call_id", id, "error", err)
	}
	return id
}

// CreateSession registers a session for callID and starts connecting to
// the engine. It returns ErrSessionExists if callID already has a live
// session.
func (svc *Service) CreateSession(ctx context.Context, callID string) (*Session, error) {
	if callID == "" {
		return nil, errors.New("bridge: empty call id")
	}
	if svc.GetSession(callID) != nil {
		return nil, ErrSessionExists
	}
	internalID := svc.resolveCall(ctx, callID)

	in, out, err := svc.cfg.plans()
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(svc.ctx)
	s := &Session{
		ID:         uuid.NewString(),
		CallID:     callID,
		InternalID: internalID,
		CreatedAt:  time.Now(),
		svc:        svc,
		ctx:        sctx,
		cancel:     cancel,
		in:         in,
		out:        out,
		done:       make(chan struct{}),
	}
	s.lastActivity.Store(s.CreatedAt.UnixNano())
	s.logger = svc.logger.With("call_id", internalID, "provider_call_id", callID, "session_id", s.ID)

	svc.mu.Lock()
	if svc.ctx.Err() != nil {
		svc.mu.Unlock()
		cancel()
		in.Close()
		out.Close()
		return nil, errors.New("bridge: service closed")
	}
	if _, exists := svc.sessions[callID]; exists {
		svc.mu.Unlock()
		cancel()
		in.Close()
		out.Close()
		return nil, ErrSessionExists
	}
	svc.sessions[callID] = s
	svc.mu.Unlock()

	s.logger.Info("session created")
	time.AfterFunc(svc.cfg.HandshakeTimeout, func() {
		if s.Status() == StatusConnecting {
			s.logger.Warn("engine handshake timed out")
			s.lifecycle(sink.KindError, map[string]any{"reason": "handshake timeout"})
			s.Close("handshake timeout")
		}
	})
	go svc.runEngine(s)
	return s, nil
}

// GetSession returns the live session for a provider call id, or nil.
func (svc *Service) GetSession(callID string) *Session {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.sessions[callID]
}

// Find returns the live session whose session id or provider call id is
// id.
func (svc *Service) Find(id string) *Session {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if s, ok := svc.sessions[id]; ok {
		return s
	}
	for _, s := range svc.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Sessions returns snapshots of all live sessions, oldest first.
func (svc *Service) Sessions() []Snapshot {
	svc.mu.RLock()
	list := make([]*Session, 0, len(svc.sessions))
	for _, s := range svc.sessions {
		list = append(list, s)
	}
	svc.mu.RUnlock()

	out := make([]Snapshot, len(list))
	for i, s := range list {
		out[i] = s.Snapshot()
	}
	slices.SortFunc(out, func(a, b Snapshot) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Count returns the number of live sessions.
func (svc *Service) Count() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.sessions)
}

// DestroySession closes the session whose session id or provider call id
// is id. Destroying a session that already closed is a no-op; ids never
// seen, or closed longer than MaxAge ago, return ErrSessionNotFound.
func (svc *Service) DestroySession(id, reason string) error {
	if s := svc.Find(id); s != nil {
		return s.Close(reason)
	}
	svc.mu.RLock()
	_, closed := svc.recent[id]
	svc.mu.RUnlock()
	if closed {
		return nil
	}
	return ErrSessionNotFound
}

func (svc *Service) remove(s *Session) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if cur, ok := svc.sessions[s.CallID]; ok && cur == s {
		delete(svc.sessions, s.CallID)
	}
	now := time.Now()
	svc.recent[s.ID] = now
	svc.recent[s.CallID] = now
}

// Close closes every session and rejects new ones.
func (svc *Service) Close() error {
	svc.mu.Lock()
	svc.cancel()
	list := make([]*Session, 0, len(svc.sessions))
	for _, s := range svc.sessions {
		list = append(list, s)
	}
	svc.mu.Unlock()

	for _, s := range list {
		s.Close("shutdown")
	}
	return nil
}
