package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haivivi/voicebridge/pkg/audio/pcm"
	"github.com/haivivi/voicebridge/pkg/audio/transcode"
	"github.com/haivivi/voicebridge/pkg/callleg"
	"github.com/haivivi/voicebridge/pkg/kv"
	"github.com/haivivi/voicebridge/pkg/realtime"
	"github.com/haivivi/voicebridge/pkg/sink"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
)

// fakeEngine is an in-memory realtime.Session that records sends.
type fakeEngine struct {
	events chan realtime.Event

	mu     sync.Mutex
	sent   []string
	closed chan struct{}
	once   sync.Once
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan realtime.Event, 64), closed: make(chan struct{})}
}

func (f *fakeEngine) record(s string) error {
	select {
	case <-f.closed:
		return &realtime.TransportError{Op: "send", Err: realtime.ErrClosed}
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeEngine) UpdateSession(*realtime.SessionConfig) error { return f.record("session.update") }
func (f *fakeEngine) AppendAudio(b []byte) error                   { return f.record("append:" + hex.EncodeToString(b)) }
func (f *fakeEngine) CommitInput() error                           { return f.record("commit") }
func (f *fakeEngine) ClearInput() error                            { return f.record("clear") }
func (f *fakeEngine) CreateResponse(*realtime.ResponseCreateOptions) error {
	return f.record("response.create")
}
func (f *fakeEngine) AddFunctionCallOutput(callID, output string) error {
	return f.record("output:" + callID + ":" + output)
}

func (f *fakeEngine) Events() iter.Seq2[realtime.Event, error] {
	return func(yield func(realtime.Event, error) bool) {
		for {
			select {
			case <-f.closed:
				return
			case ev := <-f.events:
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func (f *fakeEngine) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeEngine) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeConnector hands out fakeEngines. When ready is set, each engine
// starts with session.updated queued.
type fakeConnector struct {
	ready   bool
	err     error
	engines chan *fakeEngine

	mu      sync.Mutex
	configs []*realtime.ConnectConfig
}

func newFakeConnector(ready bool) *fakeConnector {
	return &fakeConnector{ready: ready, engines: make(chan *fakeEngine, 16)}
}

func (c *fakeConnector) Connect(_ context.Context, cfg *realtime.ConnectConfig) (realtime.Session, error) {
	c.mu.Lock()
	c.configs = append(c.configs, cfg)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	e := newFakeEngine()
	if c.ready {
		e.events <- &realtime.SessionUpdated{}
	}
	c.engines <- e
	return e, nil
}

func (c *fakeConnector) next(t *testing.T) *fakeEngine {
	t.Helper()
	select {
	case e := <-c.engines:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("engine was never dialed")
		return nil
	}
}

type legItem struct {
	frame callleg.Frame
	err   error
}

// fakeLeg is an in-memory callleg.Conn.
type fakeLeg struct {
	frames chan legItem

	mu     sync.Mutex
	media  [][]byte
	clears int
	closed chan struct{}
	once   sync.Once
}

func newFakeLeg() *fakeLeg {
	return &fakeLeg{frames: make(chan legItem, 64), closed: make(chan struct{})}
}

func (l *fakeLeg) push(f callleg.Frame) { l.frames <- legItem{frame: f} }

func (l *fakeLeg) Frames() iter.Seq2[callleg.Frame, error] {
	return func(yield func(callleg.Frame, error) bool) {
		for {
			select {
			case <-l.closed:
				return
			case it, ok := <-l.frames:
				if !ok || !yield(it.frame, it.err) {
					return
				}
			}
		}
	}
}

func (l *fakeLeg) SendMedia(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.media = append(l.media, p)
	return nil
}

func (l *fakeLeg) SendClear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clears++
	return nil
}

func (l *fakeLeg) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// recSink records everything written to it.
type recSink struct {
	mu          sync.Mutex
	lifecycle   []sink.LifecycleEvent
	transcripts []sink.TranscriptEntry
	resolveErr  error
}

func (r *recSink) ResolveCall(_ context.Context, id string) (string, error) {
	if r.resolveErr != nil {
		return "", r.resolveErr
	}
	return "internal-" + id, nil
}

func (r *recSink) AppendTranscript(_ context.Context, e sink.TranscriptEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, e)
	return nil
}

func (r *recSink) AppendLifecycle(_ context.Context, e sink.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle = append(r.lifecycle, e)
	return nil
}

func (r *recSink) count(callID string, kind sink.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.lifecycle {
		if e.CallID == callID && e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recSink) entries() []sink.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sink.TranscriptEntry(nil), r.transcripts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newService(t *testing.T, conn *fakeConnector, snk *recSink, mut func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Connector:    conn,
		Sink:         snk,
		CallLeg:      pcm.Mulaw8K,
		EngineInput:  pcm.Mulaw8K,
		EngineOutput: pcm.Mulaw8K,
	}
	if mut != nil {
		mut(&cfg)
	}
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func serve(svc *Service, leg *fakeLeg) chan error {
	done := make(chan error, 1)
	go func() { done <- svc.ServeCallLeg(context.Background(), leg) }()
	return done
}

func TestEndToEndStartMediaStop(t *testing.T) {
	for _, ready := range []bool{true, false} {
		t.Run(fmt.Sprintf("ready=%v", ready), func(t *testing.T) {
			conn := newFakeConnector(ready)
			snk := &recSink{}
			svc := newService(t, conn, snk, func(c *Config) { c.EngineInput = pcm.L16Mono24K })

			p1 := []byte{0xFF, 0xFE, 0x80}
			p2 := []byte{0x00, 0x7F}
			plan, err := transcode.NewPlan(pcm.Mulaw8K, pcm.L16Mono24K, transcode.Linear)
			if err != nil {
				t.Fatal(err)
			}
			t1, _ := plan.Convert(p1)
			t2, _ := plan.Convert(p2)

			leg := newFakeLeg()
			done := serve(svc, leg)
			leg.push(&callleg.Start{StreamSID: "MZ1", CallSID: "CA123"})
			leg.push(&callleg.Media{Payload: p1})
			leg.push(&callleg.Media{Payload: p2})
			leg.push(&callleg.Stop{})

			eng := conn.next(t)
			if !ready {
				waitFor(t, "session registered", func() bool { return svc.GetSession("CA123") != nil })
				eng.events <- &realtime.SessionUpdated{}
			}
			waitFor(t, "four engine sends", func() bool { return len(eng.Sent()) >= 4 })

			want := []string{
				"append:" + hex.EncodeToString(t1),
				"append:" + hex.EncodeToString(t2),
				"commit",
				"response.create",
			}
			got := eng.Sent()
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Fatalf("engine sends:\n got %v\nwant %v", got, want)
			}

			waitFor(t, "stop event", func() bool { return snk.count("internal-CA123", sink.KindStop) > 0 })
			if n := snk.count("internal-CA123", sink.KindCallStart); n != 1 {
				t.Errorf("call_start events = %d, want 1", n)
			}
			if n := snk.count("internal-CA123", sink.KindStop); n != 1 {
				t.Errorf("stop events = %d, want 1", n)
			}
			s := svc.GetSession("CA123")
			if s == nil {
				t.Fatal("session gone before the leg closed")
			}
			waitFor(t, "closing", func() bool { return s.Status() == StatusClosing })

			close(leg.frames)
			if err := <-done; err != nil {
				t.Fatalf("ServeCallLeg: %v", err)
			}
			if n := snk.count("internal-CA123", sink.KindCallEnd); n != 1 {
				t.Errorf("call_end events = %d, want 1", n)
			}
			if svc.Count() != 0 {
				t.Errorf("Count = %d after leg closed", svc.Count())
			}
			waitFor(t, "engine closed", eng.isClosed)
		})
	}
}

func TestPendingAudioFlushedInOrder(t *testing.T) {
	conn := newFakeConnector(false)
	svc := newService(t, conn, &recSink{}, nil)

	leg := newFakeLeg()
	serve(svc, leg)
	leg.push(&callleg.Start{CallSID: "CA1"})
	for i := range 3 {
		leg.push(&callleg.Media{Payload: []byte{byte(i)}})
	}
	eng := conn.next(t)
	s := svc.GetSession("CA1")
	waitFor(t, "pending audio", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.pending) == 3
	})
	if len(eng.Sent()) != 0 {
		t.Fatalf("audio sent before engine ready: %v", eng.Sent())
	}

	eng.events <- &realtime.SessionUpdated{}
	waitFor(t, "flush", func() bool { return len(eng.Sent()) == 3 })
	if got := strings.Join(eng.Sent(), ","); got != "append:00,append:01,append:02" {
		t.Fatalf("flushed = %s", got)
	}
	if s.Status() != StatusActive {
		t.Fatalf("status = %v", s.Status())
	}

	leg.push(&callleg.Media{Payload: []byte{3}})
	waitFor(t, "direct append", func() bool { return len(eng.Sent()) == 4 })
}

func TestPendingOverflowTearsDown(t *testing.T) {
	conn := newFakeConnector(false)
	snk := &recSink{}
	svc := newService(t, conn, snk, func(c *Config) { c.PendingLimit = 2 })

	leg := newFakeLeg()
	done := serve(svc, leg)
	leg.push(&callleg.Start{CallSID: "CA1"})
	for range 3 {
		leg.push(&callleg.Media{Payload: []byte{1}})
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrPendingOverflow) {
			t.Fatalf("ServeCallLeg = %v, want ErrPendingOverflow", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeCallLeg did not return")
	}
	if svc.GetSession("CA1") != nil {
		t.Fatal("session still registered")
	}
	if snk.count("internal-CA1", sink.KindError) != 1 || snk.count("internal-CA1", sink.KindCallEnd) != 1 {
		t.Fatalf("lifecycle = %+v", snk.lifecycle)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := newFakeConnector(true)
	snk := &recSink{}
	svc := newService(t, conn, snk, nil)

	s, err := svc.CreateSession(context.Background(), "CA9")
	if err != nil {
		t.Fatal(err)
	}
	eng := conn.next(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Close("test"); err != nil {
				t.Errorf("Close: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := s.Close("again"); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := svc.DestroySession("CA9", "admin"); err != nil {
		t.Fatalf("DestroySession after close = %v", err)
	}
	if err := svc.DestroySession(s.ID, "admin"); err != nil {
		t.Fatalf("DestroySession by session id after close = %v", err)
	}
	if err := svc.DestroySession("CA-unknown", "admin"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("DestroySession unknown = %v", err)
	}
	if n := snk.count("internal-CA9", sink.KindCallEnd); n != 1 {
		t.Fatalf("call_end events = %d, want 1", n)
	}
	if s.Status() != StatusClosed {
		t.Fatalf("status = %v", s.Status())
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
	waitFor(t, "engine closed", eng.isClosed)
}

func TestStatusOnlyMovesForward(t *testing.T) {
	s := &Session{}
	if !s.advance(StatusActive) || !s.advance(StatusClosing) {
		t.Fatal("forward moves refused")
	}
	if s.advance(StatusActive) || s.advance(StatusConnecting) {
		t.Fatal("backward move accepted")
	}
	if s.Status() != StatusClosing {
		t.Fatalf("status = %v", s.Status())
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	conn := newFakeConnector(true)
	svc := newService(t, conn, &recSink{}, nil)

	s, err := svc.CreateSession(context.Background(), "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateSession(context.Background(), "CA1"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate CreateSession = %v", err)
	}
	if svc.Find(s.ID) != s || svc.Find("CA1") != s {
		t.Fatal("Find by session id or call id failed")
	}

	// A call leg for a pre-created session attaches to it.
	leg := newFakeLeg()
	serve(svc, leg)
	leg.push(&callleg.Start{CallSID: "CA1"})
	waitFor(t, "leg attached", func() bool { return s.Snapshot().Attached })

	// A second leg for the same call is rejected.
	leg2 := newFakeLeg()
	done := serve(svc, leg2)
	leg2.push(&callleg.Start{CallSID: "CA1"})
	if err := <-done; !errors.Is(err, ErrSessionExists) {
		t.Fatalf("second leg = %v", err)
	}
	if svc.GetSession("CA1") != s {
		t.Fatal("second leg replaced the session")
	}
}

func TestSweep(t *testing.T) {
	conn := newFakeConnector(true)
	snk := &recSink{}
	svc := newService(t, conn, snk, func(c *Config) { c.MaxAge = time.Minute })

	old, _ := svc.CreateSession(context.Background(), "old")
	fresh, _ := svc.CreateSession(context.Background(), "fresh")
	now := time.Now()
	old.CreatedAt = now.Add(-2 * time.Minute)

	if n := svc.Sweep(now); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if svc.GetSession("old") != nil {
		t.Error("stale session kept")
	}
	if svc.GetSession("fresh") != fresh {
		t.Error("fresh session removed")
	}
	if snk.count("internal-old", sink.KindCallEnd) != 1 {
		t.Error("no call_end for swept session")
	}
	if n := svc.Sweep(now); n != 0 {
		t.Fatalf("second Sweep removed %d", n)
	}

	// Closed ids are remembered until they are older than MaxAge.
	if err := svc.DestroySession("old", "admin"); err != nil {
		t.Fatalf("DestroySession of swept session = %v", err)
	}
	svc.Sweep(now.Add(2 * time.Minute))
	if err := svc.DestroySession("old", "admin"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("DestroySession after forget = %v", err)
	}
}

func TestRunSweepsOnInterval(t *testing.T) {
	conn := newFakeConnector(true)
	svc := newService(t, conn, &recSink{}, func(c *Config) {
		c.MaxAge = time.Millisecond
		c.SweepInterval = 10 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	svc.CreateSession(context.Background(), "CA1")
	waitFor(t, "sweep", func() bool { return svc.Count() == 0 })
}

func TestEngineErrorPolicy(t *testing.T) {
	for _, teardown := range []bool{false, true} {
		t.Run(fmt.Sprintf("teardown=%v", teardown), func(t *testing.T) {
			conn := newFakeConnector(true)
			snk := &recSink{}
			svc := newService(t, conn, snk, func(c *Config) { c.TeardownOnError = teardown })

			s, _ := svc.CreateSession(context.Background(), "CA1")
			eng := conn.next(t)
			eng.events <- &realtime.EngineError{Err: &realtime.Error{Type: "server_error", Message: "boom"}}
			waitFor(t, "error lifecycle", func() bool { return snk.count("internal-CA1", sink.KindError) == 1 })

			if teardown {
				waitFor(t, "teardown", func() bool { return s.Status() == StatusClosed })
				return
			}
			time.Sleep(20 * time.Millisecond)
			if s.Status() != StatusActive || svc.GetSession("CA1") != s {
				t.Fatalf("session torn down on engine error: %v", s.Status())
			}
		})
	}
}

func TestEngineOutputRelay(t *testing.T) {
	conn := newFakeConnector(true)
	snk := &recSink{}
	svc := newService(t, conn, snk, nil)

	leg := newFakeLeg()
	serve(svc, leg)
	leg.push(&callleg.Start{CallSID: "CA1"})
	eng := conn.next(t)
	waitFor(t, "leg attached", func() bool {
		s := svc.GetSession("CA1")
		return s != nil && s.Snapshot().Attached
	})

	eng.events <- &realtime.AudioDelta{Audio: []byte{1, 2, 3}}
	eng.events <- &realtime.SpeechStarted{}
	eng.events <- &realtime.InputTranscriptionCompleted{Transcript: "what time is it"}
	eng.events <- &realtime.TextDelta{ResponseID: "r1", ItemID: "i1", Delta: "It is "}
	eng.events <- &realtime.TextDelta{ResponseID: "r1", ItemID: "i1", Delta: "noon."}
	eng.events <- &realtime.TextDone{ResponseID: "r1", ItemID: "i1"}
	eng.events <- &realtime.TextDelta{ResponseID: "r2", ItemID: "i2", Delta: "Anything else?"}
	eng.events <- &realtime.ResponseDone{ResponseID: "r2"}

	waitFor(t, "transcripts", func() bool { return len(snk.entries()) == 3 })
	got := snk.entries()
	want := []struct {
		role    sink.Role
		content string
	}{
		{sink.RoleUser, "what time is it"},
		{sink.RoleAssistant, "It is noon."},
		{sink.RoleAssistant, "Anything else?"},
	}
	for i, w := range want {
		if got[i].Role != w.role || got[i].Content != w.content || got[i].CallID != "internal-CA1" {
			t.Errorf("entry %d = %+v, want %v %q", i, got[i], w.role, w.content)
		}
		if got[i].Seq != int64(i+1) {
			t.Errorf("entry %d seq = %d", i, got[i].Seq)
		}
	}

	leg.mu.Lock()
	defer leg.mu.Unlock()
	if len(leg.media) != 1 || hex.EncodeToString(leg.media[0]) != "010203" {
		t.Errorf("media relayed = %v", leg.media)
	}
	if leg.clears != 1 {
		t.Errorf("clears = %d, want 1", leg.clears)
	}
}

func TestTextFlushedOnClose(t *testing.T) {
	conn := newFakeConnector(true)
	snk := &recSink{}
	svc := newService(t, conn, snk, nil)

	s, _ := svc.CreateSession(context.Background(), "CA1")
	eng := conn.next(t)
	eng.events <- &realtime.TextDelta{ResponseID: "r1", ItemID: "i1", Delta: "Goodb"}
	waitFor(t, "delta buffered", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.text) == 1
	})
	s.Close("hangup")
	if e := snk.entries(); len(e) != 1 || e[0].Content != "Goodb" {
		t.Fatalf("entries = %+v", e)
	}
}

func TestInBandToolCall(t *testing.T) {
	type echoArgs struct {
		Text string `json:"text"`
	}
	echo := toolrpc.MustNewFuncTool("echo", "Echo text.", func(_ context.Context, a echoArgs) (any, error) {
		return map[string]string{"echo": a.Text}, nil
	})
	reg, err := toolrpc.NewRegistry(toolrpc.RegistryConfig{}, echo)
	if err != nil {
		t.Fatal(err)
	}
	conn := newFakeConnector(true)
	snk := &recSink{}
	svc := newService(t, conn, snk, func(c *Config) { c.Tools = reg })

	svc.CreateSession(context.Background(), "CA1")
	eng := conn.next(t)

	eng.events <- &realtime.FunctionCallArgumentsDone{CallID: "fc1", Name: "echo", Arguments: `{"text":"hi"}`}
	waitFor(t, "tool output", func() bool { return len(eng.Sent()) == 2 })
	if got := eng.Sent(); got[0] != `output:fc1:{"echo":"hi"}` || got[1] != "response.create" {
		t.Fatalf("sent = %v", got)
	}

	eng.events <- &realtime.FunctionCallArgumentsDone{CallID: "fc2", Name: "missing", Arguments: `{}`}
	waitFor(t, "error output", func() bool { return len(eng.Sent()) == 4 })
	if got := eng.Sent()[2]; !strings.HasPrefix(got, `output:fc2:{"error":`) {
		t.Fatalf("sent = %v", got)
	}

	eng.events <- &realtime.FunctionCallArgumentsDone{CallID: "fc3", Name: "echo", Arguments: `{"text":5}`}
	waitFor(t, "validation output", func() bool { return len(eng.Sent()) == 6 })
	if got := eng.Sent()[4]; !strings.HasPrefix(got, `output:fc3:{"error":`) {
		t.Fatalf("sent = %v", got)
	}

	conn.mu.Lock()
	cfg := conn.configs[0]
	conn.mu.Unlock()
	if len(cfg.Session.Tools) != 1 || cfg.Session.Tools[0].Name != "echo" || cfg.Session.ToolChoice != realtime.ToolChoiceAuto {
		t.Fatalf("announced tools = %+v", cfg.Session.Tools)
	}
}

func TestConnectConfigFormats(t *testing.T) {
	conn := newFakeConnector(true)
	svc := newService(t, conn, &recSink{}, func(c *Config) {
		c.Model = realtime.ModelGPT4oRealtimePreview
		c.EngineInput = pcm.L16Mono24K
		c.Session = realtime.SessionConfig{Voice: realtime.VoiceAlloy}
	})
	svc.CreateSession(context.Background(), "CA1")
	conn.next(t)

	conn.mu.Lock()
	cfg := conn.configs[0]
	conn.mu.Unlock()
	if cfg.Model != realtime.ModelGPT4oRealtimePreview {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.Session.InputAudioFormat != "pcm16" || cfg.Session.OutputAudioFormat != "g711_ulaw" || cfg.Session.Voice != "alloy" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if len(cfg.Session.Tools) != 0 || cfg.Session.ToolChoice != "" {
		t.Errorf("tools announced without a registry: %+v", cfg.Session.Tools)
	}
}

func TestNewRejectsMulawEncode(t *testing.T) {
	_, err := New(Config{
		Connector:    newFakeConnector(true),
		Sink:         &recSink{},
		CallLeg:      pcm.Mulaw8K,
		EngineInput:  pcm.Mulaw8K,
		EngineOutput: pcm.L16Mono24K,
	})
	if err == nil {
		t.Fatal("New accepted an engine output that needs mu-law encoding")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	conn := newFakeConnector(false)
	snk := &recSink{}
	svc := newService(t, conn, snk, func(c *Config) { c.HandshakeTimeout = 30 * time.Millisecond })

	s, _ := svc.CreateSession(context.Background(), "CA1")
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed after handshake timeout")
	}
	if snk.count("internal-CA1", sink.KindCallEnd) != 1 {
		t.Fatal("missing call_end")
	}
}

func TestEngineConnectFailure(t *testing.T) {
	conn := newFakeConnector(false)
	conn.err = errors.New("dial refused")
	snk := &recSink{}
	svc := newService(t, conn, snk, nil)

	s, err := svc.CreateSession(context.Background(), "CA1")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed after connect failure")
	}
	if svc.Count() != 0 {
		t.Fatal("failed session still registered")
	}
}

func TestResolveFallback(t *testing.T) {
	conn := newFakeConnector(true)
	snk := &recSink{resolveErr: errors.New("sink down")}
	svc := newService(t, conn, snk, nil)

	s, err := svc.CreateSession(context.Background(), "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if s.InternalID == "" || s.InternalID == "internal-CA1" {
		t.Fatalf("InternalID = %q", s.InternalID)
	}
}

func TestReconnectKeepsTranscriptAppendOnly(t *testing.T) {
	store := sink.NewKV(kv.NewMemory(nil))
	conn := newFakeConnector(true)
	svc := newService(t, conn, &recSink{}, func(c *Config) { c.Sink = store })
	ctx := context.Background()

	var callID string
	for i, text := range []string{"hello", "are you still there?"} {
		s, err := svc.CreateSession(ctx, "CA123")
		if err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
		callID = s.InternalID
		eng := conn.next(t)
		waitFor(t, "active", func() bool { return s.Status() == StatusActive })
		eng.events <- &realtime.InputTranscriptionCompleted{Transcript: text}
		waitFor(t, "transcript write", func() bool {
			got, _ := store.Transcript(ctx, callID)
			return len(got) == i+1
		})
		if err := s.Close("reconnect"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Transcript(ctx, callID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("transcript has %d entries, want 2: %+v", len(got), got)
	}
	if got[0].Content != "hello" || got[1].Content != "are you still there?" || got[0].Seq >= got[1].Seq {
		t.Fatalf("transcript = %+v", got)
	}
}

func TestSnapshotActivityAndPairing(t *testing.T) {
	conn := newFakeConnector(false)
	svc := newService(t, conn, &recSink{}, nil)

	s, err := svc.CreateSession(context.Background(), "CA1")
	if err != nil {
		t.Fatal(err)
	}
	eng := conn.next(t)
	snap := s.Snapshot()
	if !snap.LastActivityAt.Equal(s.CreatedAt) || snap.PairedConnectionID != "" {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	time.Sleep(5 * time.Millisecond)
	eng.events <- &realtime.SessionUpdated{SessionID: "sess_42"}
	waitFor(t, "active", func() bool { return s.Status() == StatusActive })
	snap = s.Snapshot()
	if snap.PairedConnectionID != "sess_42" || s.PairedConnectionID() != "sess_42" {
		t.Fatalf("paired = %q", snap.PairedConnectionID)
	}
	afterEvent := snap.LastActivityAt
	if !afterEvent.After(s.CreatedAt) {
		t.Fatalf("engine event did not bump activity: %v", afterEvent)
	}

	leg := newFakeLeg()
	serve(svc, leg)
	leg.push(&callleg.Start{CallSID: "CA1"})
	waitFor(t, "leg attached", func() bool { return s.Snapshot().Attached })
	time.Sleep(5 * time.Millisecond)
	leg.push(&callleg.Media{Payload: []byte{1}})
	waitFor(t, "media activity", func() bool { return s.LastActivity().After(afterEvent) })
}

func TestCallEndCarriesDuration(t *testing.T) {
	conn := newFakeConnector(true)
	snk := &recSink{}
	svc := newService(t, conn, snk, nil)

	s, err := svc.CreateSession(context.Background(), "CA1")
	if err != nil {
		t.Fatal(err)
	}
	conn.next(t)
	s.CreatedAt = s.CreatedAt.Add(-90 * time.Second)
	s.Close("hangup")

	var end *sink.LifecycleEvent
	snk.mu.Lock()
	for i := range snk.lifecycle {
		if snk.lifecycle[i].Kind == sink.KindCallEnd {
			end = &snk.lifecycle[i]
		}
	}
	snk.mu.Unlock()
	if end == nil {
		t.Fatal("no call_end")
	}
	if end.Payload["reason"] != "hangup" {
		t.Errorf("reason = %v", end.Payload["reason"])
	}
	if d, _ := end.Payload["duration_seconds"].(int64); d != 90 {
		t.Errorf("duration_seconds = %v, want 90", end.Payload["duration_seconds"])
	}
	at, _ := end.Payload["ended_at"].(string)
	if ended, err := time.Parse(time.RFC3339Nano, at); err != nil || !ended.Equal(end.Timestamp) {
		t.Errorf("ended_at = %q, timestamp %v", at, end.Timestamp)
	}
}
