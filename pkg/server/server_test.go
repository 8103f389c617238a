package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/voicebridge/pkg/audio/pcm"
	"github.com/haivivi/voicebridge/pkg/bridge"
	"github.com/haivivi/voicebridge/pkg/kv"
	"github.com/haivivi/voicebridge/pkg/realtime"
	"github.com/haivivi/voicebridge/pkg/sink"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
)

// fakeEngine speaks just enough of the realtime protocol: it acknowledges
// session.update and answers response.create with one audio delta.
type fakeEngine struct {
	mu    sync.Mutex
	types []string
	audio []string
}

func (e *fakeEngine) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("engine upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type  string `json:"type"`
				Audio string `json:"audio"`
			}
			json.Unmarshal(data, &msg)
			e.mu.Lock()
			e.types = append(e.types, msg.Type)
			if msg.Audio != "" {
				e.audio = append(e.audio, msg.Audio)
			}
			e.mu.Unlock()

			switch msg.Type {
			case "session.update":
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.updated","session":{"id":"sess_1"}}`))
			case "response.create":
				delta := base64.StdEncoding.EncodeToString([]byte{9, 8, 7})
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio.delta","response_id":"r1","delta":"`+delta+`"}`))
			}
		}
	}
}

func (e *fakeEngine) received() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.types...)
}

type fixture struct {
	srv    *httptest.Server
	client *Client
	sink   *sink.KV
	engine *fakeEngine
	svc    *bridge.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng := &fakeEngine{}
	engSrv := httptest.NewServer(eng.handler(t))
	t.Cleanup(engSrv.Close)

	store := kv.NewMemory(nil)
	snk := sink.NewKV(store)

	echo := toolrpc.MustNewFuncTool("echo", "Echo text.", func(_ context.Context, a struct {
		Text string `json:"text"`
	}) (any, error) {
		return a.Text, nil
	})
	reg, err := toolrpc.NewRegistry(toolrpc.RegistryConfig{}, echo)
	if err != nil {
		t.Fatal(err)
	}

	rt := realtime.NewClient("test-key", realtime.WithWebSocketURL("ws"+strings.TrimPrefix(engSrv.URL, "http")))
	svc, err := bridge.New(bridge.Config{
		Connector:    rt,
		Sink:         snk,
		Tools:        reg,
		CallLeg:      pcm.Mulaw8K,
		EngineInput:  pcm.Mulaw8K,
		EngineOutput: pcm.Mulaw8K,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })

	s := New(Config{Bridge: svc, Tools: toolrpc.NewServer(reg, toolrpc.ServerConfig{}), Version: "test"})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, client: NewClient(srv.URL, nil), sink: snk, engine: eng, svc: svc}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	st, err := f.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Version != "test" || st.ActiveSessions != 0 || st.StartedAt.IsZero() || st.UptimeSeconds < 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestSessionAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.client.CreateSession(ctx, "CA500")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if snap.CallID != "CA500" || snap.ID == "" || snap.InternalID == "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	_, err = f.client.CreateSession(ctx, "CA500")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create = %v, want 409", err)
	}

	list, err := f.client.Sessions(ctx)
	if err != nil || len(list) != 1 || list[0].ID != snap.ID {
		t.Fatalf("Sessions = %+v, %v", list, err)
	}
	if list[0].LastActivityAt.Before(list[0].CreatedAt) {
		t.Fatalf("last activity %v before creation %v", list[0].LastActivityAt, list[0].CreatedAt)
	}
	waitFor(t, "engine pairing", func() bool {
		list, err := f.client.Sessions(ctx)
		return err == nil && len(list) == 1 && list[0].PairedConnectionID == "sess_1"
	})
	st, _ := f.client.Status(ctx)
	if st.ActiveSessions != 1 {
		t.Fatalf("active sessions = %d", st.ActiveSessions)
	}

	if err := f.client.TerminateSession(ctx, snap.ID); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if err := f.client.TerminateSession(ctx, snap.ID); err != nil {
		t.Fatalf("second terminate = %v, want no-op", err)
	}
	err = f.client.TerminateSession(ctx, "CA-never-seen")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown terminate = %v, want 404", err)
	}

	ends, _ := f.sink.Lifecycle(ctx, snap.InternalID)
	n := 0
	for _, e := range ends {
		if e.Kind == sink.KindCallEnd {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("call_end events = %d, want 1", n)
	}
}

func TestCreateSessionBadRequest(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{`, `{}`} {
		resp, err := http.Post(f.srv.URL+"/sessions", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status %d", body, resp.StatusCode)
		}
	}
}

func TestMediaStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL)+"/media", nil)
	if err != nil {
		t.Fatalf("dial media: %v", err)
	}
	defer conn.Close()

	p1 := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F})
	p2 := base64.StdEncoding.EncodeToString([]byte{0x00})
	for _, frame := range []string{
		`{"event":"connected","protocol":"Call"}`,
		`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA123","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000}}}`,
		`{"event":"media","streamSid":"MZ1","media":{"payload":"` + p1 + `"}}`,
		`{"event":"media","streamSid":"MZ1","media":{"payload":"` + p2 + `"}}`,
		`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA123"}}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatal(err)
		}
	}

	// The engine answers response.create with audio, relayed back as media.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read media: %v", err)
	}
	var out struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Event != "media" || out.StreamSID != "MZ1" || out.Media.Payload != base64.StdEncoding.EncodeToString([]byte{9, 8, 7}) {
		t.Fatalf("outbound frame = %s", data)
	}

	got := f.engine.received()
	want := []string{"session.update", "input_audio_buffer.append", "input_audio_buffer.append", "input_audio_buffer.commit", "response.create"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("engine received %v, want %v", got, want)
	}
	f.engine.mu.Lock()
	audio := append([]string(nil), f.engine.audio...)
	f.engine.mu.Unlock()
	if len(audio) != 2 || audio[0] != p1 || audio[1] != p2 {
		t.Fatalf("appended audio = %v", audio)
	}

	internal, err := f.sink.ResolveCall(ctx, "CA123")
	if err != nil {
		t.Fatal(err)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, "session closed", func() bool { return f.svc.Count() == 0 })

	events, err := f.sink.Lifecycle(ctx, internal)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[sink.Kind]int{}
	for _, e := range events {
		counts[e.Kind]++
	}
	if counts[sink.KindCallStart] != 1 || counts[sink.KindStop] != 1 || counts[sink.KindCallEnd] != 1 {
		t.Fatalf("lifecycle counts = %v", counts)
	}
}

func TestToolsEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := toolrpc.Dial(ctx, f.client.ToolsURL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	tools, err := c.ListTools(ctx)
	if err != nil || len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("ListTools = %+v, %v", tools, err)
	}
	res, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	if err != nil || string(res) != `"hi"` {
		t.Fatalf("CallTool = %s, %v", res, err)
	}
}

func TestWSURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":  "ws://localhost:8080",
		"https://bridge.example": "wss://bridge.example",
		"ws://already":           "ws://already",
	}
	for in, want := range tests {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}
