package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeEngine struct {
	srv      *httptest.Server
	received chan map[string]any
	headers  chan http.Header
	toSend   chan string
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	fe := &fakeEngine{
		received: make(chan map[string]any, 100),
		headers:  make(chan http.Header, 1),
		toSend:   make(chan string, 100),
	}
	upgrader := websocket.Upgrader{}
	fe.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fe.headers <- r.Header.Clone()
		if r.URL.Query().Get("model") == "" {
			http.Error(w, "missing model", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var m map[string]any
				json.Unmarshal(data, &m)
				fe.received <- m
			}
		}()
		for {
			select {
			case msg := <-fe.toSend:
				if msg == "__close__" {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEngine) url() string {
	return "ws" + strings.TrimPrefix(fe.srv.URL, "http")
}

func (fe *fakeEngine) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-fe.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func TestConnectSendsSessionUpdate(t *testing.T) {
	fe := newFakeEngine(t)
	client := NewClient("sk-test", WithWebSocketURL(fe.url()))

	sess, err := client.Connect(context.Background(), &ConnectConfig{
		Session: &SessionConfig{
			Voice:             VoiceAlloy,
			InputAudioFormat:  AudioFormatG711ULaw,
			OutputAudioFormat: AudioFormatG711ULaw,
			TurnDetection: &TurnDetection{
				Type:              VADServerVAD,
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
		},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	h := <-fe.headers
	if got := h.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", got)
	}

	m := fe.next(t)
	if m["type"] != EventTypeSessionUpdate {
		t.Fatalf("first frame type = %v, want session.update", m["type"])
	}
	session := m["session"].(map[string]any)
	if session["input_audio_format"] != "g711_ulaw" || session["output_audio_format"] != "g711_ulaw" {
		t.Errorf("formats = %v / %v", session["input_audio_format"], session["output_audio_format"])
	}
	if session["voice"] != "alloy" {
		t.Errorf("voice = %v", session["voice"])
	}
	td := session["turn_detection"].(map[string]any)
	if td["threshold"] != 0.5 || td["prefix_padding_ms"] != 300.0 || td["silence_duration_ms"] != 500.0 {
		t.Errorf("turn_detection = %v", td)
	}
}

func TestSendOrder(t *testing.T) {
	fe := newFakeEngine(t)
	sess, err := NewClient("k", WithWebSocketURL(fe.url())).Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.AppendAudio([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := sess.AppendAudio([]byte{3}); err != nil {
		t.Fatal(err)
	}
	if err := sess.CommitInput(); err != nil {
		t.Fatal(err)
	}
	if err := sess.CreateResponse(nil); err != nil {
		t.Fatal(err)
	}
	if err := sess.AddFunctionCallOutput("call_1", `{"ok":true}`); err != nil {
		t.Fatal(err)
	}

	m := fe.next(t)
	if m["type"] != EventTypeInputAudioBufferAppend || m["audio"] != base64.StdEncoding.EncodeToString([]byte{1, 2}) {
		t.Fatalf("frame 1 = %v", m)
	}
	m = fe.next(t)
	if m["audio"] != base64.StdEncoding.EncodeToString([]byte{3}) {
		t.Fatalf("frame 2 = %v", m)
	}
	if m = fe.next(t); m["type"] != EventTypeInputAudioBufferCommit {
		t.Fatalf("frame 3 = %v", m)
	}
	m = fe.next(t)
	if m["type"] != EventTypeResponseCreate {
		t.Fatalf("frame 4 = %v", m)
	}
	if _, ok := m["response"]; ok {
		t.Errorf("response.create with nil options carried a response body: %v", m)
	}
	m = fe.next(t)
	item := m["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" {
		t.Fatalf("frame 5 = %v", m)
	}
}

func TestEventsDecodeAndContinueAfterProtocolError(t *testing.T) {
	fe := newFakeEngine(t)
	sess, err := NewClient("k", WithWebSocketURL(fe.url())).Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	audio := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F})
	fe.toSend <- `{"type":"session.updated","session":{"id":"sess_1"}}`
	fe.toSend <- `{"type":"not.a.thing"}`
	fe.toSend <- `{not json`
	fe.toSend <- `{"type":"response.output_audio.delta","response_id":"r1","delta":"` + audio + `"}`
	fe.toSend <- `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`

	var got []Event
	var protocolErrors int
	for ev, err := range sess.Events() {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			protocolErrors++
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ev)
		if len(got) == 3 {
			break
		}
	}

	if protocolErrors != 2 {
		t.Errorf("protocol errors = %d, want 2", protocolErrors)
	}
	if su, ok := got[0].(*SessionUpdated); !ok || su.SessionID != "sess_1" {
		t.Errorf("event 0 = %#v", got[0])
	}
	if ad, ok := got[1].(*AudioDelta); !ok || len(ad.Audio) != 2 || ad.ResponseID != "r1" {
		t.Errorf("event 1 = %#v", got[1])
	}
	if ee, ok := got[2].(*EngineError); !ok || ee.Err.Message != "bad" {
		t.Errorf("event 2 = %#v", got[2])
	}
}

func TestEventsEndWithTransportError(t *testing.T) {
	fe := newFakeEngine(t)
	sess, err := NewClient("k", WithWebSocketURL(fe.url())).Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	fe.toSend <- "__close__"

	var last error
	for _, err := range sess.Events() {
		last = err
	}
	var terr *TransportError
	if !errors.As(last, &terr) {
		t.Fatalf("last error = %v, want *TransportError", last)
	}
}

func TestSendAfterClose(t *testing.T) {
	fe := newFakeEngine(t)
	sess, err := NewClient("k", WithWebSocketURL(fe.url())).Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sess.Close()
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	err = sess.AppendAudio([]byte{1})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendAudio after Close: err = %v, want ErrClosed", err)
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithWebSocketURL("ws"+strings.TrimPrefix(srv.URL, "http"))).
		Connect(context.Background(), &ConnectConfig{Model: "m"})
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "dial" {
		t.Fatalf("err = %v, want dial TransportError", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("err = %v, want HTTP 401", err)
	}
}
