package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type wsSession struct {
	conn   *websocket.Conn
	logger *slog.Logger

	out       chan []byte
	events    chan eventOrError
	closeCh   chan struct{}
	closeOnce sync.Once
}

type eventOrError struct {
	event Event
	err   error
}

func (c *Client) connectWebSocket(ctx context.Context, config *ConnectConfig) (*wsSession, error) {
	if config == nil {
		config = &ConnectConfig{}
	}
	model := config.Model
	if model == "" {
		model = ModelGPT4oRealtimePreview
	}

	u, err := url.Parse(c.config.wsURL)
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid url: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.config.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")
	if c.config.organization != "" {
		headers.Set("OpenAI-Organization", c.config.organization)
	}
	if c.config.project != "" {
		headers.Set("OpenAI-Project", c.config.project)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			err = &Error{
				Code:       "connection_failed",
				Message:    err.Error(),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}

	s := &wsSession{
		conn:    conn,
		logger:  c.config.logger,
		out:     make(chan []byte, c.config.sendQueue),
		events:  make(chan eventOrError, 100),
		closeCh: make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()

	if config.Session != nil {
		if err := s.UpdateSession(config.Session); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

func (s *wsSession) UpdateSession(config *SessionConfig) error {
	return s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeSessionUpdate,
		"session":  config,
	})
}

func (s *wsSession) AppendAudio(audio []byte) error {
	return s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferAppend,
		"audio":    base64.StdEncoding.EncodeToString(audio),
	})
}

func (s *wsSession) CommitInput() error {
	return s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferCommit,
	})
}

func (s *wsSession) ClearInput() error {
	return s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferClear,
	})
}

func (s *wsSession) CreateResponse(opts *ResponseCreateOptions) error {
	ev := map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeResponseCreate,
	}
	if opts != nil && (len(opts.Modalities) > 0 || opts.Instructions != "") {
		ev["response"] = opts
	}
	return s.send(ev)
}

func (s *wsSession) AddFunctionCallOutput(callID, output string) error {
	return s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (s *wsSession) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.events:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				if _, fatal := item.err.(*TransportError); fatal {
					return
				}
			}
		}
	}
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			closeDeadline())
		err = s.conn.Close()
	})
	return err
}

// send queues a frame for the writer goroutine.
func (s *wsSession) send(event map[string]any) error {
	select {
	case <-s.closeCh:
		return &TransportError{Op: "send", Err: ErrClosed}
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("realtime: marshal %v: %w", event["type"], err)
	}
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		str := string(data)
		if len(str) > 500 {
			str = str[:500] + "..."
		}
		s.logger.Debug("sending event", "content", str)
	}

	select {
	case s.out <- data:
		return nil
	default:
		return &TransportError{Op: "send", Err: ErrSendQueueFull}
	}
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case data := <-s.out:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("realtime write failed", "error", err)
				// Closing the socket ends readLoop with a transport error.
				s.conn.Close()
				return
			}
		}
	}
}

func (s *wsSession) readLoop() {
	defer close(s.events)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(eventOrError{err: &TransportError{Op: "read", Err: err}})
			return
		}

		if s.logger.Enabled(context.Background(), slog.LevelDebug) {
			str := string(message)
			if len(str) > 1000 {
				str = str[:1000] + "..."
			}
			s.logger.Debug("received message", "len", len(message), "content", str)
		}

		ev, err := DecodeEvent(message)
		if !s.emit(eventOrError{event: ev, err: err}) {
			return
		}
	}
}

func (s *wsSession) emit(item eventOrError) bool {
	select {
	case <-s.closeCh:
		return false
	case s.events <- item:
		return true
	}
}

var _ Session = (*wsSession)(nil)

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}
