package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultMaxInFlight bounds concurrent requests per connection.
const DefaultMaxInFlight = 16

// Server answers tool protocol requests on websocket connections.
type Server struct {
	registry    *Registry
	logger      *slog.Logger
	maxInFlight int
}

// ServerConfig configures NewServer.
type ServerConfig struct {
	// MaxInFlight bounds concurrent requests per connection. Reading
	// pauses while the limit is reached. Default: DefaultMaxInFlight.
	MaxInFlight int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewServer creates a server for the registry.
func NewServer(registry *Registry, cfg ServerConfig) *Server {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{registry: registry, logger: cfg.Logger, maxInFlight: cfg.MaxInFlight}
}

// ServeConn serves one connection until it closes or ctx is done. In-flight
// tool executions are cancelled when the connection goes away.
func (s *Server) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var (
		wmu sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.maxInFlight)
	)
	// Cancel before waiting so in-flight tools see the disconnect.
	defer func() {
		cancel()
		wg.Wait()
	}()
	write := func(resp *Response) {
		data, err := json.Marshal(resp)
		if err != nil {
			data, _ = json.Marshal(errorResponse(resp.ID, CodeInternal, err))
		}
		wmu.Lock()
		defer wmu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Warn("toolrpc write failed", "error", err)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("toolrpc: read: %w", err)
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn("toolrpc malformed request", "error", err)
			write(errorResponse(nil, CodeParseError, err))
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			write(s.Handle(ctx, &req))
		}()
	}
}

// Handle answers a single request. It never returns nil.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	id := req.ID
	if len(id) == 0 {
		id = nullID
	}

	switch req.Method {
	case MethodToolsList:
		return result(id, ListResult{Tools: s.registry.List()})

	case MethodToolCall:
		var p CallParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
			if err == nil {
				err = fmt.Errorf("params.name is required")
			}
			return errorResponse(id, CodeInvalidParams, err)
		}
		start := time.Now()
		out, err := s.registry.Invoke(ctx, p.Name, p.Args)
		if err != nil {
			s.logger.Info("tool call failed", "tool", p.Name, "id", string(id), "code", Code(err), "error", err)
			return errorResponse(id, Code(err), err)
		}
		s.logger.Info("tool call", "tool", p.Name, "id", string(id), "duration", time.Since(start))
		return result(id, out)
	}
	return errorResponse(id, CodeMethodNotFound, fmt.Errorf("unknown method %q", req.Method))
}

func result(id json.RawMessage, v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, CodeInternal, fmt.Errorf("marshal result: %w", err))
	}
	return &Response{ID: id, Result: data}
}
