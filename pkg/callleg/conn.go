package callleg

import (
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one call-leg connection.
type Conn interface {
	// Frames iterates over inbound frames in arrival order. A
	// *ProtocolError is yielded for a dropped frame and iteration
	// continues. Iteration ends on a *TransportError or, without an
	// error, when the far end closes normally.
	Frames() iter.Seq2[Frame, error]

	// SendMedia sends one chunk of audio in the leg's native format.
	SendMedia(payload []byte) error

	// SendClear asks the far end to drop audio queued for playback.
	SendClear() error

	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// WSConn is a Conn over a gorilla websocket.
type WSConn struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	// wmu serializes writes; mu guards the fields below it and is never
	// held across network I/O.
	wmu sync.Mutex

	mu        sync.Mutex
	streamSID string
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps an upgraded websocket. logger may be nil.
func NewWSConn(conn *websocket.Conn, logger *slog.Logger) *WSConn {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSConn{conn: conn, logger: logger, writeTimeout: 5 * time.Second}
}

// Frames implements Conn. It must be consumed by a single goroutine.
func (c *WSConn) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.closed() {
					return
				}
				yield(nil, &TransportError{Op: "read", Err: err})
				return
			}
			f, err := DecodeFrame(data)
			if s, ok := f.(*Start); ok && s.StreamSID != "" {
				c.mu.Lock()
				c.streamSID = s.StreamSID
				c.mu.Unlock()
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

// SendMedia implements Conn.
func (c *WSConn) SendMedia(payload []byte) error {
	data, err := EncodeMedia(c.StreamSID(), payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendClear implements Conn.
func (c *WSConn) SendClear() error {
	data, err := EncodeClear(c.StreamSID())
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *WSConn) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr != nil
}

// StreamSID returns the stream id from the start frame, if seen.
func (c *WSConn) StreamSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSID
}

func (c *WSConn) write(data []byte) error {
	c.mu.Lock()
	closeErr := c.closeErr
	c.mu.Unlock()
	if closeErr != nil {
		return &TransportError{Op: "write", Err: closeErr}
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close implements Conn.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = errConnClosed
		c.mu.Unlock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

var errConnClosed = errors.New("connection closed")

var _ Conn = (*WSConn)(nil)
