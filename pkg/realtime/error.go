package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrSendQueueFull is wrapped by the TransportError returned when the
	// outbound queue cannot take another frame.
	ErrSendQueueFull = errors.New("realtime: send queue full")

	// ErrClosed is wrapped by the TransportError returned when sending on a
	// closed session.
	ErrClosed = errors.New("realtime: session closed")
)

// Error is a runtime error reported by the engine in an error frame.
type Error struct {
	Type    string `json:"type,omitzero"`
	Code    string `json:"code,omitzero"`
	Message string `json:"message,omitzero"`
	Param   string `json:"param,omitzero"`
	EventID string `json:"event_id,omitzero"`

	// HTTPStatus is set when the engine rejected the websocket handshake.
	HTTPStatus int `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: %s: %s", e.Code, e.Message)
	}
	if e.Type != "" {
		return fmt.Sprintf("realtime: %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("realtime: %s", e.Message)
}

// TransportError reports a failure of the underlying connection. The
// session is unusable after one is returned.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports an inbound frame that could not be decoded or has
// an unrecognized type. The frame is dropped; the session stays usable.
type ProtocolError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "realtime: protocol: " + e.Reason
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
