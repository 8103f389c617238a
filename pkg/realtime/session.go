package realtime

import "iter"

// Session is one engine connection. All send methods are non-blocking and
// preserve call order.
type Session interface {
	// UpdateSession sends session.update.
	UpdateSession(config *SessionConfig) error

	// AppendAudio appends audio, already in the session's input format, to
	// the engine's input buffer.
	AppendAudio(audio []byte) error

	// CommitInput commits the input buffer as a user turn.
	CommitInput() error

	// ClearInput discards uncommitted input audio.
	ClearInput() error

	// CreateResponse asks the engine to respond. opts may be nil.
	CreateResponse(opts *ResponseCreateOptions) error

	// AddFunctionCallOutput returns a tool result to the engine.
	AddFunctionCallOutput(callID, output string) error

	// Events iterates over decoded server frames. A *ProtocolError is
	// yielded for a bad frame and iteration continues; a *TransportError
	// ends iteration.
	Events() iter.Seq2[Event, error]

	// Close closes the connection. It is safe to call more than once.
	Close() error
}
