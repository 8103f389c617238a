// Package bridge pairs telephony call legs with reasoning-engine sessions.
//
// A Service owns the session registry. Each call has one Session, keyed by
// the provider's call id, holding at most one engine connection. Audio
// flows in arrival order from the call leg to the engine through
// ServeCallLeg, and engine output flows back through a per-session engine
// goroutine that also writes transcripts and runs in-band tool calls.
//
// A session only moves forward:
//
//	connecting -> active -> closing -> closed
//
// Session.Close may be called from the call leg, the engine goroutine, the
// sweeper and the admin API at once; cleanup runs exactly once and emits a
// single call_end lifecycle event.
package bridge
