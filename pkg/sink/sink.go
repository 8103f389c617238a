// Package sink persists call transcripts and lifecycle events.
//
// The bridge writes through a Sink and never waits on storage: Async puts
// writes on a queue drained by one worker, KV stores records in a kv.Store,
// and Archiver writes a JSON document per call to a storage.FileStore once
// the call ends.
package sink

import (
	"context"
	"time"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Kind is the kind of a lifecycle event.
type Kind string

const (
	KindCallStart Kind = "call_start"
	KindStop      Kind = "stop"
	KindError     Kind = "error"
	KindCallEnd   Kind = "call_end"
)

// TranscriptEntry is one utterance of a call. Seq increases monotonically
// per call.
type TranscriptEntry struct {
	CallID    string    `msgpack:"call_id" json:"call_id"`
	Seq       int64     `msgpack:"seq" json:"seq"`
	Role      Role      `msgpack:"role" json:"role"`
	Content   string    `msgpack:"content" json:"content"`
	Timestamp time.Time `msgpack:"ts" json:"timestamp"`
}

// LifecycleEvent records a state change of a call.
type LifecycleEvent struct {
	CallID    string         `msgpack:"call_id" json:"call_id"`
	Kind      Kind           `msgpack:"kind" json:"kind"`
	Payload   map[string]any `msgpack:"payload,omitempty" json:"payload,omitempty"`
	Timestamp time.Time      `msgpack:"ts" json:"timestamp"`
}

// CallRecord maps a provider call id to the internal call id.
type CallRecord struct {
	ID             string    `msgpack:"id" json:"id"`
	ProviderCallID string    `msgpack:"provider_call_id" json:"provider_call_id"`
	CreatedAt      time.Time `msgpack:"created_at" json:"created_at"`
}

// Sink receives call records.
type Sink interface {
	// ResolveCall returns the internal call id for a provider call id,
	// creating one on first use.
	ResolveCall(ctx context.Context, providerCallID string) (string, error)

	AppendTranscript(ctx context.Context, e TranscriptEntry) error
	AppendLifecycle(ctx context.Context, e LifecycleEvent) error
}

// Reader reads back what a Sink stored.
type Reader interface {
	Call(ctx context.Context, callID string) (*CallRecord, error)
	Transcript(ctx context.Context, callID string) ([]TranscriptEntry, error)
	Lifecycle(ctx context.Context, callID string) ([]LifecycleEvent, error)
}
