package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/voicebridge/pkg/kv"
)

// KV stores records in a kv.Store. Values are msgpack-encoded.
//
// Key layout:
//
//	call:<provider_call_id>            -> CallRecord
//	callid:<call_id>                   -> CallRecord
//	transcript:<call_id>:<seq>         -> TranscriptEntry
//	lifecycle:<call_id>:<ordinal>      -> LifecycleEvent
//
// Transcript Seq is kept increasing per call id across sessions: an entry
// whose Seq is not above the last stored one for its call is renumbered
// to follow it, so a reconnecting call leg never overwrites earlier turns.
type KV struct {
	store kv.Store
	ord   atomic.Int64
	now   func() time.Time

	mu      sync.Mutex
	lastSeq map[string]int64 // by call id, dropped on call_end
}

// NewKV creates a sink over store.
func NewKV(store kv.Store) *KV {
	s := &KV{store: store, now: time.Now, lastSeq: make(map[string]int64)}
	s.ord.Store(time.Now().UnixNano())
	return s
}

func seqKey(n int64) string {
	return fmt.Sprintf("%020d", n)
}

func (s *KV) ResolveCall(ctx context.Context, providerCallID string) (string, error) {
	if providerCallID == "" {
		return "", errors.New("sink: empty provider call id")
	}
	rec := CallRecord{
		ID:             uuid.NewString(),
		ProviderCallID: providerCallID,
		CreatedAt:      s.now(),
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return "", err
	}
	stored, created, err := s.store.SetNX(ctx, kv.Key{"call", providerCallID}, data)
	if err != nil {
		return "", fmt.Errorf("sink: resolve %s: %w", providerCallID, err)
	}
	if created {
		if err := s.store.Set(ctx, kv.Key{"callid", rec.ID}, data); err != nil {
			return "", fmt.Errorf("sink: resolve %s: %w", providerCallID, err)
		}
		return rec.ID, nil
	}
	var existing CallRecord
	if err := msgpack.Unmarshal(stored, &existing); err != nil {
		return "", fmt.Errorf("sink: decode call record: %w", err)
	}
	return existing.ID, nil
}

func (s *KV) AppendTranscript(ctx context.Context, e TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastSeq[e.CallID]
	if !ok {
		var err error
		if last, err = s.storedSeq(ctx, e.CallID); err != nil {
			return fmt.Errorf("sink: transcript seq for %s: %w", e.CallID, err)
		}
	}
	if e.Seq <= last {
		e.Seq = last + 1
	}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, kv.Key{"transcript", e.CallID, seqKey(e.Seq)}, data); err != nil {
		return err
	}
	s.lastSeq[e.CallID] = e.Seq
	return nil
}

// storedSeq returns the highest transcript Seq stored for callID, or 0.
func (s *KV) storedSeq(ctx context.Context, callID string) (int64, error) {
	var last int64
	for entry, err := range s.store.List(ctx, kv.Key{"transcript", callID}) {
		if err != nil {
			return 0, err
		}
		if len(entry.Key) == 0 {
			continue
		}
		if n, err := strconv.ParseInt(entry.Key[len(entry.Key)-1], 10, 64); err == nil && n > last {
			last = n
		}
	}
	return last, nil
}

func (s *KV) AppendLifecycle(ctx context.Context, e LifecycleEvent) error {
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, kv.Key{"lifecycle", e.CallID, seqKey(s.ord.Add(1))}, data); err != nil {
		return err
	}
	if e.Kind == KindCallEnd {
		s.mu.Lock()
		delete(s.lastSeq, e.CallID)
		s.mu.Unlock()
	}
	return nil
}

func (s *KV) Call(ctx context.Context, callID string) (*CallRecord, error) {
	data, err := s.store.Get(ctx, kv.Key{"callid", callID})
	if err != nil {
		return nil, err
	}
	var rec CallRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *KV) Transcript(ctx context.Context, callID string) ([]TranscriptEntry, error) {
	return list[TranscriptEntry](ctx, s.store, kv.Key{"transcript", callID})
}

func (s *KV) Lifecycle(ctx context.Context, callID string) ([]LifecycleEvent, error) {
	return list[LifecycleEvent](ctx, s.store, kv.Key{"lifecycle", callID})
}

func list[T any](ctx context.Context, store kv.Store, prefix kv.Key) ([]T, error) {
	var out []T
	for entry, err := range store.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		var v T
		if err := msgpack.Unmarshal(entry.Value, &v); err != nil {
			continue // skip malformed entries
		}
		out = append(out, v)
	}
	return out, nil
}

var (
	_ Sink   = (*KV)(nil)
	_ Reader = (*KV)(nil)
)
