package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/voicebridge/pkg/storage"
)

// Summarizer produces a short summary of a finished call.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []TranscriptEntry) (string, error)
}

// Document is the archived form of one call.
type Document struct {
	CallID         string            `json:"call_id"`
	ProviderCallID string            `json:"provider_call_id,omitempty"`
	Transcript     []TranscriptEntry `json:"transcript"`
	Lifecycle      []LifecycleEvent  `json:"lifecycle"`
	Summary        string            `json:"summary,omitempty"`

	Disposition     string    `json:"disposition,omitempty"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	ArchivedAt      time.Time `json:"archived_at"`
}

// ArchivePath returns calls/YYYY/MM/DD/<call_id>.json for the UTC day of t.
func ArchivePath(callID string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("calls/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), callID)
}

// DefaultArchiveTimeout bounds one archive when Archiver.Timeout is zero.
const DefaultArchiveTimeout = 60 * time.Second

// Archiver forwards to Sink and, on call_end, writes the call's Document
// to Store. Archiving runs in its own goroutine bounded by Timeout, so a
// slow summary or upload never holds up the lifecycle write. Archive
// failures are logged.
type Archiver struct {
	Sink
	Reader     Reader
	Store      storage.FileStore
	Summarizer Summarizer // optional
	Timeout    time.Duration
	Logger     *slog.Logger

	wg sync.WaitGroup
}

func (a *Archiver) AppendLifecycle(ctx context.Context, e LifecycleEvent) error {
	if err := a.Sink.AppendLifecycle(ctx, e); err != nil {
		return err
	}
	if e.Kind != KindCallEnd {
		return nil
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultArchiveTimeout
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Archive(ctx, e); err != nil {
			a.logger().Warn("archive failed", "call_id", e.CallID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until in-flight archives finish or ctx is done.
func (a *Archiver) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Archive builds and stores the Document for the call that end closes.
func (a *Archiver) Archive(ctx context.Context, end LifecycleEvent) error {
	callID := end.CallID
	doc := Document{CallID: callID, EndedAt: end.Timestamp, ArchivedAt: time.Now()}
	if v, ok := end.Payload["reason"].(string); ok {
		doc.Disposition = v
	}
	if v, ok := end.Payload["ended_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			doc.EndedAt = t
		}
	}
	doc.DurationSeconds = payloadInt(end.Payload["duration_seconds"])
	if rec, err := a.Reader.Call(ctx, callID); err == nil {
		doc.ProviderCallID = rec.ProviderCallID
	}
	var err error
	if doc.Transcript, err = a.Reader.Transcript(ctx, callID); err != nil {
		return err
	}
	if doc.Lifecycle, err = a.Reader.Lifecycle(ctx, callID); err != nil {
		return err
	}
	if a.Summarizer != nil && len(doc.Transcript) > 0 {
		s, err := a.Summarizer.Summarize(ctx, doc.Transcript)
		if err != nil {
			a.logger().Warn("summary failed", "call_id", callID, "error", err)
		} else {
			doc.Summary = s
		}
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}
	return a.Store.Put(ctx, ArchivePath(callID, doc.EndedAt), data, "application/json")
}

// payloadInt reads a number from a lifecycle payload, which holds int64
// when written in-process and other numeric types after decoding.
func payloadInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}

func (a *Archiver) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
