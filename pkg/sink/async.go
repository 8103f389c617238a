package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/voicebridge/pkg/buffer"
)

// ErrQueueFull is returned by Async when its queue is at capacity. The
// record is dropped.
var ErrQueueFull = errors.New("sink: queue full")

// AsyncConfig configures NewAsync.
type AsyncConfig struct {
	// QueueSize bounds pending writes. Defaults to 1024.
	QueueSize int

	// WriteTimeout bounds each write to the underlying sink. Defaults to 5s.
	WriteTimeout time.Duration

	// ResolveTimeout bounds ResolveCall. Defaults to 2s.
	ResolveTimeout time.Duration

	Logger *slog.Logger
}

type record struct {
	transcript *TranscriptEntry
	lifecycle  *LifecycleEvent
}

// Async is a best-effort Sink. Appends are queued and written by a single
// worker so that the caller never waits on storage; failed writes are
// logged and reported on Errors.
type Async struct {
	next   Sink
	cfg    AsyncConfig
	logger *slog.Logger

	queue *buffer.Buffer[record]
	errs  chan error
	done  chan struct{}
	once  sync.Once
}

// NewAsync starts the worker writing to next.
func NewAsync(next Sink, cfg AsyncConfig) *Async {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		cfg:    cfg,
		logger: logger,
		queue:  buffer.N[record](cfg.QueueSize),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// ResolveCall is synchronous since the caller needs the id; it is bounded
// by ResolveTimeout.
func (a *Async) ResolveCall(ctx context.Context, providerCallID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ResolveTimeout)
	defer cancel()
	return a.next.ResolveCall(ctx, providerCallID)
}

func (a *Async) AppendTranscript(_ context.Context, e TranscriptEntry) error {
	return a.enqueue(record{transcript: &e})
}

func (a *Async) AppendLifecycle(_ context.Context, e LifecycleEvent) error {
	return a.enqueue(record{lifecycle: &e})
}

func (a *Async) enqueue(r record) error {
	if err := a.queue.Add(r); err != nil {
		if errors.Is(err, buffer.ErrFull) {
			err = ErrQueueFull
		}
		a.report(err)
		return err
	}
	return nil
}

// Errors reports write failures. Errors are dropped when nobody reads.
func (a *Async) Errors() <-chan error {
	return a.errs
}

// Pending returns the number of queued writes.
func (a *Async) Pending() int {
	return a.queue.Len()
}

// Close stops accepting writes and waits for the queue to drain or ctx to
// end.
func (a *Async) Close(ctx context.Context) error {
	a.once.Do(func() { a.queue.CloseWrite() })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		a.queue.CloseWithError(ctx.Err())
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for {
		r, err := a.queue.Next()
		if err != nil {
			return
		}
		a.write(r)
	}
}

func (a *Async) write(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	var err error
	var callID string
	switch {
	case r.transcript != nil:
		callID = r.transcript.CallID
		err = a.next.AppendTranscript(ctx, *r.transcript)
	case r.lifecycle != nil:
		callID = r.lifecycle.CallID
		err = a.next.AppendLifecycle(ctx, *r.lifecycle)
	}
	if err != nil {
		a.logger.Warn("sink write failed", "call_id", callID, "error", err)
		a.report(err)
	}
}

func (a *Async) report(err error) {
	select {
	case a.errs <- err:
	default:
	}
}

var _ Sink = (*Async)(nil)
