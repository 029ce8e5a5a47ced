package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer is implemented by handlers that buffer records and need an
// explicit flush on shutdown.
type Closer interface {
	Close()
}

// nopCloser is returned when logging runs synchronously.
type nopCloser struct{}

func (nopCloser) Close() {}

// job pairs a record with the handler variant that accepted it, so
// attrs and groups added via WithAttrs/WithGroup survive the queue.
type job struct {
	rec  slog.Record
	sink slog.Handler
}

// queueState is shared by every handler derived from one NewAsyncHandler
// call: all variants feed the same queue and worker set.
type queueState struct {
	jobs    chan job
	workers sync.WaitGroup
	dropped atomic.Int64
}

// AsyncHandler decouples log emission from I/O. Handle enqueues; a fixed
// set of workers writes through the wrapped handler. A full queue drops
// the record and counts it instead of blocking the caller.
type AsyncHandler struct {
	inner slog.Handler
	q     *queueState
}

// NewAsyncHandler starts workers goroutines draining a queue of the
// given capacity into inner.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner: inner,
		q:     &queueState{jobs: make(chan job, capacity)},
	}
	for range workers {
		h.q.workers.Add(1)
		go func() {
			defer h.q.workers.Done()
			for j := range h.q.jobs {
				_ = j.sink.Handle(context.Background(), j.rec)
			}
		}()
	}
	return h
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.q.jobs <- job{rec: rec, sink: h.inner}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler feeding the same queue through an
// attr-extended inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup derives a handler feeding the same queue through a
// group-scoped inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close stops intake and blocks until the workers have flushed the queue.
func (h *AsyncHandler) Close() {
	close(h.q.jobs)
	h.q.workers.Wait()
}
