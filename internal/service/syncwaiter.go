package service

import (
	"log/slog"
	"sync"
)

// waiterTable hands out one single-shot channel per correlation ID so a
// suspended goroutine blocks on its own delivery instead of a shared bus.
// The approval gate keys it by task ID.
type waiterTable[T any] struct {
	mu    sync.Mutex
	chans map[string]chan *T
	kind  string // for logging
}

func newWaiterTable[T any](kind string) *waiterTable[T] {
	return &waiterTable[T]{
		chans: make(map[string]chan *T),
		kind:  kind,
	}
}

// await allocates the channel for the given ID. The channel holds one
// element so resolve never blocks on a slow waiter.
func (wt *waiterTable[T]) await(id string) <-chan *T {
	ch := make(chan *T, 1)
	wt.mu.Lock()
	wt.chans[id] = ch
	wt.mu.Unlock()
	return ch
}

// forget drops the channel for the given ID without delivering anything.
func (wt *waiterTable[T]) forget(id string) {
	wt.mu.Lock()
	delete(wt.chans, id)
	wt.mu.Unlock()
}

// resolve hands the payload to the waiter for the given ID and removes it.
// Returns false when nobody is waiting, which callers treat as a stale or
// already-resolved ID.
func (wt *waiterTable[T]) resolve(id string, payload *T) bool {
	wt.mu.Lock()
	ch, ok := wt.chans[id]
	if ok {
		delete(wt.chans, id)
	}
	wt.mu.Unlock()

	if !ok {
		slog.Warn("no waiter registered", "kind", wt.kind, "id", id)
		return false
	}

	ch <- payload
	return true
}
