package store

import (
	"sync"

	"github.com/gammazero/deque"
)

// Feed hands pushed items to handle on its own goroutine, in push order.
// The queue is unbounded, so Push never blocks the writer.
type Feed[T any] struct {
	handle func(T)

	mu      sync.Mutex
	queue   deque.Deque[T]
	stopped bool
	wake    chan struct{}
}

func NewFeed[T any](handle func(T)) *Feed[T] {
	f := &Feed[T]{
		handle: handle,
		wake:   make(chan struct{}, 1),
	}
	go f.run()
	return f
}

// Push reports false once the feed is stopped.
func (f *Feed[T]) Push(item T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return false
	}
	f.queue.PushBack(item)
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop drops queued items. An item already handed to handle runs to completion.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return
	}
	f.stopped = true
	f.queue.Clear()
	close(f.wake)
}

func (f *Feed[T]) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.stopped
}

func (f *Feed[T]) next() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero T
	if f.stopped || f.queue.Len() == 0 {
		return zero, false
	}
	return f.queue.PopFront(), true
}

func (f *Feed[T]) run() {
	for range f.wake {
		for {
			item, ok := f.next()
			if !ok {
				break
			}
			f.handle(item)
		}
	}
}
