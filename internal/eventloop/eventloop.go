// Package eventloop runs the handlers of one client one at a time, in the
// order they were posted. Store callbacks and media callbacks never touch
// component state directly; they post onto the loop.
package eventloop

import (
	"sync"

	"github.com/gammazero/workerpool"
)

type Loop struct {
	pool *workerpool.WorkerPool

	mu      sync.RWMutex
	stopped bool
}

func New() *Loop {
	return &Loop{pool: workerpool.New(1)}
}

// Post queues fn and returns immediately. It reports false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.stopped {
		return false
	}
	l.pool.Submit(fn)
	return true
}

// Call runs fn on the loop and waits for it. Never call it from the loop itself.
func (l *Loop) Call(fn func()) bool {
	l.mu.RLock()
	if l.stopped {
		l.mu.RUnlock()
		return false
	}
	done := make(chan struct{})
	l.pool.Submit(func() {
		defer close(done)
		fn()
	})
	l.mu.RUnlock()

	<-done
	return true
}

// Stop runs what is already queued and then refuses new work.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	l.pool.StopWait()
}

func (l *Loop) Stopped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stopped
}
