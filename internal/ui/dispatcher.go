// Package ui serializes presentation-state changes onto a single goroutine, the "UI thread".
// Background work hands its results over with Post or Do instead of touching state directly.
package ui

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/observability"
)

// ErrStopped is returned by Do once the dispatcher has stopped.
var ErrStopped = errors.New("ui dispatcher stopped")

const defaultQueueSize = 64

// Dispatcher runs queued functions one at a time, in order, on the goroutine that called Run.
type Dispatcher struct {
	queue   chan func()
	logger  *zap.Logger
	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

// NewDispatcher returns a dispatcher with room for queueSize pending functions.
func NewDispatcher(queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		queue:  make(chan func(), queueSize),
		logger: observability.Component(logger, "ui"),
		done:   make(chan struct{}),
	}
}

// Run executes queued functions until ctx is done or Stop is called. A panicking function is
// logged and does not stop the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return
		case <-d.done:
			return
		case fn := <-d.queue:
			d.run(fn)
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("ui task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post enqueues fn without waiting for it. When the queue is full Post blocks until there is
// room; after Stop the function is dropped with a warning.
func (d *Dispatcher) Post(fn func()) bool {
	if d.Stopped() {
		d.logger.Warn("ui dispatcher stopped, dropping task")
		return false
	}
	select {
	case d.queue <- fn:
		return true
	case <-d.done:
		d.logger.Warn("ui dispatcher stopped, dropping task")
		return false
	}
}

// Do runs fn on the UI goroutine and waits for it to return. It gives up when ctx is done;
// fn may still run later in that case. Never call Do from a function already running on the
// UI goroutine.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !d.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop ends Run. Functions still queued are discarded. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.done)
}

// Stopped reports whether Stop has been called.
func (d *Dispatcher) Stopped() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stopped
}
