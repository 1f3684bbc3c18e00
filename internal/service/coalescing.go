package service

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-display/internal/models"
)

// inFlightFetch is one upstream fetch that several callers may wait on.
type inFlightFetch struct {
	done   chan struct{}
	result models.ForecastBundle
	err    error
}

// requestCoalescer collapses concurrent fetches for the same coordinates into one upstream call.
// The auto-refresh tick, a pull gesture and a panel load often ask for the same location together.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{inFlight: make(map[string]*inFlightFetch)}
}

// Do runs fn for key unless a call for key is already running, in which case it waits for that
// call's result. shared reports whether the result came from another caller's fetch.
//
// fn runs on its own goroutine with a ctx detached from the first caller's cancellation, so the
// fetch is bounded only by the gateway timeout. Any caller whose ctx ends, the first one included,
// stops waiting with ctx.Err(); the fetch continues for the others.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) (models.ForecastBundle, error)) (result models.ForecastBundle, shared bool, err error) {
	rc.mu.Lock()
	req, shared := rc.inFlight[key]
	if !shared {
		req = &inFlightFetch{done: make(chan struct{})}
		rc.inFlight[key] = req
		go rc.run(context.WithoutCancel(ctx), key, req, fn)
	}
	rc.mu.Unlock()

	select {
	case <-req.done:
		return req.result, shared, req.err
	case <-ctx.Done():
		return models.ForecastBundle{}, shared, ctx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, req *inFlightFetch, fn func(ctx context.Context) (models.ForecastBundle, error)) {
	req.result, req.err = fn(ctx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(req.done)
}

// pending returns the number of keys with a fetch in flight.
func (rc *requestCoalescer) pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
