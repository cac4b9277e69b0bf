package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-know/internal/models"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest struct {
	done  chan struct{}
	entry models.CacheEntry
	err   error
}

// requestCoalescer prevents cache stampede by coalescing concurrent requests for the same key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a call for key is already in flight, in which
// case it waits for that call's result. shared reports whether the result came
// from another caller's request. Waiting is bounded by ctx and the coalescer timeout.
//
// fn runs on a context detached from ctx's cancellation, bounded by the
// coalescer timeout, so one waiter giving up does not fail the others.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (models.CacheEntry, error)) (entry models.CacheEntry, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		go func() {
			defer cancel()
			req.entry, req.err = fn(callCtx)
			rc.mu.Lock()
			delete(rc.inFlight, key)
			rc.mu.Unlock()
			close(req.done)
		}()
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.entry, exists, req.err
	case <-waitCtx.Done():
		return models.CacheEntry{}, exists, waitCtx.Err()
	}
}
