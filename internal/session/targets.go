package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/retrace/internal/logging"
	"github.com/dshills/retrace/internal/protocol"
)

type targetKey struct {
	point protocol.Point
	kind  protocol.StepKind
}

// targetCache answers "where does command kind land from point" with a
// generation-stamped cache. Any breakpoint or blackbox mutation clears
// the cache and bumps the generation before it starts, so lookups that
// were already in flight resolve against a stale generation and are
// returned to their caller without being memoized.
type targetCache struct {
	client *protocol.Client
	logger *logging.Logger
	ready  <-chan struct{}

	mu      sync.Mutex
	gen     uint64
	entries map[targetKey]*protocol.PointDescription
	pending int
	settled chan struct{}

	sf singleflight.Group

	// onSettled runs after the last in-flight mutation finishes.
	onSettled func()
}

func newTargetCache(client *protocol.Client, logger *logging.Logger, ready <-chan struct{}) *targetCache {
	return &targetCache{
		client:  client,
		logger:  logger,
		ready:   ready,
		entries: make(map[targetKey]*protocol.PointDescription),
	}
}

// Find resolves the landing point of kind from point, cache first.
// A result resolved under an older generation is still handed to the
// caller; it just is not cached for reuse. Concurrent lookups for the
// same generation, kind and point share one round-trip.
func (tc *targetCache) Find(ctx context.Context, kind protocol.StepKind, point protocol.Point) (*protocol.PointDescription, error) {
	select {
	case <-tc.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	key := targetKey{point: point, kind: kind}
	tc.mu.Lock()
	if target, ok := tc.entries[key]; ok {
		tc.mu.Unlock()
		targetHitsTotal.Inc()
		return target, nil
	}
	gen := tc.gen
	tc.mu.Unlock()
	targetMissesTotal.Inc()

	flight := fmt.Sprintf("%d/%s/%s", gen, kind, point)
	v, err, _ := tc.sf.Do(flight, func() (any, error) {
		tc.mu.Lock()
		if target, ok := tc.entries[key]; ok {
			tc.mu.Unlock()
			return target, nil
		}
		tc.mu.Unlock()

		target, err := tc.client.FindTarget(ctx, kind, point)
		if err != nil {
			return nil, err
		}

		tc.mu.Lock()
		if tc.gen == gen {
			tc.entries[key] = target
		} else {
			targetStaleTotal.Inc()
		}
		tc.mu.Unlock()
		return target, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*protocol.PointDescription), nil
}

// Invalidate runs a mutation that can change future target answers.
// The cache clears and the generation bumps before the mutation starts.
// When the last concurrent mutation finishes, waiters release and
// onSettled fires.
func (tc *targetCache) Invalidate(ctx context.Context, mutate func(context.Context) error) error {
	tc.mu.Lock()
	tc.gen++
	tc.entries = make(map[targetKey]*protocol.PointDescription)
	tc.pending++
	if tc.pending == 1 {
		tc.settled = make(chan struct{})
	}
	tc.mu.Unlock()
	invalidationsTotal.Inc()
	invalidationsPending.Inc()

	err := mutate(ctx)

	tc.mu.Lock()
	tc.pending--
	done := tc.pending == 0
	var settled chan struct{}
	if done {
		settled = tc.settled
		tc.settled = nil
	}
	tc.mu.Unlock()
	invalidationsPending.Dec()

	if done {
		close(settled)
		if tc.onSettled != nil {
			tc.onSettled()
		}
	}
	return err
}

// WaitSettled blocks until no mutation is pending.
func (tc *targetCache) WaitSettled(ctx context.Context) error {
	tc.mu.Lock()
	ch := tc.settled
	tc.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Generation returns the current cache generation.
func (tc *targetCache) Generation() uint64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.gen
}

// Len reports the number of cached targets.
func (tc *targetCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.entries)
}

// Cached returns the memoized target for kind and point, if any.
func (tc *targetCache) Cached(kind protocol.StepKind, point protocol.Point) (*protocol.PointDescription, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	target, ok := tc.entries[targetKey{point: point, kind: kind}]
	return target, ok
}
