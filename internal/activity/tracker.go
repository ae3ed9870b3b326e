// Package activity implements the activity/idle detector: a monotonic
// generation counter touched by every PTY read chunk and every
// send_input call, plus an idle-wait primitive gated by that counter.
//
// Grounded on the teacher's idle-polling idiom in the (now superseded)
// heartbeat nudge loop — wait for idle, start a timer, re-check on the
// next state change — generalized into the generation-gated contract
// spec §6 and SPEC_FULL §12 describe (mirroring
// original_source/tests/idle_integration.rs's exact fresh semantics).
package activity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by AwaitIdle when max_wait elapses without the
// requested idle condition being met.
var ErrTimeout = errors.New("activity: idle wait exceeded max_wait")

// Tracker is a monotonic generation counter plus last-touch timestamp.
// Touch is cheap and lock-light enough to call on every PTY read chunk.
type Tracker struct {
	mu         sync.Mutex
	generation uint64
	lastTouch  time.Time
	waiters    []chan struct{}
}

// New creates a Tracker considered active as of now.
func New() *Tracker {
	return &Tracker{lastTouch: time.Now()}
}

// Touch records activity: increments the generation counter, stamps the
// current time, and wakes any AwaitIdle callers blocked on a new
// generation.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.generation++
	t.lastTouch = time.Now()
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Generation returns the current generation counter.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// LastTouch returns the timestamp of the most recent Touch.
func (t *Tracker) LastTouch() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTouch
}

func (t *Tracker) snapshot() (generation uint64, lastTouch time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation, t.lastTouch
}

// addWaiter registers a channel that Touch closes on its next call.
func (t *Tracker) addWaiter() chan struct{} {
	ch := make(chan struct{})
	t.mu.Lock()
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()
	return ch
}

// IdleWaitOptions parameterizes AwaitIdle per spec §6.
type IdleWaitOptions struct {
	// Timeout is the span of silence required to consider the tracker idle.
	Timeout time.Duration
	// MaxWait is the overall deadline for the call.
	MaxWait time.Duration
	// LastGeneration, if non-nil, requires a touch with generation strictly
	// greater than *LastGeneration before the idle window is allowed to
	// start — "only consider a new idle period".
	LastGeneration *uint64
	// Fresh requires observing at least Timeout of real silence starting
	// no earlier than the AwaitIdle call itself, even if the tracker is
	// already idle when called.
	Fresh bool
}

// IdleWaitResult carries the generation observed at the moment idleness
// was confirmed.
type IdleWaitResult struct {
	Generation uint64
}

// AwaitIdle blocks until the tracker has been silent for Timeout,
// honoring LastGeneration and Fresh, or until MaxWait elapses (returning
// ErrTimeout) or ctx is canceled.
func (t *Tracker) AwaitIdle(ctx context.Context, opts IdleWaitOptions) (IdleWaitResult, error) {
	deadline := time.Now().Add(opts.MaxWait)
	windowStart := time.Now()

	if opts.LastGeneration != nil {
		for {
			gen, _ := t.snapshot()
			if gen > *opts.LastGeneration {
				break
			}
			if err := t.sleepUntil(ctx, deadline); err != nil {
				return IdleWaitResult{}, err
			}
		}
	}

	for {
		gen, lastTouch := t.snapshot()
		effective := lastTouch
		if opts.Fresh && effective.Before(windowStart) {
			effective = windowStart
		}
		remaining := opts.Timeout - time.Since(effective)
		if remaining <= 0 {
			return IdleWaitResult{Generation: gen}, nil
		}
		wakeAt := time.Now().Add(remaining)
		if wakeAt.After(deadline) {
			wakeAt = deadline
		}
		if err := t.sleepUntil(ctx, wakeAt); err != nil {
			return IdleWaitResult{}, err
		}
		if time.Now().After(deadline) || time.Now().Equal(deadline) {
			// One more check: we may have gone idle exactly as the
			// deadline arrived.
			gen, lastTouch = t.snapshot()
			effective = lastTouch
			if opts.Fresh && effective.Before(windowStart) {
				effective = windowStart
			}
			if opts.Timeout-time.Since(effective) <= 0 {
				return IdleWaitResult{Generation: gen}, nil
			}
			if time.Now().After(deadline) {
				return IdleWaitResult{}, ErrTimeout
			}
		}
	}
}

// sleepUntil blocks until wakeAt, ctx is canceled, or a Touch occurs
// (whichever is first), returning early on any of these.
func (t *Tracker) sleepUntil(ctx context.Context, wakeAt time.Time) error {
	remaining := time.Until(wakeAt)
	if remaining < 0 {
		remaining = 0
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	waiter := t.addWaiter()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-waiter:
		return nil
	}
}
