// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package queue contains a bounded-concurrency task queue that delivers
// results in submission order.
//
// Items pushed into a [Queue] are resolved concurrently by a
// [Resolver], up to a configured limit. Resolution may complete in any
// order, but resolved values are handed to [Handlers.Deliver] strictly
// in the order in which their items were pushed. A resolver may also
// replace its item with a list of new items, which take over the
// original item's position in the output order.
//
// The queue runs its resolvers as tasks in a nested [stopper.Context].
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"vawter.tech/concat/internal/barrier"
	"vawter.tech/stopper/v2"
)

// ErrNotInFlight is returned by [Queue.Inject] if no running job
// occupies the requested position.
var ErrNotInFlight = errors.New("no job in flight at that position")

// A Job is a snapshot of a queued item and its position in the output
// order. The position of a job may change after the snapshot was taken
// if earlier jobs are expanded.
type Job[T any] struct {
	Order    int  // Position in the output order when the job started.
	Item     T    // The value passed to Push or Expand.
	Injected bool // True if the job was created by Expand or Inject.
}

// A Resolver processes a single job. It is executed on a separate
// goroutine and must return one of [Deliver], [Expand], or [Fail].
type Resolver[T, R any] func(ctx stopper.Context, job Job[T]) Outcome[T, R]

// Handlers receive notifications from a [Queue]. Calls to the handlers
// are serialized and are made without holding the lock that guards the
// queue's jobs, so a handler may call [Queue.Push], [Queue.Inject], or
// [Queue.Die]. Items pushed from within a handler are ordered after
// every existing item. Handlers must not call [Queue.Wait].
type Handlers[R any] struct {
	// Deliver receives resolved values in submission order.
	Deliver func(R)
	// Error is called as soon as a resolver fails. The failed job's
	// position is removed from the output order.
	Error func(error)
	// Drain is called when no jobs remain queued, running, or waiting
	// to be delivered.
	Drain func()
}

type outcomeKind int

const (
	outcomeDeliver outcomeKind = iota
	outcomeExpand
	outcomeFail
)

// An Outcome is the result of a [Resolver].
type Outcome[T, R any] struct {
	err   error
	items []T
	kind  outcomeKind
	value R
}

// Deliver returns an Outcome that hands the value to [Handlers.Deliver]
// once all earlier positions have been delivered.
func Deliver[T, R any](value R) Outcome[T, R] {
	return Outcome[T, R]{kind: outcomeDeliver, value: value}
}

// Expand returns an Outcome that replaces the job with the given items,
// in place. Expanding to zero items removes the job's position from the
// output order.
func Expand[T, R any](items ...T) Outcome[T, R] {
	return Outcome[T, R]{kind: outcomeExpand, items: items}
}

// Fail returns an Outcome that reports the error to [Handlers.Error]
// and removes the job's position from the output order.
func Fail[T, R any](err error) Outcome[T, R] {
	return Outcome[T, R]{kind: outcomeFail, err: err}
}

type jobState int

const (
	jobQueued jobState = iota
	jobRunning
)

// entry is the mutable bookkeeping for a job that has not yet produced
// an outcome.
type entry[T any] struct {
	job     Job[T]
	removed bool // Set if replaced via Inject while running.
	state   jobState
}

// A Queue runs a [Resolver] over pushed items with bounded concurrency
// and delivers the results in order. All methods are safe for
// concurrent use.
type Queue[T, R any] struct {
	concurrency int
	ctx         stopper.Context
	fn          Resolver[T, R]
	handlers    Handlers[R]
	taskOpts    []stopper.TaskOption // Applied to each resolver call.

	// Serializes settling outcomes with calls to the handlers, so that
	// values released by the barrier are delivered in order.
	deliverMu sync.Mutex

	mu struct {
		sync.Mutex
		dead       bool
		delivering int                 // Values or errors not yet handed off.
		jobs       []*entry[T]         // Queued and running, sorted by order.
		next       int                 // The order assigned by the next Push.
		running    int                 // Jobs currently executing.
		waiting    *barrier.Barrier[R] // Resolved, awaiting earlier orders.
	}
}

// New constructs a Queue that runs up to concurrency resolvers at once.
// The resolvers execute within a stopper that is nested within the
// given context. The task options are applied to every resolver call,
// which allows [stopper.Middleware] such as a rate limit to be
// attached. A job whose call is dropped by a middleware fails with
// [stopper.ErrStopped].
func New[T, R any](
	ctx context.Context,
	concurrency int,
	fn Resolver[T, R],
	handlers Handlers[R],
	opts ...stopper.TaskOption,
) *Queue[T, R] {
	if concurrency <= 0 {
		panic(errors.New("concurrency must be greater than zero"))
	}
	q := &Queue[T, R]{
		concurrency: concurrency,
		ctx:         stopper.WithContext(ctx),
		fn:          fn,
		handlers:    handlers,
		taskOpts:    opts,
	}
	q.mu.waiting = barrier.New[R]()
	return q
}

// Die discards all queued, running, and undelivered work. Outcomes of
// resolvers that are still running are ignored and no further handler
// calls are made. Calling Die more than once is a no-op.
func (q *Queue[T, R]) Die() {
	q.mu.Lock()
	if q.mu.dead {
		q.mu.Unlock()
		return
	}
	q.mu.dead = true
	q.mu.jobs = nil
	q.mu.next = 0
	q.mu.running = 0
	q.mu.waiting.Reset()
	q.mu.Unlock()

	q.ctx.Stop()
}

// Done returns a channel that is closed once the queue has died and all
// resolver goroutines have exited.
func (q *Queue[T, R]) Done() <-chan struct{} { return q.ctx.Done() }

// Idle returns true if no jobs are queued, running, or awaiting
// delivery and no handler is being called for a settled job.
func (q *Queue[T, R]) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idleLocked()
}

// Inject replaces the running job at the given order with the items.
// Every job after it, whether queued, running, or awaiting delivery, is
// renumbered by len(items)-1. The outcome of the replaced job will be
// ignored when its resolver returns.
func (q *Queue[T, R]) Inject(at int, items ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mu.dead {
		return stopper.ErrStopped
	}
	idx, found := q.findLocked(at)
	if !found || q.mu.jobs[idx].state != jobRunning {
		return fmt.Errorf("order %d: %w", at, ErrNotInFlight)
	}
	e := q.mu.jobs[idx]
	e.removed = true
	q.mu.running--
	q.spliceLocked(idx, items)
	q.scheduleLocked()
	return nil
}

// Len returns the number of jobs that are queued or running.
func (q *Queue[T, R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.mu.jobs)
}

// Push appends an item to the queue. It returns false if the queue has
// died.
func (q *Queue[T, R]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mu.dead {
		return false
	}
	q.mu.jobs = append(q.mu.jobs, &entry[T]{job: Job[T]{Order: q.mu.next, Item: item}})
	q.mu.next++
	q.scheduleLocked()
	return true
}

// Running returns the number of resolvers currently executing.
func (q *Queue[T, R]) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.running
}

// Stopping returns a channel that is closed once the queue has died or
// the enclosing stopper has begun to stop.
func (q *Queue[T, R]) Stopping() <-chan struct{} { return q.ctx.Stopping() }

// Wait blocks until the queue has died and all resolver goroutines
// have exited.
func (q *Queue[T, R]) Wait() error { return q.ctx.Wait() }

// findLocked locates the entry with the given order.
func (q *Queue[T, R]) findLocked(order int) (int, bool) {
	return slices.BinarySearchFunc(q.mu.jobs, order, func(e *entry[T], order int) int {
		return e.job.Order - order
	})
}

func (q *Queue[T, R]) idleLocked() bool {
	return len(q.mu.jobs) == 0 && q.mu.waiting.Len() == 0 && q.mu.delivering == 0
}

// run executes the resolver for a single entry.
func (q *Queue[T, R]) run(ctx stopper.Context, e *entry[T], job Job[T]) {
	var out Outcome[T, R]
	var ran bool
	// Call recovers panics from the resolver.
	err := ctx.Call(func(ctx stopper.Context) error {
		ran = true
		out = q.fn(ctx, job)
		return nil
	}, q.taskOpts...)
	switch {
	case err != nil:
		out = Fail[T, R](err)
	case !ran:
		// Dropped by a middleware during a soft stop.
		out = Fail[T, R](stopper.ErrStopped)
	}
	q.settle(e, out)
}

// scheduleLocked starts queued jobs, lowest order first, until the
// concurrency limit is reached.
func (q *Queue[T, R]) scheduleLocked() {
	for _, e := range q.mu.jobs {
		if q.mu.running >= q.concurrency {
			return
		}
		if e.state != jobQueued {
			continue
		}
		e.state = jobRunning
		q.mu.running++
		job := e.job
		if err := q.ctx.Go(func(ctx stopper.Context) error {
			q.run(ctx, e, job)
			return nil
		}); err != nil {
			// The enclosing stopper is shutting down.
			e.state = jobQueued
			q.mu.running--
			return
		}
	}
}

// settle records the outcome of a job and then delivers any values
// that have become releasable.
func (q *Queue[T, R]) settle(e *entry[T], out Outcome[T, R]) {
	q.deliverMu.Lock()
	defer q.deliverMu.Unlock()

	ready, ok := q.settleLocked(e, out)
	if !ok {
		return
	}
	if out.kind == outcomeFail {
		q.notifyError(out.err)
		q.doneDelivering(1)
	}
	for i, v := range ready {
		if q.isDead() {
			q.doneDelivering(len(ready) - i)
			return
		}
		if fn := q.handlers.Deliver; fn != nil {
			fn(v)
		}
		q.doneDelivering(1)
	}
	// A handler may have pushed more items.
	if fn := q.handlers.Drain; fn != nil && q.drained() {
		fn()
	}
}

// settleLocked applies the outcome to the queue's bookkeeping and
// returns the values to deliver. The returned bool is false if the
// outcome was discarded.
func (q *Queue[T, R]) settleLocked(e *entry[T], out Outcome[T, R]) (ready []R, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.mu.dead || e.removed {
		return nil, false
	}
	q.mu.running--

	idx, found := q.findLocked(e.job.Order)
	if !found || q.mu.jobs[idx] != e {
		// Implementation error, not user problem.
		panic(fmt.Sprintf("job at order %d is not tracked", e.job.Order))
	}

	switch out.kind {
	case outcomeDeliver:
		q.mu.jobs = slices.Delete(q.mu.jobs, idx, idx+1)
		q.mu.waiting.Put(e.job.Order, out.value)
	case outcomeExpand:
		q.spliceLocked(idx, out.items)
	case outcomeFail:
		q.spliceLocked(idx, nil)
	default:
		panic(fmt.Sprintf("unknown outcome %d", out.kind))
	}

	for {
		v, ok := q.mu.waiting.Pop()
		if !ok {
			break
		}
		ready = append(ready, v)
	}
	q.mu.delivering += len(ready)
	if out.kind == outcomeFail {
		q.mu.delivering++
	}
	q.scheduleLocked()
	return ready, true
}

// spliceLocked replaces the entry at the index with new entries for the
// items, renumbering everything that follows.
func (q *Queue[T, R]) spliceLocked(idx int, items []T) {
	at := q.mu.jobs[idx].job.Order
	delta := len(items) - 1

	replacements := make([]*entry[T], len(items))
	for i, item := range items {
		replacements[i] = &entry[T]{job: Job[T]{
			Order:    at + i,
			Item:     item,
			Injected: true,
		}}
	}
	for _, later := range q.mu.jobs[idx+1:] {
		later.job.Order += delta
	}
	q.mu.waiting.Shift(at, delta)
	q.mu.jobs = slices.Replace(q.mu.jobs, idx, idx+1, replacements...)
	q.mu.next += delta
}

func (q *Queue[T, R]) doneDelivering(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mu.delivering -= n
}

// drained returns true if the queue is live and has nothing left to
// resolve or deliver.
func (q *Queue[T, R]) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.mu.dead && q.idleLocked()
}

func (q *Queue[T, R]) isDead() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.dead
}

func (q *Queue[T, R]) notifyError(err error) {
	if q.isDead() {
		return
	}
	if fn := q.handlers.Error; fn != nil {
		fn(err)
	}
}
