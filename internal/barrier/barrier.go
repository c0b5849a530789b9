// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package barrier contains an ordered barrier, which releases values
// that become ready in an arbitrary order strictly in the order of
// their assigned position.
package barrier

import "fmt"

// A Barrier holds values keyed by an order number and releases them
// when a monotonic counter reaches their order. A Barrier is not safe
// for concurrent use; callers are expected to guard it with the same
// lock that protects the order numbers.
type Barrier[T any] struct {
	next  int       // The order of the next value to release.
	ready map[int]T // Values waiting for the counter to catch up.
}

// New constructs an empty Barrier whose counter starts at zero.
func New[T any]() *Barrier[T] {
	return &Barrier[T]{ready: make(map[int]T)}
}

// Len returns the number of values held by the Barrier.
func (b *Barrier[T]) Len() int { return len(b.ready) }

// Next returns the order of the next value that will be released.
func (b *Barrier[T]) Next() int { return b.next }

// Pop releases the value for the current counter position, if it is
// ready, and advances the counter.
func (b *Barrier[T]) Pop() (T, bool) {
	v, ok := b.ready[b.next]
	if !ok {
		return v, false
	}
	delete(b.ready, b.next)
	b.next++
	return v, true
}

// Put records a value for the given order. It panics if the order has
// already been released or is already occupied, since either indicates
// corrupted order bookkeeping.
func (b *Barrier[T]) Put(order int, v T) {
	if order < b.next {
		panic(fmt.Sprintf("order %d already released (next is %d)", order, b.next))
	}
	if _, dup := b.ready[order]; dup {
		panic(fmt.Sprintf("order %d is already occupied", order))
	}
	b.ready[order] = v
}

// Reset discards all held values and rewinds the counter.
func (b *Barrier[T]) Reset() {
	b.next = 0
	clear(b.ready)
}

// Shift renumbers every held value whose order is greater than after by
// delta. It is used when a single in-flight position is replaced by
// zero or more positions. The position at after must not have been
// released.
func (b *Barrier[T]) Shift(after, delta int) {
	if delta == 0 {
		return
	}
	if after < b.next {
		panic(fmt.Sprintf("cannot shift after released order %d", after))
	}
	shifted := make(map[int]T, len(b.ready))
	for order, v := range b.ready {
		if order > after {
			order += delta
		}
		shifted[order] = v
	}
	b.ready = shifted
}
