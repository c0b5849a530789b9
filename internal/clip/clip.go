// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package clip tracks global byte-range clipping across a sequence of
// concatenated sources.
//
// Sources of a known size are planned ahead of time: the Tracker
// computes which part of the source falls inside the requested range
// and sources outside of it are never opened. Once a source of unknown
// size has been seen, the Tracker becomes uncertain and every later
// source is instead trimmed chunk-by-chunk against the live cursor.
package clip

import "math"

// Unbounded is the end value used when no end has been requested.
const Unbounded = math.MaxInt64

// A Window is the half-open byte range [Lo, Hi) to read from a single
// sized source. Offset is the global position of the source's first
// byte.
type Window struct {
	Offset int64
	Lo, Hi int64
}

// Len returns the number of bytes in the window.
func (w Window) Len() int64 { return w.Hi - w.Lo }

// A Tracker is the range state for one concatenation. It is not safe
// for concurrent use.
type Tracker struct {
	start, end int64 // Inclusive global range.

	emitted   int64 // Bytes that survived clipping.
	located   bool  // The source containing end has been planned.
	pos       int64 // Global position of the next byte read.
	sized     int64 // Total size of planned sources.
	uncertain bool  // A source of unknown size has been seen.
}

// New constructs a Tracker for the inclusive range [start, end]. Use
// [Unbounded] to read to the end of the concatenation.
func New(start, end int64) *Tracker {
	return &Tracker{start: start, end: end}
}

// Emitted returns the number of bytes accepted by [Tracker.Advance].
func (t *Tracker) Emitted() int64 { return t.emitted }

// Pos returns the global cursor.
func (t *Tracker) Pos() int64 { return t.pos }

// Sized returns the total size of all planned sources.
func (t *Tracker) Sized() int64 { return t.sized }

// Uncertain reports whether a source of unknown size has been seen.
func (t *Tracker) Uncertain() bool { return t.uncertain }

// MarkUncertain records that a source of unknown size has entered the
// sequence. Size-based planning is disabled from this point onwards.
func (t *Tracker) MarkUncertain() { t.uncertain = true }

// Plan computes the window for the next source of a known size. It must
// be called in sequence order. The returned bool is false if the source
// contributes no bytes and should be skipped. If the Tracker is
// uncertain, the window covers the whole source and is trimmed at read
// time instead.
func (t *Tracker) Plan(size int64) (Window, bool) {
	if t.uncertain {
		return Window{Offset: -1, Hi: size}, size > 0
	}
	// Everything after the source containing end is out of range.
	if t.located {
		return Window{}, false
	}

	base := t.sized
	w := Window{Offset: base, Hi: size}
	if t.start > base {
		w.Lo = min(t.start-base, size)
	}
	if t.end-base < size {
		t.located = true
		w.Hi = t.end - base + 1
	}
	t.sized += size

	if w.Lo >= size || w.Lo >= w.Hi {
		return Window{}, false
	}
	return w, true
}

// Activate positions the cursor for a source that is about to be read.
// Planned sources pass the window returned by [Tracker.Plan]; a
// negative Offset marks an unplanned source, which continues from
// wherever the planned sources left off.
func (t *Tracker) Activate(w Window) {
	if w.Offset >= 0 {
		t.pos = max(t.pos, w.Offset+w.Lo)
		return
	}
	t.pos = max(t.pos, t.sized)
}

// Done reports whether the cursor has moved past the end of the range.
func (t *Tracker) Done() bool {
	return t.end != Unbounded && t.pos > t.end
}

// Limit caps a read request so that it does not extend past the end of
// the range.
func (t *Tracker) Limit(want int) int {
	if t.end == Unbounded || t.pos > t.end {
		return want
	}
	if remaining := t.end - t.pos + 1; remaining < int64(want) {
		return int(remaining)
	}
	return want
}

// Advance moves the cursor over a chunk of n bytes that was just read
// and returns the sub-slice bounds [lo, hi) of the chunk that fall
// inside the range. The returned bool is true once the end of the range
// has been reached, after which no more data should be read.
func (t *Tracker) Advance(n int) (lo, hi int, done bool) {
	oldPos := t.pos
	t.pos += int64(n)
	hi = n

	if t.start > oldPos {
		if t.start >= t.pos {
			// The entire chunk precedes start.
			return 0, 0, false
		}
		lo = int(t.start - oldPos)
	}
	if t.end != Unbounded && t.end < t.pos-1 {
		hi = int(t.end - oldPos + 1)
	}
	if hi < lo {
		hi = lo
	}
	t.emitted += int64(hi - lo)
	return lo, hi, t.Done()
}
