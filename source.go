// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import (
	"fmt"
	"io"
	"sync"

	"vawter.tech/concat/internal/clip"
)

// slotState is the lifecycle of a single source within a Reader.
type slotState int

const (
	// slotIdle sources have been resolved but not yet handed to the
	// sequencer.
	slotIdle slotState = iota
	// slotPending sources are waiting behind the active source.
	slotPending
	// slotActive is the single source currently being read.
	slotActive
	// slotDraining sources have reached the end of their data and are
	// being finalized.
	slotDraining
	// slotDone sources have been closed.
	slotDone
)

func (s slotState) String() string {
	switch s {
	case slotIdle:
		return "idle"
	case slotPending:
		return "pending"
	case slotActive:
		return "active"
	case slotDraining:
		return "draining"
	case slotDone:
		return "done"
	default:
		return fmt.Sprintf("slotState(%d)", int(s))
	}
}

// canTransition enumerates the legal moves between slot states. Any
// state may move directly to done when the Reader is torn down.
func (s slotState) canTransition(to slotState) bool {
	switch to {
	case slotPending:
		return s == slotIdle
	case slotActive:
		return s == slotIdle || s == slotPending
	case slotDraining:
		return s == slotActive
	case slotDone:
		return s != slotDone
	default:
		return false
	}
}

// A source is a resolved, concrete producer of bytes.
type source struct {
	id     Identity
	path   string // Empty for streams.
	size   int64  // Negative if unknown.
	state  slotState
	stream io.Reader // Provided by the caller, or opened on activation.
	window clip.Window

	emitted int64 // Bytes forwarded to the consumer.
	failed  bool  // A read error was tolerated.
	read    int64 // Bytes read before clipping.

	closeOnce sync.Once
	closeErr  error
}

func newFileSource(path string, size int64) *source {
	return &source{
		id:   Identity{Path: path},
		path: path,
		size: size,
	}
}

func newStreamSource(stream io.Reader) *source {
	s := &source{size: -1, stream: stream}
	if n, ok := stream.(namer); ok {
		s.id.Path = n.Name()
	}
	return s
}

// fileBacked returns true if the source is read from a path.
func (s *source) fileBacked() bool { return s.path != "" }

// sized returns true if the size of the source is known ahead of time.
func (s *source) sized() bool { return s.size >= 0 }

// moveTo transitions the slot, panicking on an illegal transition.
func (s *source) moveTo(to slotState) {
	if !s.state.canTransition(to) {
		// Implementation error, not user problem.
		panic(fmt.Sprintf("%s: illegal transition %s -> %s", s.id, s.state, to))
	}
	s.state = to
}

// openFile opens the window of a file-backed source.
func (s *source) openFile(fs FS) (io.ReadCloser, error) {
	hi := int64(-1)
	if s.window.Offset >= 0 {
		hi = s.window.Hi
	}
	return fs.Open(s.path, s.window.Lo, hi)
}

// close releases the underlying stream exactly once. It returns true if
// this call closed a stream that had been opened or provided.
func (s *source) close() (closed bool, err error) {
	s.closeOnce.Do(func() {
		if s.stream == nil {
			return
		}
		closed = true
		if c, ok := s.stream.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return closed, s.closeErr
}
