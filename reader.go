// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"vawter.tech/concat/internal/clip"
	"vawter.tech/concat/queue"
	"vawter.tech/stopper/v2"
)

type runState int

const (
	runOpen runState = iota
	runEnded
	runFailed
)

// A Reader concatenates files, directories, and streams into a single
// byte stream. Inputs are resolved concurrently but their bytes are
// always emitted in the order in which they were added, with
// directories expanded in place in lexicographic order.
//
// A Reader takes ownership of the streams added to it: any stream that
// implements [io.Closer] is closed once it has been read or once the
// Reader stops.
//
// Callbacks are invoked in the order in which the events occurred, one
// at a time, and never while the Reader's internal lock is held. A
// callback may call any method other than Read.
//
// Read must not be called concurrently with itself. All other methods
// are safe for concurrent use.
type Reader struct {
	cfg   *config
	id    uuid.UUID
	log   *slog.Logger
	queue *queue.Queue[any, *source]

	readMu sync.Mutex    // Serializes calls to Read.
	wake   chan struct{} // Notifies a blocked Read of a state change.

	mu struct {
		sync.Mutex
		active      *source
		bytesRead   int64
		dispatching bool    // A goroutine is invoking callbacks.
		err         error   // Set if the Reader has failed.
		errs        []error // Errors tolerated by ContinueOnError.
		manifest    []Entry
		notes       []func() // Callbacks awaiting dispatch.
		pending     []*source
		pushed      bool // At least one input has been added.
		state       runState
		track       *clip.Tracker
		unnamed     int // The next index assigned to an unnamed stream.
	}
}

var _ io.ReadCloser = (*Reader)(nil)

// New constructs a Reader over the inputs, which are added as though
// by [Reader.Add]. The context bounds the lifetime of the goroutines
// that resolve inputs. If it is a [stopper.Context], the Reader's work
// is nested within it and the Reader fails with [stopper.ErrStopped]
// once it begins to stop.
//
// A Reader does not end automatically until at least one input has
// been added, so a Reader constructed without inputs blocks in Read
// until [Reader.Add] or [Reader.Close] is called.
func New(ctx context.Context, inputs []any, opts ...Option) (*Reader, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		cfg:  cfg,
		id:   uuid.New(),
		wake: make(chan struct{}, 1),
	}
	r.log = cfg.logger.With(slog.String("concat", r.id.String()))
	r.mu.track = clip.New(cfg.start, cfg.end)
	r.queue = queue.New(ctx, cfg.concurrency, r.resolve, queue.Handlers[*source]{
		Deliver: r.addResolved,
		Error:   r.resolveFailed,
		Drain:   r.signal,
	}, cfg.resolveOpt...)
	r.log.Debug("created",
		slog.Int64("start", cfg.start),
		slog.Int64("end", cfg.end),
		slog.Int("concurrency", cfg.concurrency),
		slog.Int("inputs", len(inputs)))
	if err := r.Add(inputs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Add enqueues inputs for concatenation. Each input must be a path
// string or an [io.Reader]. Invalid inputs are reported asynchronously
// according to the error policy. Add returns [ErrEnded] if the Reader
// has already ended or failed.
func (r *Reader) Add(inputs ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.state != runOpen {
		return ErrEnded
	}
	for _, input := range inputs {
		if !r.queue.Push(input) {
			return ErrEnded
		}
		r.mu.pushed = true
	}
	return nil
}

// BytesRead returns the number of bytes read from sources, including
// bytes that were discarded by range clipping.
func (r *Reader) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.bytesRead
}

// Close ends the Reader. Any open sources are closed and pending inputs
// are discarded. The manifest callback is invoked if the Reader had not
// already ended. Close is idempotent and always returns nil.
func (r *Reader) Close() error {
	r.mu.Lock()
	r.endLocked()
	r.mu.Unlock()
	r.dispatch()
	return nil
}

// Errors returns the errors that were tolerated because of
// [ContinueOnError].
func (r *Reader) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.mu.errs)
}

// ID returns a unique identifier for the Reader, which is also attached
// to its log messages.
func (r *Reader) ID() uuid.UUID { return r.id }

// Manifest returns the sources that have contributed bytes so far, in
// output order.
func (r *Reader) Manifest() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.mu.manifest)
}

// Read implements [io.Reader]. It blocks until data is available, the
// Reader ends, or the Reader fails. Once failed, every call returns the
// failure.
func (r *Reader) Read(p []byte) (int, error) {
	r.readMu.Lock()
	defer r.readMu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	for {
		src, err := r.await()
		if err != nil {
			return 0, err
		}
		if n := r.readFrom(src, p); n > 0 {
			return n, nil
		}
	}
}

// addResolved receives sources from the queue in output order.
func (r *Reader) addResolved(src *source) {
	defer r.dispatch()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mu.state != runOpen {
		// Still owned by the Reader.
		r.closeLocked(src)
		src.moveTo(slotDone)
		return
	}

	if src.sized() {
		w, ok := r.mu.track.Plan(src.size)
		if !ok {
			r.log.Debug("skipping source", slog.String("source", src.id.String()))
			src.moveTo(slotDone)
			return
		}
		src.window = w
	} else {
		r.mu.track.MarkUncertain()
		src.window = clip.Window{Offset: -1}
	}

	if r.mu.active == nil && len(r.mu.pending) == 0 {
		r.activateLocked(src)
	} else {
		src.moveTo(slotPending)
		r.mu.pending = append(r.mu.pending, src)
	}
	r.signal()
}

// resolveFailed receives resolution errors from the queue.
func (r *Reader) resolveFailed(err error) {
	r.mu.Lock()
	r.failedLocked(err)
	r.mu.Unlock()
	r.dispatch()
}

// activateLocked makes the source the active source.
func (r *Reader) activateLocked(src *source) {
	if !src.id.Named() {
		src.id.Index = r.mu.unnamed
		r.mu.unnamed++
	}
	src.moveTo(slotActive)
	r.mu.active = src
	r.mu.track.Activate(src.window)
	r.log.Debug("source active", slog.String("source", src.id.String()))
	if fn := r.cfg.onStart; fn != nil {
		id := src.id
		r.noteLocked(func() { fn(id) })
	}
}

// await blocks until there is an active source to read from or the
// Reader is no longer open. File-backed sources are opened on their
// first read.
func (r *Reader) await() (*source, error) {
	for {
		r.mu.Lock()
		src, wait, err := r.nextLocked()
		r.mu.Unlock()
		r.dispatch()

		if err != nil {
			return nil, err
		}
		if wait {
			select {
			case <-r.wake:
			case <-r.queue.Stopping():
				// The enclosing stopper is shutting down.
				r.mu.Lock()
				r.abortLocked(stopper.ErrStopped)
				r.mu.Unlock()
				r.dispatch()
			}
			continue
		}
		if src.stream != nil {
			return src, nil
		}
		if r.open(src) {
			return src, nil
		}
	}
}

// nextLocked determines what Read should do next. It returns the
// source to read from, true if the caller should wait for a state
// change, or an error if the Reader has ended or failed.
func (r *Reader) nextLocked() (*source, bool, error) {
	switch r.mu.state {
	case runEnded:
		return nil, false, io.EOF
	case runFailed:
		return nil, false, r.mu.err
	}
	if r.mu.active == nil && len(r.mu.pending) > 0 {
		next := r.mu.pending[0]
		r.mu.pending[0] = nil
		r.mu.pending = r.mu.pending[1:]
		r.activateLocked(next)
	}
	if r.mu.track.Done() {
		r.endLocked()
		return nil, false, io.EOF
	}
	if r.mu.active != nil {
		return r.mu.active, false, nil
	}
	if r.cfg.autoEnd && r.mu.pushed && r.queue.Idle() {
		r.endLocked()
		return nil, false, io.EOF
	}
	return nil, true, nil
}

// open opens the active file-backed source. It returns false if the
// caller should re-evaluate the Reader's state.
func (r *Reader) open(src *source) bool {
	rc, err := src.openFile(r.cfg.fs)

	defer r.dispatch()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mu.active != src {
		// Torn down while opening.
		if rc != nil {
			_ = rc.Close()
		}
		return false
	}
	if err != nil {
		r.sourceFailedLocked(src, err)
		return false
	}
	src.stream = rc
	r.log.Debug("opened", slog.String("source", src.id.String()))
	if fn := r.cfg.onOpen; fn != nil {
		id := src.id
		r.noteLocked(func() { fn(id) })
	}
	return true
}

// readFrom performs a single read from the active source and moves the
// in-range bytes to the front of p.
func (r *Reader) readFrom(src *source, p []byte) int {
	r.mu.Lock()
	if r.mu.active != src {
		r.mu.Unlock()
		return 0
	}
	p = p[:r.mu.track.Limit(len(p))]
	r.mu.Unlock()

	count, err := src.stream.Read(p)

	defer r.dispatch()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mu.active != src {
		// Torn down during the read.
		return 0
	}
	src.read += int64(count)
	r.mu.bytesRead += int64(count)
	lo, hi, done := r.mu.track.Advance(count)
	emitted := copy(p, p[lo:hi])
	src.emitted += int64(emitted)

	switch {
	case done:
		r.finishLocked(src)
		r.endLocked()
	case errors.Is(err, io.EOF):
		r.finishLocked(src)
		r.signal()
	case err != nil:
		r.sourceFailedLocked(src, err)
	}
	return emitted
}

// finishLocked retires the active source, recording it in the manifest
// if it contributed any bytes.
func (r *Reader) finishLocked(src *source) {
	src.moveTo(slotDraining)
	if src.emitted > 0 && !src.failed {
		r.mu.manifest = append(r.mu.manifest, Entry{Identity: src.id, Size: src.emitted})
	}
	r.closeLocked(src)
	src.moveTo(slotDone)
	r.mu.active = nil
	r.log.Debug("source finished",
		slog.String("source", src.id.String()),
		slog.Int64("emitted", src.emitted),
		slog.Int64("read", src.read))
}

// closeLocked releases the source's stream.
func (r *Reader) closeLocked(src *source) {
	closed, err := src.close()
	if err != nil {
		r.log.Warn("could not close source",
			slog.String("source", src.id.String()),
			slog.Any("error", err))
	}
	if closed && src.fileBacked() {
		if fn := r.cfg.onClose; fn != nil {
			id := src.id
			r.noteLocked(func() { fn(id) })
		}
	}
}

// sourceFailedLocked applies the error policy to a source that could
// not be opened or read.
func (r *Reader) sourceFailedLocked(src *source, err error) {
	if !r.cfg.continueOnErr {
		r.abortLocked(err)
		return
	}
	src.failed = true
	r.failedLocked(err)
	r.finishLocked(src)
	r.signal()
}

// failedLocked applies the error policy. Tolerated errors are recorded,
// otherwise the Reader fails.
func (r *Reader) failedLocked(err error) {
	if r.mu.state != runOpen {
		return
	}
	if !r.cfg.continueOnErr {
		r.abortLocked(err)
		return
	}
	r.mu.errs = append(r.mu.errs, err)
	r.log.Warn("skipping input", slog.Any("error", err))
	if fn := r.cfg.onError; fn != nil {
		r.noteLocked(func() { fn(err) })
	}
}

// abortLocked fails the Reader, regardless of the error policy. Only
// the first failure is reported.
func (r *Reader) abortLocked(err error) {
	if r.mu.state != runOpen {
		return
	}
	r.mu.state = runFailed
	r.mu.err = err
	r.releaseLocked()
	r.log.Error("failed", slog.Any("error", err))
	if fn := r.cfg.onError; fn != nil {
		r.noteLocked(func() { fn(err) })
	}
	r.signal()
}

// endLocked ends the Reader and emits the manifest. It is a no-op if
// the Reader has already ended or failed.
func (r *Reader) endLocked() {
	if r.mu.state != runOpen {
		return
	}
	r.mu.state = runEnded
	r.releaseLocked()
	r.log.Debug("ended",
		slog.Int64("bytesRead", r.mu.bytesRead),
		slog.Int64("emitted", r.mu.track.Emitted()),
		slog.Int("sources", len(r.mu.manifest)))
	if fn := r.cfg.onManifest; fn != nil {
		manifest := slices.Clone(r.mu.manifest)
		r.noteLocked(func() { fn(manifest) })
	}
	r.signal()
}

// releaseLocked closes every source held by the Reader and stops
// resolving inputs.
func (r *Reader) releaseLocked() {
	if src := r.mu.active; src != nil {
		r.closeLocked(src)
		src.moveTo(slotDone)
		r.mu.active = nil
	}
	for _, src := range r.mu.pending {
		r.closeLocked(src)
		src.moveTo(slotDone)
	}
	r.mu.pending = nil
	r.queue.Die()
}

// signal wakes a blocked call to Read. It never blocks.
func (r *Reader) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// noteLocked enqueues a callback to be invoked by dispatch.
func (r *Reader) noteLocked(fn func()) {
	r.mu.notes = append(r.mu.notes, fn)
}

// dispatch invokes queued callbacks in order. If another goroutine is
// already dispatching, that goroutine will invoke them instead.
func (r *Reader) dispatch() {
	for {
		r.mu.Lock()
		if r.mu.dispatching || len(r.mu.notes) == 0 {
			r.mu.Unlock()
			return
		}
		batch := r.mu.notes
		r.mu.notes = nil
		r.mu.dispatching = true
		r.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		r.mu.Lock()
		r.mu.dispatching = false
		r.mu.Unlock()
	}
}
