// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import (
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"vawter.tech/concat/internal/clip"
	"vawter.tech/stopper/v2"
	"vawter.tech/stopper/v2/limit"
)

// DefaultConcurrency is the number of resolve operations that may be
// outstanding at once if [WithConcurrency] is not used.
const DefaultConcurrency = 250

// Unbounded may be passed to [WithEnd] to read to the end of the last
// source.
const Unbounded = clip.Unbounded

// An Option configures a [Reader].
type Option func(cfg *config)

type config struct {
	start, end  int64
	concurrency int

	allowDirs     bool
	allowFiles    bool
	allowStreams  bool
	autoEnd       bool
	continueOnErr bool

	exclude    []string
	fs         FS
	logger     *slog.Logger
	resolveOpt []stopper.TaskOption // Applied to each resolve operation.

	onClose    func(Identity)
	onError    func(error)
	onManifest func([]Entry)
	onOpen     func(Identity)
	onStart    func(Identity)
}

func newConfig(opts []Option) (*config, error) {
	cfg := &config{
		end:          Unbounded,
		concurrency:  DefaultConcurrency,
		allowDirs:    true,
		allowFiles:   true,
		allowStreams: true,
		autoEnd:      true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize fills in collaborators that were not provided.
func (c *config) Sanitize() {
	if c.fs == nil {
		c.fs = OSFS{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
}

// Validate reports invalid option combinations.
func (c *config) Validate() error {
	if c.start < 0 {
		return fmt.Errorf("%w: start must not be negative", ErrInvalidRange)
	}
	if c.end < 0 {
		return fmt.Errorf("%w: end must not be negative", ErrInvalidRange)
	}
	if c.start > c.end {
		return fmt.Errorf("%w: start and end must be start <= end", ErrInvalidRange)
	}
	if c.concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be over 0", ErrInvalidConcurrency)
	}
	for _, pattern := range c.exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: %q", doublestar.ErrBadPattern, pattern)
		}
	}
	return nil
}

// AllowDirs controls whether directories may be added. Defaults to
// true.
func AllowDirs(allow bool) Option {
	return func(cfg *config) { cfg.allowDirs = allow }
}

// AllowFiles controls whether file paths may be added. Files found by
// expanding a directory are always allowed. Defaults to true.
func AllowFiles(allow bool) Option {
	return func(cfg *config) { cfg.allowFiles = allow }
}

// AllowStreams controls whether [io.Reader] values may be added.
// Defaults to true.
func AllowStreams(allow bool) Option {
	return func(cfg *config) { cfg.allowStreams = allow }
}

// AutoEnd controls whether the Reader reports [io.EOF] once every added
// input has been read. If disabled, the Reader waits for more inputs
// until [Reader.Close] is called. Defaults to true.
func AutoEnd(auto bool) Option {
	return func(cfg *config) { cfg.autoEnd = auto }
}

// ContinueOnError controls the error policy. By default, the first
// error stops the Reader. If enabled, failing inputs are reported via
// [OnError] and [Reader.Errors] and are otherwise skipped.
func ContinueOnError(proceed bool) Option {
	return func(cfg *config) { cfg.continueOnErr = proceed }
}

// OnClose registers a callback that receives the identity of a file
// whose descriptor has been closed.
func OnClose(fn func(Identity)) Option {
	return func(cfg *config) { cfg.onClose = fn }
}

// OnError registers a callback that is invoked once for every error.
func OnError(fn func(error)) Option {
	return func(cfg *config) { cfg.onError = fn }
}

// OnManifest registers a callback that receives the manifest once, just
// before the Reader reports [io.EOF].
func OnManifest(fn func([]Entry)) Option {
	return func(cfg *config) { cfg.onManifest = fn }
}

// OnOpen registers a callback that receives the identity of a file
// whose descriptor has been opened.
func OnOpen(fn func(Identity)) Option {
	return func(cfg *config) { cfg.onOpen = fn }
}

// OnStart registers a callback that receives the identity of each
// source as it becomes the active source.
func OnStart(fn func(Identity)) Option {
	return func(cfg *config) { cfg.onStart = fn }
}

// WithConcurrency sets the number of resolve operations (stat or
// directory listing) that may be outstanding at once.
func WithConcurrency(n int) Option {
	return func(cfg *config) { cfg.concurrency = n }
}

// WithEnd sets the global index of the last byte to read, inclusive.
func WithEnd(end int64) Option {
	return func(cfg *config) { cfg.end = end }
}

// WithExclude skips directory entries whose path or base name matches
// any of the doublestar glob patterns. Paths that are added directly
// are never excluded.
func WithExclude(patterns ...string) Option {
	return func(cfg *config) { cfg.exclude = append(cfg.exclude, patterns...) }
}

// WithFS replaces the file-system collaborator. Defaults to [OSFS].
func WithFS(fs FS) Option {
	return func(cfg *config) { cfg.fs = fs }
}

// WithLogger sets the logger. By default, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) { cfg.logger = logger }
}

// WithRange sets the global inclusive byte range to read.
func WithRange(start, end int64) Option {
	return func(cfg *config) {
		cfg.start = start
		cfg.end = end
	}
}

// WithResolveRate limits the rate of resolve operations to r per
// second, allowing bursts of up to b.
func WithResolveRate(r float64, b int) Option {
	return func(cfg *config) {
		cfg.resolveOpt = append(cfg.resolveOpt,
			stopper.TaskMiddleware(limit.WithMaxRate(r, b)))
	}
}

// WithStart sets the global index of the first byte to read.
func WithStart(start int64) Option {
	return func(cfg *config) { cfg.start = start }
}
