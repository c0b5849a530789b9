// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"vawter.tech/concat/queue"
	"vawter.tech/stopper/v2"
)

type outcome = queue.Outcome[any, *source]

// resolve classifies a single input. It is executed by the queue with
// bounded concurrency.
func (r *Reader) resolve(_ stopper.Context, job queue.Job[any]) outcome {
	switch t := job.Item.(type) {
	case string:
		return r.resolvePath(t, job.Injected)
	case io.Reader:
		if !r.cfg.allowStreams {
			return queue.Fail[any, *source](ErrStreamsNotAllowed)
		}
		return queue.Deliver[any](newStreamSource(t))
	default:
		return queue.Fail[any, *source](fmt.Errorf("%w: %v", ErrInvalidInput, t))
	}
}

// resolvePath stats the path. Files are delivered with their size and
// directories are replaced by their sorted entries. Entries of an
// expanded directory are injected, which exempts them from the
// AllowFiles check.
func (r *Reader) resolvePath(path string, injected bool) outcome {
	info, err := r.cfg.fs.Stat(path)
	if err != nil {
		return queue.Fail[any, *source](err)
	}

	switch {
	case info.Mode().IsRegular():
		if !injected && !r.cfg.allowFiles {
			return queue.Fail[any, *source](fmt.Errorf("%s: %w", path, ErrFilesNotAllowed))
		}
		return queue.Deliver[any](newFileSource(path, info.Size()))

	case info.IsDir():
		if !r.cfg.allowDirs {
			return queue.Fail[any, *source](fmt.Errorf("%s: %w", path, ErrDirsNotAllowed))
		}
		names, err := r.cfg.fs.ReadDir(path)
		if err != nil {
			return queue.Fail[any, *source](err)
		}
		slices.Sort(names)

		children := make([]any, 0, len(names))
		for _, name := range names {
			child := filepath.Join(path, name)
			if r.excluded(child) {
				r.log.Debug("excluded", slog.String("path", child))
				continue
			}
			children = append(children, child)
		}
		r.log.Debug("expanded directory",
			slog.String("path", path),
			slog.Int("entries", len(children)))
		return queue.Expand[any, *source](children...)

	default:
		return queue.Fail[any, *source](fmt.Errorf("%s: %w", path, ErrNotFileOrDir))
	}
}

// excluded returns true if the path or its base name matches any of the
// exclusion patterns.
func (r *Reader) excluded(path string) bool {
	if len(r.cfg.exclude) == 0 {
		return false
	}
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, pattern := range r.cfg.exclude {
		// Patterns were validated by New.
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
