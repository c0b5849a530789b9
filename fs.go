// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import (
	"io"
	"io/fs"
	"os"
)

// FS is the file-system collaborator used to resolve and read paths.
// Implementations must be safe for concurrent use.
type FS interface {
	// Stat returns information about the named file.
	Stat(name string) (fs.FileInfo, error)
	// ReadDir returns the names of the entries in the named directory.
	// The order is not significant.
	ReadDir(name string) ([]string, error)
	// Open returns a reader for the half-open byte range [lo, hi) of
	// the named file. A negative hi reads to the end of the file.
	Open(name string, lo, hi int64) (io.ReadCloser, error)
}

// OSFS implements [FS] using the os package.
type OSFS struct{}

var _ FS = OSFS{}

// Open implements [FS].
func (OSFS) Open(name string, lo, hi int64) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	if lo > 0 {
		if _, err := f.Seek(lo, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if hi < 0 {
		return f, nil
	}
	return &limitedFile{Reader: io.LimitReader(f, hi-lo), f: f}, nil
}

// ReadDir implements [FS].
func (OSFS) ReadDir(name string) ([]string, error) {
	entries, err := os.ReadDir(name)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names, nil
}

// Stat implements [FS].
func (OSFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// limitedFile reads a prefix of a file, but closes the whole thing.
type limitedFile struct {
	io.Reader
	f *os.File
}

func (l *limitedFile) Close() error { return l.f.Close() }
