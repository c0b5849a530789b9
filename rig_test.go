// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"vawter.tech/stopper/v2"
	"vawter.tech/stopper/v2/linger"
)

// newStopperForTest constructs a stopper that is stopped and drained
// when the test finishes. Any resolver task still running at that point
// is reported along with the stack that started it.
func newStopperForTest(t *testing.T) stopper.Context {
	const grace = 5 * time.Second

	stdCtx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	t.Cleanup(cancel)

	rec := linger.NewRecorder(10 /* depth */)
	ctx := stopper.WithContext(stdCtx,
		stopper.WithGracePeriod(grace),
		stopper.WithTaskOptions(
			stopper.TaskMiddleware(rec.Middleware),
		),
	)

	t.Cleanup(func() {
		ctx.Stop()
		if err := ctx.Wait(); err != nil {
			t.Errorf("task returned an error: %v", err)
		}
		linger.CheckClean(t, rec)
	})
	return ctx
}

// fixture is a directory tree used by the tests:
//
//	dir1/a       "111\n"
//	dir1/b       "222\n"
//	dir1/c       "333\n"
//	dir2/hello.world  "hahaha\n"
//	dir2/sub/foo.bar  "lalala\n"
//	dog.log      "dog\n"
//	empty        ""
//	emptydir/
//	file1        "hello\n"
//	file2        "world!!\n"
type fixture struct {
	root string
}

func newFixture(t *testing.T) *fixture {
	r := require.New(t)
	root := t.TempDir()
	files := map[string]string{
		"dir1/a":           "111\n",
		"dir1/b":           "222\n",
		"dir1/c":           "333\n",
		"dir2/hello.world": "hahaha\n",
		"dir2/sub/foo.bar": "lalala\n",
		"dog.log":          "dog\n",
		"empty":            "",
		"file1":            "hello\n",
		"file2":            "world!!\n",
	}
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		r.NoError(os.MkdirAll(filepath.Dir(path), 0o755))
		r.NoError(os.WriteFile(path, []byte(data), 0o644))
	}
	r.NoError(os.Mkdir(filepath.Join(root, "emptydir"), 0o755))
	return &fixture{root: root}
}

// Path returns the absolute path of a fixture entry.
func (f *fixture) Path(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}

// readAll drains the Reader using reads of the given size.
func readAll(r io.Reader, size int) (string, error) {
	var sb strings.Builder
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		sb.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
	}
}

// recorder collects callback invocations.
type recorder struct {
	mu       sync.Mutex
	closes   []string
	errs     []error
	manifest []Entry
	ended    int
	opens    []string
	starts   []string
}

func (c *recorder) Options() []Option {
	return []Option{
		OnClose(func(id Identity) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.closes = append(c.closes, id.String())
		}),
		OnError(func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs = append(c.errs, err)
		}),
		OnManifest(func(entries []Entry) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.manifest = entries
			c.ended++
		}),
		OnOpen(func(id Identity) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.opens = append(c.opens, id.String())
		}),
		OnStart(func(id Identity) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.starts = append(c.starts, id.String())
		}),
	}
}

func (c *recorder) Ended() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *recorder) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// fakeFS decorates the real file system with injected failures.
type fakeFS struct {
	OSFS
	openErr    map[string]error
	readDirErr map[string]error
	stat       map[string]fs.FileInfo
}

var _ FS = (*fakeFS)(nil)

func (f *fakeFS) Open(name string, lo, hi int64) (io.ReadCloser, error) {
	if err, ok := f.openErr[name]; ok {
		return nil, err
	}
	return f.OSFS.Open(name, lo, hi)
}

func (f *fakeFS) ReadDir(name string) ([]string, error) {
	if err, ok := f.readDirErr[name]; ok {
		return nil, err
	}
	return f.OSFS.ReadDir(name)
}

func (f *fakeFS) Stat(name string) (fs.FileInfo, error) {
	if info, ok := f.stat[name]; ok {
		return info, nil
	}
	return f.OSFS.Stat(name)
}

// fakeInfo reports an arbitrary file mode.
type fakeInfo struct {
	fs.FileInfo
	mode fs.FileMode
}

func (i *fakeInfo) IsDir() bool       { return i.mode.IsDir() }
func (i *fakeInfo) Mode() fs.FileMode { return i.mode }
func (i *fakeInfo) Size() int64       { return 0 }

// failingReader returns its data and then an error.
type failingReader struct {
	data   string
	err    error
	closed bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func (f *failingReader) Close() error {
	f.closed = true
	return nil
}

var errBoom = errors.New("boom")
