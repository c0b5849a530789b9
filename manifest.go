// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import (
	"fmt"
	"io"
)

// An Identity names a source. File-backed sources and streams that
// have a Name method are identified by their path. Other streams are
// numbered in the order they were activated, starting from zero.
type Identity struct {
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Index int    `json:"index,omitempty" yaml:"index,omitempty"`
}

// Named returns true if the Identity is a path.
func (i Identity) Named() bool { return i.Path != "" }

// String returns the path or a stream placeholder.
func (i Identity) String() string {
	if i.Named() {
		return i.Path
	}
	return fmt.Sprintf("stream#%d", i.Index)
}

// An Entry in the manifest records how many bytes were emitted from a
// source.
type Entry struct {
	Identity `yaml:",inline"`
	Size     int64 `json:"size" yaml:"size"`
}

// namer is implemented by streams that know their path, such as
// [os.File].
type namer interface {
	io.Reader
	Name() string
}
