// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package concat

import "errors"

// Construction errors, returned by [New].
var (
	ErrInvalidConcurrency = errors.New("invalid concurrency")
	ErrInvalidRange       = errors.New("invalid range")
)

// Resolution errors, reported asynchronously.
var (
	ErrDirsNotAllowed    = errors.New("cannot add directories")
	ErrFilesNotAllowed   = errors.New("cannot add files")
	ErrInvalidInput      = errors.New("invalid argument given")
	ErrNotFileOrDir      = errors.New("path given must be either a file or directory")
	ErrStreamsNotAllowed = errors.New("cannot add streams")
)

// ErrEnded is returned by [Reader.Add] once the Reader has ended or
// failed.
var ErrEnded = errors.New("cannot add any more files")
