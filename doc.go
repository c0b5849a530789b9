// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package concat joins files, directories, and streams into a single
// ordered byte stream.
//
// Inputs are passed to [New] or added to a [Reader] later with
// [Reader.Add]. Paths are resolved concurrently, up to the limit set by
// [WithConcurrency], but the bytes of each input are always emitted in
// the order in which the inputs were added. Directories are expanded recursively and in place, with
// their entries sorted lexicographically.
//
//	inputs := []any{"header.txt", "chapters", os.Stdin}
//	r, err := concat.New(ctx, inputs, concat.WithRange(10, 99))
//	if err != nil {
//	  return err
//	}
//	defer r.Close()
//	_, err = io.Copy(w, r)
//
// # Ranges
//
// [WithStart] and [WithEnd] select an inclusive byte range of the
// concatenated output. Sources of a known size that fall outside of the
// range are never opened and files that straddle a boundary are opened
// at an offset. Once a stream of unknown size has been added, every
// later source is read in full and trimmed as it passes through.
//
// # Errors
//
// By default, the first error that is encountered causes every
// subsequent call to [Reader.Read] to return that error. With
// [ContinueOnError], failing inputs are skipped and reported through
// [OnError] and [Reader.Errors] instead.
//
// # Manifest
//
// Every source that contributed at least one byte is recorded in the
// manifest, along with the number of bytes it contributed. The
// manifest is available from [Reader.Manifest] and is passed to the
// [OnManifest] callback just before the Reader reports [io.EOF].
package concat
