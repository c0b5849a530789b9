// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Command concat writes the concatenation of files, directories, and
// stdin to stdout.
//
//	concat [flags] input...
//
// Directories are expanded recursively, in lexicographic order. An
// input of - reads from stdin.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
	"vawter.tech/concat"
	"vawter.tech/stopper/v2"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	s, inputs, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "concat: %v\n", err)
		return exitUsage
	}
	if len(inputs) == 0 {
		_, _ = fmt.Fprintln(stderr, "concat: no inputs")
		return exitUsage
	}
	logger, err := s.Logger(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "concat: %v\n", err)
		return exitUsage
	}

	ctx := stopper.WithContext(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	stopper.StopOnReceive(ctx, (<-chan os.Signal)(sig), stopper.StopGracePeriod(time.Second))

	err = concatenate(ctx, s, inputs, stdin, stdout, logger)
	ctx.Stop()
	if waitErr := ctx.Wait(); waitErr != nil {
		logger.Error("background task failed", slog.Any("error", waitErr))
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "concat: %v\n", err)
		return exitError
	}
	return exitOK
}

// concatenate copies the inputs to the output. Errors that were
// skipped because of -continue are returned once all inputs have been
// written.
func concatenate(
	ctx stopper.Context,
	s *settings,
	inputs []string,
	stdin io.Reader,
	stdout io.Writer,
	logger *slog.Logger,
) error {
	items := make([]any, len(inputs))
	for i, input := range inputs {
		items[i] = input
		if input == "-" {
			// Hide any Close method, since the Reader closes streams.
			items[i] = struct{ io.Reader }{stdin}
		}
	}
	r, err := concat.New(ctx, items, s.Options(logger)...)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	out := stdout
	if s.Output != "" {
		f, err := os.Create(s.Output)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if _, err := io.Copy(out, r); err != nil {
		return err
	}
	if s.Manifest != "" {
		if err := writeManifest(s.Manifest, r.Manifest()); err != nil {
			return err
		}
	}
	return errors.Join(r.Errors()...)
}

// writeManifest writes YAML if the file has a .yaml or .yml extension
// and JSON otherwise.
func writeManifest(path string, entries []concat.Entry) error {
	if entries == nil {
		entries = []concat.Entry{}
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(entries)
	default:
		data, err = json.MarshalIndent(entries, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
