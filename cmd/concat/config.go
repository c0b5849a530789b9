// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"vawter.tech/concat"
)

// settings holds the command's configuration. The keys of the YAML
// config file mirror the flags, and flags override the file.
type settings struct {
	Config          string   `yaml:"-"`
	Concurrency     int      `yaml:"concurrency"`
	ContinueOnError bool     `yaml:"continue_on_error"`
	End             int64    `yaml:"end"`
	Exclude         []string `yaml:"exclude"`
	LogLevel        string   `yaml:"log_level"`
	Manifest        string   `yaml:"manifest"`
	Output          string   `yaml:"output"`
	Rate            float64  `yaml:"rate"`
	Start           int64    `yaml:"start"`
}

func defaultSettings() *settings {
	return &settings{
		Concurrency: concat.DefaultConcurrency,
		End:         -1,
		LogLevel:    "warn",
	}
}

// loadSettings reads a YAML config file on top of the defaults.
func loadSettings(path string) (*settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	s := defaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	s.Config = path
	return s, nil
}

// parseArgs returns the settings and the positional arguments. If a
// config file is named, it is loaded and the flags are applied again on
// top of it.
func parseArgs(args []string, stderr io.Writer) (*settings, []string, error) {
	s := defaultSettings()
	flags := s.flagSet(stderr)
	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	if s.Config == "" {
		return s, flags.Args(), nil
	}

	fromFile, err := loadSettings(s.Config)
	if err != nil {
		return nil, nil, err
	}
	flags = fromFile.flagSet(stderr)
	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	return fromFile, flags.Args(), nil
}

func (s *settings) flagSet(stderr io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet("concat", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "usage: concat [flags] input...")
		_, _ = fmt.Fprintln(stderr, "Inputs are files, directories, or - for stdin.")
		flags.PrintDefaults()
	}

	flags.StringVar(&s.Config, "config", s.Config, "a YAML `file` of defaults for these flags")
	flags.IntVar(&s.Concurrency, "concurrency", s.Concurrency, "the number of paths to resolve at once")
	flags.BoolVar(&s.ContinueOnError, "continue", s.ContinueOnError, "skip inputs that cannot be read")
	flags.Int64Var(&s.End, "end", s.End, "the index of the last byte to write, or -1 for all")
	flags.Var((*patterns)(&s.Exclude), "exclude", "skip directory entries matching a glob `pattern`; may be repeated")
	flags.StringVar(&s.LogLevel, "log-level", s.LogLevel, "one of debug, info, warn, or error")
	flags.StringVar(&s.Manifest, "manifest", s.Manifest, "write a JSON or YAML manifest to the `file`")
	flags.StringVar(&s.Output, "o", s.Output, "write to the `file` instead of stdout")
	flags.Float64Var(&s.Rate, "rate", s.Rate, "limit path resolution to this many per second")
	flags.Int64Var(&s.Start, "start", s.Start, "the index of the first byte to write")
	return flags
}

// Logger returns a text logger on stderr.
func (s *settings) Logger(stderr io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})), nil
}

// Options converts the settings into Reader options.
func (s *settings) Options(logger *slog.Logger) []concat.Option {
	end := s.End
	if end < 0 {
		end = concat.Unbounded
	}
	opts := []concat.Option{
		concat.ContinueOnError(s.ContinueOnError),
		concat.WithConcurrency(s.Concurrency),
		concat.WithLogger(logger),
		concat.WithRange(s.Start, end),
	}
	if len(s.Exclude) > 0 {
		opts = append(opts, concat.WithExclude(s.Exclude...))
	}
	if s.Rate > 0 {
		opts = append(opts, concat.WithResolveRate(s.Rate, max(1, int(s.Rate))))
	}
	return opts
}

// patterns is a repeatable string flag.
type patterns []string

var _ flag.Value = (*patterns)(nil)

func (p *patterns) Set(value string) error {
	*p = append(*p, value)
	return nil
}

func (p *patterns) String() string {
	if p == nil {
		return ""
	}
	return strings.Join(*p, ",")
}
