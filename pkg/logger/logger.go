// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package logger creates the zerolog loggers used across the daemon and
// the CLI. Components never construct loggers themselves; they receive
// one from here (directly or through appctx).
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Mode changes the logging format.
type Mode string

const (
	// JSONMode outputs one JSON object per line.
	JSONMode Mode = "json"
	// ConsoleMode outputs to the console in a human friendly way.
	ConsoleMode Mode = "console"
)

// Option customizes the logger.
type Option func(o *Options)

// Options hold the customizable parameters.
type Options struct {
	Level  string
	Writer io.Writer
	Mode   Mode
}

// WithLevel sets the minimum level to output. Unknown levels fall back
// to info.
func WithLevel(level string) Option {
	return func(o *Options) {
		o.Level = level
	}
}

// WithWriter sets the destination and the format of the output.
func WithWriter(w io.Writer, m Mode) Option {
	return func(o *Options) {
		o.Writer = w
		o.Mode = m
	}
}

// New returns a logger configured by the given options.
func New(opts ...Option) *zerolog.Logger {
	o := &Options{
		Level:  zerolog.InfoLevel.String(),
		Writer: os.Stderr,
		Mode:   JSONMode,
	}
	for _, opt := range opts {
		opt(o)
	}

	lvl, err := zerolog.ParseLevel(o.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	w := o.Writer
	if o.Mode == ConsoleMode {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	return &l
}
