/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process, writing to stderr so command
// output on stdout stays machine-readable.
func Setup(environment, level string, tee ...io.Writer) zerolog.Logger {
	return SetupWithWriter(environment, level, os.Stderr, tee...)
}

// SetupWithWriter configures zerolog on w. Development gets a console writer
// at debug level; other environments get JSON lines at info level. A
// non-empty level overrides the environment default. Writers in tee always
// receive the JSON form.
func SetupWithWriter(environment, level string, w io.Writer, tee ...io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl := zerolog.InfoLevel
	if environment == "development" {
		lvl = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			lvl = parsed
		}
	}

	if len(tee) > 0 {
		w = zerolog.MultiLevelWriter(append([]io.Writer{w}, tee...)...)
	}

	logger := zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	log.Logger = logger
	return logger
}
