// Package logging configures the global zerolog logger. Components log
// through the package-level logger with a "component" field for filtering.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets up the global logger from the given level, format and
// optional file path. Format "text" writes a console-friendly layout;
// "json" writes raw zerolog JSON, one event per line.
func Configure(level, format, file string) error {
	lvl := parseLevel(level)
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stdout
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", file, err)
		}
		w = f
	}
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if lvl <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger().Level(lvl)
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		log.Error().
			Err(err).
			Str("level", s).
			Msg("Invalid log level, defaulting to info")
		return zerolog.InfoLevel
	}
	return lvl
}
