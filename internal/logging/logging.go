// Package logging builds the zerolog logger shared by the server components.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ASHISH26940/jsondb/internal/config"
)

// New returns a logger writing to w, at debug level when debug is set and
// info level otherwise.
func New(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// FromConfig returns the process logger described by cfg together with a
// closer for the underlying output. Without log_file the logger writes
// human-readable lines to stderr; with it, JSON lines go to a rotated file.
func FromConfig(cfg *config.Config) (zerolog.Logger, io.Closer) {
	if cfg.LogFile == "" {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return New(out, cfg.Debug), nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
	}
	return New(lj, cfg.Debug), lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
