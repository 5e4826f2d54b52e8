// Package log builds the slog loggers used across skyport.
//
// Every component takes its logger through its constructor and narrows
// it with logger.With(); nothing reads slog's package-level default.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so call sites stay interoperable with
// the rest of the slog ecosystem.
type Logger = *slog.Logger

// Config selects the handler behavior.
type Config struct {
	Level     slog.Level // minimum level, zero value is Info
	JSON      bool       // JSON handler instead of text
	AddSource bool       // annotate records with file:line
}

// New returns a logger writing to stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewNop returns a logger that discards everything. Tests only;
// production paths construct a real logger so failures stay visible.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
