// Package logging provides structured logging configuration and utilities.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Pretty bool
	// Secrets are scrubbed from every message and string attribute.
	Secrets []string
	// Output defaults to os.Stdout.
	Output io.Writer
	// LevelVar, when set, is initialised from Level and controls the handler,
	// so the level can be changed after construction.
	LevelVar *slog.LevelVar
}

// NewLogger builds the process logger. Production output is JSON; Pretty
// renders the same records through zerolog's console writer.
func NewLogger(cfg Config) *slog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	redactor := NewRedactor(cfg.Secrets...)
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}
	if cfg.LevelVar != nil {
		cfg.LevelVar.Set(ParseLevel(cfg.Level))
		opts.Level = cfg.LevelVar
	}

	if cfg.Pretty {
		console := zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.Output != nil,
		}
		opts.ReplaceAttr = chainReplace(redactor.ReplaceAttr, consoleFieldNames)
		return slog.New(slog.NewJSONHandler(console, opts))
	}

	opts.ReplaceAttr = redactor.ReplaceAttr
	return slog.New(slog.NewJSONHandler(output, opts))
}

// ParseLevel maps a textual level onto slog. Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return slog.LevelInfo
	}

	switch parsed {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return slog.LevelDebug
	case zerolog.WarnLevel:
		return slog.LevelWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// consoleFieldNames renames slog's built-in keys to the ones zerolog's
// ConsoleWriter expects.
func consoleFieldNames(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		a.Key = zerolog.TimestampFieldName
	case slog.LevelKey:
		a.Key = zerolog.LevelFieldName
		a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
	case slog.MessageKey:
		a.Key = zerolog.MessageFieldName
	}
	return a
}

func chainReplace(fns ...func([]string, slog.Attr) slog.Attr) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		for _, fn := range fns {
			a = fn(groups, a)
		}
		return a
	}
}
