// Package logging wraps zerolog with the bridge's own defaults:
// structured fields, level filtering, and JSON output for production
// with a console-pretty mode for local development. Every long-running
// component (poller, MQTT client, history store, scheduler) receives a
// component-scoped Logger at construction; nothing reaches for a
// package-level global.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the subset of the bridge's logging settings the wrapper
// needs. It mirrors internal/config's LoggingConfig field names.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // json | console
	Output string // stdout | stderr
}

// Logger wraps zerolog.Logger with bridge-specific construction.
type Logger struct {
	zerolog.Logger
}

// New builds a Logger per cfg, tagging every line with service/version.
func New(cfg Config, version string) Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	if strings.ToLower(cfg.Format) == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	l := zerolog.New(output).With().
		Timestamp().
		Str("service", "pdu-bridge").
		Str("version", version).
		Logger()

	return Logger{Logger: l}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child Logger carrying one additional string field —
// the common case (device_id, component) gets its own helper so call
// sites read as logger.With("component", "poller") rather than building a
// zerolog context inline.
func (l Logger) With(key, value string) Logger {
	return Logger{Logger: l.Logger.With().Str(key, value).Logger()}
}

// WithDevice scopes a logger to one device_id, matching the
// "[device_id] message" convention used in health issue strings.
func (l Logger) WithDevice(deviceID string) Logger {
	return l.With("device_id", deviceID)
}

// Default returns an info-level JSON logger for use before
// configuration has loaded.
func Default() Logger {
	return New(Config{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
