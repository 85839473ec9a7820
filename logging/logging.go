// Package logging provides the structured logger used across the mirror. It
// wraps slog for local output and can additionally publish entries to NATS so
// a deployment can stream the mirror's log live without scraping files.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/DiamondLightSource/odinmirror/errors"
)

// Level is the severity of a published log entry.
type Level string

const (
	// LevelDebug marks debug entries
	LevelDebug Level = "DEBUG"
	// LevelInfo marks informational entries
	LevelInfo Level = "INFO"
	// LevelWarn marks warning entries
	LevelWarn Level = "WARN"
	// LevelError marks error entries
	LevelError Level = "ERROR"
)

// Entry is one structured log entry as published on the log subject.
type Entry struct {
	Timestamp string `json:"timestamp"` // RFC3339 format
	Level     Level  `json:"level"`
	Subsystem string `json:"subsystem"`
	Server    string `json:"server"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
}

// Logger logs locally through slog and, when a NATS connection is configured,
// publishes each entry to logs.<server>.<subsystem> for live streaming.
type Logger struct {
	subsystem string
	server    string
	nc        *nats.Conn
	logger    *slog.Logger
	enabled   bool
}

// New creates a Logger for one subsystem of the mirror. The server label
// names the odin server being mirrored, so entries from mirrors of different
// servers land on different subjects. A nil NATS connection disables
// publishing; local slog output always happens.
func New(subsystem, server string, nc *nats.Conn, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		subsystem: subsystem,
		server:    server,
		nc:        nc,
		logger:    logger,
		enabled:   nc != nil,
	}
}

// Slog returns the wrapped slog logger with the subsystem attached, for
// packages that take a plain *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger.With("subsystem", l.subsystem)
}

// Debug logs a debug-level message.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.publish(ctx, LevelDebug, msg, "")
	l.logger.Debug(msg, l.withSubsystem(args)...)
}

// Info logs an info-level message.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.publish(ctx, LevelInfo, msg, "")
	l.logger.Info(msg, l.withSubsystem(args)...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.publish(ctx, LevelWarn, msg, "")
	l.logger.Warn(msg, l.withSubsystem(args)...)
}

// Error logs an error-level message with the error carried as detail and its
// classification attached, so transient transport noise can be filtered from
// genuine failures downstream.
func (l *Logger) Error(ctx context.Context, msg string, err error, args ...any) {
	detail := ""
	if err != nil {
		detail = fmt.Sprintf("%+v", err)
	}
	l.publish(ctx, LevelError, msg, detail)
	l.logger.Error(msg,
		append(l.withSubsystem(args), "error", err, "class", errors.Classify(err).String())...)
}

func (l *Logger) withSubsystem(args []any) []any {
	return append(args, "subsystem", l.subsystem)
}

// Subject returns the NATS subject this logger publishes on.
func (l *Logger) Subject() string {
	return fmt.Sprintf("logs.%s.%s", l.server, l.subsystem)
}

// publish sends the entry to NATS. Publishing failures fall back to local
// logging only; the mirror never fails an operation because its log stream is
// down.
func (l *Logger) publish(ctx context.Context, level Level, message, detail string) {
	if !l.enabled {
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Subsystem: l.subsystem,
		Server:    l.server,
		Message:   message,
		Detail:    detail,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("Failed to marshal log entry", "error", err)
		return
	}

	nc := l.nc
	if nc == nil {
		return
	}

	if err := nc.Publish(l.Subject(), data); err != nil {
		l.logger.Error("Failed to publish log entry", "error", err, "subject", l.Subject())
	}
}
