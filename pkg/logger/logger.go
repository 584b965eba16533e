// Package logger provides the structured logger shared by every component.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const opIDKey ctxKey = "op_id"

// Config controls logger construction.
type Config struct {
	Level     string    // debug|info|warn|error, default info
	Format    string    // json|text, default json
	Output    io.Writer // default os.Stderr
	Component string
}

// Logger is a component-scoped logrus entry.
type Logger struct {
	*logrus.Entry
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	base := logrus.New()

	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stderr)
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	entry := logrus.NewEntry(base)
	if cfg.Component != "" {
		entry = entry.WithField("component", cfg.Component)
	}
	return &Logger{Entry: entry}
}

// NewDefault creates a JSON logger for a component, honouring LOG_LEVEL.
func NewDefault(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Component: component,
	})
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return New(Config{Output: io.Discard, Level: "panic"})
}

// Named returns a child logger for a sub-component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// WithContext returns an entry carrying the operation ID stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry.WithContext(ctx)
	if id := OpID(ctx); id != "" {
		entry = entry.WithField(string(opIDKey), id)
	}
	return entry
}

// WithOpID stores an operation correlation ID in ctx.
func WithOpID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, opIDKey, id)
}

// OpID returns the operation correlation ID stored in ctx.
func OpID(ctx context.Context) string {
	id, _ := ctx.Value(opIDKey).(string)
	return id
}
