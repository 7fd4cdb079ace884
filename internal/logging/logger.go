// Package logging provides structured logging for the engine, its source
// plugins, and the metrics/HTTP plane.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through the dispatch path.
type ContextKey string

// EventIDKey is the context key used to correlate log lines with the event
// that triggered the current rule/action.
const EventIDKey ContextKey = "event_id"

// Logger wraps logrus.Logger with engine-specific field conventions.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the named component ("engine", "filewatcher",
// "scriptsandbox", ...) at the given level ("debug", "info", "warn",
// "error") with either "text" or "json" formatting.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL / LOG_FORMAT environment
// variables, defaulting to "info" / "text".
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "text"
	}
	return New(component, level, format)
}

// With returns a logrus.Entry carrying the component field plus any
// additional fields.
func (l *Logger) With(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithEvent returns an entry tagged with the originating event's ID, for
// dispatch-path log lines that should be correlatable end to end.
func (l *Logger) WithEvent(ctx context.Context, eventID string) *logrus.Entry {
	return l.With(logrus.Fields{"event_id": eventID})
}

// WithError returns an entry tagged with an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.With(logrus.Fields{"error": err.Error()})
}

// Sub returns a new Logger for a nested component name, e.g.
// parent.Sub("filewatcher") -> component "engine.filewatcher".
func (l *Logger) Sub(name string) *Logger {
	return &Logger{Logger: l.Logger, component: l.component + "." + name}
}
