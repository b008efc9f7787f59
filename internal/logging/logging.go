// Package logging provides session-scoped structured logging for the
// gateway, backed by zerolog (adapted from
// saisudhir14-ai-voice-agent/backend/internal/logger).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide base logger.
var Log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init configures the global logger for development (pretty console) or
// production (structured JSON) output.
func Init(isDevelopment bool) {
	if isDevelopment {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		Log = zerolog.New(output).With().Timestamp().Caller().Logger()
		return
	}
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// WithComponent returns a logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

// WithSession returns a logger tagged with a session id field.
func WithSession(sessionID string) zerolog.Logger {
	return Log.With().Str("session_id", sessionID).Logger()
}

// Logger is the small structured-logging seam the orchestrator core depends
// on (kept from the teacher's pkg/orchestrator/types.go Logger interface) so
// unit tests can inject a no-op implementation instead of a real sink.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOp discards every log call. Used as the default in tests and in any
// sub-session constructed without an explicit logger.
type NoOp struct{}

func (NoOp) Debug(string, ...interface{}) {}
func (NoOp) Info(string, ...interface{})  {}
func (NoOp) Warn(string, ...interface{})  {}
func (NoOp) Error(string, ...interface{}) {}

// Zerolog adapts a zerolog.Logger to the Logger interface, turning the
// teacher's printf-style variadic args into structured zerolog fields
// (alternating key, value pairs, matching the convention already used by
// every call site copied from the teacher).
type Zerolog struct {
	L zerolog.Logger
}

func (z Zerolog) log(ev *zerolog.Event, msg string, args ...interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func (z Zerolog) Debug(msg string, args ...interface{}) { z.log(z.L.Debug(), msg, args...) }
func (z Zerolog) Info(msg string, args ...interface{})  { z.log(z.L.Info(), msg, args...) }
func (z Zerolog) Warn(msg string, args ...interface{})  { z.log(z.L.Warn(), msg, args...) }
func (z Zerolog) Error(msg string, args ...interface{}) { z.log(z.L.Error(), msg, args...) }
