// Package logger defines the structured logging interface used across the
// gateway. Every component takes a Logger rather than reaching for a global,
// so tests can supply a no-op implementation and the gateway binary can wire
// up a real one.
package logger

import "go.uber.org/zap"

// Logger takes in a message and tag pairs.
type Logger interface {
	Debug(msg string, tags ...interface{})
	Info(msg string, tags ...interface{})
	Warn(msg string, tags ...interface{})
	Error(msg string, tags ...interface{})
}

type sugared struct {
	s *zap.SugaredLogger
}

// New creates a logger backed by a production zap.Logger (JSON encoding,
// info level, stacktraces on error).
func New() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &sugared{s: z.Sugar()}
}

// NewDevelopment creates a logger backed by a development zap.Logger
// (console encoding, debug level, caller info) for local runs and tests.
func NewDevelopment() Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		z = zap.NewNop()
	}
	return &sugared{s: z.Sugar()}
}

// NewNop creates a logger that discards everything, for tests that need to
// satisfy the interface without asserting on log output.
func NewNop() Logger {
	return &sugared{s: zap.NewNop().Sugar()}
}

func (l *sugared) Debug(msg string, tags ...interface{}) { l.s.Debugw(msg, tags...) }

func (l *sugared) Info(msg string, tags ...interface{}) { l.s.Infow(msg, tags...) }

func (l *sugared) Warn(msg string, tags ...interface{}) { l.s.Warnw(msg, tags...) }

func (l *sugared) Error(msg string, tags ...interface{}) { l.s.Errorw(msg, tags...) }
