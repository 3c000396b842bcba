package async

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logging seam of this module: the fail-late
// join's extra-failure warnings and the futex-backed mutex's contention
// warnings log through it. This mirrors the
// eventloop.Logger design (a package-level interface with a swappable
// global default) so that callers can wire in their own backend — zerolog,
// logrus, slog — without this package depending on any one of them
// directly.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// F builds a [Field].
func F(key string, value any) Field { return Field{Key: key, Value: value} }

var globalLogger struct {
	sync.RWMutex
	logger Logger
}

// SetLogger installs the package-wide default [Logger]. Passing nil
// reverts to a no-op logger.
func SetLogger(l Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = l
}

// CurrentLogger returns the package-wide default [Logger] (never nil),
// for use by sibling packages (e.g. the mutex contention warning in
// package sync) that need to log through the same seam without importing
// a concrete backend themselves.
func CurrentLogger() Logger { return getLogger() }

func getLogger() Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	if globalLogger.logger != nil {
		return globalLogger.logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// NewNoOpLogger returns a [Logger] that discards everything.
func NewNoOpLogger() Logger { return noopLogger{} }

// stumpyLogger adapts a *logiface.Logger[*stumpy.Event] (the logging stack
// used across the joeycumines-go-utilpkg pack, see logiface-stumpy) to the
// [Logger] interface.
type stumpyLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// NewStumpyLogger builds the recommended production [Logger], backed by
// logiface+stumpy. Additional stumpy options (writer, time field, etc.) may
// be passed through.
func NewStumpyLogger(opts ...stumpy.Option) Logger {
	args := make([]logiface.Option[*stumpy.Event], 0, len(opts)+1)
	args = append(args, stumpy.L.WithStumpy(opts...))
	return &stumpyLogger{l: stumpy.L.New(args...)}
}

func (s *stumpyLogger) emit(b *logiface.Builder[*stumpy.Event], msg string, fields []Field) {
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "err" {
			b = b.Err(err)
			continue
		}
		b = b.Field(f.Key, f.Value)
	}
	b.Log(msg)
}

func (s *stumpyLogger) Debug(msg string, fields ...Field) { s.emit(s.l.Debug(), msg, fields) }
func (s *stumpyLogger) Info(msg string, fields ...Field)  { s.emit(s.l.Info(), msg, fields) }
func (s *stumpyLogger) Warn(msg string, fields ...Field)  { s.emit(s.l.Warning(), msg, fields) }
func (s *stumpyLogger) Error(msg string, fields ...Field) { s.emit(s.l.Err(), msg, fields) }
