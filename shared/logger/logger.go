package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log categories. Every record carries exactly one of these. The active
// mask sets the logger's level: with the trace bit set, records of both
// categories are emitted; with only the error bit, only error-category
// records; with neither, none.
const (
	CatTrace uint = 1 << 0
	CatError uint = 1 << 1
)

// Ctx is the logging context to attach to a record.
type Ctx map[string]any

// Logger is implemented by the package-level helpers and by the contextual
// loggers returned from AddContext.
type Logger interface {
	Trace(msg string, ctx ...Ctx)
	Debug(msg string, ctx ...Ctx)
	Info(msg string, ctx ...Ctx)
	Warn(msg string, ctx ...Ctx)
	Error(msg string, ctx ...Ctx)
	AddContext(ctx Ctx) Logger
}

// Log is the shared logger instance. It defaults to the process stderr with
// every category enabled; Init replaces both.
var Log = newTargetLogger(os.Stderr, CatTrace|CatError)

var activeMask = CatTrace | CatError

// Init points the shared logger at w and applies the category mask.
func Init(w io.Writer, mask uint) {
	Log = newTargetLogger(w, mask)
	activeMask = mask
}

// TraceEnabled reports whether trace-category records are being emitted.
func TraceEnabled() bool {
	return activeMask&CatTrace != 0
}

func newTargetLogger(w io.Writer, mask uint) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&lineFormatter{})

	switch {
	case mask&CatTrace != 0:
		l.SetLevel(logrus.DebugLevel)
	case mask&CatError != 0:
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetLevel(logrus.PanicLevel)
	}

	return &targetLogger{logger: l}
}

type targetLogger struct {
	logger *logrus.Logger
}

func (t *targetLogger) Trace(msg string, ctx ...Ctx) { t.entry(ctx).Debug(msg) }
func (t *targetLogger) Debug(msg string, ctx ...Ctx) { t.entry(ctx).Debug(msg) }
func (t *targetLogger) Info(msg string, ctx ...Ctx)  { t.entry(ctx).Info(msg) }
func (t *targetLogger) Warn(msg string, ctx ...Ctx)  { t.entry(ctx).Warn(msg) }
func (t *targetLogger) Error(msg string, ctx ...Ctx) { t.entry(ctx).Error(msg) }

func (t *targetLogger) AddContext(ctx Ctx) Logger {
	return &entryLogger{entry: t.entry([]Ctx{ctx})}
}

func (t *targetLogger) entry(ctx []Ctx) *logrus.Entry {
	entry := logrus.NewEntry(t.logger)
	for _, c := range ctx {
		entry = entry.WithFields(logrus.Fields(c))
	}

	return entry
}

type entryLogger struct {
	entry *logrus.Entry
}

func (e *entryLogger) Trace(msg string, ctx ...Ctx) { e.with(ctx).Debug(msg) }
func (e *entryLogger) Debug(msg string, ctx ...Ctx) { e.with(ctx).Debug(msg) }
func (e *entryLogger) Info(msg string, ctx ...Ctx)  { e.with(ctx).Info(msg) }
func (e *entryLogger) Warn(msg string, ctx ...Ctx)  { e.with(ctx).Warn(msg) }
func (e *entryLogger) Error(msg string, ctx ...Ctx) { e.with(ctx).Error(msg) }

func (e *entryLogger) AddContext(ctx Ctx) Logger {
	return &entryLogger{entry: e.entry.WithFields(logrus.Fields(ctx))}
}

func (e *entryLogger) with(ctx []Ctx) *logrus.Entry {
	entry := e.entry
	for _, c := range ctx {
		entry = entry.WithFields(logrus.Fields(c))
	}

	return entry
}

// Trace logs a trace-category record through the shared logger.
func Trace(msg string, ctx ...Ctx) { Log.Trace(msg, ctx...) }

// Debug logs a trace-category record through the shared logger.
func Debug(msg string, ctx ...Ctx) { Log.Debug(msg, ctx...) }

// Info logs a trace-category record through the shared logger.
func Info(msg string, ctx ...Ctx) { Log.Info(msg, ctx...) }

// Warn logs an error-category record through the shared logger.
func Warn(msg string, ctx ...Ctx) { Log.Warn(msg, ctx...) }

// Error logs an error-category record through the shared logger.
func Error(msg string, ctx ...Ctx) { Log.Error(msg, ctx...) }

// AddContext returns a contextual logger layered on the shared logger.
func AddContext(ctx Ctx) Logger { return Log.AddContext(ctx) }
