// Package xlog is the leveled, key/value logger used throughout this
// module, adapted from the style of the teacher's own log package
// (Info/Warn/Error/Debug with alternating key/value arguments).
package xlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	LevelCrit Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelCrit:
		return "crit"
	case LevelError:
		return "eror"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "dbug"
	case LevelTrace:
		return "trce"
	default:
		return "unkn"
	}
}

// Handler writes a single log record somewhere.
type Handler interface {
	Log(t time.Time, lvl Level, msg string, ctx []interface{})
}

// StreamHandler formats records logfmt-ish and writes them to w.
type StreamHandler struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamHandler(w io.Writer) *StreamHandler {
	return &StreamHandler{w: w}
}

func (h *StreamHandler) Log(t time.Time, lvl Level, msg string, ctx []interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.w, "%s[%s] %s", t.Format("01-02|15:04:05.000"), lvl, msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(h.w, " %v=%v", ctx[i], ctx[i+1])
	}
	fmt.Fprintln(h.w)
}

// Logger is a named logger carrying its own context prefix, in the style
// of a go-ethereum/log15 Logger obtained via log.New(ctx...).
type Logger struct {
	name    string
	ctx     []interface{}
	handler Handler
	level   Level
}

var root = &Logger{handler: NewStreamHandler(os.Stderr), level: LevelInfo}

// Root returns the package-wide default logger.
func Root() *Logger { return root }

// SetHandler replaces the root logger's output sink.
func SetHandler(h Handler) { root.handler = h }

// SetLevel sets the minimum level the root logger emits.
func SetLevel(l Level) { root.level = l }

// New derives a child logger carrying additional static context.
func (l *Logger) New(ctx ...interface{}) *Logger {
	return &Logger{name: l.name, ctx: append(append([]interface{}{}, l.ctx...), ctx...), handler: l.handler, level: l.level}
}

func (l *Logger) log(lvl Level, msg string, ctx []interface{}) {
	if lvl > l.level {
		return
	}
	full := append(append([]interface{}{}, l.ctx...), ctx...)
	l.handler.Log(time.Now(), lvl, msg, full)
}

func (l *Logger) Crit(msg string, ctx ...interface{})  { l.log(LevelCrit, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx) }
func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LevelTrace, msg, ctx) }

// Package-level convenience functions mirroring the teacher's `log.Info(...)`
// call sites (e.g. infernet.infer.go, rpc/server.go).
func Crit(msg string, ctx ...interface{})  { root.log(LevelCrit, msg, ctx) }
func Error(msg string, ctx ...interface{}) { root.log(LevelError, msg, ctx) }
func Warn(msg string, ctx ...interface{})  { root.log(LevelWarn, msg, ctx) }
func Info(msg string, ctx ...interface{})  { root.log(LevelInfo, msg, ctx) }
func Debug(msg string, ctx ...interface{}) { root.log(LevelDebug, msg, ctx) }
func Trace(msg string, ctx ...interface{}) { root.log(LevelTrace, msg, ctx) }

func New(ctx ...interface{}) *Logger { return root.New(ctx...) }
