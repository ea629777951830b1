// Package telemetry is PAMPAX's Metrics + Correlated Logger (spec §4.12):
// category-scoped structured loggers, a metrics aggregator with pluggable
// sinks, and a correlation id that is mandatory on every line emitted for
// one query. It generalizes codeNERD's internal/logging category-file
// pattern onto a go.uber.org/zap core instead of a raw *log.Logger.
package telemetry

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors spec §4.12's TRACE<DEBUG<INFO<WARN<ERROR ordering. zap has
// no TRACE level, so it is mapped onto zap's Debug level at a lower
// threshold value, and the filter is still enforced strictly here rather
// than relying on zap's own level check.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Format selects the on-disk/stdout line shape.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Logger is a component-scoped structured logger. Every emitted line
// carries a corr_id field; a Logger with no correlation id set still emits
// valid lines with an empty corr_id, but components on the query hot path
// must always call WithCorrID first.
type Logger struct {
	core      *zap.Logger
	component string
	corrID    string
	threshold Level

	mu      sync.Mutex
	history *ring
}

// Config controls logger construction. It mirrors the [logging] TOML table
// from spec §6, as produced by internal/pampaxconfig.
type Config struct {
	Level       Level
	Format      Format
	Output      string // "stdout" | "stderr" | "file"
	FilePath    string
	HistorySize int // ring buffer capacity for error history, 0 disables
}

// New builds a root Logger for the given component name ("assembler",
// "retrieval", "cache", ...), matching codeNERD's per-category logger
// registry but backed by zap.
func New(component string, cfg Config) (*Logger, error) {
	var ws zapcore.WriteSyncer
	switch cfg.Output {
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("telemetry: open log file: %w", err)
		}
		ws = zapcore.AddSync(f)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		ws = zapcore.AddSync(os.Stdout)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	var enc zapcore.Encoder
	if cfg.Format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, ws, zapcore.DebugLevel)
	zl := zap.New(core)

	var hist *ring
	if cfg.HistorySize > 0 {
		hist = newRing(cfg.HistorySize)
	}

	return &Logger{core: zl, component: component, threshold: cfg.Level, history: hist}, nil
}

// WithCorrID returns a child logger bound to a correlation id. Child loggers
// inherit the parent's component, threshold, and error history.
func (l *Logger) WithCorrID(corrID string) *Logger {
	return &Logger{core: l.core, component: l.component, corrID: corrID, threshold: l.threshold, history: l.history}
}

// WithComponent returns a child logger for a sub-component, inheriting the
// correlation id (e.g. "retrieval.bm25" under "retrieval").
func (l *Logger) WithComponent(sub string) *Logger {
	return &Logger{core: l.core, component: l.component + "." + sub, corrID: l.corrID, threshold: l.threshold, history: l.history}
}

func (l *Logger) enabled(lv Level) bool { return lv >= l.threshold }

func (l *Logger) emit(lv Level, op, msg string, extra map[string]interface{}) {
	if !l.enabled(lv) {
		return
	}
	fields := make([]zap.Field, 0, len(extra)+3)
	fields = append(fields, zap.String("component", l.component), zap.String("op", op), zap.String("corr_id", l.corrID))
	for k, v := range extra {
		fields = append(fields, zap.Any(k, v))
	}
	switch lv {
	case LevelTrace, LevelDebug:
		l.core.Debug(msg, fields...)
	case LevelInfo:
		l.core.Info(msg, fields...)
	case LevelWarn:
		l.core.Warn(msg, fields...)
	case LevelError:
		l.core.Error(msg, fields...)
		l.record(op, msg, extra)
	}
}

func (l *Logger) record(op, msg string, extra map[string]interface{}) {
	if l.history == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history.push(errorEvent{op: op, msg: msg, extra: extra})
}

// Trace logs at TRACE level.
func (l *Logger) Trace(op, msg string, extra map[string]interface{}) { l.emit(LevelTrace, op, msg, extra) }

// Debug logs at DEBUG level.
func (l *Logger) Debug(op, msg string, extra map[string]interface{}) { l.emit(LevelDebug, op, msg, extra) }

// Info logs at INFO level.
func (l *Logger) Info(op, msg string, extra map[string]interface{}) { l.emit(LevelInfo, op, msg, extra) }

// Warn logs at WARN level.
func (l *Logger) Warn(op, msg string, extra map[string]interface{}) { l.emit(LevelWarn, op, msg, extra) }

// Error logs at ERROR level and appends to the error history ring buffer.
func (l *Logger) Error(op, msg string, extra map[string]interface{}) { l.emit(LevelError, op, msg, extra) }

// ErrorHistory returns the last N recorded error events, oldest first.
func (l *Logger) ErrorHistory() []errorEvent {
	if l.history == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.snapshot()
}

// errorEvent is one entry of a Logger's error history ring buffer.
type errorEvent struct {
	op    string
	msg   string
	extra map[string]interface{}
}

// ring is a fixed-capacity ring buffer of errorEvents.
type ring struct {
	buf   []errorEvent
	next  int
	count int
}

func newRing(cap int) *ring { return &ring{buf: make([]errorEvent, cap)} }

func (r *ring) push(e errorEvent) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) snapshot() []errorEvent {
	out := make([]errorEvent, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
