// Package plog provides the application's logging front end.
//
// Records flow through slog to two sinks: a console sink that splits INFO and
// below to stdout and WARNING and above to stderr, and an optional append-only
// log file in the fixed line format
//
//	YYYY-MM-DD HH:MM:SS - <COMPONENT> - <message>
//
// shared by every component and by external processes tailing the file. Each
// line is emitted with a single Write call so concurrent writers cannot
// interleave partial lines. The file sink rotates through lumberjack.
package plog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultComponent is the component tag used when a record carries none.
const DefaultComponent = "MOUNTSYNC"

// componentKey is the attribute key that carries the component tag.
const componentKey = "component"

// timeLayout is the timestamp layout of a log file line.
const timeLayout = "2006-01-02 15:04:05"

var levelVar = new(slog.LevelVar)

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

// lineHandler renders records in the fixed log file line format and writes
// each one with a single Write call.
type lineHandler struct {
	w     io.Writer
	attrs []slog.Attr
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= levelVar.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	component := DefaultComponent
	var extras []string

	collect := func(a slog.Attr) {
		if a.Key == componentKey {
			component = a.Value.String()
			return
		}
		extras = append(extras, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	var b strings.Builder
	b.WriteString(r.Time.Format(timeLayout))
	b.WriteString(" - ")
	b.WriteString(component)
	b.WriteString(" - ")
	if r.Level >= slog.LevelWarn {
		b.WriteString(r.Level.String())
		b.WriteString(": ")
	}
	b.WriteString(r.Message)
	for _, extra := range extras {
		b.WriteByte(' ')
		b.WriteString(extra)
	}
	b.WriteByte('\n')

	_, err := h.w.Write([]byte(b.String()))
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &lineHandler{w: h.w, attrs: merged}
}

// WithGroup is accepted but flattened; the line format has no nesting.
func (h *lineHandler) WithGroup(string) slog.Handler { return h }

// fanoutHandler forwards each record to every underlying handler.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	fileSink      io.WriteCloser
)

func consoleHandler() slog.Handler {
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
	return &LevelDispatchHandler{stdoutHandler: stdoutHandler, stderrHandler: stderrHandler}
}

func init() {
	defaultLogger = slog.New(consoleHandler())
}

// SetupFile attaches the append-only log file sink at path. The file rotates
// at maxSizeMB, keeping maxBackups rotated files (compressed). Passing the
// same path again is safe; the previous sink is closed.
func SetupFile(path string, maxSizeMB, maxBackups int) {
	mu.Lock()
	defer mu.Unlock()

	if fileSink != nil {
		_ = fileSink.Close()
	}
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	fileSink = sink
	defaultLogger = slog.New(&fanoutHandler{handlers: []slog.Handler{
		consoleHandler(),
		&lineHandler{w: sink},
	}})
}

// SetOutput redirects all logging to w in the log file line format,
// primarily for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	levelVar.Set(slog.LevelDebug)
	fileSink = nil
	defaultLogger = slog.New(&lineHandler{w: w})
}

// SetLevel sets the minimum level for both sinks.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// LevelFromString maps a config string to a slog level, defaulting to Info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AppendRawLine writes one preformatted line directly to the log file sink,
// bypassing the record format. Used for embedding external tool output
// blocks in the log. A single Write call keeps the line atomic. No-op when
// no file sink is configured.
func AppendRawLine(line string) {
	mu.Lock()
	w := io.Writer(fileSink)
	mu.Unlock()
	if w == nil {
		return
	}
	_, _ = w.Write([]byte(line + "\n"))
}

func logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Logger tags records with a fixed component name.
type Logger struct {
	component string
}

// ForComponent returns a Logger whose records carry the given component tag
// in the log file (e.g. "SYNCER", "WATCHER", "TELEGRAM").
func ForComponent(name string) *Logger {
	return &Logger{component: name}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	logger().Debug(msg, append([]any{componentKey, l.component}, args...)...)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	logger().Info(msg, append([]any{componentKey, l.component}, args...)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	logger().Warn(msg, append([]any{componentKey, l.component}, args...)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	logger().Error(msg, append([]any{componentKey, l.component}, args...)...)
}

// Debug logs a debug message under the default component.
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// Info logs an informational message under the default component.
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs a warning message under the default component.
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message under the default component.
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}
