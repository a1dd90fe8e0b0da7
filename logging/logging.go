// Package logging provides real-time console output for batch execution.
// The ledger file is the durable record of a batch; this package only
// reports what the engine is doing while it happens.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a configuration string to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes levelled, single-line log records.
// Loggers derived with WithComponent share the parent's writer and lock.
type Logger struct {
	sink      *sink
	minLevel  Level
	component string
	batchID   string
}

type sink struct {
	mu     sync.Mutex
	output io.Writer
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger writing to stderr at INFO.
func New() *Logger {
	return &Logger{
		sink:     &sink{output: os.Stderr},
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		sink:      l.sink,
		minLevel:  l.minLevel,
		component: component,
		batchID:   l.batchID,
	}
}

// WithBatchID returns a new logger that tags every record with batch=<id>.
func (l *Logger) WithBatchID(batchID string) *Logger {
	return &Logger{
		sink:      l.sink,
		minLevel:  l.minLevel,
		component: l.component,
		batchID:   batchID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprintf("%v", fields[k])
		if strings.ContainsAny(v, " \t\n\"") {
			v = fmt.Sprintf("%q", v)
		}
		parts = append(parts, k+"="+v)
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if l.batchID != "" {
		merged["batch"] = l.batchID
	}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output.Write([]byte(line))
}

// --- Engine event methods ---

// RunStart logs that a run was admitted and its body is starting.
func (l *Logger) RunStart(runID string, attempt int) {
	l.Debug("run_start", map[string]interface{}{
		"run":     runID,
		"attempt": attempt,
	})
}

// RunComplete logs the end of a run body.
func (l *Logger) RunComplete(runID string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"run":      runID,
		"duration": duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("run_failed", fields)
		return
	}
	l.Debug("run_complete", fields)
}

// RunRecorded logs a ledger row.
func (l *Logger) RunRecorded(runID, variationID string, cost float64, success bool) {
	l.Debug("run_recorded", map[string]interface{}{
		"run":       runID,
		"variation": variationID,
		"cost":      fmt.Sprintf("%.4f", cost),
		"success":   success,
	})
}

// Throttled logs a throttle signal and the backoff it produced.
func (l *Logger) Throttled(failures int, backoff time.Duration, until time.Time) {
	l.Warn("throttled", map[string]interface{}{
		"failures": failures,
		"backoff":  backoff.String(),
		"until":    until.UTC().Format(time.RFC3339),
	})
}

// BudgetDenied logs an admission denial.
func (l *Logger) BudgetDenied(runID, reason string) {
	l.Warn("budget_denied", map[string]interface{}{
		"run":    runID,
		"reason": reason,
	})
}

// CacheEvent logs a cache hit, miss, eviction or store failure.
func (l *Logger) CacheEvent(event, key string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if len(key) > 12 {
		key = key[:12]
	}
	if key != "" {
		fields["key"] = key
	}
	fields["event"] = event
	l.Debug("cache", fields)
}

// BatchStart logs the start of a batch.
func (l *Logger) BatchStart(jobs, parallel int) {
	l.Info("batch_start", map[string]interface{}{
		"jobs":     jobs,
		"parallel": parallel,
	})
}

// BatchComplete logs the end of a batch.
func (l *Logger) BatchComplete(duration time.Duration, completed, failed int, spent float64) {
	l.Info("batch_complete", map[string]interface{}{
		"duration":  duration.Round(time.Millisecond).String(),
		"completed": completed,
		"failed":    failed,
		"spent":     fmt.Sprintf("%.4f", spent),
	})
}
