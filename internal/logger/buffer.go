package logger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity tags a buffered record.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityOf maps a zap level onto the buffer's severity scale.
func SeverityOf(l zapcore.Level) Severity {
	switch {
	case l <= zapcore.DebugLevel:
		return SeverityDebug
	case l == zapcore.InfoLevel:
		return SeverityInfo
	case l == zapcore.WarnLevel:
		return SeverityWarning
	case l == zapcore.ErrorLevel:
		return SeverityError
	default:
		return SeverityCritical
	}
}

// Record is a single buffered log line.
type Record struct {
	Timestamp time.Time
	Message   string
	Severity  Severity
}

// DefaultBufferCapacity bounds the buffer when nothing drains it.
const DefaultBufferCapacity = 10000

type buffer struct {
	mu       sync.Mutex
	records  []Record
	capacity int
	dropped  int
	level    zap.AtomicLevel
}

// Buffer is an append-only, in-memory store of log records. It satisfies
// zapcore.Core so it can be teed next to the console output. Safe for
// concurrent use.
type Buffer struct {
	*buffer
	fields []zapcore.Field
}

// NewBuffer creates a Buffer holding at most capacity records. When full the
// oldest record is dropped. capacity <= 0 selects DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{buffer: &buffer{
		capacity: capacity,
		level:    zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}}
}

// SetLevel sets the minimum level captured by the buffer.
func (b *Buffer) SetLevel(l zapcore.Level) {
	b.level.SetLevel(l)
}

// Append adds a record directly, bypassing zap.
func (b *Buffer) Append(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == b.capacity {
		b.records = b.records[1:]
		b.dropped++
	}
	b.records = append(b.records, r)
}

// Drain returns every buffered record and empties the buffer in one step,
// so records appended concurrently land either in this batch or the next.
func (b *Buffer) Drain() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = nil
	return out
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Dropped returns how many records were discarded because the buffer was full.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Enabled implements zapcore.LevelEnabler.
func (b *Buffer) Enabled(l zapcore.Level) bool {
	return b.level.Enabled(l)
}

// With implements zapcore.Core. The returned core shares storage with b.
func (b *Buffer) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(b.fields)+len(fields))
	merged = append(merged, b.fields...)
	merged = append(merged, fields...)
	return &Buffer{buffer: b.buffer, fields: merged}
}

// Check implements zapcore.Core.
func (b *Buffer) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if b.Enabled(ent.Level) {
		return ce.AddCore(ent, b)
	}
	return ce
}

// Write implements zapcore.Core.
func (b *Buffer) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	msg := ent.Message
	if kv := renderFields(b.fields, fields); kv != "" {
		msg += " " + kv
	}
	if ent.Stack != "" {
		msg += "\n" + ent.Stack
	}
	b.Append(Record{
		Timestamp: ent.Time.UTC(),
		Message:   msg,
		Severity:  SeverityOf(ent.Level),
	})
	return nil
}

// Sync implements zapcore.Core.
func (b *Buffer) Sync() error { return nil }

// renderFields flattens structured fields into "key=value" pairs sorted by key.
func renderFields(groups ...[]zapcore.Field) string {
	enc := zapcore.NewMapObjectEncoder()
	for _, fs := range groups {
		for _, f := range fs {
			f.AddTo(enc)
		}
	}
	if len(enc.Fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, enc.Fields[k]))
	}
	return strings.Join(parts, " ")
}
