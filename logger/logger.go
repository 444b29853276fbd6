package logger

import "sync"

type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

// Entry is a log line kept by MemoryLogger.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// MemoryLogger keeps every entry in memory. Safe for concurrent use.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *MemoryLogger) Debug(msg string, fields map[string]any) { m.add("debug", msg, fields) }
func (m *MemoryLogger) Info(msg string, fields map[string]any)  { m.add("info", msg, fields) }
func (m *MemoryLogger) Warn(msg string, fields map[string]any)  { m.add("warn", msg, fields) }
func (m *MemoryLogger) Error(msg string, fields map[string]any) { m.add("error", msg, fields) }

func (m *MemoryLogger) add(level, msg string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Level: level, Message: msg, Fields: fields})
}

// Entries returns a copy of the recorded entries, optionally filtered by
// level.
func (m *MemoryLogger) Entries(level string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
