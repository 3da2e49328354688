// Package testutil provides shared test helpers for the discovery engine.
package testutil

import (
	"strings"
	"sync"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

// MockLogger implements logging.Logger and records every entry so tests can
// assert on what a component logged. Children created by With and Named
// write into the same record.
type MockLogger struct {
	mu        *sync.Mutex
	store     *[]LogMessage
	name      string
	inherited []logging.Field
}

// LogMessage is a single entry captured by MockLogger.
type LogMessage struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// NewMockLogger creates an empty MockLogger.
func NewMockLogger() *MockLogger {
	msgs := make([]LogMessage, 0)
	return &MockLogger{mu: &sync.Mutex{}, store: &msgs}
}

func (m *MockLogger) log(level, msg string, fields []logging.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]logging.Field, 0, len(m.inherited)+len(fields))
	all = append(all, m.inherited...)
	all = append(all, fields...)
	*m.store = append(*m.store, LogMessage{Level: level, Logger: m.name, Message: msg, Fields: all})
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.log("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.log("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.log("warn", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...logging.Field) { m.log("error", msg, fields) }
func (m *MockLogger) Fatal(msg string, fields ...logging.Field) { m.log("fatal", msg, fields) }
func (m *MockLogger) Sync() error                               { return nil }

// With returns a child that shares the record and prepends fields.
func (m *MockLogger) With(fields ...logging.Field) logging.Logger {
	child := *m
	child.inherited = append(append([]logging.Field{}, m.inherited...), fields...)
	return &child
}

// Named returns a child that shares the record under a dotted name.
func (m *MockLogger) Named(name string) logging.Logger {
	child := *m
	if m.name == "" {
		child.name = name
	} else {
		child.name = m.name + "." + name
	}
	return &child
}

// GetMessages returns a copy of all recorded entries.
func (m *MockLogger) GetMessages() []LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogMessage, len(*m.store))
	copy(out, *m.store)
	return out
}

// Clear drops all recorded entries.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.store = (*m.store)[:0]
}

// HasMessage reports whether an entry with level and exact msg was recorded.
func (m *MockLogger) HasMessage(level, msg string) bool {
	return m.Count(level, msg) > 0
}

// Count returns how many entries match level and msg.
func (m *MockLogger) Count(level, msg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range *m.store {
		if e.Level == level && e.Message == msg {
			n++
		}
	}
	return n
}

// HasField reports whether any entry whose message contains msgSubstr carries
// a field with key and value.
func (m *MockLogger) HasField(msgSubstr, key string, value interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range *m.store {
		if !strings.Contains(e.Message, msgSubstr) {
			continue
		}
		for _, f := range e.Fields {
			if f.Key == key && f.Value == value {
				return true
			}
		}
	}
	return false
}
