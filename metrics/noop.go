package metrics

import (
	"sync"
	"time"
)

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// MemoryRecorder counts events in memory, keyed by name and the "code"
// label when present.
type MemoryRecorder struct {
	mu       sync.Mutex
	counts   map[string]int
	observed map[string]int
}

func (m *MemoryRecorder) IncCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[name]++
	if code := labels["code"]; code != "" {
		m.counts[name+":"+code]++
	}
}

func (m *MemoryRecorder) ObserveLatency(name string, _ time.Duration, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observed == nil {
		m.observed = make(map[string]int)
	}
	m.observed[name]++
}

// Count returns how often name (or "name:code") was incremented.
func (m *MemoryRecorder) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// Observations returns how many latencies were observed for name.
func (m *MemoryRecorder) Observations(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observed[name]
}
