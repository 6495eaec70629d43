package packetguard

import (
	"sync"
	"time"
)

// TelemetryStore keeps the latest per-address attack telemetry (scan widths,
// flood rates, attempt counts) with a TTL. The recognizer feeds it on every
// committed detection; the API serves it per address.
type TelemetryStore struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]*telemetryEntry
}

type telemetryEntry struct {
	metrics map[string]float64
	expires time.Time
}

func NewTelemetryStore(ttl time.Duration) *TelemetryStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TelemetryStore{ttl: ttl, data: make(map[string]*telemetryEntry)}
}

// Ingest merges metrics into the address entry and refreshes its TTL.
func (s *TelemetryStore) Ingest(addr string, metrics map[string]float64) {
	if addr == "" || len(metrics) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.data[addr]
	if !exists {
		entry = &telemetryEntry{metrics: make(map[string]float64)}
		s.data[addr] = entry
	}
	for k, v := range metrics {
		entry.metrics[k] = v
	}
	entry.expires = time.Now().Add(s.ttl)
}

// Snapshot returns a copy of the address's telemetry, dropping the entry
// when it has expired.
func (s *TelemetryStore) Snapshot(addr string) map[string]float64 {
	if addr == "" {
		return nil
	}
	s.mu.RLock()
	entry, exists := s.data[addr]
	s.mu.RUnlock()
	if !exists || time.Now().After(entry.expires) {
		s.mu.Lock()
		if s.data[addr] == entry {
			delete(s.data, addr)
		}
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]float64, len(entry.metrics))
	for k, v := range entry.metrics {
		snapshot[k] = v
	}
	return snapshot
}

// Cleanup drops every expired entry.
func (s *TelemetryStore) Cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, entry := range s.data {
		if now.After(entry.expires) {
			delete(s.data, addr)
		}
	}
}
