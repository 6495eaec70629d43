package packetguard

import (
	"sort"
	"sync"
	"time"
)

// DetectionLedger retains recent detections for duplicate suppression and
// operator queries. Entries expire after the TTL; expired entries are purged
// on every Observe call.
type DetectionLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []ledgerEntry
	now     func() time.Time
}

type ledgerEntry struct {
	kind      AttackKind
	identity  map[string]struct{}
	at        time.Time
	detection Detection
}

// DetectionSummary aggregates the retained history per attack kind.
type DetectionSummary struct {
	Total  int                `json:"total"`
	ByKind map[AttackKind]int `json:"by_kind"`
	Newest time.Time          `json:"newest,omitempty"`
	Oldest time.Time          `json:"oldest,omitempty"`
}

func NewDetectionLedger(ttl time.Duration) *DetectionLedger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DetectionLedger{ttl: ttl, now: time.Now}
}

// Observe reports whether det is new relative to the retained history, and
// commits it when it is. A detection duplicates history when any member of
// its identity set was already recorded for the same attack kind.
func (l *DetectionLedger) Observe(det *Detection) bool {
	if det == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.purge(now)

	identity := identitySet(det)
	for i := range l.entries {
		e := &l.entries[i]
		if e.kind != det.Kind {
			continue
		}
		if intersects(e.identity, identity) {
			return false
		}
	}
	l.entries = append(l.entries, ledgerEntry{
		kind:      det.Kind,
		identity:  identity,
		at:        now,
		detection: *det,
	})
	return true
}

// purge drops entries older than the TTL. Callers hold the lock.
func (l *DetectionLedger) purge(now time.Time) {
	cutoff := now.Add(-l.ttl)
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	l.entries = kept
}

// History returns the retained detections, newest first.
func (l *DetectionLedger) History() []Detection {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Detection, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.detection)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectionTime.After(out[j].DetectionTime)
	})
	return out
}

// Summary counts the retained detections per attack kind.
func (l *DetectionLedger) Summary() DetectionSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	summary := DetectionSummary{ByKind: make(map[AttackKind]int)}
	for _, e := range l.entries {
		summary.Total++
		summary.ByKind[e.kind]++
		if summary.Newest.IsZero() || e.at.After(summary.Newest) {
			summary.Newest = e.at
		}
		if summary.Oldest.IsZero() || e.at.Before(summary.Oldest) {
			summary.Oldest = e.at
		}
	}
	return summary
}

func identitySet(det *Detection) map[string]struct{} {
	set := make(map[string]struct{})
	if det.Details == nil {
		return set
	}
	for _, id := range det.Details.Identity() {
		set[id] = struct{}{}
	}
	return set
}
