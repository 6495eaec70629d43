package packetguard

import (
	"sync"
	"time"
)

// TrafficProfiler keeps short-lived per-source traffic fingerprints so the
// API can serve lightweight diversity metrics without re-querying the packet
// store.
type TrafficProfiler struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	data       map[string]*sourceProfile
}

type sourceProfile struct {
	events []trafficEvent
}

type trafficEvent struct {
	timestamp time.Time
	protocol  Protocol
	dstIP     string
	dstPort   int
}

// TrafficSnapshot summarizes the recent traffic of one source address.
type TrafficSnapshot struct {
	Packets            int     `json:"packets"`
	UniquePorts        int     `json:"unique_ports"`
	UniqueDestinations int     `json:"unique_destinations"`
	UniqueProtocols    int     `json:"unique_protocols"`
	PortDiversityScore float64 `json:"port_diversity_score"`
}

// NewTrafficProfiler creates a profiler with the provided sliding window and
// per-source retention size.
func NewTrafficProfiler(window time.Duration, maxEntries int) *TrafficProfiler {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &TrafficProfiler{
		window:     window,
		maxEntries: maxEntries,
		data:       make(map[string]*sourceProfile),
	}
}

// Track stores a single packet observation for the given source.
func (p *TrafficProfiler) Track(srcIP string, protocol Protocol, dstIP string, dstPort int, now time.Time) {
	if srcIP == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prof := p.ensureProfile(srcIP)
	prof.events = append(prof.events, trafficEvent{
		timestamp: now,
		protocol:  protocol,
		dstIP:     dstIP,
		dstPort:   dstPort,
	})

	cutoff := now.Add(-p.window)
	prof.events = trimTrafficEvents(prof.events, cutoff)

	// Enforce max entries to keep memory bounded.
	if len(prof.events) > p.maxEntries {
		prof.events = prof.events[len(prof.events)-p.maxEntries:]
	}
}

// Snapshot returns an aggregated view of the recent traffic from srcIP.
func (p *TrafficProfiler) Snapshot(srcIP string, now time.Time) TrafficSnapshot {
	if srcIP == "" {
		return TrafficSnapshot{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prof, ok := p.data[srcIP]
	if !ok {
		return TrafficSnapshot{}
	}

	cutoff := now.Add(-p.window)
	prof.events = trimTrafficEvents(prof.events, cutoff)
	if len(prof.events) == 0 {
		return TrafficSnapshot{}
	}

	portSet := make(map[int]struct{})
	dstSet := make(map[string]struct{})
	protoSet := make(map[Protocol]struct{})
	for _, ev := range prof.events {
		if ev.dstPort > 0 {
			portSet[ev.dstPort] = struct{}{}
		}
		if ev.dstIP != "" {
			dstSet[ev.dstIP] = struct{}{}
		}
		protoSet[ev.protocol] = struct{}{}
	}

	packets := len(prof.events)
	diversity := 0.0
	if packets > 0 {
		diversity = float64(len(portSet)) / float64(packets)
	}

	return TrafficSnapshot{
		Packets:            packets,
		UniquePorts:        len(portSet),
		UniqueDestinations: len(dstSet),
		UniqueProtocols:    len(protoSet),
		PortDiversityScore: diversity,
	}
}

func (p *TrafficProfiler) ensureProfile(srcIP string) *sourceProfile {
	prof, ok := p.data[srcIP]
	if !ok {
		prof = &sourceProfile{}
		p.data[srcIP] = prof
	}
	return prof
}

func trimTrafficEvents(events []trafficEvent, cutoff time.Time) []trafficEvent {
	idx := 0
	for idx < len(events) && events[idx].timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		return events[idx:]
	}
	return events
}
