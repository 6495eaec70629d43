package packetguard

import (
	"fmt"
	"sort"
)

// DDoSDetector flags destinations receiving flood-grade traffic: enough
// packets, a sustained packet rate and enough distinct sources to rule out a
// single noisy peer.
type DDoSDetector struct {
	cfg DDoSConfig
}

func NewDDoSDetector(cfg DDoSConfig) *DDoSDetector {
	return &DDoSDetector{cfg: cfg}
}

func (d *DDoSDetector) Kind() AttackKind { return AttackDDoS }

type floodProfile struct {
	count     int
	sources   map[string]struct{}
	protocols map[Protocol]int
	srcPorts  map[int]int
	span      timeSpan
}

func (d *DDoSDetector) Analyze(window []Packet) (*Detection, error) {
	profiles := make(map[string]*floodProfile)
	for i := range window {
		pkt := &window[i]
		if pkt.DstIP == "" {
			continue
		}
		prof := profiles[pkt.DstIP]
		if prof == nil {
			prof = &floodProfile{
				sources:   make(map[string]struct{}),
				protocols: make(map[Protocol]int),
				srcPorts:  make(map[int]int),
			}
			profiles[pkt.DstIP] = prof
		}
		prof.count++
		if pkt.SrcIP != "" {
			prof.sources[pkt.SrcIP] = struct{}{}
		}
		prof.protocols[pkt.Protocol]++
		if pkt.SrcPort > 0 {
			prof.srcPorts[pkt.SrcPort]++
		}
		prof.span.observe(pkt.Timestamp)
	}

	var targets []FloodTarget
	flagged := make(map[string]struct{})
	for dst, prof := range profiles {
		pps := prof.span.ratePerSecond(prof.count)
		if prof.count < d.cfg.PacketThreshold || pps < d.cfg.PPSThreshold || len(prof.sources) < d.cfg.SourceThreshold {
			continue
		}
		flagged[dst] = struct{}{}
		targets = append(targets, FloodTarget{
			DstIP:            dst,
			PacketCount:      prof.count,
			PacketsPerSecond: pps,
			UniqueSources:    len(prof.sources),
			Protocols:        prof.protocols,
			TopSrcPorts:      topPorts(prof.srcPorts, d.cfg.TopPorts),
			DurationSeconds:  prof.span.seconds(),
		})
	}
	if len(targets) == 0 {
		return nil, nil
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].PacketsPerSecond != targets[j].PacketsPerSecond {
			return targets[i].PacketsPerSecond > targets[j].PacketsPerSecond
		}
		return targets[i].DstIP < targets[j].DstIP
	})

	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)
	for i := range window {
		pkt := &window[i]
		if _, ok := flagged[pkt.DstIP]; ok {
			evidence.add(pkt)
		}
	}

	top := targets[0]
	return &Detection{
		Kind:     AttackDDoS,
		Name:     "DDoS",
		Severity: SeverityCritical,
		Description: fmt.Sprintf("flood traffic against %s: %.1f pps from %d sources",
			top.DstIP, top.PacketsPerSecond, top.UniqueSources),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details:   DDoSDetails{Targets: targets},
	}, nil
}

// topPorts returns the n busiest source ports, busiest first. Ties resolve
// to the lower port so output is deterministic.
func topPorts(counts map[int]int, n int) []PortHit {
	if n <= 0 || len(counts) == 0 {
		return nil
	}
	hits := make([]PortHit, 0, len(counts))
	for port, count := range counts {
		hits = append(hits, PortHit{Port: port, Count: count})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Count != hits[j].Count {
			return hits[i].Count > hits[j].Count
		}
		return hits[i].Port < hits[j].Port
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}
