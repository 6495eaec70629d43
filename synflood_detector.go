package packetguard

import (
	"fmt"
	"sort"
)

var wellKnownServices = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "dns",
	80:   "http",
	110:  "pop3",
	139:  "netbios",
	143:  "imap",
	443:  "https",
	445:  "smb",
	993:  "imaps",
	995:  "pop3s",
	3306: "mysql",
	3389: "rdp",
	5432: "postgresql",
	6379: "redis",
	8080: "http-alt",
	8443: "https-alt",
}

func serviceForPort(port int) string {
	if name, ok := wellKnownServices[port]; ok {
		return name
	}
	return "unknown"
}

// SYNFloodDetector flags services hammered with bare SYNs: enough of them,
// arriving fast enough. The flood counts as distributed once the source
// count clears its own threshold.
type SYNFloodDetector struct {
	cfg SYNFloodConfig
}

func NewSYNFloodDetector(cfg SYNFloodConfig) *SYNFloodDetector {
	return &SYNFloodDetector{cfg: cfg}
}

func (d *SYNFloodDetector) Kind() AttackKind { return AttackSYNFlood }

type synProfile struct {
	count   int
	sources map[string]struct{}
	span    timeSpan
}

func (d *SYNFloodDetector) Analyze(window []Packet) (*Detection, error) {
	profiles := make(map[string]*synProfile)
	for i := range window {
		pkt := &window[i]
		if !pkt.PureSYN() || pkt.DstIP == "" || pkt.DstPort <= 0 {
			continue
		}
		key := hostPortKey(pkt.DstIP, pkt.DstPort)
		prof := profiles[key]
		if prof == nil {
			prof = &synProfile{sources: make(map[string]struct{})}
			profiles[key] = prof
		}
		prof.count++
		if pkt.SrcIP != "" {
			prof.sources[pkt.SrcIP] = struct{}{}
		}
		prof.span.observe(pkt.Timestamp)
	}

	var targets []SYNTarget
	flagged := make(map[string]struct{})
	distributed := false
	for key, prof := range profiles {
		rate := prof.span.ratePerSecond(prof.count)
		if prof.count < d.cfg.PacketThreshold || rate <= d.cfg.RateThreshold {
			continue
		}
		flagged[key] = struct{}{}
		ip, port := splitHostPortKey(key)
		if len(prof.sources) > d.cfg.DistributedSourceThreshold {
			distributed = true
		}
		targets = append(targets, SYNTarget{
			DstIP:         ip,
			DstPort:       port,
			Service:       serviceForPort(port),
			PacketCount:   prof.count,
			RatePerSecond: rate,
			UniqueSources: len(prof.sources),
		})
	}
	if len(targets) == 0 {
		return nil, nil
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].RatePerSecond != targets[j].RatePerSecond {
			return targets[i].RatePerSecond > targets[j].RatePerSecond
		}
		return hostPortKey(targets[i].DstIP, targets[i].DstPort) < hostPortKey(targets[j].DstIP, targets[j].DstPort)
	})

	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)
	for i := range window {
		pkt := &window[i]
		if !pkt.PureSYN() {
			continue
		}
		if _, ok := flagged[hostPortKey(pkt.DstIP, pkt.DstPort)]; ok {
			evidence.add(pkt)
		}
	}

	top := targets[0]
	return &Detection{
		Kind:     AttackSYNFlood,
		Name:     "SYN Flood",
		Severity: SeverityCritical,
		Description: fmt.Sprintf("SYN flood against %s (%s): %.1f SYN/s from %d sources",
			hostPortKey(top.DstIP, top.DstPort), top.Service, top.RatePerSecond, top.UniqueSources),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details:   SYNFloodDetails{Targets: targets, Distributed: distributed},
	}, nil
}
