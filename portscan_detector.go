package packetguard

import (
	"fmt"
	"sort"
)

// PortScanDetector flags sources probing an unusual spread of ports. It
// counts bare TCP SYNs and UDP probes; established traffic is ignored.
type PortScanDetector struct {
	cfg PortScanConfig
}

func NewPortScanDetector(cfg PortScanConfig) *PortScanDetector {
	return &PortScanDetector{cfg: cfg}
}

func (d *PortScanDetector) Kind() AttackKind { return AttackPortScan }

type scanProfile struct {
	targets map[string]map[int]struct{}
	span    timeSpan
}

func (d *PortScanDetector) Analyze(window []Packet) (*Detection, error) {
	profiles := make(map[string]*scanProfile)
	for i := range window {
		pkt := &window[i]
		if !isProbe(pkt) {
			continue
		}
		prof := profiles[pkt.SrcIP]
		if prof == nil {
			prof = &scanProfile{targets: make(map[string]map[int]struct{})}
			profiles[pkt.SrcIP] = prof
		}
		ports := prof.targets[pkt.DstIP]
		if ports == nil {
			ports = make(map[int]struct{})
			prof.targets[pkt.DstIP] = ports
		}
		ports[pkt.DstPort] = struct{}{}
		prof.span.observe(pkt.Timestamp)
	}

	var scanners []ScannerActivity
	flagged := make(map[string]struct{})
	for src, prof := range profiles {
		unique := 0
		for _, ports := range prof.targets {
			unique += len(ports)
		}
		span := prof.span.seconds()
		qualifies := unique >= d.cfg.PortThreshold &&
			(span <= d.cfg.SpanSeconds || len(prof.targets) >= d.cfg.TargetThreshold)
		if !qualifies && len(prof.targets) >= d.cfg.PortThreshold {
			// TODO: this branch compares the number of scanned hosts
			// against the port threshold; confirm the intended unit with
			// the capture team before changing it.
			qualifies = true
		}
		if !qualifies {
			continue
		}
		flagged[src] = struct{}{}
		scanners = append(scanners, ScannerActivity{
			SrcIP:           src,
			Targets:         sortedPortTargets(prof.targets),
			UniquePortCount: unique,
			TargetCount:     len(prof.targets),
			SpanSeconds:     span,
		})
	}
	if len(scanners) == 0 {
		return nil, nil
	}

	sort.Slice(scanners, func(i, j int) bool {
		if scanners[i].UniquePortCount != scanners[j].UniquePortCount {
			return scanners[i].UniquePortCount > scanners[j].UniquePortCount
		}
		return scanners[i].SrcIP < scanners[j].SrcIP
	})

	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)
	for i := range window {
		pkt := &window[i]
		if !isProbe(pkt) {
			continue
		}
		if _, ok := flagged[pkt.SrcIP]; ok {
			evidence.add(pkt)
		}
	}

	top := scanners[0]
	return &Detection{
		Kind:     AttackPortScan,
		Name:     "Port Scanning",
		Severity: SeverityMedium,
		Description: fmt.Sprintf("%d scanning source(s), most active %s probed %d ports on %d host(s)",
			len(scanners), top.SrcIP, top.UniquePortCount, top.TargetCount),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details:   PortScanDetails{Scanners: scanners, MostActive: top.SrcIP},
	}, nil
}

// isProbe reports packets that look like connection probing: pure TCP SYNs
// and UDP datagrams aimed at a concrete port.
func isProbe(pkt *Packet) bool {
	if pkt.DstIP == "" || pkt.DstPort <= 0 {
		return false
	}
	switch pkt.Protocol {
	case ProtocolTCP:
		return pkt.PureSYN()
	case ProtocolUDP:
		return true
	}
	return false
}

func sortedPortTargets(targets map[string]map[int]struct{}) map[string][]int {
	out := make(map[string][]int, len(targets))
	for dst, ports := range targets {
		list := make([]int, 0, len(ports))
		for p := range ports {
			list = append(list, p)
		}
		sort.Ints(list)
		out[dst] = list
	}
	return out
}
