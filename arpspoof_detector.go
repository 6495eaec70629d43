package packetguard

import (
	"fmt"
	"regexp"
	"sort"
)

// arpReplyPattern extracts the claimed IP and answering MAC from an ARP
// reply summary, e.g. "192.168.1.1 is-at aa:bb:cc:dd:ee:ff".
var arpReplyPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3}) is-at ([0-9a-fA-F]{2}(?::[0-9a-fA-F]{2}){5})`)

// ARPSpoofDetector flags IP addresses answered for by more than one MAC
// within the window.
type ARPSpoofDetector struct {
	cfg ARPSpoofConfig
}

func NewARPSpoofDetector(cfg ARPSpoofConfig) *ARPSpoofDetector {
	return &ARPSpoofDetector{cfg: cfg}
}

func (d *ARPSpoofDetector) Kind() AttackKind { return AttackARPSpoof }

func (d *ARPSpoofDetector) Analyze(window []Packet) (*Detection, error) {
	macsByIP := make(map[string][]string)
	for i := range window {
		pkt := &window[i]
		ip, mac, ok := parseARPReply(pkt)
		if !ok {
			continue
		}
		macsByIP[ip] = appendUnique(macsByIP[ip], mac)
	}

	suspicious := make(map[string][]string)
	for ip, macs := range macsByIP {
		if len(macs) > d.cfg.MaxMACsPerIP {
			suspicious[ip] = macs
		}
	}
	if len(suspicious) == 0 {
		return nil, nil
	}

	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)
	for i := range window {
		pkt := &window[i]
		ip, _, ok := parseARPReply(pkt)
		if !ok {
			continue
		}
		if _, flagged := suspicious[ip]; flagged {
			evidence.add(pkt)
		}
	}

	ips := make([]string, 0, len(suspicious))
	for ip := range suspicious {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	return &Detection{
		Kind:        AttackARPSpoof,
		Name:        "ARP Spoofing",
		Description: fmt.Sprintf("%d address(es) claimed by multiple MACs, first %s", len(suspicious), ips[0]),
		Severity:    SeverityCritical,
		FirstSeen:   evidence.span.first,
		LastSeen:    evidence.span.last,
		Evidence:    evidence.ids,
		Details:     ARPSpoofDetails{SuspiciousIPs: suspicious},
	}, nil
}

func parseARPReply(pkt *Packet) (ip, mac string, ok bool) {
	if pkt.Protocol != ProtocolARP {
		return "", "", false
	}
	m := arpReplyPattern.FindStringSubmatch(pkt.Info)
	if m == nil {
		return "", "", false
	}
	return m[1], normalizeMAC(m[2]), true
}
