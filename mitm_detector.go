package packetguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var tlsTroublePattern = regexp.MustCompile(`(?i)\b(alert|error|warning)\b`)

// MITMDetector flags interception indicators: ICMP route manipulation and a
// burst of TLS handshake trouble. Flows whose forward and reverse MAC sets
// disagree are reported as supporting evidence.
type MITMDetector struct {
	cfg MITMConfig
}

func NewMITMDetector(cfg MITMConfig) *MITMDetector {
	return &MITMDetector{cfg: cfg}
}

func (d *MITMDetector) Kind() AttackKind { return AttackMITM }

type flowMACs struct {
	srcIP, dstIP string
	// forward holds MACs presenting dstIP's traffic on src->dst packets,
	// reverse holds MACs dstIP itself sends from. Disagreement means a
	// third station sits in the path.
	forward map[string]struct{}
	reverse map[string]struct{}
}

func (d *MITMDetector) Analyze(window []Packet) (*Detection, error) {
	flows := make(map[string]*flowMACs)
	var anomalies []FlowAnomaly
	redirects := 0
	tlsIssues := 0
	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)

	for i := range window {
		pkt := &window[i]
		switch {
		case pkt.Protocol == ProtocolICMP && strings.Contains(strings.ToLower(pkt.Info), "redirect"):
			redirects++
			anomalies = append(anomalies, FlowAnomaly{
				SrcIP:  pkt.SrcIP,
				DstIP:  pkt.DstIP,
				Reason: "icmp_redirect",
			})
			evidence.add(pkt)
		case pkt.Protocol == ProtocolTLS && tlsTroublePattern.MatchString(pkt.Info):
			tlsIssues++
			evidence.add(pkt)
		}
		trackFlowMACs(flows, pkt)
	}

	for _, key := range sortedFlowKeys(flows) {
		f := flows[key]
		if len(f.forward) == 0 || len(f.reverse) == 0 {
			continue
		}
		if macSetsEqual(f.forward, f.reverse) {
			continue
		}
		anomalies = append(anomalies, FlowAnomaly{
			SrcIP:       f.srcIP,
			DstIP:       f.dstIP,
			ForwardMACs: sortedMACs(f.forward),
			ReverseMACs: sortedMACs(f.reverse),
			Reason:      "mac_asymmetry",
		})
	}

	if redirects == 0 && tlsIssues <= d.cfg.TLSIssueThreshold {
		return nil, nil
	}

	return &Detection{
		Kind:     AttackMITM,
		Name:     "Man-in-the-Middle",
		Severity: SeverityHigh,
		Description: fmt.Sprintf("%d ICMP redirect(s), %d TLS issue(s), %d suspicious flow(s)",
			redirects, tlsIssues, len(anomalies)),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details: MITMDetails{
			SuspiciousFlows: anomalies,
			ICMPRedirects:   redirects,
			TLSIssues:       tlsIssues,
			Confidence:      "medium",
		},
	}, nil
}

// trackFlowMACs records, per directed flow, which MACs carry traffic toward
// the destination and which MACs the destination answers from.
func trackFlowMACs(flows map[string]*flowMACs, pkt *Packet) {
	if pkt.SrcIP == "" || pkt.DstIP == "" || pkt.SrcIP == pkt.DstIP {
		return
	}
	if pkt.SrcMAC == "" && pkt.DstMAC == "" {
		return
	}
	key := pkt.SrcIP + "->" + pkt.DstIP
	reverseKey := pkt.DstIP + "->" + pkt.SrcIP
	f := flows[key]
	if f == nil {
		if rf := flows[reverseKey]; rf != nil {
			// Reverse direction of a flow already tracked: the source MAC
			// here is the MAC its destination answers from.
			if pkt.SrcMAC != "" {
				rf.reverse[normalizeMAC(pkt.SrcMAC)] = struct{}{}
			}
			return
		}
		f = &flowMACs{
			srcIP:   pkt.SrcIP,
			dstIP:   pkt.DstIP,
			forward: make(map[string]struct{}),
			reverse: make(map[string]struct{}),
		}
		flows[key] = f
	}
	if pkt.DstMAC != "" {
		f.forward[normalizeMAC(pkt.DstMAC)] = struct{}{}
	}
}

func macSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for mac := range a {
		if _, ok := b[mac]; !ok {
			return false
		}
	}
	return true
}

func sortedMACs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for mac := range set {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}

func sortedFlowKeys(flows map[string]*flowMACs) []string {
	keys := make([]string, 0, len(flows))
	for k := range flows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
