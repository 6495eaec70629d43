package packetguard

import (
	"fmt"
	"sort"
	"strings"
)

var sshFailureMarkers = []string{
	"failed password",
	"invalid user",
	"authentication failure",
	"connection reset",
}

func isSSHPort(port int) bool {
	return port == 22 || port == 2222
}

// SSHBruteForceDetector flags sources hammering SSH services with connection
// attempts. Failure markers in packet summaries are attributed to the
// client side and raise the reported confidence.
type SSHBruteForceDetector struct {
	cfg SSHBruteForceConfig
}

func NewSSHBruteForceDetector(cfg SSHBruteForceConfig) *SSHBruteForceDetector {
	return &SSHBruteForceDetector{cfg: cfg}
}

func (d *SSHBruteForceDetector) Kind() AttackKind { return AttackSSHBruteForce }

type sshProfile struct {
	attempts int
	targets  []string
	hints    int
	span     timeSpan
}

func (d *SSHBruteForceDetector) Analyze(window []Packet) (*Detection, error) {
	profiles := make(map[string]*sshProfile)
	profileFor := func(src string) *sshProfile {
		prof := profiles[src]
		if prof == nil {
			prof = &sshProfile{}
			profiles[src] = prof
		}
		return prof
	}

	for i := range window {
		pkt := &window[i]
		if pkt.Protocol != ProtocolTCP {
			continue
		}
		if isSSHPort(pkt.DstPort) && pkt.PureSYN() && pkt.SrcIP != "" {
			prof := profileFor(pkt.SrcIP)
			prof.attempts++
			prof.targets = appendUnique(prof.targets, pkt.DstIP)
			prof.span.observe(pkt.Timestamp)
		}
		if !isSSHPort(pkt.SrcPort) && !isSSHPort(pkt.DstPort) {
			continue
		}
		if hasSSHFailureMarker(pkt) {
			// Markers ride server-to-client packets; charge the client.
			client := pkt.SrcIP
			if isSSHPort(pkt.SrcPort) {
				client = pkt.DstIP
			}
			if client != "" {
				profileFor(client).hints++
			}
		}
	}

	var offenders []SSHOffender
	flagged := make(map[string]struct{})
	for src, prof := range profiles {
		if prof.attempts < d.cfg.AttemptThreshold {
			continue
		}
		rate := prof.span.ratePerSecond(prof.attempts)
		if rate < d.cfg.RateThreshold && len(prof.targets) <= d.cfg.TargetThreshold {
			continue
		}
		flagged[src] = struct{}{}
		offenders = append(offenders, SSHOffender{
			SrcIP:         src,
			Attempts:      prof.attempts,
			Targets:       prof.targets,
			RatePerSecond: rate,
			FailureHints:  prof.hints,
		})
	}
	if len(offenders) == 0 {
		return nil, nil
	}
	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].Attempts != offenders[j].Attempts {
			return offenders[i].Attempts > offenders[j].Attempts
		}
		return offenders[i].SrcIP < offenders[j].SrcIP
	})

	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)
	for i := range window {
		pkt := &window[i]
		if pkt.Protocol != ProtocolTCP || !isSSHPort(pkt.DstPort) || !pkt.PureSYN() {
			continue
		}
		if _, ok := flagged[pkt.SrcIP]; ok {
			evidence.add(pkt)
		}
	}

	top := offenders[0]
	return &Detection{
		Kind:     AttackSSHBruteForce,
		Name:     "SSH Brute Force",
		Severity: SeverityHigh,
		Description: fmt.Sprintf("%s made %d connection attempts against %d host(s)",
			top.SrcIP, top.Attempts, len(top.Targets)),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details:   SSHBruteForceDetails{Offenders: offenders},
	}, nil
}

func hasSSHFailureMarker(pkt *Packet) bool {
	info := strings.ToLower(pkt.Info)
	if info == "" {
		return false
	}
	for _, marker := range sshFailureMarkers {
		if strings.Contains(info, marker) {
			return true
		}
	}
	return false
}
