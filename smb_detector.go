package packetguard

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

var smbAuthFailureMarkers = []string{
	"status_logon_failure",
	"status_access_denied",
	"status_account_locked_out",
	"authentication failed",
	"logon failure",
	"access denied",
}

// smbExploitSignatures are byte patterns of SMBv1 exploitation attempts.
// The first three are SMBv1 command headers abused by EternalBlue-family
// exploits, the fourth is the legacy dialect negotiation, the last is the
// DoublePulsar echo marker.
var smbExploitSignatures = []struct {
	Name    string
	Pattern []byte
}{
	{"smb1_trans2_request", []byte{0xff, 0x53, 0x4d, 0x42, 0x32}},
	{"smb1_trans2_secondary", []byte{0xff, 0x53, 0x4d, 0x42, 0x33}},
	{"smb1_nt_trans_request", []byte{0xff, 0x53, 0x4d, 0x42, 0xa0}},
	{"smb1_nt_lm_dialect", []byte("\x02NT LM 0.12")},
	{"doublepulsar_echo", []byte("JlJmIhClBsr")},
}

// SMBExploitDetector flags SMB authentication hammering and exploit byte
// signatures inside SMB payloads.
type SMBExploitDetector struct {
	cfg SMBExploitConfig
}

func NewSMBExploitDetector(cfg SMBExploitConfig) *SMBExploitDetector {
	return &SMBExploitDetector{cfg: cfg}
}

func (d *SMBExploitDetector) Kind() AttackKind { return AttackSMBExploit }

func isSMBPacket(pkt *Packet) bool {
	switch {
	case pkt.SrcPort == 445, pkt.DstPort == 445, pkt.SrcPort == 139, pkt.DstPort == 139:
		return true
	}
	return false
}

func (d *SMBExploitDetector) Analyze(window []Packet) (*Detection, error) {
	failures := make(map[string]int)
	failureTargets := make(map[string][]string)
	var hits []SignatureHit
	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)
	hitSources := make(map[string]struct{})

	for i := range window {
		pkt := &window[i]
		if !isSMBPacket(pkt) {
			continue
		}
		if hasSMBAuthFailure(pkt) {
			failures[pkt.SrcIP]++
			failureTargets[pkt.SrcIP] = appendUnique(failureTargets[pkt.SrcIP], pkt.DstIP)
			evidence.add(pkt)
		}
		if len(pkt.RawData) == 0 {
			continue
		}
		for _, sig := range smbExploitSignatures {
			if bytes.Contains(pkt.RawData, sig.Pattern) {
				hits = append(hits, SignatureHit{
					SrcIP:     pkt.SrcIP,
					Signature: sig.Name,
					PacketID:  pkt.ID,
				})
				hitSources[pkt.SrcIP] = struct{}{}
				evidence.add(pkt)
			}
		}
	}

	var offenders []SMBOffender
	for src, count := range failures {
		if count < d.cfg.AuthFailureThreshold {
			continue
		}
		offenders = append(offenders, SMBOffender{
			SrcIP:        src,
			AuthFailures: count,
			Targets:      failureTargets[src],
		})
	}
	if len(offenders) == 0 && len(hits) == 0 {
		return nil, nil
	}
	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].AuthFailures != offenders[j].AuthFailures {
			return offenders[i].AuthFailures > offenders[j].AuthFailures
		}
		return offenders[i].SrcIP < offenders[j].SrcIP
	})

	severity := SeverityHigh
	if len(hits) > 0 {
		severity = SeverityCritical
	}
	return &Detection{
		Kind:     AttackSMBExploit,
		Name:     "SMB Exploit Attempt",
		Severity: severity,
		Description: fmt.Sprintf("%d brute forcing source(s), %d exploit signature hit(s) from %d source(s)",
			len(offenders), len(hits), len(hitSources)),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details:   SMBExploitDetails{Offenders: offenders, SignatureHits: hits},
	}, nil
}

func hasSMBAuthFailure(pkt *Packet) bool {
	info := strings.ToLower(pkt.Info)
	if info == "" {
		return false
	}
	for _, marker := range smbAuthFailureMarkers {
		if strings.Contains(info, marker) {
			return true
		}
	}
	return false
}
