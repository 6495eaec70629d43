package packetguard

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
)

// webAttackPatterns are evaluated in order; the first family that matches a
// payload claims it. Payloads are URL-decoded before matching so encoded
// probes do not slip through.
var webAttackPatterns = []struct {
	Subtype string
	Pattern *regexp.Regexp
}{
	{"sql_injection", regexp.MustCompile(`(?i)(union(?:\s+all)?\s+select|\bor\s+1\s*=\s*1\b|'\s*or\s+'|\bsleep\s*\(|\bbenchmark\s*\(|information_schema|load_file\s*\(|;\s*drop\s+table)`)},
	{"xss", regexp.MustCompile(`(?i)(<script[^>]*>|javascript\s*:|\bon(?:error|load|mouseover|focus)\s*=|alert\s*\(|document\.cookie|<img[^>]+src\s*=)`)},
	{"path_traversal", regexp.MustCompile(`(?i)(\.\./|\.\.\\|/etc/passwd|/etc/shadow|boot\.ini|win\.ini|%2e%2e%2f|%252e)`)},
	{"command_injection", regexp.MustCompile("(?i)([;|]\\s*(?:cat|ls|id|whoami|uname|wget|curl|nc|bash|sh)\\b|&&\\s*(?:cat|ls|id|whoami)\\b|\\$\\([^)]*\\)|`[^`]*`)")},
	{"file_inclusion", regexp.MustCompile(`(?i)((?:https?|ftp)://[^\s'"]+\.(?:php|txt)\b|php://(?:input|filter)|expect://|data:(?:text|application)/|zip://)`)},
}

func isWebPort(port int) bool {
	switch port {
	case 80, 443, 8080, 8443:
		return true
	}
	return false
}

// WebAttackDetector flags hostile payloads aimed at web services, grouped by
// source, and reports which attack family dominates.
type WebAttackDetector struct {
	cfg WebAttackConfig
}

func NewWebAttackDetector(cfg WebAttackConfig) *WebAttackDetector {
	return &WebAttackDetector{cfg: cfg}
}

func (d *WebAttackDetector) Kind() AttackKind { return AttackWebAttack }

func (d *WebAttackDetector) Analyze(window []Packet) (*Detection, error) {
	bySource := make(map[string]*WebOffender)
	totals := make(map[string]int)
	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)

	for i := range window {
		pkt := &window[i]
		if pkt.Protocol != ProtocolHTTP && !isWebPort(pkt.DstPort) {
			continue
		}
		subtype, ok := classifyWebPayload(pkt.Payload())
		if !ok {
			continue
		}
		off := bySource[pkt.SrcIP]
		if off == nil {
			off = &WebOffender{SrcIP: pkt.SrcIP, Subtypes: make(map[string]int)}
			bySource[pkt.SrcIP] = off
		}
		off.Subtypes[subtype]++
		off.Matches++
		totals[subtype]++
		evidence.add(pkt)
	}
	if len(bySource) == 0 {
		return nil, nil
	}

	offenders := make([]WebOffender, 0, len(bySource))
	for _, off := range bySource {
		offenders = append(offenders, *off)
	}
	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].Matches != offenders[j].Matches {
			return offenders[i].Matches > offenders[j].Matches
		}
		return offenders[i].SrcIP < offenders[j].SrcIP
	})

	return &Detection{
		Kind:     AttackWebAttack,
		Name:     "Web Application Attack",
		Severity: SeverityHigh,
		Description: fmt.Sprintf("%d source(s) sending web attack payloads, mostly %s",
			len(offenders), mostCommonSubtype(totals)),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details: WebAttackDetails{
			Offenders:        offenders,
			MostCommonAttack: mostCommonSubtype(totals),
		},
	}, nil
}

// classifyWebPayload URL-decodes the payload and returns the first matching
// attack family. Undecodable payloads are matched raw.
func classifyWebPayload(payload string) (string, bool) {
	if payload == "" {
		return "", false
	}
	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		decoded = payload
	}
	for _, p := range webAttackPatterns {
		if p.Pattern.MatchString(decoded) {
			return p.Subtype, true
		}
	}
	return "", false
}

// mostCommonSubtype returns the family with the highest match count. Ties
// resolve to the family evaluated earlier.
func mostCommonSubtype(totals map[string]int) string {
	best := ""
	bestCount := 0
	for _, p := range webAttackPatterns {
		if count := totals[p.Subtype]; count > bestCount {
			best = p.Subtype
			bestCount = count
		}
	}
	return best
}
