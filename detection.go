package packetguard

import (
	"fmt"
	"time"
)

// AttackKind names one of the recognized attack patterns. The values double
// as the config file keys and the metric labels.
type AttackKind string

const (
	AttackARPSpoof      AttackKind = "arp_spoof"
	AttackPortScan      AttackKind = "port_scan"
	AttackDDoS          AttackKind = "ddos"
	AttackDNSPoisoning  AttackKind = "dns_poisoning"
	AttackMITM          AttackKind = "mitm"
	AttackSYNFlood      AttackKind = "syn_flood"
	AttackSMBExploit    AttackKind = "smb_exploit"
	AttackSSHBruteForce AttackKind = "ssh_brute_force"
	AttackWebAttack     AttackKind = "web_attack"
)

// Severity ranks how urgent a detection is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank maps a severity onto an ordinal so severities can be compared.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// DetectionDetails is the per-kind payload of a detection. Each attack kind
// has its own concrete type carrying the structured findings.
type DetectionDetails interface {
	// Identity returns the set of strings that identify the offending
	// entities. Two detections of the same kind duplicate each other when
	// their identity sets intersect.
	Identity() []string
}

// Detection is one recognized attack pattern inside a scan window.
type Detection struct {
	Kind          AttackKind       `json:"kind"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Severity      Severity         `json:"severity"`
	FirstSeen     time.Time        `json:"first_seen"`
	LastSeen      time.Time        `json:"last_seen"`
	Evidence      []uint64         `json:"evidence,omitempty"`
	Details       DetectionDetails `json:"details"`
	DetectionTime time.Time        `json:"detection_time"`
}

// AttackID derives the stable identifier defenses are keyed by.
func (d *Detection) AttackID() string {
	return fmt.Sprintf("%s-%d", d.Kind, d.DetectionTime.UnixNano())
}

// ARPSpoofDetails reports IP addresses answered for by more than one MAC.
type ARPSpoofDetails struct {
	// SuspiciousIPs maps a claimed IP to every MAC seen answering for it,
	// in first-observed order.
	SuspiciousIPs map[string][]string `json:"suspicious_ips"`
}

func (d ARPSpoofDetails) Identity() []string {
	ids := make([]string, 0, len(d.SuspiciousIPs))
	for ip := range d.SuspiciousIPs {
		ids = append(ids, ip)
	}
	return ids
}

// ScannerActivity summarizes one scanning source.
type ScannerActivity struct {
	SrcIP           string           `json:"src_ip"`
	Targets         map[string][]int `json:"targets"`
	UniquePortCount int              `json:"unique_port_count"`
	TargetCount     int              `json:"target_count"`
	SpanSeconds     float64          `json:"span_seconds"`
}

// PortScanDetails reports sources probing an unusual number of ports.
type PortScanDetails struct {
	Scanners   []ScannerActivity `json:"scanners"`
	MostActive string            `json:"most_active"`
}

func (d PortScanDetails) Identity() []string {
	ids := make([]string, 0, len(d.Scanners))
	for _, s := range d.Scanners {
		ids = append(ids, s.SrcIP)
	}
	return ids
}

// PortHit counts packets seen from one source port.
type PortHit struct {
	Port  int `json:"port"`
	Count int `json:"count"`
}

// FloodTarget summarizes volumetric traffic against one destination.
type FloodTarget struct {
	DstIP            string           `json:"dst_ip"`
	PacketCount      int              `json:"packet_count"`
	PacketsPerSecond float64          `json:"packets_per_second"`
	UniqueSources    int              `json:"unique_sources"`
	Protocols        map[Protocol]int `json:"protocols"`
	TopSrcPorts      []PortHit        `json:"top_src_ports,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds"`
}

// DDoSDetails reports destinations receiving flood-grade traffic.
type DDoSDetails struct {
	Targets []FloodTarget `json:"targets"`
}

func (d DDoSDetails) Identity() []string {
	ids := make([]string, 0, len(d.Targets))
	for _, t := range d.Targets {
		ids = append(ids, t.DstIP)
	}
	return ids
}

// PoisonedDomain records a domain that resolved to conflicting addresses.
type PoisonedDomain struct {
	Domain    string   `json:"domain"`
	Addresses []string `json:"addresses"`
	// Legitimate is the first answer observed in the window, which may
	// itself be the forged one when the forgery arrived first.
	Legitimate string `json:"legitimate_address"`
}

// DNSPoisoningDetails reports domains with more than one resolved address.
type DNSPoisoningDetails struct {
	Domains []PoisonedDomain `json:"domains"`
}

func (d DNSPoisoningDetails) Identity() []string {
	ids := make([]string, 0, len(d.Domains))
	for _, dom := range d.Domains {
		ids = append(ids, dom.Domain)
	}
	return ids
}

// FlowAnomaly describes one suspicious flow between two endpoints.
type FlowAnomaly struct {
	SrcIP       string   `json:"src_ip"`
	DstIP       string   `json:"dst_ip"`
	ForwardMACs []string `json:"forward_macs,omitempty"`
	ReverseMACs []string `json:"reverse_macs,omitempty"`
	Reason      string   `json:"reason"`
}

// MITMDetails reports interception indicators: redirected flows, MAC
// asymmetry and TLS handshake trouble.
type MITMDetails struct {
	SuspiciousFlows []FlowAnomaly `json:"suspicious_flows,omitempty"`
	ICMPRedirects   int           `json:"icmp_redirects"`
	TLSIssues       int           `json:"tls_issues"`
	Confidence      string        `json:"confidence"`
}

func (d MITMDetails) Identity() []string {
	ids := make([]string, 0, len(d.SuspiciousFlows)+1)
	for _, f := range d.SuspiciousFlows {
		ids = append(ids, f.SrcIP+"->"+f.DstIP)
	}
	if d.TLSIssues > 0 {
		ids = append(ids, "tls-issues")
	}
	return ids
}

// SYNTarget summarizes half-open connection pressure on one service.
type SYNTarget struct {
	DstIP         string  `json:"dst_ip"`
	DstPort       int     `json:"dst_port"`
	Service       string  `json:"service"`
	PacketCount   int     `json:"packet_count"`
	RatePerSecond float64 `json:"rate_per_second"`
	UniqueSources int     `json:"unique_sources"`
}

// SYNFloodDetails reports services under SYN flood.
type SYNFloodDetails struct {
	Targets     []SYNTarget `json:"targets"`
	Distributed bool        `json:"distributed"`
}

func (d SYNFloodDetails) Identity() []string {
	ids := make([]string, 0, len(d.Targets))
	for _, t := range d.Targets {
		ids = append(ids, hostPortKey(t.DstIP, t.DstPort))
	}
	return ids
}

// SMBOffender summarizes authentication pressure from one source.
type SMBOffender struct {
	SrcIP        string   `json:"src_ip"`
	AuthFailures int      `json:"auth_failures"`
	Targets      []string `json:"targets,omitempty"`
}

// SignatureHit records an exploit byte signature found in a packet payload.
type SignatureHit struct {
	SrcIP     string `json:"src_ip"`
	Signature string `json:"signature"`
	PacketID  uint64 `json:"packet_id"`
}

// SMBExploitDetails reports SMB brute forcing and exploit payloads.
type SMBExploitDetails struct {
	Offenders     []SMBOffender  `json:"offenders,omitempty"`
	SignatureHits []SignatureHit `json:"signature_hits,omitempty"`
}

func (d SMBExploitDetails) Identity() []string {
	var ids []string
	for _, o := range d.Offenders {
		ids = appendUnique(ids, o.SrcIP)
	}
	for _, h := range d.SignatureHits {
		ids = appendUnique(ids, h.SrcIP)
	}
	return ids
}

// SSHOffender summarizes connection hammering from one source.
type SSHOffender struct {
	SrcIP         string   `json:"src_ip"`
	Attempts      int      `json:"attempts"`
	Targets       []string `json:"targets"`
	RatePerSecond float64  `json:"rate_per_second"`
	FailureHints  int      `json:"failure_hints"`
}

// SSHBruteForceDetails reports sources brute forcing SSH services.
type SSHBruteForceDetails struct {
	Offenders []SSHOffender `json:"offenders"`
}

func (d SSHBruteForceDetails) Identity() []string {
	ids := make([]string, 0, len(d.Offenders))
	for _, o := range d.Offenders {
		ids = append(ids, o.SrcIP)
	}
	return ids
}

// WebOffender summarizes hostile web payloads from one source.
type WebOffender struct {
	SrcIP    string         `json:"src_ip"`
	Subtypes map[string]int `json:"subtypes"`
	Matches  int            `json:"matches"`
}

// WebAttackDetails reports web attack traffic grouped by source.
type WebAttackDetails struct {
	Offenders        []WebOffender `json:"offenders"`
	MostCommonAttack string        `json:"most_common_attack"`
}

func (d WebAttackDetails) Identity() []string {
	ids := make([]string, 0, len(d.Offenders))
	for _, o := range d.Offenders {
		ids = append(ids, o.SrcIP)
	}
	return ids
}
