package packetguard

import (
	"fmt"
)

// DefaultConfigValidator checks detector thresholds before they are handed
// to a recognizer. Rejecting a bad overlay keeps the previous detector set
// running.
type DefaultConfigValidator struct{}

func NewDefaultConfigValidator() *DefaultConfigValidator {
	return &DefaultConfigValidator{}
}

func (v *DefaultConfigValidator) Validate(cfg *DetectorConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.ARPSpoof.MaxMACsPerIP < 1 {
		return fmt.Errorf("arp_spoof: max_macs_per_ip must be at least 1, got %d", cfg.ARPSpoof.MaxMACsPerIP)
	}
	if cfg.PortScan.PortThreshold < 2 {
		return fmt.Errorf("port_scan: port_threshold must be at least 2, got %d", cfg.PortScan.PortThreshold)
	}
	if cfg.PortScan.SpanSeconds <= 0 {
		return fmt.Errorf("port_scan: span_seconds must be positive, got %v", cfg.PortScan.SpanSeconds)
	}
	if cfg.PortScan.TargetThreshold < 1 {
		return fmt.Errorf("port_scan: target_threshold must be at least 1, got %d", cfg.PortScan.TargetThreshold)
	}
	if cfg.DDoS.PacketThreshold < 1 {
		return fmt.Errorf("ddos: packet_threshold must be at least 1, got %d", cfg.DDoS.PacketThreshold)
	}
	if cfg.DDoS.PPSThreshold <= 0 {
		return fmt.Errorf("ddos: pps_threshold must be positive, got %v", cfg.DDoS.PPSThreshold)
	}
	if cfg.DDoS.SourceThreshold < 1 {
		return fmt.Errorf("ddos: source_threshold must be at least 1, got %d", cfg.DDoS.SourceThreshold)
	}
	if cfg.DNSPoisoning.MaxAddressesPerDomain < 1 {
		return fmt.Errorf("dns_poisoning: max_addresses_per_domain must be at least 1, got %d", cfg.DNSPoisoning.MaxAddressesPerDomain)
	}
	if cfg.MITM.TLSIssueThreshold < 1 {
		return fmt.Errorf("mitm: tls_issue_threshold must be at least 1, got %d", cfg.MITM.TLSIssueThreshold)
	}
	if cfg.SYNFlood.PacketThreshold < 1 {
		return fmt.Errorf("syn_flood: packet_threshold must be at least 1, got %d", cfg.SYNFlood.PacketThreshold)
	}
	if cfg.SYNFlood.RateThreshold <= 0 {
		return fmt.Errorf("syn_flood: rate_threshold must be positive, got %v", cfg.SYNFlood.RateThreshold)
	}
	if cfg.SYNFlood.DistributedSourceThreshold < 1 {
		return fmt.Errorf("syn_flood: distributed_source_threshold must be at least 1, got %d", cfg.SYNFlood.DistributedSourceThreshold)
	}
	if cfg.SMBExploit.AuthFailureThreshold < 1 {
		return fmt.Errorf("smb_exploit: auth_failure_threshold must be at least 1, got %d", cfg.SMBExploit.AuthFailureThreshold)
	}
	if cfg.SSHBruteForce.AttemptThreshold < 1 {
		return fmt.Errorf("ssh_brute_force: attempt_threshold must be at least 1, got %d", cfg.SSHBruteForce.AttemptThreshold)
	}
	if cfg.SSHBruteForce.RateThreshold <= 0 {
		return fmt.Errorf("ssh_brute_force: rate_threshold must be positive, got %v", cfg.SSHBruteForce.RateThreshold)
	}
	if cfg.SSHBruteForce.TargetThreshold < 1 {
		return fmt.Errorf("ssh_brute_force: target_threshold must be at least 1, got %d", cfg.SSHBruteForce.TargetThreshold)
	}
	for kind, limit := range map[AttackKind]int{
		AttackARPSpoof:      cfg.ARPSpoof.EvidenceLimit,
		AttackPortScan:      cfg.PortScan.EvidenceLimit,
		AttackDDoS:          cfg.DDoS.EvidenceLimit,
		AttackDNSPoisoning:  cfg.DNSPoisoning.EvidenceLimit,
		AttackMITM:          cfg.MITM.EvidenceLimit,
		AttackSYNFlood:      cfg.SYNFlood.EvidenceLimit,
		AttackSMBExploit:    cfg.SMBExploit.EvidenceLimit,
		AttackSSHBruteForce: cfg.SSHBruteForce.EvidenceLimit,
		AttackWebAttack:     cfg.WebAttack.EvidenceLimit,
	} {
		if limit < 1 {
			return fmt.Errorf("%s: evidence_limit must be at least 1, got %d", kind, limit)
		}
	}
	return nil
}
