package packetguard

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ARPSpoofConfig tunes the ARP spoof detector.
type ARPSpoofConfig struct {
	// MaxMACsPerIP is the number of MACs one IP may legitimately answer
	// from. More than this flags the address.
	MaxMACsPerIP  int `json:"max_macs_per_ip"`
	EvidenceLimit int `json:"evidence_limit"`
}

// PortScanConfig tunes the port scan detector.
type PortScanConfig struct {
	PortThreshold   int     `json:"port_threshold"`
	SpanSeconds     float64 `json:"span_seconds"`
	TargetThreshold int     `json:"target_threshold"`
	EvidenceLimit   int     `json:"evidence_limit"`
}

// DDoSConfig tunes the volumetric flood detector.
type DDoSConfig struct {
	PacketThreshold int     `json:"packet_threshold"`
	PPSThreshold    float64 `json:"pps_threshold"`
	SourceThreshold int     `json:"source_threshold"`
	TopPorts        int     `json:"top_ports"`
	EvidenceLimit   int     `json:"evidence_limit"`
}

// DNSPoisoningConfig tunes the DNS poisoning detector.
type DNSPoisoningConfig struct {
	MaxAddressesPerDomain int `json:"max_addresses_per_domain"`
	EvidenceLimit         int `json:"evidence_limit"`
}

// MITMConfig tunes the man-in-the-middle detector.
type MITMConfig struct {
	TLSIssueThreshold int `json:"tls_issue_threshold"`
	EvidenceLimit     int `json:"evidence_limit"`
}

// SYNFloodConfig tunes the SYN flood detector.
type SYNFloodConfig struct {
	PacketThreshold            int     `json:"packet_threshold"`
	RateThreshold              float64 `json:"rate_threshold"`
	DistributedSourceThreshold int     `json:"distributed_source_threshold"`
	EvidenceLimit              int     `json:"evidence_limit"`
}

// SMBExploitConfig tunes the SMB exploit detector.
type SMBExploitConfig struct {
	AuthFailureThreshold int `json:"auth_failure_threshold"`
	EvidenceLimit        int `json:"evidence_limit"`
}

// SSHBruteForceConfig tunes the SSH brute force detector.
type SSHBruteForceConfig struct {
	AttemptThreshold int     `json:"attempt_threshold"`
	RateThreshold    float64 `json:"rate_threshold"`
	TargetThreshold  int     `json:"target_threshold"`
	EvidenceLimit    int     `json:"evidence_limit"`
}

// WebAttackConfig tunes the web attack detector.
type WebAttackConfig struct {
	EvidenceLimit int `json:"evidence_limit"`
}

// DetectorConfig carries the thresholds for every detector.
type DetectorConfig struct {
	ARPSpoof      ARPSpoofConfig      `json:"arp_spoof"`
	PortScan      PortScanConfig      `json:"port_scan"`
	DDoS          DDoSConfig          `json:"ddos"`
	DNSPoisoning  DNSPoisoningConfig  `json:"dns_poisoning"`
	MITM          MITMConfig          `json:"mitm"`
	SYNFlood      SYNFloodConfig      `json:"syn_flood"`
	SMBExploit    SMBExploitConfig    `json:"smb_exploit"`
	SSHBruteForce SSHBruteForceConfig `json:"ssh_brute_force"`
	WebAttack     WebAttackConfig     `json:"web_attack"`
}

const defaultEvidenceLimit = 10

// DefaultDetectorConfig returns the shipped thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ARPSpoof: ARPSpoofConfig{
			MaxMACsPerIP:  1,
			EvidenceLimit: defaultEvidenceLimit,
		},
		PortScan: PortScanConfig{
			PortThreshold:   10,
			SpanSeconds:     60,
			TargetThreshold: 5,
			EvidenceLimit:   defaultEvidenceLimit,
		},
		DDoS: DDoSConfig{
			PacketThreshold: 50,
			PPSThreshold:    100,
			SourceThreshold: 3,
			TopPorts:        5,
			EvidenceLimit:   defaultEvidenceLimit,
		},
		DNSPoisoning: DNSPoisoningConfig{
			MaxAddressesPerDomain: 1,
			EvidenceLimit:         defaultEvidenceLimit,
		},
		MITM: MITMConfig{
			TLSIssueThreshold: 3,
			EvidenceLimit:     defaultEvidenceLimit,
		},
		SYNFlood: SYNFloodConfig{
			PacketThreshold:            200,
			RateThreshold:              100,
			DistributedSourceThreshold: 3,
			EvidenceLimit:              defaultEvidenceLimit,
		},
		SMBExploit: SMBExploitConfig{
			AuthFailureThreshold: 10,
			EvidenceLimit:        defaultEvidenceLimit,
		},
		SSHBruteForce: SSHBruteForceConfig{
			AttemptThreshold: 5,
			RateThreshold:    1,
			TargetThreshold:  1,
			EvidenceLimit:    defaultEvidenceLimit,
		},
		WebAttack: WebAttackConfig{
			EvidenceLimit: defaultEvidenceLimit,
		},
	}
}

const maxConfigFileSize = 1024 * 1024 // 1MB

// LoadDetectorConfig starts from the defaults and overlays every JSON file
// found in dir. Each file names its detector in a "detector" key and carries
// only the thresholds it overrides. A missing directory yields the defaults.
func LoadDetectorConfig(dir string) (DetectorConfig, error) {
	cfg := DefaultDetectorConfig()
	if strings.TrimSpace(dir) == "" {
		return cfg, nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read detector config directory: %w", err)
	}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		// Validate file name to prevent directory traversal
		if strings.Contains(file.Name(), "..") || strings.Contains(file.Name(), "/") {
			return cfg, fmt.Errorf("invalid config file name: %s", file.Name())
		}
		data, err := os.ReadFile(dir + "/" + file.Name())
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", file.Name(), err)
		}
		if len(data) > maxConfigFileSize {
			return cfg, fmt.Errorf("config file %s is too large", file.Name())
		}
		if err := applyDetectorOverlay(&cfg, file.Name(), data); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// applyDetectorOverlay probes the file for its detector key, then unmarshals
// the same payload into that detector's section.
func applyDetectorOverlay(cfg *DetectorConfig, name string, data []byte) error {
	var probe struct {
		Detector string `json:"detector"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", name, err)
	}
	var section any
	switch AttackKind(strings.TrimSpace(probe.Detector)) {
	case AttackARPSpoof:
		section = &cfg.ARPSpoof
	case AttackPortScan:
		section = &cfg.PortScan
	case AttackDDoS:
		section = &cfg.DDoS
	case AttackDNSPoisoning:
		section = &cfg.DNSPoisoning
	case AttackMITM:
		section = &cfg.MITM
	case AttackSYNFlood:
		section = &cfg.SYNFlood
	case AttackSMBExploit:
		section = &cfg.SMBExploit
	case AttackSSHBruteForce:
		section = &cfg.SSHBruteForce
	case AttackWebAttack:
		section = &cfg.WebAttack
	default:
		return fmt.Errorf("config file %s names unknown detector %q", name, probe.Detector)
	}
	if err := json.Unmarshal(data, section); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", name, err)
	}
	return nil
}

// ServiceConfig is the YAML configuration of the packetguard daemon.
type ServiceConfig struct {
	Listen                string `yaml:"listen"`
	Database              string `yaml:"database"`
	ConfigDir             string `yaml:"config_dir"`
	PollInterval          string `yaml:"poll_interval"`
	Window                string `yaml:"window"`
	HistoryTTL            string `yaml:"history_ttl"`
	ErrorBackoff          string `yaml:"error_backoff"`
	LogLevel              string `yaml:"log_level"`
	PrettyLog             bool   `yaml:"pretty_log"`
	DryRun                bool   `yaml:"dry_run"`
	AutoDefend            bool   `yaml:"auto_defend"`
	AutoDefendMinSeverity string `yaml:"auto_defend_min_severity"`
	WebhookURL            string `yaml:"webhook_url"`
	SlackWebhookURL       string `yaml:"slack_webhook_url"`
}

// DefaultServiceConfig returns the daemon defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Listen:                ":8080",
		Database:              "packetguard.db",
		ConfigDir:             "configs/detectors",
		PollInterval:          "10s",
		Window:                "5m",
		HistoryTTL:            "5m",
		ErrorBackoff:          "5s",
		LogLevel:              "info",
		AutoDefendMinSeverity: string(SeverityHigh),
	}
}

// LoadServiceConfig reads the YAML service config at path, overlaying the
// defaults. An empty path yields the defaults.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read service config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse service config: %w", err)
	}
	return cfg, nil
}

func (c ServiceConfig) PollIntervalDuration() time.Duration {
	return parseDurationDefault(c.PollInterval, 10*time.Second)
}

func (c ServiceConfig) WindowDuration() time.Duration {
	return parseDurationDefault(c.Window, 5*time.Minute)
}

func (c ServiceConfig) HistoryTTLDuration() time.Duration {
	return parseDurationDefault(c.HistoryTTL, 5*time.Minute)
}

func (c ServiceConfig) ErrorBackoffDuration() time.Duration {
	return parseDurationDefault(c.ErrorBackoff, 5*time.Second)
}
