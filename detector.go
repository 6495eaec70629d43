package packetguard

// NewDetectors builds the complete detector set in its fixed evaluation
// order. The recognizer runs them in this order every cycle.
func NewDetectors(cfg DetectorConfig) []PatternDetector {
	return []PatternDetector{
		NewARPSpoofDetector(cfg.ARPSpoof),
		NewPortScanDetector(cfg.PortScan),
		NewDDoSDetector(cfg.DDoS),
		NewDNSPoisoningDetector(cfg.DNSPoisoning),
		NewMITMDetector(cfg.MITM),
		NewSYNFloodDetector(cfg.SYNFlood),
		NewSMBExploitDetector(cfg.SMBExploit),
		NewSSHBruteForceDetector(cfg.SSHBruteForce),
		NewWebAttackDetector(cfg.WebAttack),
	}
}

// evidenceCollector gathers packet IDs up to a limit along with the time
// bounds of everything it saw, including packets beyond the limit.
type evidenceCollector struct {
	limit int
	ids   []uint64
	span  timeSpan
}

func newEvidenceCollector(limit int) *evidenceCollector {
	if limit <= 0 {
		limit = defaultEvidenceLimit
	}
	return &evidenceCollector{limit: limit}
}

func (c *evidenceCollector) add(p *Packet) {
	c.span.observe(p.Timestamp)
	if len(c.ids) < c.limit {
		c.ids = append(c.ids, p.ID)
	}
}
