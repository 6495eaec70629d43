package packetguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// dnsAnswerPattern extracts a resolved name and address from a DNS response
// summary, e.g. "Standard query response A example.com A 93.184.216.34".
var dnsAnswerPattern = regexp.MustCompile(`(?i)\b([a-z0-9][a-z0-9.\-]*\.[a-z]{2,})\b.*?(\d{1,3}(?:\.\d{1,3}){3})`)

// DNSPoisoningDetector flags domains that resolved to conflicting addresses
// within the window. The first answer observed is reported as the legitimate
// one, which is only a guess when the poisoned answer arrived first.
type DNSPoisoningDetector struct {
	cfg DNSPoisoningConfig
}

func NewDNSPoisoningDetector(cfg DNSPoisoningConfig) *DNSPoisoningDetector {
	return &DNSPoisoningDetector{cfg: cfg}
}

func (d *DNSPoisoningDetector) Kind() AttackKind { return AttackDNSPoisoning }

func (d *DNSPoisoningDetector) Analyze(window []Packet) (*Detection, error) {
	addressesByDomain := make(map[string][]string)
	for i := range window {
		pkt := &window[i]
		domain, addr, ok := parseDNSAnswer(pkt)
		if !ok {
			continue
		}
		addressesByDomain[domain] = appendUnique(addressesByDomain[domain], addr)
	}

	flagged := make(map[string]struct{})
	var domains []PoisonedDomain
	for domain, addrs := range addressesByDomain {
		if len(addrs) <= d.cfg.MaxAddressesPerDomain {
			continue
		}
		flagged[domain] = struct{}{}
		domains = append(domains, PoisonedDomain{
			Domain:     domain,
			Addresses:  addrs,
			Legitimate: addrs[0],
		})
	}
	if len(domains) == 0 {
		return nil, nil
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].Domain < domains[j].Domain })

	evidence := newEvidenceCollector(d.cfg.EvidenceLimit)
	for i := range window {
		pkt := &window[i]
		domain, _, ok := parseDNSAnswer(pkt)
		if !ok {
			continue
		}
		if _, hit := flagged[domain]; hit {
			evidence.add(pkt)
		}
	}

	first := domains[0]
	return &Detection{
		Kind:     AttackDNSPoisoning,
		Name:     "DNS Poisoning",
		Severity: SeverityHigh,
		Description: fmt.Sprintf("%d domain(s) with conflicting answers, %s resolved to %d addresses",
			len(domains), first.Domain, len(first.Addresses)),
		FirstSeen: evidence.span.first,
		LastSeen:  evidence.span.last,
		Evidence:  evidence.ids,
		Details:   DNSPoisoningDetails{Domains: domains},
	}, nil
}

func parseDNSAnswer(pkt *Packet) (domain, addr string, ok bool) {
	if pkt.Protocol != ProtocolDNS {
		return "", "", false
	}
	m := dnsAnswerPattern.FindStringSubmatch(pkt.Info)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), m[2], true
}
