package packetguard

import (
	"testing"
	"time"
)

func arpDetection(ip string, macs ...string) *Detection {
	return &Detection{
		Kind:     AttackARPSpoof,
		Name:     "ARP Spoofing",
		Severity: SeverityCritical,
		Details:  ARPSpoofDetails{SuspiciousIPs: map[string][]string{ip: macs}},
	}
}

func TestLedgerSuppressesDuplicateWithinTTL(t *testing.T) {
	ledger := NewDetectionLedger(5 * time.Minute)
	clock := testWindowBase
	ledger.now = func() time.Time { return clock }

	first := arpDetection("192.168.1.10", "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")
	first.DetectionTime = clock
	if !ledger.Observe(first) {
		t.Fatal("expected the first detection to commit")
	}

	// Same identity a minute later: duplicate.
	clock = clock.Add(time.Minute)
	second := arpDetection("192.168.1.10", "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:03")
	second.DetectionTime = clock
	if ledger.Observe(second) {
		t.Fatal("expected the repeat detection to be suppressed")
	}
	if got := len(ledger.History()); got != 1 {
		t.Fatalf("expected 1 retained entry, got %d", got)
	}
}

func TestLedgerExpiresEntriesAfterTTL(t *testing.T) {
	ledger := NewDetectionLedger(5 * time.Minute)
	clock := testWindowBase
	ledger.now = func() time.Time { return clock }

	first := arpDetection("192.168.1.10", "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")
	first.DetectionTime = clock
	if !ledger.Observe(first) {
		t.Fatal("expected the first detection to commit")
	}

	// Past the TTL the identity is forgotten and the detection commits again.
	clock = clock.Add(5*time.Minute + time.Second)
	second := arpDetection("192.168.1.10", "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")
	second.DetectionTime = clock
	if !ledger.Observe(second) {
		t.Fatal("expected a fresh detection once the old entry expired")
	}
	// The expired entry was purged during the same Observe call.
	if got := len(ledger.History()); got != 1 {
		t.Fatalf("expected 1 retained entry after expiry, got %d", got)
	}
}

func TestLedgerSameIdentityDifferentKindIsNotADuplicate(t *testing.T) {
	ledger := NewDetectionLedger(5 * time.Minute)
	clock := testWindowBase
	ledger.now = func() time.Time { return clock }

	arp := arpDetection("203.0.113.7", "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")
	arp.DetectionTime = clock
	if !ledger.Observe(arp) {
		t.Fatal("expected the ARP detection to commit")
	}

	scan := &Detection{
		Kind:          AttackPortScan,
		Name:          "Port Scan",
		Severity:      SeverityMedium,
		DetectionTime: clock,
		Details: PortScanDetails{
			Scanners:   []ScannerActivity{{SrcIP: "203.0.113.7", UniquePortCount: 12}},
			MostActive: "203.0.113.7",
		},
	}
	if !ledger.Observe(scan) {
		t.Fatal("expected a same-identity detection of another kind to commit")
	}
}

func TestLedgerDisjointIdentitySetsBothCommit(t *testing.T) {
	ledger := NewDetectionLedger(5 * time.Minute)
	clock := testWindowBase
	ledger.now = func() time.Time { return clock }

	a := arpDetection("192.168.1.10", "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")
	a.DetectionTime = clock
	b := arpDetection("192.168.1.11", "aa:bb:cc:dd:ee:03", "aa:bb:cc:dd:ee:04")
	b.DetectionTime = clock.Add(time.Second)
	if !ledger.Observe(a) || !ledger.Observe(b) {
		t.Fatal("expected detections with disjoint identities to both commit")
	}
	if got := len(ledger.History()); got != 2 {
		t.Fatalf("expected 2 retained entries, got %d", got)
	}
}

func TestLedgerHistoryNewestFirst(t *testing.T) {
	ledger := NewDetectionLedger(5 * time.Minute)
	clock := testWindowBase
	ledger.now = func() time.Time { return clock }

	for i, ip := range []string{"192.168.1.10", "192.168.1.11", "192.168.1.12"} {
		det := arpDetection(ip, "aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")
		det.DetectionTime = clock.Add(time.Duration(i) * time.Minute)
		clock = det.DetectionTime
		if !ledger.Observe(det) {
			t.Fatalf("expected detection %d to commit", i)
		}
	}
	history := ledger.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].DetectionTime.After(history[i-1].DetectionTime) {
			t.Fatalf("expected history sorted newest first, got %v then %v",
				history[i-1].DetectionTime, history[i].DetectionTime)
		}
	}

	summary := ledger.Summary()
	if summary.Total != 3 || summary.ByKind[AttackARPSpoof] != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
