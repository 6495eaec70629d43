package packetguard

import (
	"testing"
	"time"
)

func TestARPSpoofDetectorFlagsConflictingMACs(t *testing.T) {
	det := NewARPSpoofDetector(DefaultDetectorConfig().ARPSpoof)

	// Two different MACs answer for the same address: classic poisoning.
	window := []Packet{
		arpReplyPacket(1, "192.168.1.10", "aa:bb:cc:dd:ee:01", testWindowBase),
		arpReplyPacket(2, "192.168.1.10", "aa:bb:cc:dd:ee:02", testWindowBase.Add(time.Second)),
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection for conflicting MACs")
	}
	if detection.Kind != AttackARPSpoof {
		t.Fatalf("expected kind %s, got %s", AttackARPSpoof, detection.Kind)
	}
	if detection.Severity != SeverityCritical {
		t.Fatalf("expected severity %s, got %s", SeverityCritical, detection.Severity)
	}
	details, ok := detection.Details.(ARPSpoofDetails)
	if !ok {
		t.Fatalf("expected ARPSpoofDetails, got %T", detection.Details)
	}
	macs := details.SuspiciousIPs["192.168.1.10"]
	if len(macs) != 2 {
		t.Fatalf("expected 2 MACs for 192.168.1.10, got %v", macs)
	}
	if macs[0] != "aa:bb:cc:dd:ee:01" || macs[1] != "aa:bb:cc:dd:ee:02" {
		t.Fatalf("expected MACs in first-observed order, got %v", macs)
	}
	if len(detection.Evidence) != 2 {
		t.Fatalf("expected 2 evidence packets, got %d", len(detection.Evidence))
	}
	if !containsString(details.Identity(), "192.168.1.10") {
		t.Fatalf("expected identity to carry the claimed address, got %v", details.Identity())
	}
}

func TestARPSpoofDetectorIgnoresRepeatedSameMAC(t *testing.T) {
	det := NewARPSpoofDetector(DefaultDetectorConfig().ARPSpoof)

	// The same MAC re-announcing the same address is ordinary gratuitous ARP.
	window := []Packet{
		arpReplyPacket(1, "192.168.1.10", "aa:bb:cc:dd:ee:01", testWindowBase),
		arpReplyPacket(2, "192.168.1.10", "aa:bb:cc:dd:ee:01", testWindowBase.Add(time.Second)),
		arpReplyPacket(3, "192.168.1.10", "aa:bb:cc:dd:ee:01", testWindowBase.Add(2*time.Second)),
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection for a repeated identical MAC, got %+v", detection)
	}
}

func TestARPSpoofDetectorNormalizesMACCase(t *testing.T) {
	det := NewARPSpoofDetector(DefaultDetectorConfig().ARPSpoof)

	// Upper and lower case renderings of one MAC must not read as a conflict.
	window := []Packet{
		arpReplyPacket(1, "192.168.1.10", "AA:BB:CC:DD:EE:01", testWindowBase),
		arpReplyPacket(2, "192.168.1.10", "aa:bb:cc:dd:ee:01", testWindowBase.Add(time.Second)),
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection across MAC case variants, got %+v", detection)
	}
}

func TestARPSpoofDetectorIgnoresNonARPTraffic(t *testing.T) {
	det := NewARPSpoofDetector(DefaultDetectorConfig().ARPSpoof)

	// The reply text on a non-ARP packet must not count.
	window := []Packet{
		{ID: 1, Timestamp: testWindowBase, Protocol: ProtocolTCP, Info: "192.168.1.10 is-at aa:bb:cc:dd:ee:01"},
		{ID: 2, Timestamp: testWindowBase, Protocol: ProtocolTCP, Info: "192.168.1.10 is-at aa:bb:cc:dd:ee:02"},
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection from non-ARP packets, got %+v", detection)
	}
}
