package packetguard

import (
	"testing"
	"time"
)

func TestPortScanDetectorFiresAtPortThreshold(t *testing.T) {
	det := NewPortScanDetector(DefaultDetectorConfig().PortScan)

	// Ten distinct ports probed inside five seconds: exactly at threshold.
	window := portScanWindow("203.0.113.7", "192.168.1.20",
		8001, 8002, 8003, 8004, 8005, 8006, 8007, 8008, 8009, 8010)
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection at the port threshold")
	}
	if detection.Severity != SeverityMedium {
		t.Fatalf("expected severity %s, got %s", SeverityMedium, detection.Severity)
	}
	details, ok := detection.Details.(PortScanDetails)
	if !ok {
		t.Fatalf("expected PortScanDetails, got %T", detection.Details)
	}
	if details.MostActive != "203.0.113.7" {
		t.Fatalf("expected most active scanner 203.0.113.7, got %s", details.MostActive)
	}
	if len(details.Scanners) != 1 {
		t.Fatalf("expected 1 scanner, got %d", len(details.Scanners))
	}
	scanner := details.Scanners[0]
	if scanner.UniquePortCount != 10 {
		t.Fatalf("expected unique_port_count 10, got %d", scanner.UniquePortCount)
	}
	if scanner.TargetCount != 1 {
		t.Fatalf("expected 1 target host, got %d", scanner.TargetCount)
	}
	ports := scanner.Targets["192.168.1.20"]
	if len(ports) != 10 || ports[0] != 8001 || ports[9] != 8010 {
		t.Fatalf("expected sorted probed ports 8001..8010, got %v", ports)
	}
}

func TestPortScanDetectorBelowThresholdStaysQuiet(t *testing.T) {
	det := NewPortScanDetector(DefaultDetectorConfig().PortScan)

	// Nine ports: one short of the threshold.
	window := portScanWindow("203.0.113.7", "192.168.1.20",
		8001, 8002, 8003, 8004, 8005, 8006, 8007, 8008, 8009)
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection below the port threshold, got %+v", detection)
	}
}

func TestPortScanDetectorIgnoresEstablishedTraffic(t *testing.T) {
	det := NewPortScanDetector(DefaultDetectorConfig().PortScan)

	// SYN+ACK responses are not probes, however many ports they touch.
	window := make([]Packet, 0, 12)
	for i := 0; i < 12; i++ {
		pkt := synPacket(uint64(i+1), "192.168.1.20", 8000+i, "203.0.113.7", 52000+i, testWindowBase.Add(time.Duration(i)*100*time.Millisecond))
		pkt.Flags = []string{"SYN", "ACK"}
		window = append(window, pkt)
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection from established traffic, got %+v", detection)
	}
}

func TestPortScanDetectorCountsUDPProbes(t *testing.T) {
	det := NewPortScanDetector(DefaultDetectorConfig().PortScan)

	window := make([]Packet, 0, 10)
	for i := 0; i < 10; i++ {
		window = append(window, Packet{
			ID:        uint64(i + 1),
			Timestamp: testWindowBase.Add(time.Duration(i) * 300 * time.Millisecond),
			Protocol:  ProtocolUDP,
			SrcIP:     "203.0.113.7",
			DstIP:     "192.168.1.20",
			SrcPort:   41000,
			DstPort:   160 + i,
		})
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected UDP probes to count toward the scan")
	}
}

func TestPortScanDetectorSlowScanNeedsTargetSpread(t *testing.T) {
	det := NewPortScanDetector(DefaultDetectorConfig().PortScan)

	// Ten ports on a single host stretched over two minutes: too slow for the
	// span gate, too narrow for the target gate.
	slow := make([]Packet, 0, 10)
	for i := 0; i < 10; i++ {
		at := testWindowBase.Add(time.Duration(i) * 13 * time.Second)
		slow = append(slow, synPacket(uint64(i+1), "203.0.113.7", 40000+i, "192.168.1.20", 8001+i, at))
	}
	detection, err := det.Analyze(slow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection for a slow single-host scan, got %+v", detection)
	}

	// The same pace across five hosts clears the target threshold.
	spread := make([]Packet, 0, 10)
	for i := 0; i < 10; i++ {
		at := testWindowBase.Add(time.Duration(i) * 13 * time.Second)
		dst := []string{"192.168.1.20", "192.168.1.21", "192.168.1.22", "192.168.1.23", "192.168.1.24"}[i%5]
		spread = append(spread, synPacket(uint64(i+1), "203.0.113.7", 40000+i, dst, 8001+i, at))
	}
	detection, err = det.Analyze(spread)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection once the slow scan spans enough hosts")
	}
	details := detection.Details.(PortScanDetails)
	if details.Scanners[0].TargetCount != 5 {
		t.Fatalf("expected 5 target hosts, got %d", details.Scanners[0].TargetCount)
	}
}

func TestPortScanDetectorOrdersScannersByPortCount(t *testing.T) {
	det := NewPortScanDetector(DefaultDetectorConfig().PortScan)

	// Two scanners, the busier one must come first and drive the summary.
	window := portScanWindow("203.0.113.7", "192.168.1.20",
		8001, 8002, 8003, 8004, 8005, 8006, 8007, 8008, 8009, 8010)
	for i := 0; i < 12; i++ {
		at := testWindowBase.Add(time.Duration(i) * 350 * time.Millisecond)
		window = append(window, synPacket(uint64(100+i), "203.0.113.8", 41000+i, "192.168.1.21", 9001+i, at))
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection")
	}
	details := detection.Details.(PortScanDetails)
	if len(details.Scanners) != 2 {
		t.Fatalf("expected 2 scanners, got %d", len(details.Scanners))
	}
	if details.Scanners[0].SrcIP != "203.0.113.8" || details.Scanners[1].SrcIP != "203.0.113.7" {
		t.Fatalf("expected scanners ordered by port count, got %s then %s",
			details.Scanners[0].SrcIP, details.Scanners[1].SrcIP)
	}
	if details.MostActive != "203.0.113.8" {
		t.Fatalf("expected most active 203.0.113.8, got %s", details.MostActive)
	}
}
