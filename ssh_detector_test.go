package packetguard

import (
	"testing"
	"time"
)

func sshAttemptWindow(src string, count int, step time.Duration) []Packet {
	window := make([]Packet, 0, count)
	for i := 0; i < count; i++ {
		window = append(window, synPacket(uint64(i+1), src, 50000+i, "192.168.1.50", 22, testWindowBase.Add(time.Duration(i)*step)))
	}
	return window
}

func TestSSHBruteForceDetectorFiresOnRapidAttempts(t *testing.T) {
	det := NewSSHBruteForceDetector(DefaultDetectorConfig().SSHBruteForce)

	// Five connection attempts inside four seconds.
	window := sshAttemptWindow("203.0.113.4", 5, time.Second)
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection for rapid SSH attempts")
	}
	if detection.Severity != SeverityHigh {
		t.Fatalf("expected severity %s, got %s", SeverityHigh, detection.Severity)
	}
	details, ok := detection.Details.(SSHBruteForceDetails)
	if !ok {
		t.Fatalf("expected SSHBruteForceDetails, got %T", detection.Details)
	}
	if len(details.Offenders) != 1 {
		t.Fatalf("expected 1 offender, got %d", len(details.Offenders))
	}
	offender := details.Offenders[0]
	if offender.SrcIP != "203.0.113.4" || offender.Attempts != 5 {
		t.Fatalf("expected 203.0.113.4 with 5 attempts, got %+v", offender)
	}
	if offender.RatePerSecond < 1 {
		t.Fatalf("expected at least 1 attempt/s, got %.2f", offender.RatePerSecond)
	}
}

func TestSSHBruteForceDetectorBelowAttemptThresholdStaysQuiet(t *testing.T) {
	det := NewSSHBruteForceDetector(DefaultDetectorConfig().SSHBruteForce)

	window := sshAttemptWindow("203.0.113.4", 4, time.Second)
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection below the attempt threshold, got %+v", detection)
	}
}

func TestSSHBruteForceDetectorSlowSingleTargetStaysQuiet(t *testing.T) {
	det := NewSSHBruteForceDetector(DefaultDetectorConfig().SSHBruteForce)

	// Five attempts spread over twenty seconds against one host: a flaky
	// client reconnecting, not a brute force.
	window := sshAttemptWindow("203.0.113.4", 5, 5*time.Second)
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection for a slow single-target client, got %+v", detection)
	}
}

func TestSSHBruteForceDetectorChargesClientForServerMarkers(t *testing.T) {
	det := NewSSHBruteForceDetector(DefaultDetectorConfig().SSHBruteForce)

	// Failure markers ride server-to-client packets; the hint must land on
	// the client profile.
	window := sshAttemptWindow("203.0.113.4", 5, time.Second)
	window = append(window, Packet{
		ID:        100,
		Timestamp: testWindowBase.Add(5 * time.Second),
		Protocol:  ProtocolTCP,
		SrcIP:     "192.168.1.50",
		DstIP:     "203.0.113.4",
		SrcPort:   22,
		DstPort:   50000,
		Flags:     []string{"PSH", "ACK"},
		Info:      "Failed password for invalid user admin",
	})
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection")
	}
	offender := detection.Details.(SSHBruteForceDetails).Offenders[0]
	if offender.SrcIP != "203.0.113.4" {
		t.Fatalf("expected the client charged, got %s", offender.SrcIP)
	}
	if offender.FailureHints != 1 {
		t.Fatalf("expected 1 failure hint on the client, got %d", offender.FailureHints)
	}
	// The marker packet itself is not a connection attempt.
	if offender.Attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", offender.Attempts)
	}
}

func TestSSHBruteForceDetectorIgnoresOtherPorts(t *testing.T) {
	det := NewSSHBruteForceDetector(DefaultDetectorConfig().SSHBruteForce)

	window := make([]Packet, 0, 8)
	for i := 0; i < 8; i++ {
		window = append(window, synPacket(uint64(i+1), "203.0.113.4", 50000+i, "192.168.1.50", 80, testWindowBase.Add(time.Duration(i)*time.Second)))
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection off the SSH ports, got %+v", detection)
	}
}
