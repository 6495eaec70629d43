package packetguard

import (
	"testing"
	"time"
)

func smbFailurePacket(id uint64, src, dst string, at time.Time) Packet {
	return Packet{
		ID:        id,
		Timestamp: at,
		Protocol:  ProtocolTCP,
		SrcIP:     src,
		DstIP:     dst,
		SrcPort:   49000,
		DstPort:   445,
		Info:      "Session Setup Response, Error: STATUS_LOGON_FAILURE",
	}
}

func TestSMBExploitDetectorFlagsAuthFailureBurst(t *testing.T) {
	det := NewSMBExploitDetector(DefaultDetectorConfig().SMBExploit)

	window := make([]Packet, 0, 10)
	for i := 0; i < 10; i++ {
		window = append(window, smbFailurePacket(uint64(i+1), "203.0.113.9", "192.168.1.40", testWindowBase.Add(time.Duration(i)*time.Second)))
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection for the auth failure burst")
	}
	// Brute forcing without exploit payloads stays one notch below critical.
	if detection.Severity != SeverityHigh {
		t.Fatalf("expected severity %s, got %s", SeverityHigh, detection.Severity)
	}
	details, ok := detection.Details.(SMBExploitDetails)
	if !ok {
		t.Fatalf("expected SMBExploitDetails, got %T", detection.Details)
	}
	if len(details.Offenders) != 1 {
		t.Fatalf("expected 1 offender, got %d", len(details.Offenders))
	}
	offender := details.Offenders[0]
	if offender.SrcIP != "203.0.113.9" || offender.AuthFailures != 10 {
		t.Fatalf("expected 203.0.113.9 with 10 failures, got %+v", offender)
	}
	if len(offender.Targets) != 1 || offender.Targets[0] != "192.168.1.40" {
		t.Fatalf("expected target 192.168.1.40, got %v", offender.Targets)
	}
}

func TestSMBExploitDetectorBelowFailureThresholdStaysQuiet(t *testing.T) {
	det := NewSMBExploitDetector(DefaultDetectorConfig().SMBExploit)

	window := make([]Packet, 0, 9)
	for i := 0; i < 9; i++ {
		window = append(window, smbFailurePacket(uint64(i+1), "203.0.113.9", "192.168.1.40", testWindowBase.Add(time.Duration(i)*time.Second)))
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection below the failure threshold, got %+v", detection)
	}
}

func TestSMBExploitDetectorSignatureHitIsCritical(t *testing.T) {
	det := NewSMBExploitDetector(DefaultDetectorConfig().SMBExploit)

	// One DoublePulsar echo in a payload is enough, no brute forcing needed.
	window := []Packet{
		{
			ID:        7,
			Timestamp: testWindowBase,
			Protocol:  ProtocolTCP,
			SrcIP:     "203.0.113.9",
			DstIP:     "192.168.1.40",
			SrcPort:   49001,
			DstPort:   445,
			RawData:   []byte("....JlJmIhClBsr...."),
		},
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection for the exploit signature")
	}
	if detection.Severity != SeverityCritical {
		t.Fatalf("expected severity %s, got %s", SeverityCritical, detection.Severity)
	}
	details := detection.Details.(SMBExploitDetails)
	if len(details.SignatureHits) != 1 {
		t.Fatalf("expected 1 signature hit, got %d", len(details.SignatureHits))
	}
	hit := details.SignatureHits[0]
	if hit.Signature != "doublepulsar_echo" {
		t.Fatalf("expected doublepulsar_echo, got %s", hit.Signature)
	}
	if hit.PacketID != 7 || hit.SrcIP != "203.0.113.9" {
		t.Fatalf("expected hit from packet 7 by 203.0.113.9, got %+v", hit)
	}
}

func TestSMBExploitDetectorMatchesTrans2Header(t *testing.T) {
	det := NewSMBExploitDetector(DefaultDetectorConfig().SMBExploit)

	window := []Packet{
		{
			ID:        1,
			Timestamp: testWindowBase,
			Protocol:  ProtocolTCP,
			SrcIP:     "203.0.113.9",
			DstIP:     "192.168.1.40",
			SrcPort:   49001,
			DstPort:   445,
			RawData:   []byte{0x00, 0x00, 0xff, 0x53, 0x4d, 0x42, 0x32, 0x00},
		},
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection for the trans2 header")
	}
	details := detection.Details.(SMBExploitDetails)
	if len(details.SignatureHits) != 1 || details.SignatureHits[0].Signature != "smb1_trans2_request" {
		t.Fatalf("expected smb1_trans2_request, got %+v", details.SignatureHits)
	}
}

func TestSMBExploitDetectorIgnoresNonSMBPorts(t *testing.T) {
	det := NewSMBExploitDetector(DefaultDetectorConfig().SMBExploit)

	// Failure text and exploit bytes outside 139/445 are someone else's
	// problem.
	window := make([]Packet, 0, 12)
	for i := 0; i < 12; i++ {
		window = append(window, Packet{
			ID:        uint64(i + 1),
			Timestamp: testWindowBase.Add(time.Duration(i) * time.Second),
			Protocol:  ProtocolTCP,
			SrcIP:     "203.0.113.9",
			DstIP:     "192.168.1.40",
			SrcPort:   49000,
			DstPort:   8080,
			Info:      "STATUS_LOGON_FAILURE",
			RawData:   []byte("JlJmIhClBsr"),
		})
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection off the SMB ports, got %+v", detection)
	}
}
