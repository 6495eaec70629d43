package packetguard

import (
	"testing"
	"time"
)

func webPacket(id uint64, src string, dstPort int, payload string, at time.Time) Packet {
	return Packet{
		ID:        id,
		Timestamp: at,
		Protocol:  ProtocolHTTP,
		SrcIP:     src,
		DstIP:     "192.168.1.30",
		SrcPort:   51000,
		DstPort:   dstPort,
		Info:      payload,
	}
}

func TestWebAttackDetectorClassifiesFamilies(t *testing.T) {
	det := NewWebAttackDetector(DefaultDetectorConfig().WebAttack)

	cases := []struct {
		payload string
		subtype string
	}{
		{"GET /items?id=1 UNION SELECT password FROM users", "sql_injection"},
		{"GET /search?q=<script>alert(document.cookie)</script>", "xss"},
		{"GET /../../etc/passwd HTTP/1.1", "path_traversal"},
		{"GET /ping?host=1.2.3.4;cat /etc/hosts", "command_injection"},
		{"GET /page?file=php://input", "file_inclusion"},
	}
	for _, tc := range cases {
		window := []Packet{webPacket(1, "203.0.113.8", 80, tc.payload, testWindowBase)}
		detection, err := det.Analyze(window)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.subtype, err)
		}
		if detection == nil {
			t.Fatalf("%s: expected a detection for %q", tc.subtype, tc.payload)
		}
		details := detection.Details.(WebAttackDetails)
		if details.MostCommonAttack != tc.subtype {
			t.Fatalf("expected subtype %s for %q, got %s", tc.subtype, tc.payload, details.MostCommonAttack)
		}
	}
}

func TestWebAttackDetectorDecodesURLEncoding(t *testing.T) {
	det := NewWebAttackDetector(DefaultDetectorConfig().WebAttack)

	// The probe only matches once percent decoding has run.
	window := []Packet{
		webPacket(1, "203.0.113.8", 8080, "GET /search?q=%3Cscript%3Ealert(1)%3C%2Fscript%3E", testWindowBase),
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection for the encoded payload")
	}
	details := detection.Details.(WebAttackDetails)
	if details.MostCommonAttack != "xss" {
		t.Fatalf("expected xss, got %s", details.MostCommonAttack)
	}
}

func TestWebAttackDetectorFirstMatchWinsPerPacket(t *testing.T) {
	det := NewWebAttackDetector(DefaultDetectorConfig().WebAttack)

	// Payload matches both the SQLi and XSS families; the family evaluated
	// first claims the packet.
	window := []Packet{
		webPacket(1, "203.0.113.8", 443, "GET /items?id=1 UNION SELECT '<script>alert(1)</script>'", testWindowBase),
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection")
	}
	details := detection.Details.(WebAttackDetails)
	off := details.Offenders[0]
	if off.Subtypes["sql_injection"] != 1 || off.Subtypes["xss"] != 0 {
		t.Fatalf("expected sql_injection to claim the packet, got %v", off.Subtypes)
	}
}

func TestWebAttackDetectorMajorityVote(t *testing.T) {
	det := NewWebAttackDetector(DefaultDetectorConfig().WebAttack)

	window := []Packet{
		webPacket(1, "203.0.113.8", 80, "GET /a?q=<script>alert(1)</script>", testWindowBase),
		webPacket(2, "203.0.113.8", 80, "GET /b?q=javascript:alert(2)", testWindowBase.Add(time.Second)),
		webPacket(3, "203.0.113.9", 80, "GET /items?id=1 OR 1=1", testWindowBase.Add(2*time.Second)),
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection == nil {
		t.Fatal("expected a detection")
	}
	details := detection.Details.(WebAttackDetails)
	if details.MostCommonAttack != "xss" {
		t.Fatalf("expected majority subtype xss, got %s", details.MostCommonAttack)
	}
	if len(details.Offenders) != 2 {
		t.Fatalf("expected 2 offenders, got %d", len(details.Offenders))
	}
	// Busier source first.
	if details.Offenders[0].SrcIP != "203.0.113.8" || details.Offenders[0].Matches != 2 {
		t.Fatalf("expected 203.0.113.8 with 2 matches first, got %+v", details.Offenders[0])
	}
}

func TestWebAttackDetectorIgnoresNonWebPorts(t *testing.T) {
	det := NewWebAttackDetector(DefaultDetectorConfig().WebAttack)

	window := []Packet{
		{
			ID: 1, Timestamp: testWindowBase, Protocol: ProtocolTCP,
			SrcIP: "203.0.113.8", DstIP: "192.168.1.30", SrcPort: 51000, DstPort: 3306,
			Info: "SELECT * FROM users WHERE 1=1 UNION SELECT password FROM users",
		},
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection off the web ports, got %+v", detection)
	}
}

func TestWebAttackDetectorBenignTrafficStaysQuiet(t *testing.T) {
	det := NewWebAttackDetector(DefaultDetectorConfig().WebAttack)

	window := []Packet{
		webPacket(1, "192.168.1.2", 80, "GET /index.html HTTP/1.1", testWindowBase),
		webPacket(2, "192.168.1.2", 443, "POST /api/orders HTTP/1.1", testWindowBase.Add(time.Second)),
	}
	detection, err := det.Analyze(window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection != nil {
		t.Fatalf("expected no detection for ordinary requests, got %+v", detection)
	}
}
