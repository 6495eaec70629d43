package packetguard

import (
	"errors"
	"testing"
	"time"
)

// failingSource always errors, standing in for a broken database.
type failingSource struct{}

func (failingSource) ActiveSession() (string, error) {
	return "", errors.New("database is locked")
}

func (failingSource) PacketsByRange(string, time.Time, time.Time) ([]Packet, error) {
	return nil, errors.New("database is locked")
}

func newTestRecognizer(source PacketSource, detectors []PatternDetector) *AttackRecognizer {
	return NewAttackRecognizer(source, detectors, RecognizerOptions{
		PollInterval: 20 * time.Millisecond,
		ErrorBackoff: 20 * time.Millisecond,
		JoinTimeout:  time.Second,
		Logger:       testLogger(),
	})
}

func TestStartStopDetectionLifecycle(t *testing.T) {
	source := NewMemoryPacketSource(0)
	rec := newTestRecognizer(source, NewDetectors(DefaultDetectorConfig()))

	if rec.Running() {
		t.Fatal("expected a fresh recognizer to be idle")
	}
	if !rec.StartDetection(nil) {
		t.Fatal("expected StartDetection to succeed")
	}
	if rec.StartDetection(nil) {
		t.Fatal("expected a second StartDetection to report already running")
	}
	if !rec.Running() {
		t.Fatal("expected the recognizer to report running")
	}
	if !rec.StopDetection() {
		t.Fatal("expected StopDetection to succeed")
	}
	if rec.StopDetection() {
		t.Fatal("expected a second StopDetection to report not running")
	}
	if rec.Running() {
		t.Fatal("expected the recognizer to be idle after stop")
	}
}

func TestScanCycleDeduplicatesAcrossCycles(t *testing.T) {
	source := NewMemoryPacketSource(0)
	source.StartSession()
	if err := source.Append(
		arpReplyPacket(1, "192.168.1.10", "aa:bb:cc:dd:ee:01", testWindowBase),
		arpReplyPacket(2, "192.168.1.10", "aa:bb:cc:dd:ee:02", testWindowBase.Add(time.Second)),
	); err != nil {
		t.Fatalf("append packets: %v", err)
	}

	rec := newTestRecognizer(source, NewDetectors(DefaultDetectorConfig()))
	rec.now = func() time.Time { return testWindowBase.Add(10 * time.Second) }

	events := make(chan Notification, 16)
	if err := rec.scanOnce(events); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	// The same window again: the ledger must suppress the repeat.
	if err := rec.scanOnce(events); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}
	close(events)

	var successes []Notification
	for n := range events {
		if n.Success {
			successes = append(successes, n)
		}
	}
	if len(successes) != 1 {
		t.Fatalf("expected exactly one committed detection across cycles, got %d", len(successes))
	}
	if successes[0].Detection == nil || successes[0].Detection.Kind != AttackARPSpoof {
		t.Fatalf("expected an ARP spoof notification, got %+v", successes[0])
	}
	if successes[0].Message == "" {
		t.Fatal("expected a human-readable message")
	}
	if got := len(rec.AttackHistory()); got != 1 {
		t.Fatalf("expected 1 history entry, got %d", got)
	}
}

func TestScanCycleSkipsQuietlyWithoutSession(t *testing.T) {
	source := NewMemoryPacketSource(0)
	rec := newTestRecognizer(source, NewDetectors(DefaultDetectorConfig()))

	events := make(chan Notification, 4)
	if err := rec.scanOnce(events); err != nil {
		t.Fatalf("expected an idle cycle without a session, got %v", err)
	}
	select {
	case n := <-events:
		t.Fatalf("expected no notifications from an idle cycle, got %+v", n)
	default:
	}
}

func TestSourceFailureReportedAndLoopContinues(t *testing.T) {
	rec := newTestRecognizer(failingSource{}, NewDetectors(DefaultDetectorConfig()))

	failures := make(chan string, 16)
	rec.StartDetection(func(ok bool, message string, det *Detection) {
		if !ok && det == nil {
			select {
			case failures <- message:
			default:
			}
		}
	})
	defer rec.StopDetection()

	// Two reports prove the loop survived the first failure.
	for i := 0; i < 2; i++ {
		select {
		case msg := <-failures:
			if msg == "" {
				t.Fatal("expected a failure message")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for failure report %d", i+1)
		}
	}
}

func TestDetectorFaultIsolatedFromOtherDetectors(t *testing.T) {
	source := NewMemoryPacketSource(0)
	source.StartSession()
	if err := source.Append(
		arpReplyPacket(1, "192.168.1.10", "aa:bb:cc:dd:ee:01", testWindowBase),
		arpReplyPacket(2, "192.168.1.10", "aa:bb:cc:dd:ee:02", testWindowBase.Add(time.Second)),
	); err != nil {
		t.Fatalf("append packets: %v", err)
	}

	rec := newTestRecognizer(source, []PatternDetector{
		panickyDetector{},
		NewARPSpoofDetector(DefaultDetectorConfig().ARPSpoof),
	})
	rec.now = func() time.Time { return testWindowBase.Add(10 * time.Second) }

	events := make(chan Notification, 16)
	if err := rec.scanOnce(events); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	close(events)

	var sawFailure, sawDetection bool
	for n := range events {
		if !n.Success {
			sawFailure = true
		}
		if n.Success && n.Detection != nil && n.Detection.Kind == AttackARPSpoof {
			sawDetection = true
		}
	}
	if !sawFailure {
		t.Fatal("expected the panicking detector to report a failure")
	}
	if !sawDetection {
		t.Fatal("expected the remaining detector to still run")
	}
}

type panickyDetector struct{}

func (panickyDetector) Kind() AttackKind { return AttackKind("panicky") }

func (panickyDetector) Analyze([]Packet) (*Detection, error) {
	panic("synthetic detector fault")
}

func TestEndToEndSYNFloodTriggersDefense(t *testing.T) {
	source := NewMemoryPacketSource(0)
	source.StartSession()
	// 250 bare SYNs at one service inside two seconds from five peers.
	if err := source.Append(synFloodWindow("10.0.0.5", 80, 250, 5, 2*time.Second)...); err != nil {
		t.Fatalf("append packets: %v", err)
	}

	rec := newTestRecognizer(source, NewDetectors(DefaultDetectorConfig()))
	rec.now = func() time.Time { return testWindowBase.Add(3 * time.Second) }

	detections := make(chan *Detection, 16)
	rec.StartDetection(func(ok bool, _ string, det *Detection) {
		if ok && det != nil {
			select {
			case detections <- det:
			default:
			}
		}
	})
	defer rec.StopDetection()

	// The window also qualifies as a volumetric flood, so skip past any DDoS
	// detection and wait for the SYN-specific one.
	var det *Detection
	deadline := time.After(2 * time.Second)
	for det == nil {
		select {
		case candidate := <-detections:
			if candidate.Kind == AttackSYNFlood {
				det = candidate
			}
		case <-deadline:
			t.Fatal("timed out waiting for the SYN flood detection")
		}
	}
	details := det.Details.(SYNFloodDetails)
	if !details.Distributed {
		t.Fatal("expected the flood flagged as distributed")
	}
	if len(details.Targets) != 1 || details.Targets[0].RatePerSecond <= 100 {
		t.Fatalf("expected one target above 100 SYN/s, got %+v", details.Targets)
	}

	runner := &scriptedRunner{}
	defense := NewDefenseMechanism(runner, PlatformLinux, testLogger(), nil)
	if !defense.StartDefense(det, nil) {
		t.Fatal("expected SYN protection to activate")
	}
	active := defense.ActiveDefenses()
	if len(active) != 1 {
		t.Fatalf("expected one defense record, got %d", len(active))
	}
	rec2 := active[det.AttackID()]
	if rec2.Defense.Kind != DefenseSYNProtection {
		t.Fatalf("expected SYN protection, got %s", rec2.Defense.Kind)
	}
	if len(rec2.Defense.Targets) != 1 || rec2.Defense.Targets[0] != "10.0.0.5:80" {
		t.Fatalf("expected protection for 10.0.0.5:80, got %v", rec2.Defense.Targets)
	}
}
