package packetguard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

const notificationBuffer = 64

// RecognizerOptions configures an AttackRecognizer. Zero values fall back to
// the shipped defaults.
type RecognizerOptions struct {
	// PollInterval is the pause between scan cycles.
	PollInterval time.Duration
	// Window is how far back each cycle reaches for packets.
	Window time.Duration
	// HistoryTTL bounds both duplicate suppression and history retention.
	HistoryTTL time.Duration
	// ErrorBackoff replaces PollInterval after a failed cycle.
	ErrorBackoff time.Duration
	// JoinTimeout bounds how long StopDetection waits for the loop to exit.
	JoinTimeout time.Duration

	Logger    *log.Logger
	Metrics   MetricsCollector
	Profiler  *TrafficProfiler
	Telemetry *TelemetryStore
}

func (o *RecognizerOptions) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.Window <= 0 {
		o.Window = 5 * time.Minute
	}
	if o.HistoryTTL <= 0 {
		o.HistoryTTL = 5 * time.Minute
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
}

// AttackRecognizer periodically pulls the trailing packet window from its
// source, runs every detector over it and pushes deduplicated detections to
// the registered callback.
type AttackRecognizer struct {
	source PacketSource
	ledger *DetectionLedger

	interval    time.Duration
	window      time.Duration
	backoff     time.Duration
	joinTimeout time.Duration

	logger    *log.Logger
	metrics   MetricsCollector
	profiler  *TrafficProfiler
	telemetry *TelemetryStore

	mu        sync.Mutex
	detectors []PatternDetector
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	now func() time.Time

	// lastSeen is the profiler high-water mark. Only the scan path touches
	// it; overlapping windows would otherwise double-count packets.
	lastSeen time.Time
}

func NewAttackRecognizer(source PacketSource, detectors []PatternDetector, opts RecognizerOptions) *AttackRecognizer {
	opts.applyDefaults()
	return &AttackRecognizer{
		source:      source,
		detectors:   detectors,
		ledger:      NewDetectionLedger(opts.HistoryTTL),
		interval:    opts.PollInterval,
		window:      opts.Window,
		backoff:     opts.ErrorBackoff,
		joinTimeout: opts.JoinTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		profiler:    opts.Profiler,
		telemetry:   opts.Telemetry,
		now:         time.Now,
	}
}

// SetDetectors swaps the detector set. The next cycle picks it up.
func (r *AttackRecognizer) SetDetectors(detectors []PatternDetector) {
	r.mu.Lock()
	r.detectors = detectors
	r.mu.Unlock()
}

func (r *AttackRecognizer) snapshotDetectors() []PatternDetector {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PatternDetector, len(r.detectors))
	copy(out, r.detectors)
	return out
}

// Running reports whether the detection loop is active.
func (r *AttackRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// StartDetection launches the scan loop. Events are queued on a channel and
// delivered to callback from a dedicated consumer goroutine, so a slow
// callback cannot stall scanning. Returns false when already running.
func (r *AttackRecognizer) StartDetection(callback NotifyFunc) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return false
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	events := make(chan Notification, notificationBuffer)
	go deliverNotifications(events, callback)
	go r.loop(events, stopCh, doneCh)

	r.logger.Info().
		Dur("interval", r.interval).
		Dur("window", r.window).
		Msg("attack detection started")
	return true
}

// StopDetection signals the loop to exit and waits for it, bounded by the
// join timeout. Returns false when detection was not running.
func (r *AttackRecognizer) StopDetection() bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		r.logger.Info().Msg("attack detection stopped")
	case <-time.After(r.joinTimeout):
		r.logger.Warn().Dur("timeout", r.joinTimeout).Msg("detection loop did not exit before join timeout")
	}
	return true
}

// AttackHistory returns the retained detections, newest first.
func (r *AttackRecognizer) AttackHistory() []Detection {
	return r.ledger.History()
}

// HistorySummary aggregates the retained history per attack kind.
func (r *AttackRecognizer) HistorySummary() DetectionSummary {
	return r.ledger.Summary()
}

func (r *AttackRecognizer) loop(events chan<- Notification, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer close(events)
	for {
		started := time.Now()
		err := r.scanOnce(events)
		if r.metrics != nil {
			r.metrics.ObserveHistogram("packetguard_scan_duration_seconds", time.Since(started).Seconds(), nil)
		}
		wait := r.interval
		if err != nil {
			r.logger.Error().Err(err).Dur("backoff", r.backoff).Msg("detection cycle failed")
			events <- Notification{
				Success:   false,
				Message:   fmt.Sprintf("detection cycle failed: %v", err),
				Timestamp: r.now(),
			}
			if r.metrics != nil {
				r.metrics.IncrementCounter("packetguard_scan_errors_total", nil)
			}
			wait = r.backoff
		}
		if stopped := sleepInterruptible(wait, stopCh); stopped {
			return
		}
	}
}

// sleepInterruptible waits for d in one-second ticks so a stop signal is
// honored within roughly a second regardless of the configured interval.
func sleepInterruptible(d time.Duration, stopCh <-chan struct{}) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		tick := time.Second
		if remaining < tick {
			tick = remaining
		}
		select {
		case <-stopCh:
			return true
		case <-time.After(tick):
		}
	}
}

// scanOnce runs one detection cycle: fetch the trailing window, run every
// detector, dedup and publish. Source failures abort the cycle; detector
// failures are isolated so the remaining detectors still run.
func (r *AttackRecognizer) scanOnce(events chan<- Notification) error {
	session, err := r.source.ActiveSession()
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			r.logger.Debug().Msg("no active capture session")
			return nil
		}
		return fmt.Errorf("packet source: %w", err)
	}

	end := r.now()
	window, err := r.source.PacketsByRange(session, end.Add(-r.window), end)
	if err != nil {
		return fmt.Errorf("packet source: %w", err)
	}
	if r.metrics != nil {
		r.metrics.IncrementCounter("packetguard_scan_cycles_total", nil)
		r.metrics.SetGauge("packetguard_window_packets", float64(len(window)), nil)
	}
	r.feedProfiler(window)

	for _, det := range r.snapshotDetectors() {
		detection, err := r.runDetector(det, window)
		if err != nil {
			r.logger.Error().Str("detector", string(det.Kind())).Err(err).Msg("detector failed")
			if r.metrics != nil {
				r.metrics.IncrementCounter("packetguard_detector_errors_total", map[string]string{"kind": string(det.Kind())})
			}
			events <- Notification{
				Success:   false,
				Message:   fmt.Sprintf("%s detector failed: %v", det.Kind(), err),
				Timestamp: r.now(),
			}
			continue
		}
		if detection == nil {
			continue
		}
		detection.DetectionTime = r.now()
		if !r.ledger.Observe(detection) {
			r.logger.Debug().Str("kind", string(detection.Kind)).Msg("duplicate detection suppressed")
			if r.metrics != nil {
				r.metrics.IncrementCounter("packetguard_duplicates_suppressed_total", map[string]string{"kind": string(detection.Kind)})
			}
			continue
		}
		r.ingestTelemetry(detection)
		if r.metrics != nil {
			r.metrics.IncrementCounter("packetguard_detections_total", map[string]string{
				"kind":     string(detection.Kind),
				"severity": string(detection.Severity),
			})
		}
		message := detectionMessage(detection)
		r.logger.Warn().
			Str("kind", string(detection.Kind)).
			Str("severity", string(detection.Severity)).
			Str("attack_id", detection.AttackID()).
			Msg(message)
		events <- Notification{
			Success:   true,
			Message:   message,
			Detection: detection,
			Timestamp: detection.DetectionTime,
		}
	}
	return nil
}

// runDetector shields the loop from detector panics; a panicking detector
// reports as a failed one.
func (r *AttackRecognizer) runDetector(det PatternDetector, window []Packet) (detection *Detection, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			detection = nil
			err = fmt.Errorf("detector panic: %v", rec)
		}
	}()
	return det.Analyze(window)
}

// feedProfiler forwards packets newer than the high-water mark so
// overlapping windows do not double count.
func (r *AttackRecognizer) feedProfiler(window []Packet) {
	if r.profiler == nil {
		return
	}
	mark := r.lastSeen
	for i := range window {
		pkt := &window[i]
		if !pkt.Timestamp.After(mark) {
			continue
		}
		r.profiler.Track(pkt.SrcIP, pkt.Protocol, pkt.DstIP, pkt.DstPort, pkt.Timestamp)
		if pkt.Timestamp.After(r.lastSeen) {
			r.lastSeen = pkt.Timestamp
		}
	}
}

// ingestTelemetry mirrors a detection's headline numbers into the telemetry
// store, keyed by the involved address.
func (r *AttackRecognizer) ingestTelemetry(det *Detection) {
	if r.telemetry == nil {
		return
	}
	switch d := det.Details.(type) {
	case PortScanDetails:
		for _, s := range d.Scanners {
			r.telemetry.Ingest(s.SrcIP, map[string]float64{
				"scan_unique_ports": float64(s.UniquePortCount),
				"scan_targets":      float64(s.TargetCount),
			})
		}
	case DDoSDetails:
		for _, t := range d.Targets {
			r.telemetry.Ingest(t.DstIP, map[string]float64{
				"ddos_pps":     t.PacketsPerSecond,
				"ddos_sources": float64(t.UniqueSources),
			})
		}
	case SYNFloodDetails:
		for _, t := range d.Targets {
			r.telemetry.Ingest(t.DstIP, map[string]float64{
				"syn_rate":  t.RatePerSecond,
				"syn_count": float64(t.PacketCount),
			})
		}
	case SMBExploitDetails:
		for _, o := range d.Offenders {
			r.telemetry.Ingest(o.SrcIP, map[string]float64{
				"smb_auth_failures": float64(o.AuthFailures),
			})
		}
	case SSHBruteForceDetails:
		for _, o := range d.Offenders {
			r.telemetry.Ingest(o.SrcIP, map[string]float64{
				"ssh_attempts": float64(o.Attempts),
				"ssh_rate":     o.RatePerSecond,
			})
		}
	case WebAttackDetails:
		for _, o := range d.Offenders {
			r.telemetry.Ingest(o.SrcIP, map[string]float64{
				"web_attack_matches": float64(o.Matches),
			})
		}
	}
}

func deliverNotifications(events <-chan Notification, callback NotifyFunc) {
	for n := range events {
		if callback != nil {
			callback(n.Success, n.Message, n.Detection)
		}
	}
}

// detectionMessage renders the operator-facing one-liner for a detection.
func detectionMessage(det *Detection) string {
	switch d := det.Details.(type) {
	case ARPSpoofDetails:
		for ip, macs := range d.SuspiciousIPs {
			extra := ""
			if len(d.SuspiciousIPs) > 1 {
				extra = fmt.Sprintf(" and %d more", len(d.SuspiciousIPs)-1)
			}
			return fmt.Sprintf("ARP spoofing: %s claimed by %d MACs%s", ip, len(macs), extra)
		}
	case PortScanDetails:
		return fmt.Sprintf("port scan from %s: %d scanner(s) active", d.MostActive, len(d.Scanners))
	case DDoSDetails:
		if len(d.Targets) > 0 {
			t := d.Targets[0]
			return fmt.Sprintf("DDoS against %s: %.1f pps from %d sources", t.DstIP, t.PacketsPerSecond, t.UniqueSources)
		}
	case DNSPoisoningDetails:
		if len(d.Domains) > 0 {
			dom := d.Domains[0]
			return fmt.Sprintf("DNS poisoning: %s resolved to %d conflicting addresses", dom.Domain, len(dom.Addresses))
		}
	case MITMDetails:
		return fmt.Sprintf("possible MITM: %d redirect(s), %d TLS issue(s)", d.ICMPRedirects, d.TLSIssues)
	case SYNFloodDetails:
		if len(d.Targets) > 0 {
			t := d.Targets[0]
			kind := "single-source"
			if d.Distributed {
				kind = "distributed"
			}
			return fmt.Sprintf("%s SYN flood against %s: %.1f SYN/s", kind, hostPortKey(t.DstIP, t.DstPort), t.RatePerSecond)
		}
	case SMBExploitDetails:
		return fmt.Sprintf("SMB exploitation: %d brute forcer(s), %d signature hit(s)", len(d.Offenders), len(d.SignatureHits))
	case SSHBruteForceDetails:
		if len(d.Offenders) > 0 {
			o := d.Offenders[0]
			return fmt.Sprintf("SSH brute force from %s: %d attempts", o.SrcIP, o.Attempts)
		}
	case WebAttackDetails:
		return fmt.Sprintf("web attack traffic from %d source(s), mostly %s", len(d.Offenders), d.MostCommonAttack)
	}
	return fmt.Sprintf("%s detected", det.Name)
}
