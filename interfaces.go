package packetguard

import "time"

// PacketSource interface for pluggable packet storage backends.
type PacketSource interface {
	// ActiveSession returns the ID of the capture session currently
	// recording, or ErrNoActiveSession when capture is idle.
	ActiveSession() (string, error)
	// PacketsByRange returns the session's packets with start <= ts <= end.
	PacketsByRange(sessionID string, start, end time.Time) ([]Packet, error)
}

// PatternDetector interface for stateless attack pattern analysis. Analyze
// inspects one packet window and returns a detection when the pattern fires,
// nil when it does not. Implementations keep no state between calls.
type PatternDetector interface {
	Kind() AttackKind
	Analyze(window []Packet) (*Detection, error)
}

// CommandRunner interface for executing mitigation commands. Implementations
// return the combined command output and an error when execution failed.
type CommandRunner interface {
	Run(command string) (string, error)
}

// NotifyFunc receives the outcome of recognizer cycles and defense
// transitions. ok is false for failures; det is nil when the event is not
// tied to a specific detection.
type NotifyFunc func(ok bool, message string, det *Detection)

// NotificationSender interface for notification delivery channels.
type NotificationSender interface {
	Name() string
	Send(n Notification) error
}

// MetricsCollector interface for observability.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	HealthCheck() error
	ExportPrometheus() string
}
