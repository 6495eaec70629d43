package packetguard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// DefenseKind names a mitigation strategy.
type DefenseKind string

const (
	DefenseStaticARPEntry DefenseKind = "static_arp_entry"
	DefenseFirewallBlock  DefenseKind = "firewall_block"
	DefenseRateLimit      DefenseKind = "rate_limit"
	DefenseHostsOverride  DefenseKind = "hosts_override"
	DefenseSYNProtection  DefenseKind = "syn_protection"
)

// DefenseDetails describes one applied mitigation.
type DefenseDetails struct {
	Kind        DefenseKind `json:"kind"`
	Description string      `json:"description"`
	Action      string      `json:"action"`
	// Targets are the entities the mitigation now covers. Entries that
	// could not be covered are listed in FailedTargets instead.
	Targets       []string `json:"targets"`
	FailedTargets []string `json:"failed_targets,omitempty"`
	// CommandsRun retains every executed command verbatim, simulated ones
	// included, for audit and reversal.
	CommandsRun []string `json:"commands_run"`
}

// DefenseRecord is one active defense keyed by the attack it answers.
type DefenseRecord struct {
	AttackID  string         `json:"attack_id"`
	Detection Detection      `json:"detection"`
	Defense   DefenseDetails `json:"defense"`
	StartTime time.Time      `json:"start_time"`
}

// DefenseMechanism maps detections to mitigations and tracks what is
// currently active. All state transitions happen synchronously under one
// lock, so overlapping start/stop calls serialize.
type DefenseMechanism struct {
	runner   CommandRunner
	platform string
	logger   *log.Logger
	metrics  MetricsCollector

	mu      sync.Mutex
	records map[string]*DefenseRecord

	now func() time.Time
}

func NewDefenseMechanism(runner CommandRunner, platform string, logger *log.Logger, metrics MetricsCollector) *DefenseMechanism {
	if logger == nil {
		logger = defaultLogger()
	}
	return &DefenseMechanism{
		runner:   runner,
		platform: platform,
		logger:   logger,
		metrics:  metrics,
		records:  make(map[string]*DefenseRecord),
		now:      time.Now,
	}
}

// StartDefense applies the mitigation matching the detection's kind and
// records it under the detection's attack ID. Starting an already-defended
// attack is a no-op reported as success. The outcome is pushed to callback
// when one is given.
func (m *DefenseMechanism) StartDefense(det *Detection, callback NotifyFunc) bool {
	if det == nil {
		notify(callback, false, "no detection supplied", nil)
		return false
	}
	attackID := det.AttackID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active := m.records[attackID]; active {
		m.logger.Info().Str("attack_id", attackID).Msg("defense already active")
		notify(callback, true, fmt.Sprintf("defense already active for %s", attackID), det)
		return true
	}

	handler := m.handlerFor(det.Kind)
	if handler == nil {
		m.logger.Error().Str("kind", string(det.Kind)).Msg("no defense handler for attack kind")
		notify(callback, false, fmt.Sprintf("no defense handler for attack kind %q", det.Kind), det)
		return false
	}

	ok, details := handler(det)
	if m.metrics != nil {
		outcome := "failure"
		if ok {
			outcome = "success"
		}
		m.metrics.IncrementCounter("packetguard_defense_activations_total", map[string]string{
			"kind":    string(details.Kind),
			"outcome": outcome,
		})
	}
	if !ok {
		m.logger.Error().
			Str("attack_id", attackID).
			Str("defense", string(details.Kind)).
			Msg("defense activation failed")
		notify(callback, false, fmt.Sprintf("failed to activate %s for %s", details.Kind, attackID), det)
		return false
	}

	m.records[attackID] = &DefenseRecord{
		AttackID:  attackID,
		Detection: *det,
		Defense:   details,
		StartTime: m.now(),
	}
	m.updateActiveGauge()

	message := fmt.Sprintf("%s active for %s: %s", details.Kind, attackID, details.Description)
	m.logger.Info().
		Str("attack_id", attackID).
		Str("defense", string(details.Kind)).
		Int("targets", len(details.Targets)).
		Msg("defense activated")
	if len(details.FailedTargets) > 0 {
		m.logger.Warn().
			Str("attack_id", attackID).
			Strs("failed_targets", details.FailedTargets).
			Msg("defense activated with partial coverage")
	}
	notify(callback, true, message, det)
	return true
}

// StopDefense reverses the recorded mitigation and drops the record. The
// record survives a failed reversal so the stop can be retried.
func (m *DefenseMechanism) StopDefense(attackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(attackID)
}

func (m *DefenseMechanism) stopLocked(attackID string) bool {
	rec, ok := m.records[attackID]
	if !ok {
		m.logger.Warn().Str("attack_id", attackID).Msg("no active defense for attack id")
		return false
	}
	if !m.reverse(rec) {
		m.logger.Error().
			Str("attack_id", attackID).
			Str("defense", string(rec.Defense.Kind)).
			Msg("defense deactivation failed")
		return false
	}
	delete(m.records, attackID)
	m.updateActiveGauge()
	m.logger.Info().
		Str("attack_id", attackID).
		Str("defense", string(rec.Defense.Kind)).
		Msg("defense deactivated")
	return true
}

// StopAllDefenses stops every active defense and reports whether all of them
// deactivated cleanly. One failure does not stop the sweep.
func (m *DefenseMechanism) StopAllDefenses() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	all := true
	for _, id := range ids {
		if !m.stopLocked(id) {
			all = false
		}
	}
	return all
}

// ActiveDefenses returns a copy of the active records keyed by attack ID.
func (m *DefenseMechanism) ActiveDefenses() map[string]DefenseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]DefenseRecord, len(m.records))
	for id, rec := range m.records {
		out[id] = *rec
	}
	return out
}

func (m *DefenseMechanism) updateActiveGauge() {
	if m.metrics != nil {
		m.metrics.SetGauge("packetguard_active_defenses", float64(len(m.records)), nil)
	}
}

// handlerFor maps an attack kind to its mitigation handler. Nil means the
// kind has no defense.
func (m *DefenseMechanism) handlerFor(kind AttackKind) func(*Detection) (bool, DefenseDetails) {
	switch kind {
	case AttackARPSpoof:
		return m.applyStaticARPEntries
	case AttackPortScan, AttackMITM, AttackSMBExploit, AttackSSHBruteForce, AttackWebAttack:
		return m.applySourceBlock
	case AttackDDoS:
		return m.applyRateLimit
	case AttackDNSPoisoning:
		return m.applyHostsOverride
	case AttackSYNFlood:
		return m.applySYNProtection
	}
	return nil
}

// reverse undoes the mitigation held by rec, dispatching on the defense
// kind that was recorded, not the attack kind.
func (m *DefenseMechanism) reverse(rec *DefenseRecord) bool {
	switch rec.Defense.Kind {
	case DefenseStaticARPEntry:
		return m.reverseStaticARPEntries(rec)
	case DefenseFirewallBlock:
		return m.reverseSourceBlock(rec)
	case DefenseRateLimit:
		return m.reverseRateLimit(rec)
	case DefenseHostsOverride:
		return m.reverseHostsOverride(rec)
	case DefenseSYNProtection:
		return m.reverseSYNProtection(rec)
	}
	m.logger.Error().Str("defense", string(rec.Defense.Kind)).Msg("unknown defense kind, cannot reverse")
	return false
}

func notify(cb NotifyFunc, ok bool, msg string, det *Detection) {
	if cb != nil {
		cb(ok, msg, det)
	}
}
