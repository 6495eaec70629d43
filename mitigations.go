package packetguard

import (
	"fmt"
	"strings"
)

// Mitigation handlers. Each apply handler returns whether the defense took
// effect plus the details to record; each reverse handler undoes a recorded
// defense item by item. Callers hold the mechanism lock.

// run executes one command, logging failures with their output.
func (m *DefenseMechanism) run(command string) error {
	out, err := m.runner.Run(command)
	if err != nil {
		m.logger.Error().
			Str("command", command).
			Str("output", strings.TrimSpace(out)).
			Err(err).
			Msg("mitigation command failed")
		return err
	}
	m.logger.Debug().Str("command", command).Msg("mitigation command executed")
	return nil
}

// applyStaticARPEntries pins each spoofed address to the first MAC observed
// answering for it. The first MAC is assumed to be the legitimate owner.
func (m *DefenseMechanism) applyStaticARPEntries(det *Detection) (bool, DefenseDetails) {
	details := DefenseDetails{
		Kind:        DefenseStaticARPEntry,
		Description: "pin spoofed addresses to their original MAC",
		Action:      "static_arp_binding",
	}
	d, ok := det.Details.(ARPSpoofDetails)
	if !ok || len(d.SuspiciousIPs) == 0 {
		return false, details
	}
	for ip, macs := range d.SuspiciousIPs {
		if len(macs) == 0 {
			details.FailedTargets = append(details.FailedTargets, ip)
			continue
		}
		cmd, err := arpBindCommand(m.platform, ip, macs[0])
		if err != nil {
			m.logger.Error().Str("ip", ip).Err(err).Msg("cannot build ARP bind command")
			details.FailedTargets = append(details.FailedTargets, ip)
			continue
		}
		if err := m.run(cmd); err != nil {
			details.FailedTargets = append(details.FailedTargets, ip)
			continue
		}
		details.Targets = append(details.Targets, ip)
		details.CommandsRun = append(details.CommandsRun, cmd)
	}
	return len(details.Targets) > 0, details
}

func (m *DefenseMechanism) reverseStaticARPEntries(rec *DefenseRecord) bool {
	failures := 0
	for _, ip := range rec.Defense.Targets {
		cmd, err := arpUnbindCommand(m.platform, ip)
		if err != nil {
			m.logger.Error().Str("ip", ip).Err(err).Msg("cannot build ARP unbind command")
			failures++
			continue
		}
		if err := m.run(cmd); err != nil {
			failures++
		}
	}
	return failures == 0
}

// applySourceBlock drops all traffic from the offending sources at the host
// firewall. SMB detections on Windows additionally disable SMBv1.
func (m *DefenseMechanism) applySourceBlock(det *Detection) (bool, DefenseDetails) {
	details := DefenseDetails{
		Kind:        DefenseFirewallBlock,
		Description: fmt.Sprintf("block %s sources at the host firewall", det.Name),
		Action:      "block_source_ips",
	}
	ips := blockTargetsFor(det)
	if len(ips) == 0 {
		return false, details
	}
	for _, ip := range ips {
		cmd, err := blockIPCommand(m.platform, ip)
		if err != nil {
			m.logger.Error().Str("ip", ip).Err(err).Msg("cannot build block command")
			details.FailedTargets = append(details.FailedTargets, ip)
			continue
		}
		if err := m.run(cmd); err != nil {
			details.FailedTargets = append(details.FailedTargets, ip)
			continue
		}
		details.Targets = append(details.Targets, ip)
		details.CommandsRun = append(details.CommandsRun, cmd)
	}
	if det.Kind == AttackSMBExploit {
		// Best effort hardening; failure does not void the block.
		if cmd, ok := smbHardenCommand(m.platform); ok {
			if err := m.run(cmd); err == nil {
				details.CommandsRun = append(details.CommandsRun, cmd)
			}
		}
	}
	return len(details.Targets) > 0, details
}

func (m *DefenseMechanism) reverseSourceBlock(rec *DefenseRecord) bool {
	failures := 0
	for _, ip := range rec.Defense.Targets {
		cmd, err := unblockIPCommand(m.platform, ip)
		if err != nil {
			m.logger.Error().Str("ip", ip).Err(err).Msg("cannot build unblock command")
			failures++
			continue
		}
		if err := m.run(cmd); err != nil {
			failures++
		}
	}
	return failures == 0
}

// applyRateLimit throttles inbound traffic for the flooded targets. The
// commands are host-global, so one command failure fails every target.
func (m *DefenseMechanism) applyRateLimit(det *Detection) (bool, DefenseDetails) {
	details := DefenseDetails{
		Kind:        DefenseRateLimit,
		Description: "throttle inbound traffic for flooded targets",
		Action:      "inbound_rate_limit",
	}
	d, ok := det.Details.(DDoSDetails)
	if !ok || len(d.Targets) == 0 {
		return false, details
	}
	targets := make([]string, 0, len(d.Targets))
	for _, t := range d.Targets {
		targets = append(targets, t.DstIP)
	}

	commands, simulated := rateLimitCommands(m.platform)
	if simulated {
		details.CommandsRun = append(details.CommandsRun, commands...)
		details.Targets = targets
		m.logger.Warn().Str("platform", m.platform).Msg("rate limiting simulated on this platform")
		return true, details
	}
	for _, cmd := range commands {
		if err := m.run(cmd); err != nil {
			details.FailedTargets = targets
			return false, details
		}
		details.CommandsRun = append(details.CommandsRun, cmd)
	}
	details.Targets = targets
	return true, details
}

func (m *DefenseMechanism) reverseRateLimit(rec *DefenseRecord) bool {
	commands, simulated := rateLimitRemoveCommands(m.platform)
	if simulated {
		return true
	}
	failures := 0
	for _, cmd := range commands {
		if err := m.run(cmd); err != nil {
			failures++
		}
	}
	return failures == 0
}

// applyHostsOverride pins each poisoned domain to its legitimate address in
// the hosts file. A denied write degrades to a recorded simulated command
// instead of failing the defense.
func (m *DefenseMechanism) applyHostsOverride(det *Detection) (bool, DefenseDetails) {
	details := DefenseDetails{
		Kind:        DefenseHostsOverride,
		Description: "pin poisoned domains to their legitimate addresses",
		Action:      "hosts_override",
	}
	d, ok := det.Details.(DNSPoisoningDetails)
	if !ok || len(d.Domains) == 0 {
		return false, details
	}
	for _, dom := range d.Domains {
		cmd, err := hostsAddCommand(m.platform, dom.Legitimate, dom.Domain)
		if err != nil {
			m.logger.Error().Str("domain", dom.Domain).Err(err).Msg("cannot build hosts override command")
			details.FailedTargets = append(details.FailedTargets, dom.Domain)
			continue
		}
		if err := m.run(cmd); err != nil {
			details.CommandsRun = append(details.CommandsRun, simulatedPrefix+cmd)
			details.Targets = append(details.Targets, dom.Domain)
			m.logger.Warn().Str("domain", dom.Domain).Msg("hosts file not writable, override simulated")
			continue
		}
		details.CommandsRun = append(details.CommandsRun, cmd)
		details.Targets = append(details.Targets, dom.Domain)
	}
	return len(details.Targets) > 0, details
}

func (m *DefenseMechanism) reverseHostsOverride(rec *DefenseRecord) bool {
	failures := 0
	for _, domain := range rec.Defense.Targets {
		cmd, err := hostsRemoveCommand(m.platform, domain)
		if err != nil {
			m.logger.Error().Str("domain", domain).Err(err).Msg("cannot build hosts removal command")
			failures++
			continue
		}
		if err := m.run(cmd); err != nil {
			// Same degradation as the apply path: an unwritable hosts file
			// means there is nothing real to remove.
			m.logger.Warn().Str("domain", domain).Msg("hosts file not writable, removal simulated")
		}
	}
	return failures == 0
}

// applySYNProtection installs SYN rate protection per flooded service.
// Targets are stored as ip:port so reversal can rebuild the commands.
func (m *DefenseMechanism) applySYNProtection(det *Detection) (bool, DefenseDetails) {
	details := DefenseDetails{
		Kind:        DefenseSYNProtection,
		Description: "rate limit SYN packets toward flooded services",
		Action:      "syn_protection",
	}
	d, ok := det.Details.(SYNFloodDetails)
	if !ok || len(d.Targets) == 0 {
		return false, details
	}
	for _, t := range d.Targets {
		key := hostPortKey(t.DstIP, t.DstPort)
		commands, err := synProtectionCommands(m.platform, t.DstIP, t.DstPort)
		if err != nil {
			m.logger.Error().Str("target", key).Err(err).Msg("cannot build SYN protection commands")
			details.FailedTargets = append(details.FailedTargets, key)
			continue
		}
		failed := false
		for _, cmd := range commands {
			if err := m.run(cmd); err != nil {
				failed = true
				break
			}
			details.CommandsRun = append(details.CommandsRun, cmd)
		}
		if failed {
			details.FailedTargets = append(details.FailedTargets, key)
			continue
		}
		details.Targets = append(details.Targets, key)
	}
	return len(details.Targets) > 0, details
}

func (m *DefenseMechanism) reverseSYNProtection(rec *DefenseRecord) bool {
	failures := 0
	for _, key := range rec.Defense.Targets {
		ip, port := splitHostPortKey(key)
		commands, err := synProtectionRemoveCommands(m.platform, ip, port)
		if err != nil {
			m.logger.Error().Str("target", key).Err(err).Msg("cannot build SYN protection removal commands")
			failures++
			continue
		}
		for _, cmd := range commands {
			if err := m.run(cmd); err != nil {
				failures++
			}
		}
	}
	return failures == 0
}

// blockTargetsFor extracts the source addresses worth blocking from a
// detection's payload.
func blockTargetsFor(det *Detection) []string {
	var ips []string
	switch d := det.Details.(type) {
	case PortScanDetails:
		for _, s := range d.Scanners {
			ips = appendUnique(ips, s.SrcIP)
		}
	case MITMDetails:
		for _, f := range d.SuspiciousFlows {
			if f.SrcIP != "" {
				ips = appendUnique(ips, f.SrcIP)
			}
		}
	case SMBExploitDetails:
		for _, o := range d.Offenders {
			ips = appendUnique(ips, o.SrcIP)
		}
		for _, h := range d.SignatureHits {
			if h.SrcIP != "" {
				ips = appendUnique(ips, h.SrcIP)
			}
		}
	case SSHBruteForceDetails:
		for _, o := range d.Offenders {
			ips = appendUnique(ips, o.SrcIP)
		}
	case WebAttackDetails:
		for _, o := range d.Offenders {
			ips = appendUnique(ips, o.SrcIP)
		}
	}
	return ips
}
