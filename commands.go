package packetguard

import (
	"fmt"
)

// Platform names accepted by the defense mechanism. They follow GOOS.
const (
	PlatformLinux   = "linux"
	PlatformWindows = "windows"
	PlatformDarwin  = "darwin"
)

// simulatedPrefix marks command strings that were recorded but never
// executed, either because the platform has no real implementation or
// because execution was denied and the mitigation degraded.
const simulatedPrefix = "SIMULATED: "

func firewallRuleName(ip string) string {
	return "packetguard-block-" + ip
}

func blockIPCommand(platform, ip string) (string, error) {
	switch platform {
	case PlatformLinux:
		return fmt.Sprintf("iptables -A INPUT -s %s -j DROP", ip), nil
	case PlatformWindows:
		return fmt.Sprintf(`netsh advfirewall firewall add rule name="%s" dir=in action=block remoteip=%s`,
			firewallRuleName(ip), ip), nil
	case PlatformDarwin:
		return fmt.Sprintf("pfctl -t packetguard -T add %s", ip), nil
	}
	return "", fmt.Errorf("block %s on %s: %w", ip, platform, ErrUnsupportedPlatform)
}

func unblockIPCommand(platform, ip string) (string, error) {
	switch platform {
	case PlatformLinux:
		return fmt.Sprintf("iptables -D INPUT -s %s -j DROP", ip), nil
	case PlatformWindows:
		return fmt.Sprintf(`netsh advfirewall firewall delete rule name="%s"`, firewallRuleName(ip)), nil
	case PlatformDarwin:
		return fmt.Sprintf("pfctl -t packetguard -T delete %s", ip), nil
	}
	return "", fmt.Errorf("unblock %s on %s: %w", ip, platform, ErrUnsupportedPlatform)
}

func arpBindCommand(platform, ip, mac string) (string, error) {
	switch platform {
	case PlatformLinux, PlatformDarwin:
		return fmt.Sprintf("arp -s %s %s", ip, normalizeMAC(mac)), nil
	case PlatformWindows:
		return fmt.Sprintf("arp -s %s %s", ip, windowsMAC(mac)), nil
	}
	return "", fmt.Errorf("bind ARP entry for %s on %s: %w", ip, platform, ErrUnsupportedPlatform)
}

func arpUnbindCommand(platform, ip string) (string, error) {
	switch platform {
	case PlatformLinux, PlatformDarwin, PlatformWindows:
		return fmt.Sprintf("arp -d %s", ip), nil
	}
	return "", fmt.Errorf("unbind ARP entry for %s on %s: %w", ip, platform, ErrUnsupportedPlatform)
}

// rateLimitCommands returns the inbound rate limiting commands. Only Linux
// has a real implementation; every other platform gets a simulated command
// that is recorded without being executed.
func rateLimitCommands(platform string) (commands []string, simulated bool) {
	if platform == PlatformLinux {
		return []string{
			"iptables -A INPUT -p tcp --dport 80 -m limit --limit 25/second --limit-burst 100 -j ACCEPT",
			"iptables -A INPUT -p tcp --dport 80 -j DROP",
		}, false
	}
	return []string{simulatedPrefix + "rate-limit inbound tcp port 80 to 25 packets/second"}, true
}

func rateLimitRemoveCommands(platform string) (commands []string, simulated bool) {
	if platform == PlatformLinux {
		return []string{
			"iptables -D INPUT -p tcp --dport 80 -m limit --limit 25/second --limit-burst 100 -j ACCEPT",
			"iptables -D INPUT -p tcp --dport 80 -j DROP",
		}, false
	}
	return []string{simulatedPrefix + "remove inbound rate limit on tcp port 80"}, true
}

func synProtectionCommands(platform, ip string, port int) ([]string, error) {
	switch platform {
	case PlatformLinux:
		return []string{
			fmt.Sprintf("iptables -A INPUT -p tcp --syn -d %s --dport %d -m limit --limit 100/second --limit-burst 200 -j ACCEPT", ip, port),
			fmt.Sprintf("iptables -A INPUT -p tcp --syn -d %s --dport %d -j DROP", ip, port),
		}, nil
	case PlatformDarwin:
		return []string{
			fmt.Sprintf("echo 'pass in proto tcp from any to %s port %d flags S/SA keep state (max-src-conn-rate 100/1)' > /etc/pf.anchors/packetguard.synflood", ip, port),
			"pfctl -f /etc/pf.conf",
		}, nil
	case PlatformWindows:
		return []string{
			fmt.Sprintf(`netsh advfirewall firewall add rule name="packetguard-syn-%s-%d" dir=in protocol=TCP localport=%d remoteip=any action=block`, ip, port, port),
		}, nil
	}
	return nil, fmt.Errorf("SYN protection for %s on %s: %w", hostPortKey(ip, port), platform, ErrUnsupportedPlatform)
}

func synProtectionRemoveCommands(platform, ip string, port int) ([]string, error) {
	switch platform {
	case PlatformLinux:
		return []string{
			fmt.Sprintf("iptables -D INPUT -p tcp --syn -d %s --dport %d -m limit --limit 100/second --limit-burst 200 -j ACCEPT", ip, port),
			fmt.Sprintf("iptables -D INPUT -p tcp --syn -d %s --dport %d -j DROP", ip, port),
		}, nil
	case PlatformDarwin:
		return []string{
			"rm -f /etc/pf.anchors/packetguard.synflood",
			"pfctl -f /etc/pf.conf",
		}, nil
	case PlatformWindows:
		return []string{
			fmt.Sprintf(`netsh advfirewall firewall delete rule name="packetguard-syn-%s-%d"`, ip, port),
		}, nil
	}
	return nil, fmt.Errorf("remove SYN protection for %s on %s: %w", hostPortKey(ip, port), platform, ErrUnsupportedPlatform)
}

func hostsFilePath(platform string) string {
	if platform == PlatformWindows {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

func hostsAddCommand(platform, addr, domain string) (string, error) {
	path := hostsFilePath(platform)
	switch platform {
	case PlatformLinux, PlatformDarwin:
		return fmt.Sprintf("echo '%s %s' >> %s", addr, domain, path), nil
	case PlatformWindows:
		return fmt.Sprintf("echo %s %s >> %s", addr, domain, path), nil
	}
	return "", fmt.Errorf("hosts override for %s on %s: %w", domain, platform, ErrUnsupportedPlatform)
}

func hostsRemoveCommand(platform, domain string) (string, error) {
	path := hostsFilePath(platform)
	switch platform {
	case PlatformLinux:
		return fmt.Sprintf("sed -i '/ %s$/d' %s", domain, path), nil
	case PlatformDarwin:
		return fmt.Sprintf("sed -i '' '/ %s$/d' %s", domain, path), nil
	case PlatformWindows:
		return fmt.Sprintf(`findstr /v /c:"%s" %s > %s.tmp && move /y %s.tmp %s`, domain, path, path, path, path), nil
	}
	return "", fmt.Errorf("remove hosts override for %s on %s: %w", domain, platform, ErrUnsupportedPlatform)
}

// smbHardenCommand returns the registry command disabling SMBv1. Only
// meaningful on Windows; ok is false elsewhere.
func smbHardenCommand(platform string) (string, bool) {
	if platform != PlatformWindows {
		return "", false
	}
	return `reg add "HKLM\SYSTEM\CurrentControlSet\Services\LanmanServer\Parameters" /v SMB1 /t REG_DWORD /d 0 /f`, true
}
