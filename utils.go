package packetguard

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// normalizeMAC lowercases a MAC address and converts dash separators to
// colons so addresses from different dissectors compare equal.
func normalizeMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}

// windowsMAC renders a MAC address in the dash-separated form the Windows
// arp command expects.
func windowsMAC(mac string) string {
	return strings.ReplaceAll(normalizeMAC(mac), ":", "-")
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if containsString(list, v) {
		return list
	}
	return append(list, v)
}

// hostPortKey renders an "ip:port" key. Used both as a dedup identity and
// as the stored target of SYN protection records.
func hostPortKey(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// splitHostPortKey is the inverse of hostPortKey. The port defaults to zero
// when the key carries none.
func splitHostPortKey(key string) (string, int) {
	i := strings.LastIndex(key, ":")
	if i < 0 {
		return key, 0
	}
	port, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return key, 0
	}
	return key[:i], port
}

// intersects reports whether the two sets share at least one member.
func intersects(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// timeSpan accumulates the first and last timestamp of a packet group.
type timeSpan struct {
	first time.Time
	last  time.Time
}

func (s *timeSpan) observe(t time.Time) {
	if s.first.IsZero() || t.Before(s.first) {
		s.first = t
	}
	if t.After(s.last) {
		s.last = t
	}
}

// seconds returns the span length. A single-packet span reports zero.
func (s *timeSpan) seconds() float64 {
	if s.first.IsZero() {
		return 0
	}
	return s.last.Sub(s.first).Seconds()
}

// ratePerSecond divides count over the span, clamping empty spans to one
// second so a burst within a single capture tick still reports a rate.
func (s *timeSpan) ratePerSecond(count int) float64 {
	dur := s.seconds()
	if dur <= 0 {
		dur = 1
	}
	return float64(count) / dur
}

// parseDurationDefault parses a duration string, falling back to def for
// empty or malformed input.
func parseDurationDefault(s string, def time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
