package packetguard

import (
	"strings"
	"time"
)

// Protocol identifies the highest layer the capture pipeline parsed out of a
// packet.
type Protocol string

const (
	ProtocolARP  Protocol = "ARP"
	ProtocolTCP  Protocol = "TCP"
	ProtocolUDP  Protocol = "UDP"
	ProtocolICMP Protocol = "ICMP"
	ProtocolDNS  Protocol = "DNS"
	ProtocolTLS  Protocol = "TLS"
	ProtocolHTTP Protocol = "HTTP"
)

// Packet is a single parsed packet record. Detectors borrow windows of
// packets from a source and must never mutate them.
type Packet struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Protocol  Protocol  `json:"protocol"`
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	SrcPort   int       `json:"src_port,omitempty"`
	DstPort   int       `json:"dst_port,omitempty"`
	SrcMAC    string    `json:"src_mac,omitempty"`
	DstMAC    string    `json:"dst_mac,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
	TTL       int       `json:"ttl,omitempty"`
	Info      string    `json:"info,omitempty"`
	RawData   []byte    `json:"raw_data,omitempty"`
}

// HasFlag reports whether the packet carries the given TCP flag.
func (p *Packet) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// PureSYN reports a bare connection attempt: SYN set, ACK clear.
func (p *Packet) PureSYN() bool {
	return p.Protocol == ProtocolTCP && p.HasFlag("SYN") && !p.HasFlag("ACK")
}

// Payload returns the packet body used for pattern matching: captured raw
// bytes when present, the dissector summary otherwise.
func (p *Packet) Payload() string {
	if len(p.RawData) > 0 {
		return string(p.RawData)
	}
	return p.Info
}
