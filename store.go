package packetguard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryCapacity = 100000

// MemoryPacketSource implements PacketSource with in-memory storage. It keeps
// one packet slice per capture session and retains at most capacity packets
// per session, dropping the oldest first.
type MemoryPacketSource struct {
	mu       sync.RWMutex
	capacity int
	sessions map[string][]Packet
	active   string
	nextID   uint64
}

func NewMemoryPacketSource(capacity int) *MemoryPacketSource {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryPacketSource{
		capacity: capacity,
		sessions: make(map[string][]Packet),
	}
}

// StartSession opens a new capture session and makes it the active one.
func (s *MemoryPacketSource) StartSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = nil
	s.active = id
	return id
}

// EndSession closes the active session. Stored packets remain queryable.
func (s *MemoryPacketSource) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
}

func (s *MemoryPacketSource) ActiveSession() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return "", ErrNoActiveSession
	}
	return s.active, nil
}

// Append stores packets on the active session, assigning IDs to packets
// that arrive without one.
func (s *MemoryPacketSource) Append(packets ...Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return ErrNoActiveSession
	}
	buf := s.sessions[s.active]
	for _, pkt := range packets {
		if pkt.ID == 0 {
			s.nextID++
			pkt.ID = s.nextID
		}
		if pkt.Timestamp.IsZero() {
			pkt.Timestamp = time.Now()
		}
		buf = append(buf, pkt)
	}
	if extra := len(buf) - s.capacity; extra > 0 {
		buf = append(buf[:0:0], buf[extra:]...)
	}
	s.sessions[s.active] = buf
	return nil
}

func (s *MemoryPacketSource) PacketsByRange(sessionID string, start, end time.Time) ([]Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrUnknownSession
	}
	var out []Packet
	for _, pkt := range buf {
		if pkt.Timestamp.Before(start) || pkt.Timestamp.After(end) {
			continue
		}
		out = append(out, pkt)
	}
	return out, nil
}

// PacketCount reports how many packets a session currently retains.
func (s *MemoryPacketSource) PacketCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID])
}

func (s *MemoryPacketSource) HealthCheck() error {
	return nil
}
