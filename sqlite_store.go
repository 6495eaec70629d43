package packetguard

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS capture_sessions (
	id         TEXT PRIMARY KEY,
	started_ns INTEGER NOT NULL,
	ended_ns   INTEGER
);

CREATE TABLE IF NOT EXISTS packets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	ts_ns      INTEGER NOT NULL,
	protocol   TEXT NOT NULL,
	src_ip     TEXT,
	dst_ip     TEXT,
	src_port   INTEGER NOT NULL DEFAULT 0,
	dst_port   INTEGER NOT NULL DEFAULT 0,
	src_mac    TEXT,
	dst_mac    TEXT,
	flags      TEXT,
	ttl        INTEGER NOT NULL DEFAULT 0,
	info       TEXT,
	raw_data   BLOB,
	FOREIGN KEY (session_id) REFERENCES capture_sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_packets_session_ts ON packets(session_id, ts_ns);
CREATE INDEX IF NOT EXISTS idx_sessions_open ON capture_sessions(ended_ns);
`

// SQLitePacketSource implements PacketSource on a SQLite database. Capture
// tooling writes sessions and packets; the recognizer only reads them.
type SQLitePacketSource struct {
	db *sqlx.DB
}

// NewSQLitePacketSource opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLitePacketSource(path string) (*SQLitePacketSource, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLitePacketSource{db: db}, nil
}

func (s *SQLitePacketSource) Close() error {
	return s.db.Close()
}

func (s *SQLitePacketSource) HealthCheck() error {
	return s.db.Ping()
}

// StartSession opens a new capture session and returns its ID.
func (s *SQLitePacketSource) StartSession() (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO capture_sessions (id, started_ns) VALUES (?, ?)`,
		id, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// EndSession marks a session as closed. Its packets remain queryable.
func (s *SQLitePacketSource) EndSession(sessionID string) error {
	res, err := s.db.Exec(
		`UPDATE capture_sessions SET ended_ns = ? WHERE id = ? AND ended_ns IS NULL`,
		time.Now().UnixNano(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUnknownSession
	}
	return nil
}

func (s *SQLitePacketSource) ActiveSession() (string, error) {
	var id string
	err := s.db.Get(&id,
		`SELECT id FROM capture_sessions WHERE ended_ns IS NULL ORDER BY started_ns DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoActiveSession
	}
	if err != nil {
		return "", fmt.Errorf("query active session: %w", err)
	}
	return id, nil
}

// InsertPackets stores packets on a session inside a single transaction.
// Packet IDs are assigned by the database.
func (s *SQLitePacketSource) InsertPackets(sessionID string, packets []Packet) error {
	if len(packets) == 0 {
		return nil
	}
	if err := s.sessionExists(sessionID); err != nil {
		return err
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	const query = `INSERT INTO packets (
		session_id, ts_ns, protocol, src_ip, dst_ip, src_port, dst_port,
		src_mac, dst_mac, flags, ttl, info, raw_data
	) VALUES (
		:session_id, :ts_ns, :protocol, :src_ip, :dst_ip, :src_port, :dst_port,
		:src_mac, :dst_mac, :flags, :ttl, :info, :raw_data
	)`
	for _, pkt := range packets {
		if _, err := tx.NamedExec(query, packetToRow(sessionID, pkt)); err != nil {
			return fmt.Errorf("insert packet: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLitePacketSource) PacketsByRange(sessionID string, start, end time.Time) ([]Packet, error) {
	if err := s.sessionExists(sessionID); err != nil {
		return nil, err
	}
	var rows []packetRow
	err := s.db.Select(&rows,
		`SELECT id, session_id, ts_ns, protocol, src_ip, dst_ip, src_port, dst_port,
			src_mac, dst_mac, flags, ttl, info, raw_data
		 FROM packets
		 WHERE session_id = ? AND ts_ns >= ? AND ts_ns <= ?
		 ORDER BY ts_ns, id`,
		sessionID, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	out := make([]Packet, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toPacket())
	}
	return out, nil
}

func (s *SQLitePacketSource) sessionExists(sessionID string) error {
	var one int
	err := s.db.Get(&one, `SELECT 1 FROM capture_sessions WHERE id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownSession
	}
	if err != nil {
		return fmt.Errorf("query session: %w", err)
	}
	return nil
}

type packetRow struct {
	ID        uint64 `db:"id"`
	SessionID string `db:"session_id"`
	TSNanos   int64  `db:"ts_ns"`
	Protocol  string `db:"protocol"`
	SrcIP     string `db:"src_ip"`
	DstIP     string `db:"dst_ip"`
	SrcPort   int    `db:"src_port"`
	DstPort   int    `db:"dst_port"`
	SrcMAC    string `db:"src_mac"`
	DstMAC    string `db:"dst_mac"`
	Flags     string `db:"flags"`
	TTL       int    `db:"ttl"`
	Info      string `db:"info"`
	RawData   []byte `db:"raw_data"`
}

func packetToRow(sessionID string, pkt Packet) packetRow {
	ts := pkt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return packetRow{
		SessionID: sessionID,
		TSNanos:   ts.UnixNano(),
		Protocol:  string(pkt.Protocol),
		SrcIP:     pkt.SrcIP,
		DstIP:     pkt.DstIP,
		SrcPort:   pkt.SrcPort,
		DstPort:   pkt.DstPort,
		SrcMAC:    pkt.SrcMAC,
		DstMAC:    pkt.DstMAC,
		Flags:     strings.Join(pkt.Flags, ","),
		TTL:       pkt.TTL,
		Info:      pkt.Info,
		RawData:   pkt.RawData,
	}
}

func (r packetRow) toPacket() Packet {
	var flags []string
	if r.Flags != "" {
		flags = strings.Split(r.Flags, ",")
	}
	return Packet{
		ID:        r.ID,
		Timestamp: time.Unix(0, r.TSNanos),
		Protocol:  Protocol(r.Protocol),
		SrcIP:     r.SrcIP,
		DstIP:     r.DstIP,
		SrcPort:   r.SrcPort,
		DstPort:   r.DstPort,
		SrcMAC:    r.SrcMAC,
		DstMAC:    r.DstMAC,
		Flags:     flags,
		TTL:       r.TTL,
		Info:      r.Info,
		RawData:   r.RawData,
	}
}
