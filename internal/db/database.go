package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database is the room journal. It records when rooms open and close and
// how busy they were; relay messages themselves are never stored.
type Database struct {
	db *sql.DB
}

// One room lifetime, from first join to last leave
type Session struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
	PeakMembers int       `json:"peak_members"`
	Joins       int       `json:"joins"`
}

type Stats struct {
	SessionCount int `json:"session_count"`
	RoomCount    int `json:"room_count"`
	TotalJoins   int `json:"total_joins"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME NOT NULL,
		peak_members INTEGER NOT NULL DEFAULT 0,
		joins INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_room_sessions_room_id ON room_sessions(room_id);
	CREATE INDEX IF NOT EXISTS idx_room_sessions_closed_at ON room_sessions(closed_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveSession appends a closed room lifetime
func (d *Database) SaveSession(s Session) error {
	_, err := d.db.Exec(`
		INSERT INTO room_sessions (room_id, opened_at, closed_at, peak_members, joins)
		VALUES (?, ?, ?, ?, ?)
	`, s.RoomID, s.OpenedAt.UTC(), s.ClosedAt.UTC(), s.PeakMembers, s.Joins)
	return err
}

// ListSessions returns sessions newest first. An empty roomID lists every room.
func (d *Database) ListSessions(roomID string, limit, offset int) ([]Session, error) {
	rows, err := d.db.Query(`
		SELECT id, room_id, opened_at, closed_at, peak_members, joins
		FROM room_sessions
		WHERE ? = '' OR room_id = ?
		ORDER BY closed_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, roomID, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.RoomID, &s.OpenedAt, &s.ClosedAt, &s.PeakMembers, &s.Joins); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSessionsBefore prunes sessions that closed before cutoff
func (d *Database) DeleteSessionsBefore(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM room_sessions WHERE closed_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *Database) GetStats() (Stats, error) {
	var stats Stats
	err := d.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT room_id), COALESCE(SUM(joins), 0)
		FROM room_sessions
	`).Scan(&stats.SessionCount, &stats.RoomCount, &stats.TotalJoins)
	return stats, err
}
