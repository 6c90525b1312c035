package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"alia/internal/logging"
	"alia/internal/wmem"
)

// ErrNoDump is returned when a session has no working-memory dump.
var ErrNoDump = errors.New("no dump recorded")

// Utterance directions.
const (
	Heard = "in"
	Said  = "out"
)

// Session is one Reset..Done run of a core.
type Session struct {
	ID      string
	Robot   string
	Label   string
	Started time.Time
	Ended   sql.NullTime
}

// Utterance is one journaled line of dialog.
type Utterance struct {
	Cycle int64
	Dir   string
	Text  string
	At    time.Time
}

// Journal records sessions, dialog and working-memory dumps.
type Journal struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewJournal opens the journal database at path.
func NewJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, dbPath: path}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("journal opened at %s", path)
	return j, nil
}

func (j *Journal) initialize() error {
	sessions := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		robot TEXT,
		label TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);
	`
	utterances := `
	CREATE TABLE IF NOT EXISTS utterances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		dir TEXT NOT NULL,
		text TEXT NOT NULL,
		at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id);
	`
	dumps := `
	CREATE TABLE IF NOT EXISTS dumps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dumps_session ON dumps(session_id);
	`
	for _, q := range []string{sessions, utterances, dumps} {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("failed to create journal schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Begin starts a session and returns its id.
func (j *Journal) Begin(robot, label string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return "", ErrClosed
	}
	id := uuid.NewString()
	if _, err := j.db.Exec(
		"INSERT INTO sessions (id, robot, label, started_at) VALUES (?, ?, ?, ?)",
		id, robot, label, time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	logging.StoreDebug("session %s started (%s)", id, label)
	return id, nil
}

// End marks a session finished.
func (j *Journal) End(session string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}
	_, err := j.db.Exec("UPDATE sessions SET ended_at = ? WHERE id = ?", time.Now().UTC(), session)
	return err
}

// Record journals one utterance. Empty text is ignored.
func (j *Journal) Record(session string, cycle int64, dir, text string) error {
	if text == "" {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}
	_, err := j.db.Exec(
		"INSERT INTO utterances (session_id, cycle, dir, text, at) VALUES (?, ?, ?, ?, ?)",
		session, cycle, dir, text, time.Now().UTC(),
	)
	return err
}

// Dump journals a working-memory snapshot.
func (j *Journal) Dump(session string, cycle int64, snap wmem.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}
	_, err = j.db.Exec(
		"INSERT INTO dumps (session_id, cycle, snapshot, at) VALUES (?, ?, ?, ?)",
		session, cycle, string(data), time.Now().UTC(),
	)
	return err
}

// Sessions returns the recorded sessions, newest first.
func (j *Journal) Sessions() ([]Session, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.Query("SELECT id, robot, label, started_at, ended_at FROM sessions ORDER BY started_at DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Robot, &s.Label, &s.Started, &s.Ended); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Transcript returns a session's dialog in order.
func (j *Journal) Transcript(session string) ([]Utterance, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.Query("SELECT cycle, dir, text, at FROM utterances WHERE session_id = ? ORDER BY id", session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Utterance
	for rows.Next() {
		var u Utterance
		if err := rows.Scan(&u.Cycle, &u.Dir, &u.Text, &u.At); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LatestDump returns the newest snapshot of session, or of any session
// when session is empty.
func (j *Journal) LatestDump(session string) (wmem.Snapshot, error) {
	var snap wmem.Snapshot
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return snap, ErrClosed
	}
	q := "SELECT snapshot FROM dumps ORDER BY id DESC LIMIT 1"
	var args []interface{}
	if session != "" {
		q = "SELECT snapshot FROM dumps WHERE session_id = ? ORDER BY id DESC LIMIT 1"
		args = append(args, session)
	}
	var data string
	if err := j.db.QueryRow(q, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snap, ErrNoDump
		}
		return snap, err
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
