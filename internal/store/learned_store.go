// Package store - Learned knowledge store.
// This file mirrors the accumulated rules and operators, and the operator
// preference overrides, into a SQLite database so that what a robot was
// taught survives a lost or edited KB directory.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"alia/internal/kb"
	"alia/internal/logging"
	"alia/internal/ops"
	"alia/internal/rules"
	"alia/internal/wmem"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Entry is one stored rule or operator in kb block form.
type Entry struct {
	ID        int64
	Name      string
	Kind      string // "rule" or the operator kind
	Canon     string // duplicate-suppression key
	Text      string // kb block text
	Score     float64
	CreatedAt time.Time
}

// LearnedStore persists learned knowledge.
type LearnedStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewLearnedStore creates or opens the learned store at dbPath.
func NewLearnedStore(dbPath string) (*LearnedStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLearnedStore")
	defer timer.Stop()

	if dbPath == "" {
		return nil, fmt.Errorf("database path required")
	}
	logging.Store("Initializing learned store at: %s", dbPath)

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &LearnedStore{db: db, dbPath: dbPath}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		logging.StoreError("Failed to initialize learned schema: %v", err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *LearnedStore) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS learned (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		canon TEXT NOT NULL UNIQUE,
		body TEXT NOT NULL,
		score REAL DEFAULT 1.0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_learned_name ON learned(name);
	CREATE INDEX IF NOT EXISTS idx_learned_kind ON learned(kind);

	CREATE TABLE IF NOT EXISTS prefs (
		name TEXT PRIMARY KEY,
		pref REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *LearnedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put stores e unless an entry with the same canon exists, in which case
// the higher score is kept. Reports whether e was new.
func (s *LearnedStore) Put(e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var id int64
	var score float64
	err = tx.QueryRow("SELECT id, score FROM learned WHERE canon = ?", e.Canon).Scan(&id, &score)
	switch {
	case err == nil:
		if e.Score > score {
			if _, err := tx.Exec("UPDATE learned SET score = ? WHERE id = ?", e.Score, id); err != nil {
				return false, err
			}
		}
		return false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}
	if _, err := tx.Exec(
		"INSERT INTO learned (name, kind, canon, body, score) VALUES (?, ?, ?, ?, ?)",
		e.Name, e.Kind, e.Canon, e.Text, e.Score,
	); err != nil {
		return false, fmt.Errorf("put %s %q: %w", e.Kind, e.Name, err)
	}
	logging.StoreDebug("stored %s %q", e.Kind, e.Name)
	return true, tx.Commit()
}

// SetPref records a preference override for every operator named name.
func (s *LearnedStore) SetPref(name string, pref float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec(
		`INSERT INTO prefs (name, pref, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET pref = excluded.pref, updated_at = CURRENT_TIMESTAMP`,
		name, pref,
	)
	return err
}

// Entries returns the stored entries of kind ("" for all) oldest first.
func (s *LearnedStore) Entries(kind string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	q := "SELECT id, name, kind, canon, body, score, created_at FROM learned"
	var args []interface{}
	if kind != "" {
		q += " WHERE kind = ?"
		args = append(args, kind)
	}
	rows, err := s.db.Query(q+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Kind, &e.Canon, &e.Text, &e.Score, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prefs returns the stored preference overrides.
func (s *LearnedStore) Prefs() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.Query("SELECT name, pref FROM prefs")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var p float64
		if err := rows.Scan(&name, &p); err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, rows.Err()
}

// =============================================================================
// SYNC WITH THE LIVE STORES
// =============================================================================

// Sync writes every accumulated rule and operator and the current
// preference overrides. Returns the number of new entries.
func (s *LearnedStore) Sync(w *wmem.WMem, rs *rules.Store, opStore *ops.Store) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LearnedStore.Sync")
	defer timer.Stop()

	added := 0
	for _, r := range rs.Learned() {
		text, err := kb.FormatRule(w, r)
		if err != nil {
			logging.StoreDebug("skip rule %q: %v", r.Name, err)
			continue
		}
		isNew, err := s.Put(Entry{Name: r.Name, Kind: "rule", Canon: rules.Canon(w, r), Text: text, Score: r.Conf})
		if err != nil {
			return added, err
		}
		if isNew {
			added++
		}
	}
	for _, o := range opStore.Learned() {
		text, err := kb.FormatOp(w, o)
		if err != nil {
			logging.StoreDebug("skip operator %q: %v", o.Name, err)
			continue
		}
		isNew, err := s.Put(Entry{Name: o.Name, Kind: o.Kind.String(), Canon: ops.Canon(w, o), Text: text, Score: o.Pref})
		if err != nil {
			return added, err
		}
		if isNew {
			added++
		}
	}
	for name, p := range opStore.Prefs() {
		if err := s.SetPref(name, p); err != nil {
			return added, err
		}
	}
	logging.Store("synced learned knowledge: %d new", added)
	return added, nil
}

// Restore reads every stored entry into k as accumulated knowledge and
// applies the stored preferences. Entries already present are skipped by
// the stores' duplicate suppression.
func (s *LearnedStore) Restore(k *kb.KB, opStore *ops.Store) (kb.Stats, error) {
	var st kb.Stats
	entries, err := s.Entries("")
	if err != nil {
		return st, err
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
	}
	st, err = k.ReadBlocks(strings.NewReader(sb.String()), s.dbPath, rules.Accumulated)
	prefs, perr := s.Prefs()
	if perr != nil {
		return st, perr
	}
	for name, p := range prefs {
		opStore.SetPref(name, p)
	}
	logging.Store("restored %s from %s", st, s.dbPath)
	return st, err
}
