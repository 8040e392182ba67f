// Package store is the save-scoped durable state: the claimed-identity set,
// the previously-active strategy, the player ceiling, the stack-location
// override, and the identity-token table. All writes are synchronous; the
// callers persist immediately after mutating in-memory state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"farmhold/internal/stackloc"
)

type Store struct {
	db     *sql.DB
	saveID string
}

func Open(path, saveID string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if saveID == "" {
		return nil, fmt.Errorf("empty save id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, saveID: saveID}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps the synchronous per-mutation writes cheap.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS claimed_identities (
			save_id    TEXT NOT NULL,
			identity   INTEGER NOT NULL,
			claimed_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (save_id, identity)
		);`,
		`CREATE TABLE IF NOT EXISTS kv (
			save_id TEXT NOT NULL,
			key     TEXT NOT NULL,
			value   TEXT NOT NULL,
			PRIMARY KEY (save_id, key)
		);`,
		`CREATE TABLE IF NOT EXISTS identity_tokens (
			save_id  TEXT NOT NULL,
			token    TEXT NOT NULL,
			identity INTEGER NOT NULL,
			PRIMARY KEY (save_id, token)
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// ClaimedIdentities returns the full claimed set for this save.
func (s *Store) ClaimedIdentities() (map[int64]bool, error) {
	rows, err := s.db.Query(`SELECT identity FROM claimed_identities WHERE save_id = ?`, s.saveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// AddClaimedIdentity appends to the claimed set. The set is append-only;
// re-adding is a no-op.
func (s *Store) AddClaimedIdentity(id int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO claimed_identities (save_id, identity) VALUES (?, ?)`,
		s.saveID, id)
	return err
}

const (
	keyActiveStrategy = "active_strategy"
	keyPlayerCeiling  = "player_ceiling"
	keyStackOverride  = "stack_override"
)

func (s *Store) getKV(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(
		`SELECT value FROM kv WHERE save_id = ? AND key = ?`, s.saveID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) setKV(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (save_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (save_id, key) DO UPDATE SET value = excluded.value`,
		s.saveID, key, value)
	return err
}

func (s *Store) ActiveStrategy() (string, bool, error) { return s.getKV(keyActiveStrategy) }
func (s *Store) SetActiveStrategy(v string) error      { return s.setKV(keyActiveStrategy, v) }

func (s *Store) PlayerCeiling() (int, bool, error) {
	v, ok, err := s.getKV(keyPlayerCeiling)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("player_ceiling %q: %w", v, err)
	}
	return n, true, nil
}

func (s *Store) SetPlayerCeiling(n int) error {
	return s.setKV(keyPlayerCeiling, strconv.Itoa(n))
}

// StackOverride returns the administrator's pinned stack coordinate, if any.
func (s *Store) StackOverride() (*stackloc.Coord, error) {
	v, ok, err := s.getKV(keyStackOverride)
	if err != nil || !ok {
		return nil, err
	}
	var c stackloc.Coord
	if _, err := fmt.Sscanf(v, "%d,%d", &c.X, &c.Y); err != nil {
		return nil, fmt.Errorf("stack_override %q: %w", v, err)
	}
	return &c, nil
}

func (s *Store) SetStackOverride(c stackloc.Coord) error {
	return s.setKV(keyStackOverride, fmt.Sprintf("%d,%d", c.X, c.Y))
}

func (s *Store) ClearStackOverride() error {
	_, err := s.db.Exec(
		`DELETE FROM kv WHERE save_id = ? AND key = ?`, s.saveID, keyStackOverride)
	return err
}

// IdentityForToken resolves a reconnect token to its persistent identity.
func (s *Store) IdentityForToken(token string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT identity FROM identity_tokens WHERE save_id = ? AND token = ?`,
		s.saveID, token).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// AllocateIdentity mints a fresh persistent numeric identity for this save
// and binds it to token. Read and insert share one transaction, which pins
// the single connection, so concurrent handshakes can never mint the same
// identity. Identity 1 is reserved for the host.
func (s *Store) AllocateIdentity(token string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var max sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(identity) FROM identity_tokens WHERE save_id = ?`, s.saveID).Scan(&max); err != nil {
		return 0, err
	}
	next := int64(2)
	if max.Valid && max.Int64 >= next {
		next = max.Int64 + 1
	}
	if _, err := tx.Exec(
		`INSERT INTO identity_tokens (save_id, token, identity) VALUES (?, ?, ?)`,
		s.saveID, token, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}
