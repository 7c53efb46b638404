// Package store persists player profiles across sessions, keyed by the
// durable auth identity. It is invoked by handlers, never by the core
// pipeline directly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/urt30plus/urt30t/internal/registry"
)

// Profile is the durable record for one identity.
type Profile struct {
	Auth      string
	Name      string
	Level     registry.Level
	XP        float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrNotFound is returned by LoadProfile for an unseen identity.
var ErrNotFound = errors.New("profile not found")

// Store is a sqlite-backed profile store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the profile database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS players (
		auth TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 1,
		xp REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_players_name ON players(name)`,
}

// LoadProfile fetches the profile for an identity.
func (s *Store) LoadProfile(ctx context.Context, auth string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT auth, name, level, xp, created_at, updated_at FROM players WHERE auth = ?`,
		auth).Scan(&p.Auth, &p.Name, &p.Level, &p.XP, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", auth, err)
	}
	return p, nil
}

// SaveProfile inserts or updates a profile.
func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (auth, name, level, xp) VALUES (?, ?, ?, ?)
		 ON CONFLICT(auth) DO UPDATE SET
			name = excluded.name,
			level = excluded.level,
			xp = excluded.xp,
			updated_at = CURRENT_TIMESTAMP`,
		p.Auth, p.Name, p.Level, p.XP)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.Auth, err)
	}
	return nil
}
