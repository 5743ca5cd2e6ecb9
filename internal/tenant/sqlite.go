package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS tenants (
    id             TEXT PRIMARY KEY,
    app_id         TEXT NOT NULL,
    key_id         TEXT NOT NULL,
    secret         TEXT NOT NULL,
    instance_name  TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL
);`,
	},
}

// SQLiteStore is the SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a database at path and applies pending
// migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// one connection: keeps ":memory:" a single database and serialises writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, cfg Config) (string, error) {
	rec, err := prepare(cfg)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, app_id, key_id, secret, instance_name, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TenantID, rec.AppID, rec.KeyID, rec.Secret, rec.InstanceName, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert tenant: %w", err)
	}
	return rec.TenantID, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Config, error) {
	var (
		rec       Config
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, app_id, key_id, secret, instance_name, created_at FROM tenants WHERE id = ?`, id).
		Scan(&rec.TenantID, &rec.AppID, &rec.KeyID, &rec.Secret, &rec.InstanceName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select tenant: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
