package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS relay_tenants (
    id             TEXT PRIMARY KEY,
    app_id         TEXT NOT NULL,
    key_id         TEXT NOT NULL,
    secret         TEXT NOT NULL,
    instance_name  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps tenants in a shared Postgres database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create relay_tenants: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, cfg Config) (string, error) {
	rec, err := prepare(cfg)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO relay_tenants (id, app_id, key_id, secret, instance_name, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TenantID, rec.AppID, rec.KeyID, rec.Secret, rec.InstanceName, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert tenant: %w", err)
	}
	return rec.TenantID, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Config, error) {
	var rec Config
	err := s.pool.QueryRow(ctx,
		`SELECT id, app_id, key_id, secret, instance_name, created_at FROM relay_tenants WHERE id = $1`, id).
		Scan(&rec.TenantID, &rec.AppID, &rec.KeyID, &rec.Secret, &rec.InstanceName, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select tenant: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
