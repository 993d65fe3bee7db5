package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/security/seal"
)

// PostgresStore implements gotrue.Store using PostgreSQL (nidentity.sessions).
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
	codec   codec
	now     func() time.Time
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, profile string, s *seal.Sealer) *PostgresStore {
	c := newCodec(profile, s)
	return &PostgresStore{
		pool:    pool,
		profile: c.profile,
		codec:   c,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS nidentity;
		CREATE TABLE IF NOT EXISTS nidentity.sessions (
			profile    text PRIMARY KEY,
			payload    bytea NOT NULL,
			updated_at timestamptz NOT NULL
		)
	`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (*gotrue.User, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload
		FROM nidentity.sessions
		WHERE profile = $1
	`, s.profile).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.codec.decode(payload)
}

func (s *PostgresStore) Save(ctx context.Context, u *gotrue.User) error {
	payload, err := s.codec.encode(u)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO nidentity.sessions (profile, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (profile) DO UPDATE
		SET payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
	`, s.profile, payload, s.now())
	return err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM nidentity.sessions
		WHERE profile = $1
	`, s.profile)
	return err
}

// Close is a noop; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
