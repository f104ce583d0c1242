// Package postgres stores conversations and appointments in PostgreSQL
// through a shared pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soyeahso/callpilot/internal/logging"
)

// DB wraps a pgx pool with migration support.
type DB struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// Open connects to dsn, sizes the pool and applies pending migrations.
func Open(ctx context.Context, dsn string, maxConns int, log *logging.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	// Transaction poolers on 6543 reject named prepared statements.
	if cfg.ConnConfig.Port == 6543 && cfg.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{pool: pool, log: log.Sub("postgres")}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Info().Str("host", cfg.ConnConfig.Host).Int32("maxConns", cfg.MaxConns).Msg("database opened")
	return db, nil
}

// Close releases every pooled connection.
func (db *DB) Close() {
	db.log.Info().Msg("closing database")
	db.pool.Close()
}

// Pool exposes the underlying pool.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create chat sessions and messages",
		SQL: `
			CREATE TABLE IF NOT EXISTS chat_session (
				id          TEXT PRIMARY KEY,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS chat_message (
				id          BIGSERIAL PRIMARY KEY,
				session_id  TEXT NOT NULL REFERENCES chat_session(id),
				role        TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
				content     TEXT NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE INDEX IF NOT EXISTS idx_chat_message_session
				ON chat_message (session_id, created_at, id);
		`,
	},
	{
		Version: 2,
		Name:    "create appointments",
		SQL: `
			CREATE TABLE IF NOT EXISTS appointment (
				id            BIGSERIAL PRIMARY KEY,
				session_id    TEXT NOT NULL REFERENCES chat_session(id),
				name          TEXT NOT NULL,
				appt_date     TEXT NOT NULL,
				appt_time     TEXT NOT NULL,
				status        TEXT NOT NULL CHECK (status IN ('booked', 'cancelled')),
				created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
				cancelled_at  TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_appointment_session
				ON appointment (session_id, created_at, id);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_appointment_one_booked
				ON appointment (session_id) WHERE status = 'booked';
		`,
	},
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		if err := db.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}

		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.Version,
			); err != nil {
				return fmt.Errorf("recording migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// isUniqueViolation reports a 23505 unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
