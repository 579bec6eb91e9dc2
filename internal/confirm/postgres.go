package confirm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/imrandevofficial/openapi-servers/internal/metrics"
)

// PostgresStore keeps pending confirmations in PostgreSQL so several
// replicas of the service can honor each other's tokens.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresStore connects to the database, ensures the schema exists and
// clears tokens left behind by previous runs.
func NewPostgresStore(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS pending_confirmations (
			token      TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			recursive  BOOLEAN NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM pending_confirmations`); err != nil {
		db.Close()
		return nil, fmt.Errorf("clear confirmations: %w", err)
	}

	return &PostgresStore{db: db, ttl: ttl}, nil
}

// Create registers a new pending confirmation and returns its token.
func (s *PostgresStore) Create(ctx context.Context, path string, recursive bool) (string, Pending, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("postgres", "create", time.Since(start)) }()

	for {
		token, err := newToken()
		if err != nil {
			return "", Pending{}, err
		}

		p := Pending{
			Path:      path,
			Recursive: recursive,
			ExpiresAt: time.Now().UTC().Add(s.ttl),
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO pending_confirmations (token, path, recursive, expires_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (token) DO NOTHING`,
			token, p.Path, p.Recursive, p.ExpiresAt)
		if err != nil {
			return "", Pending{}, fmt.Errorf("insert confirmation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", Pending{}, fmt.Errorf("insert confirmation: %w", err)
		}
		if n == 1 {
			return token, p, nil
		}
		// Token collided with an existing entry; try again.
	}
}

// Confirm validates and consumes a token. See Store for the check order.
func (s *PostgresStore) Confirm(ctx context.Context, token, path string, recursive bool) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("postgres", "confirm", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var p Pending
	err = tx.QueryRowContext(ctx,
		`SELECT path, recursive, expires_at FROM pending_confirmations WHERE token = $1 FOR UPDATE`,
		token).Scan(&p.Path, &p.Recursive, &p.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("lookup confirmation: %w", err)
	}

	if time.Now().UTC().After(p.ExpiresAt) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_confirmations WHERE token = $1`, token); err != nil {
			return fmt.Errorf("delete expired confirmation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return ErrTokenExpired
	}
	if p.Path != path || p.Recursive != recursive {
		return ErrParameterMismatch
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_confirmations WHERE token = $1`, token); err != nil {
		return fmt.Errorf("consume confirmation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Purge drops expired entries and reports how many were removed.
func (s *PostgresStore) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_confirmations WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge confirmations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge confirmations: %w", err)
	}
	return int(n), nil
}

// Len reports the number of live tokens.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_confirmations WHERE expires_at > $1`,
		time.Now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count confirmations: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
