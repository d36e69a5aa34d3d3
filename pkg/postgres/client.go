// Package postgres opens the lib/pq pool behind the Postgres chunk store and
// search index and runs the store's write transactions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/resilience"
)

// advisory lock namespaces, the first key of pg_advisory_xact_lock(int, int)
const (
	LockSpaceFile int32 = 1
)

var (
	connectRetry = resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
	txRetry      = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 20 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Retryable: IsTransient}
)

type Client struct {
	DB *sql.DB
}

func New(cfg config.PostgresConfig) (*Client, error) {
	return Open(cfg.DSN(), cfg)
}

// Open connects with an explicit DSN and pool settings from cfg. The first
// ping is retried briefly so a database that is still starting does not
// fail the process.
func Open(dsn string, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = resilience.Retry(ctx, "postgres-connect", connectRetry, func() error {
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		defer pcancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// InTx runs fn in a transaction, committing when it returns nil. A
// serialization failure or deadlock rolls back and runs fn again in a fresh
// transaction, so fn must not have effects outside tx.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return resilience.Retry(ctx, "postgres-tx", txRetry, func() error {
		return c.runTx(ctx, fn)
	})
}

func (c *Client) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LockFile serialises writers of one file's chunks until tx ends.
func LockFile(ctx context.Context, tx *sql.Tx, fileID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, LockSpaceFile, fileID); err != nil {
		return fmt.Errorf("locking file %s: %w", fileID, err)
	}
	return nil
}

// IsTransient reports whether err is a Postgres error that a retried
// transaction can be expected to get past.
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	}
	// class 08: connection exceptions
	return pqErr.Code.Class() == "08"
}
