// Package store is the Postgres persistence layer for the swarm: agents,
// bead backlog and claims, stage history, artifacts, events, messages,
// resource locks, config, and the command audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DefaultLeaseExtensionMS is how far a heartbeat pushes the claim lease.
const DefaultLeaseExtensionMS = 300_000

// DB wraps a postgres connection with the swarm queries.
type DB struct {
	sql *sql.DB
}

// Open connects to a postgres URL and verifies it within timeoutMS.
func Open(ctx context.Context, url string, timeoutMS uint64) (*DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{sql: db}, nil
}

// OpenCandidates tries each URL in order and returns the first reachable
// database, the URL that connected, and the per-candidate failures for the
// error context when nothing connects.
func OpenCandidates(ctx context.Context, candidates []string, timeoutMS uint64, mask func(string) string) (*DB, string, []string) {
	var failures []string
	for _, candidate := range candidates {
		db, err := Open(ctx, candidate, timeoutMS)
		if err == nil {
			return db, candidate, failures
		}
		failures = append(failures, fmt.Sprintf("%s: %v", mask(candidate), err))
	}
	return nil, "", failures
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

// SetPoolLimits applies connection pool sizing, used by load-profile
// recommendations and the CLI.
func (d *DB) SetPoolLimits(maxOpen, maxIdle int) {
	d.sql.SetMaxOpenConns(maxOpen)
	d.sql.SetMaxIdleConns(maxIdle)
}

// NowMS returns the current unix time in milliseconds, the time unit every
// table uses.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

func nowMS() int64 {
	return NowMS()
}

// withTx runs fn inside a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
