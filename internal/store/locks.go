package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/swarm/internal/ids"
)

// LockRow is one row of resource_locks.
type LockRow struct {
	Resource string
	Owner    string
	SinceMS  int64
	UntilMS  int64
}

// AcquireLock sweeps expired locks, then inserts the lock row if the
// resource is free. Returns the lease expiry, or nil when the resource is
// held (the BUSY case).
func (d *DB) AcquireLock(ctx context.Context, resource, owner string, ttlMS int64) (*int64, error) {
	var until *int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := nowMS()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM resource_locks WHERE until_ms < $1`, now); err != nil {
			return fmt.Errorf("sweep expired locks: %w", err)
		}

		var acquired int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO resource_locks (resource, owner, since_ms, until_ms)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (resource) DO NOTHING
			 RETURNING until_ms`,
			resource, owner, now, now+ttlMS).Scan(&acquired)
		if err == sql.ErrNoRows {
			// Held by someone else.
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", resource, err)
		}
		until = &acquired
		return nil
	})
	if err != nil {
		return nil, err
	}
	return until, nil
}

// Unlock removes a lock when owner matches. Returns whether a lock was
// released.
func (d *DB) Unlock(ctx context.Context, resource, owner string) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		`DELETE FROM resource_locks WHERE resource = $1 AND owner = $2`,
		resource, owner)
	if err != nil {
		return false, fmt.Errorf("unlock %s: %w", resource, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlock rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListActiveLocks returns unexpired locks ordered by resource.
func (d *DB) ListActiveLocks(ctx context.Context) ([]LockRow, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT resource, owner, since_ms, until_ms
		 FROM resource_locks WHERE until_ms >= $1
		 ORDER BY resource`,
		nowMS())
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var result []LockRow
	for rows.Next() {
		var r LockRow
		if err := rows.Scan(&r.Resource, &r.Owner, &r.SinceMS, &r.UntilMS); err != nil {
			return nil, fmt.Errorf("scan lock row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// SwarmConfigRow is one row of swarm_config.
type SwarmConfigRow struct {
	Repo                      string
	MaxAgents                 uint32
	MaxImplementationAttempts uint32
	ClaimLabel                string
	SwarmStatus               string
}

// GetSwarmConfig loads per-repo runtime config, or nil when absent.
func (d *DB) GetSwarmConfig(ctx context.Context, repo ids.RepoID) (*SwarmConfigRow, error) {
	var row SwarmConfigRow
	err := d.sql.QueryRowContext(ctx,
		`SELECT repo_id, max_agents, max_implementation_attempts, claim_label, swarm_status
		 FROM swarm_config WHERE repo_id = $1`,
		repo.Value()).
		Scan(&row.Repo, &row.MaxAgents, &row.MaxImplementationAttempts, &row.ClaimLabel, &row.SwarmStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config for %s: %w", repo, err)
	}
	return &row, nil
}

// UpsertSwarmConfig writes per-repo runtime config.
func (d *DB) UpsertSwarmConfig(ctx context.Context, row SwarmConfigRow) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO swarm_config (repo_id, max_agents, max_implementation_attempts, claim_label, swarm_status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (repo_id) DO UPDATE SET
		   max_agents = EXCLUDED.max_agents,
		   max_implementation_attempts = EXCLUDED.max_implementation_attempts,
		   claim_label = EXCLUDED.claim_label,
		   swarm_status = EXCLUDED.swarm_status`,
		row.Repo, row.MaxAgents, row.MaxImplementationAttempts, row.ClaimLabel, row.SwarmStatus)
	if err != nil {
		return fmt.Errorf("upsert config for %s: %w", row.Repo, err)
	}
	return nil
}
