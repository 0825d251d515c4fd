package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/swarm/internal/agent"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
)

// Claim is one row of bead_claims.
type Claim struct {
	Bead         string
	Repo         string
	AgentNum     uint32
	Stage        string
	Attempt      uint32
	MaxAttempts  uint32
	Status       string
	LeaseUntilMS int64
	ClaimedAtMS  int64
}

// EnqueueBead appends a bead to the backlog. Re-enqueueing an existing bead
// is a no-op.
func (d *DB) EnqueueBead(ctx context.Context, repo ids.RepoID, bead ids.BeadID) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO bead_backlog (bead_id, repo_id, enqueued_at_ms)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (bead_id) DO NOTHING`,
		bead.Value(), repo.Value(), nowMS())
	if err != nil {
		return fmt.Errorf("enqueue bead %s: %w", bead, err)
	}
	return nil
}

// ClaimNext atomically claims the oldest ready backlog bead for the agent:
// the bead leaves the backlog, a claim row appears, and the agent flips to
// working at the first pipeline stage with attempt 1. Returns nil when the
// backlog is empty or another agent raced the bead away, and ConflictError
// when the agent is not idle.
func (d *DB) ClaimNext(ctx context.Context, agentID ids.AgentID, maxAttempts uint32, leaseMS int64) (*Claim, error) {
	var claim *Claim
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM agent_state
			 WHERE repo_id = $1 AND agent_num = $2
			 FOR UPDATE`,
			agentID.Repo.Value(), agentID.Num).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("agent %s is not registered", agentID)
		}
		if err != nil {
			return fmt.Errorf("lock agent %s: %w", agentID, err)
		}
		if status != agent.Idle.String() {
			return &ConflictError{Msg: fmt.Sprintf("agent %s is %s, not idle", agentID, status)}
		}

		var beadID string
		err = tx.QueryRowContext(ctx,
			`SELECT bead_id FROM bead_backlog
			 WHERE repo_id = $1
			 ORDER BY enqueued_at_ms ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT 1`,
			agentID.Repo.Value()).Scan(&beadID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select ready bead: %w", err)
		}

		now := nowMS()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bead_claims
			 (bead_id, repo_id, agent_num, stage, attempt, max_attempts, status, lease_until_ms, claimed_at_ms)
			 VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8)
			 ON CONFLICT (bead_id) DO NOTHING`,
			beadID, agentID.Repo.Value(), agentID.Num,
			stage.RustContract.String(), maxAttempts,
			agent.ClaimInProgress.String(), now+leaseMS, now)
		if err != nil {
			return fmt.Errorf("insert claim for %s: %w", beadID, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if inserted == 0 {
			// Already claimed elsewhere; leave the backlog row to the winner.
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM bead_backlog WHERE bead_id = $1`, beadID); err != nil {
			return fmt.Errorf("dequeue bead %s: %w", beadID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_state (repo_id, agent_num, status, bead_id, stage, updated_at_ms)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (repo_id, agent_num) DO UPDATE SET
			   status = EXCLUDED.status,
			   bead_id = EXCLUDED.bead_id,
			   stage = EXCLUDED.stage,
			   updated_at_ms = EXCLUDED.updated_at_ms`,
			agentID.Repo.Value(), agentID.Num, agent.Working.String(),
			beadID, stage.RustContract.String(), now); err != nil {
			return fmt.Errorf("mark agent working: %w", err)
		}

		claim = &Claim{
			Bead:         beadID,
			Repo:         agentID.Repo.Value(),
			AgentNum:     agentID.Num,
			Stage:        stage.RustContract.String(),
			Attempt:      1,
			MaxAttempts:  maxAttempts,
			Status:       agent.ClaimInProgress.String(),
			LeaseUntilMS: now + leaseMS,
			ClaimedAtMS:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// GetClaim loads the in-progress claim held by an agent, or nil.
func (d *DB) GetClaim(ctx context.Context, agentID ids.AgentID) (*Claim, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT bead_id, repo_id, agent_num, stage, attempt, max_attempts, status, lease_until_ms, claimed_at_ms
		 FROM bead_claims
		 WHERE repo_id = $1 AND agent_num = $2 AND status = $3`,
		agentID.Repo.Value(), agentID.Num, agent.ClaimInProgress.String())
	return scanClaim(row)
}

// ListClaims returns a repo's claim rows, oldest claim first.
func (d *DB) ListClaims(ctx context.Context, repo ids.RepoID) ([]Claim, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT bead_id, repo_id, agent_num, stage, attempt, max_attempts, status, lease_until_ms, claimed_at_ms
		 FROM bead_claims WHERE repo_id = $1
		 ORDER BY claimed_at_ms, bead_id`,
		repo.Value())
	if err != nil {
		return nil, fmt.Errorf("list claims for %s: %w", repo, err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.Bead, &c.Repo, &c.AgentNum, &c.Stage, &c.Attempt,
			&c.MaxAttempts, &c.Status, &c.LeaseUntilMS, &c.ClaimedAtMS); err != nil {
			return nil, fmt.Errorf("scan claim row: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// GetClaimByBead loads any claim row for a bead, or nil.
func (d *DB) GetClaimByBead(ctx context.Context, bead ids.BeadID) (*Claim, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT bead_id, repo_id, agent_num, stage, attempt, max_attempts, status, lease_until_ms, claimed_at_ms
		 FROM bead_claims WHERE bead_id = $1`,
		bead.Value())
	return scanClaim(row)
}

func scanClaim(row *sql.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.Bead, &c.Repo, &c.AgentNum, &c.Stage, &c.Attempt,
		&c.MaxAttempts, &c.Status, &c.LeaseUntilMS, &c.ClaimedAtMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan claim: %w", err)
	}
	return &c, nil
}

// Heartbeat extends the claim lease. Returns false when the claim is gone,
// which tells the agent to drop its work.
func (d *DB) Heartbeat(ctx context.Context, agentID ids.AgentID, extensionMS int64) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE bead_claims SET lease_until_ms = $1
		 WHERE repo_id = $2 AND agent_num = $3 AND status = $4`,
		nowMS()+extensionMS, agentID.Repo.Value(), agentID.Num,
		agent.ClaimInProgress.String())
	if err != nil {
		return false, fmt.Errorf("heartbeat %s: %w", agentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateClaimProgress persists the stage/attempt after a transition.
func (d *DB) UpdateClaimProgress(ctx context.Context, bead ids.BeadID, st stage.Stage, attempt uint32, status agent.ClaimStatus) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE bead_claims SET stage = $1, attempt = $2, status = $3
		 WHERE bead_id = $4`,
		st.String(), attempt, status.String(), bead.Value())
	if err != nil {
		return fmt.Errorf("update claim %s: %w", bead, err)
	}
	return nil
}

// RecoverStaleClaims sweeps expired leases: each stale in-progress claim
// goes back to the backlog and its agent returns to idle. Returns the bead
// ids recovered.
func (d *DB) RecoverStaleClaims(ctx context.Context, repo ids.RepoID) ([]string, error) {
	var recovered []string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := nowMS()
		rows, err := tx.QueryContext(ctx,
			`SELECT bead_id, agent_num FROM bead_claims
			 WHERE repo_id = $1 AND status = $2 AND lease_until_ms < $3
			 FOR UPDATE SKIP LOCKED`,
			repo.Value(), agent.ClaimInProgress.String(), now)
		if err != nil {
			return fmt.Errorf("select stale claims: %w", err)
		}
		type stale struct {
			bead     string
			agentNum uint32
		}
		var found []stale
		for rows.Next() {
			var s stale
			if err := rows.Scan(&s.bead, &s.agentNum); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale claim: %w", err)
			}
			found = append(found, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate stale claims: %w", err)
		}

		for _, s := range found {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM bead_claims WHERE bead_id = $1`, s.bead); err != nil {
				return fmt.Errorf("drop stale claim %s: %w", s.bead, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bead_backlog (bead_id, repo_id, enqueued_at_ms)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (bead_id) DO NOTHING`,
				s.bead, repo.Value(), now); err != nil {
				return fmt.Errorf("re-enqueue %s: %w", s.bead, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE agent_state SET status = $1, bead_id = NULL, stage = NULL, updated_at_ms = $2
				 WHERE repo_id = $3 AND agent_num = $4`,
				agent.Idle.String(), now, repo.Value(), s.agentNum); err != nil {
				return fmt.Errorf("idle stale agent %d: %w", s.agentNum, err)
			}
			recovered = append(recovered, s.bead)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// ReleaseClaim drops an agent's claim, returns the bead to the backlog, and
// idles the agent. Returns the released bead id, or nil when the agent held
// nothing.
func (d *DB) ReleaseClaim(ctx context.Context, agentID ids.AgentID) (*string, error) {
	var released *string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var beadID string
		err := tx.QueryRowContext(ctx,
			`DELETE FROM bead_claims
			 WHERE repo_id = $1 AND agent_num = $2 AND status = $3
			 RETURNING bead_id`,
			agentID.Repo.Value(), agentID.Num, agent.ClaimInProgress.String()).Scan(&beadID)
		if err == sql.ErrNoRows {
			beadID = ""
		} else if err != nil {
			return fmt.Errorf("release claim for %s: %w", agentID, err)
		}

		now := nowMS()
		if beadID != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bead_backlog (bead_id, repo_id, enqueued_at_ms)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (bead_id) DO NOTHING`,
				beadID, agentID.Repo.Value(), now); err != nil {
				return fmt.Errorf("re-enqueue released %s: %w", beadID, err)
			}
			released = &beadID
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_state SET status = $1, bead_id = NULL, stage = NULL, updated_at_ms = $2
			 WHERE repo_id = $3 AND agent_num = $4`,
			agent.Idle.String(), now, agentID.Repo.Value(), agentID.Num); err != nil {
			return fmt.Errorf("idle agent %s: %w", agentID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// MarkBlocked parks the claim after retry exhaustion and flips the agent to
// the error state.
func (d *DB) MarkBlocked(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bead_claims SET status = $1 WHERE bead_id = $2`,
			agent.ClaimBlocked.String(), bead.Value()); err != nil {
			return fmt.Errorf("block claim %s: %w", bead, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_state SET status = $1, bead_id = NULL, stage = NULL, updated_at_ms = $2
			 WHERE repo_id = $3 AND agent_num = $4`,
			agent.Error.String(), nowMS(), agentID.Repo.Value(), agentID.Num); err != nil {
			return fmt.Errorf("error agent %s: %w", agentID, err)
		}
		return nil
	})
}

// CompleteClaim marks the claim completed at the terminal stage and flips
// the agent to done. Callers must have confirmed the push first.
func (d *DB) CompleteClaim(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bead_claims SET status = $1, stage = $2 WHERE bead_id = $3`,
			agent.ClaimCompleted.String(), stage.Done.String(), bead.Value()); err != nil {
			return fmt.Errorf("complete claim %s: %w", bead, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_state SET status = $1, bead_id = NULL, stage = $2, updated_at_ms = $3
			 WHERE repo_id = $4 AND agent_num = $5`,
			agent.DoneStatus.String(), stage.Done.String(), nowMS(),
			agentID.Repo.Value(), agentID.Num); err != nil {
			return fmt.Errorf("done agent %s: %w", agentID, err)
		}
		return nil
	})
}

// AssignBead claims a specific bead for a specific agent in one
// transaction. A bead already claimed or an agent already working is a
// conflict; the transaction rolls back leaving no partial state.
func (d *DB) AssignBead(ctx context.Context, agentID ids.AgentID, bead ids.BeadID, maxAttempts uint32, leaseMS int64) (*Claim, error) {
	var claim *Claim
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM agent_state
			 WHERE repo_id = $1 AND agent_num = $2
			 FOR UPDATE`,
			agentID.Repo.Value(), agentID.Num).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("agent %s is not registered", agentID)
		}
		if err != nil {
			return fmt.Errorf("lock agent %s: %w", agentID, err)
		}
		if status != agent.Idle.String() {
			return &ConflictError{Msg: fmt.Sprintf("agent %s is %s, assignment rolled back for bead %s", agentID, status, bead)}
		}

		now := nowMS()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bead_claims
			 (bead_id, repo_id, agent_num, stage, attempt, max_attempts, status, lease_until_ms, claimed_at_ms)
			 VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8)
			 ON CONFLICT (bead_id) DO NOTHING`,
			bead.Value(), agentID.Repo.Value(), agentID.Num,
			stage.RustContract.String(), maxAttempts,
			agent.ClaimInProgress.String(), now+leaseMS, now)
		if err != nil {
			return fmt.Errorf("insert assignment for %s: %w", bead, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("assignment rows affected: %w", err)
		}
		if inserted == 0 {
			return &ConflictError{Msg: fmt.Sprintf("bead %s is already claimed, assignment rolled back for bead %s", bead, bead)}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM bead_backlog WHERE bead_id = $1`, bead.Value()); err != nil {
			return fmt.Errorf("dequeue assigned %s: %w", bead, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_state SET status = $1, bead_id = $2, stage = $3, updated_at_ms = $4
			 WHERE repo_id = $5 AND agent_num = $6`,
			agent.Working.String(), bead.Value(), stage.RustContract.String(),
			now, agentID.Repo.Value(), agentID.Num); err != nil {
			return fmt.Errorf("mark assignee working: %w", err)
		}

		claim = &Claim{
			Bead:         bead.Value(),
			Repo:         agentID.Repo.Value(),
			AgentNum:     agentID.Num,
			Stage:        stage.RustContract.String(),
			Attempt:      1,
			MaxAttempts:  maxAttempts,
			Status:       agent.ClaimInProgress.String(),
			LeaseUntilMS: now + leaseMS,
			ClaimedAtMS:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// ConflictError marks claim conflicts so handlers can map them to the
// CONFLICT wire code.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}
