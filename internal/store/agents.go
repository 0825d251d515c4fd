package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/swarm/internal/agent"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
)

// AgentRow is one row of agent_state.
type AgentRow struct {
	Repo        string
	Num         uint32
	Status      string
	Bead        *string
	Stage       *string
	UpdatedAtMS int64
}

// State converts the row to the domain agent state, validating invariants.
func (r AgentRow) State() (agent.State, error) {
	status, ok := agent.ParseStatus(r.Status)
	if !ok {
		return agent.State{}, fmt.Errorf("agent %s-%d: unknown status %q", r.Repo, r.Num, r.Status)
	}
	st := agent.State{
		ID:     ids.NewAgentID(ids.NewRepoID(r.Repo), r.Num),
		Status: status,
	}
	if r.Bead != nil {
		bead, ok := ids.NewBeadID(*r.Bead)
		if !ok {
			return agent.State{}, fmt.Errorf("agent %s-%d: empty bead id", r.Repo, r.Num)
		}
		st.Bead = &bead
	}
	if r.Stage != nil {
		parsed, ok := stage.Parse(*r.Stage)
		if !ok {
			return agent.State{}, fmt.Errorf("agent %s-%d: unknown stage %q", r.Repo, r.Num, *r.Stage)
		}
		st.Stage = &parsed
	}
	if err := st.Validate(); err != nil {
		return agent.State{}, err
	}
	return st, nil
}

// RegisterRepo upserts the repos registry row.
func (d *DB) RegisterRepo(ctx context.Context, repo ids.RepoID, name, path string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO repos (repo_id, name, path, created_at_ms)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (repo_id) DO UPDATE SET name = EXCLUDED.name, path = EXCLUDED.path`,
		repo.Value(), name, path, nowMS())
	if err != nil {
		return fmt.Errorf("register repo %s: %w", repo, err)
	}
	return nil
}

// RegisterAgent creates the agent row idle if it does not exist.
func (d *DB) RegisterAgent(ctx context.Context, agentID ids.AgentID) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO agent_state (repo_id, agent_num, status, bead_id, stage, updated_at_ms)
		 VALUES ($1, $2, $3, NULL, NULL, $4)
		 ON CONFLICT (repo_id, agent_num) DO NOTHING`,
		agentID.Repo.Value(), agentID.Num, agent.Idle.String(), nowMS())
	if err != nil {
		return fmt.Errorf("register agent %s: %w", agentID, err)
	}
	return nil
}

// GetAgent loads one agent row, or nil when unregistered.
func (d *DB) GetAgent(ctx context.Context, agentID ids.AgentID) (*AgentRow, error) {
	var row AgentRow
	err := d.sql.QueryRowContext(ctx,
		`SELECT repo_id, agent_num, status, bead_id, stage, updated_at_ms
		 FROM agent_state WHERE repo_id = $1 AND agent_num = $2`,
		agentID.Repo.Value(), agentID.Num).
		Scan(&row.Repo, &row.Num, &row.Status, &row.Bead, &row.Stage, &row.UpdatedAtMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return &row, nil
}

// SetAgentState overwrites an agent's status, bead, and stage.
func (d *DB) SetAgentState(ctx context.Context, st agent.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	var bead, stg *string
	if st.Bead != nil {
		v := st.Bead.Value()
		bead = &v
	}
	if st.Stage != nil {
		v := st.Stage.String()
		stg = &v
	}
	_, err := d.sql.ExecContext(ctx,
		`UPDATE agent_state SET status = $1, bead_id = $2, stage = $3, updated_at_ms = $4
		 WHERE repo_id = $5 AND agent_num = $6`,
		st.Status.String(), bead, stg, nowMS(),
		st.ID.Repo.Value(), st.ID.Num)
	if err != nil {
		return fmt.Errorf("set agent %s state: %w", st.ID, err)
	}
	return nil
}

// ListAgents returns all agent rows for a repo ordered by ordinal.
func (d *DB) ListAgents(ctx context.Context, repo ids.RepoID) ([]AgentRow, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT repo_id, agent_num, status, bead_id, stage, updated_at_ms
		 FROM agent_state WHERE repo_id = $1 ORDER BY agent_num`,
		repo.Value())
	if err != nil {
		return nil, fmt.Errorf("list agents for %s: %w", repo, err)
	}
	defer rows.Close()

	var result []AgentRow
	for rows.Next() {
		var row AgentRow
		if err := rows.Scan(&row.Repo, &row.Num, &row.Status, &row.Bead, &row.Stage, &row.UpdatedAtMS); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Progress is the swarm-wide status breakdown.
type Progress struct {
	Idle    int64
	Working int64
	Waiting int64
	Errors  int64
	Done    int64
	Backlog int64
}

// Total counts registered agents.
func (p Progress) Total() int64 {
	return p.Idle + p.Working + p.Waiting + p.Errors + p.Done
}

// Active counts agents currently holding or waiting on work.
func (p Progress) Active() int64 {
	return p.Working + p.Waiting
}

// GetProgress aggregates agent statuses and the ready backlog depth.
func (d *DB) GetProgress(ctx context.Context, repo ids.RepoID) (Progress, error) {
	var p Progress
	rows, err := d.sql.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM agent_state WHERE repo_id = $1 GROUP BY status`,
		repo.Value())
	if err != nil {
		return Progress{}, fmt.Errorf("progress for %s: %w", repo, err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Progress{}, fmt.Errorf("scan progress: %w", err)
		}
		switch status {
		case agent.Idle.String():
			p.Idle = count
		case agent.Working.String():
			p.Working = count
		case agent.Waiting.String():
			p.Waiting = count
		case agent.Error.String():
			p.Errors = count
		case agent.DoneStatus.String():
			p.Done = count
		}
	}
	if err := rows.Err(); err != nil {
		return Progress{}, err
	}

	err = d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bead_backlog WHERE repo_id = $1`,
		repo.Value()).Scan(&p.Backlog)
	if err != nil {
		return Progress{}, fmt.Errorf("backlog depth for %s: %w", repo, err)
	}
	return p, nil
}
