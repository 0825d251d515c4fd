package store

import (
	"context"
	"fmt"

	"github.com/steveyegge/swarm/internal/artifact"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
)

// StageRecord is one row of stage_history. A row starts as "started" and
// resolves to passed/failed with its completion time and duration; a row
// still "started" marks an in-flight (or abandoned) stage run.
type StageRecord struct {
	ID            int64
	Repo          string
	AgentNum      uint32
	Bead          string
	Stage         string
	Attempt       uint32
	Status        string
	Reason        string
	Message       string
	StartedAtMS   int64
	CompletedAtMS *int64
	DurationMS    *int64
}

// StartStage records a stage run beginning and returns the history row id
// the resolution will update.
func (d *DB) StartStage(ctx context.Context, agentID ids.AgentID, bead ids.BeadID, st stage.Stage, attempt uint32) (int64, error) {
	var id int64
	err := d.sql.QueryRowContext(ctx,
		`INSERT INTO stage_history (repo_id, agent_num, bead_id, stage, attempt, status, started_at_ms)
		 VALUES ($1, $2, $3, $4, $5, 'started', $6)
		 RETURNING id`,
		agentID.Repo.Value(), agentID.Num, bead.Value(), st.String(), attempt, nowMS()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record stage start for %s: %w", bead, err)
	}
	return id, nil
}

// ResolveStage updates a started row with the run's outcome, stamping the
// completion time and duration.
func (d *DB) ResolveStage(ctx context.Context, historyID int64, result stage.Result, reason string) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE stage_history
		 SET status = $1, reason = $2, message = $3,
		     completed_at_ms = $4, duration_ms = $4 - started_at_ms
		 WHERE id = $5 AND status = 'started'`,
		result.String(), reason, result.Message, nowMS(), historyID)
	if err != nil {
		return fmt.Errorf("resolve stage history %d: %w", historyID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve stage rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("stage history %d is not an open started row", historyID)
	}
	return nil
}

// ListStageHistory returns a bead's stage runs, oldest start first.
func (d *DB) ListStageHistory(ctx context.Context, bead ids.BeadID) ([]StageRecord, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, repo_id, agent_num, bead_id, stage, attempt, status, reason, message,
		        started_at_ms, completed_at_ms, duration_ms
		 FROM stage_history WHERE bead_id = $1 ORDER BY started_at_ms, id`,
		bead.Value())
	if err != nil {
		return nil, fmt.Errorf("list stage history for %s: %w", bead, err)
	}
	defer rows.Close()

	var result []StageRecord
	for rows.Next() {
		var r StageRecord
		if err := rows.Scan(&r.ID, &r.Repo, &r.AgentNum, &r.Bead, &r.Stage, &r.Attempt,
			&r.Status, &r.Reason, &r.Message, &r.StartedAtMS, &r.CompletedAtMS, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ArtifactRow is one row of stage_artifacts.
type ArtifactRow struct {
	ID          int64
	Bead        string
	Stage       string
	Type        string
	Payload     string
	CreatedAtMS int64
}

// AddArtifact stores a stage artifact payload.
func (d *DB) AddArtifact(ctx context.Context, bead ids.BeadID, st stage.Stage, at artifact.Type, payload string) error {
	if !artifact.Valid(at) {
		return fmt.Errorf("add artifact for %s: unknown type %q", bead, at)
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO stage_artifacts (bead_id, stage, artifact_type, payload, created_at_ms)
		 VALUES ($1, $2, $3, $4, $5)`,
		bead.Value(), st.String(), string(at), payload, nowMS())
	if err != nil {
		return fmt.Errorf("add artifact for %s: %w", bead, err)
	}
	return nil
}

// ListArtifacts returns a bead's artifacts, newest first, optionally
// filtered by stage and type. Empty filters match everything.
func (d *DB) ListArtifacts(ctx context.Context, bead ids.BeadID, stageFilter, typeFilter string, limit int) ([]ArtifactRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, bead_id, stage, artifact_type, payload, created_at_ms
		 FROM stage_artifacts
		 WHERE bead_id = $1
		   AND ($2 = '' OR stage = $2)
		   AND ($3 = '' OR artifact_type = $3)
		 ORDER BY id DESC
		 LIMIT $4`,
		bead.Value(), stageFilter, typeFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for %s: %w", bead, err)
	}
	defer rows.Close()

	var result []ArtifactRow
	for rows.Next() {
		var r ArtifactRow
		if err := rows.Scan(&r.ID, &r.Bead, &r.Stage, &r.Type, &r.Payload, &r.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// LatestRetryPacket returns the most recent retry packet payload for a
// bead, or empty when none exists.
func (d *DB) LatestRetryPacket(ctx context.Context, bead ids.BeadID) (string, error) {
	packets, err := d.ListArtifacts(ctx, bead, "", string(artifact.RetryPacketType), 1)
	if err != nil {
		return "", err
	}
	if len(packets) == 0 {
		return "", nil
	}
	return packets[0].Payload, nil
}

// EventRow is one row of execution_events.
type EventRow struct {
	ID       int64
	Repo     string
	AgentNum *uint32
	Bead     *string
	Kind     string
	Detail   string
	AtMS     int64
}

// AppendEvent records an execution event. Events are observability only;
// callers treat failures as best-effort.
func (d *DB) AppendEvent(ctx context.Context, repo ids.RepoID, agentNum *uint32, bead *ids.BeadID, kind, detail string) error {
	var beadValue *string
	if bead != nil {
		v := bead.Value()
		beadValue = &v
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO execution_events (repo_id, agent_num, bead_id, kind, detail, at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		repo.Value(), agentNum, beadValue, kind, detail, nowMS())
	if err != nil {
		return fmt.Errorf("append event %s: %w", kind, err)
	}
	return nil
}

// ListEvents returns the newest events for a repo.
func (d *DB) ListEvents(ctx context.Context, repo ids.RepoID, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, repo_id, agent_num, bead_id, kind, detail, at_ms
		 FROM execution_events WHERE repo_id = $1
		 ORDER BY id DESC LIMIT $2`,
		repo.Value(), limit)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", repo, err)
	}
	defer rows.Close()

	var result []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.Repo, &r.AgentNum, &r.Bead, &r.Kind, &r.Detail, &r.AtMS); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// MessageRow is one row of agent_messages.
type MessageRow struct {
	ID       int64
	Repo     string
	Sender   string
	Body     string
	SentAtMS int64
}

// WriteBroadcast stores a broadcast message and returns the number of
// active agents it was delivered to.
func (d *DB) WriteBroadcast(ctx context.Context, repo ids.RepoID, from, msg string) (int64, error) {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO agent_messages (repo_id, sender, body, sent_at_ms)
		 VALUES ($1, $2, $3, $4)`,
		repo.Value(), from, msg, nowMS())
	if err != nil {
		return 0, fmt.Errorf("write broadcast: %w", err)
	}
	var delivered int64
	err = d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_state WHERE repo_id = $1 AND status <> 'done'`,
		repo.Value()).Scan(&delivered)
	if err != nil {
		return 0, fmt.Errorf("count broadcast recipients: %w", err)
	}
	return delivered, nil
}

// ListMessages returns the newest broadcast messages for a repo.
func (d *DB) ListMessages(ctx context.Context, repo ids.RepoID, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, repo_id, sender, body, sent_at_ms
		 FROM agent_messages WHERE repo_id = $1
		 ORDER BY id DESC LIMIT $2`,
		repo.Value(), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", repo, err)
	}
	defer rows.Close()

	var result []MessageRow
	for rows.Next() {
		var r MessageRow
		if err := rows.Scan(&r.ID, &r.Repo, &r.Sender, &r.Body, &r.SentAtMS); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
