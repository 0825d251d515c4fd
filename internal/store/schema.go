package store

import (
	"context"
	"fmt"
)

// schemaStatements create the swarm tables. Every statement is idempotent so
// init-db can run against a live database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS repos (
		repo_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_state (
		repo_id TEXT NOT NULL,
		agent_num INTEGER NOT NULL,
		status TEXT NOT NULL,
		bead_id TEXT,
		stage TEXT,
		updated_at_ms BIGINT NOT NULL,
		PRIMARY KEY (repo_id, agent_num)
	)`,
	`CREATE TABLE IF NOT EXISTS bead_backlog (
		bead_id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		enqueued_at_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bead_claims (
		bead_id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		agent_num INTEGER NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		lease_until_ms BIGINT NOT NULL,
		claimed_at_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stage_history (
		id BIGSERIAL PRIMARY KEY,
		repo_id TEXT NOT NULL,
		agent_num INTEGER NOT NULL,
		bead_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'started',
		reason TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		started_at_ms BIGINT NOT NULL,
		completed_at_ms BIGINT,
		duration_ms BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS stage_artifacts (
		id BIGSERIAL PRIMARY KEY,
		bead_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		created_at_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS execution_events (
		id BIGSERIAL PRIMARY KEY,
		repo_id TEXT NOT NULL,
		agent_num INTEGER,
		bead_id TEXT,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_messages (
		id BIGSERIAL PRIMARY KEY,
		repo_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		sent_at_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS command_audit (
		seq BIGSERIAL PRIMARY KEY,
		t BIGINT NOT NULL,
		cmd TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '{}',
		ok BOOLEAN NOT NULL,
		ms BIGINT NOT NULL,
		error_code TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS resource_locks (
		resource TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		since_ms BIGINT NOT NULL,
		until_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS swarm_config (
		repo_id TEXT PRIMARY KEY,
		max_agents INTEGER NOT NULL,
		max_implementation_attempts INTEGER NOT NULL,
		claim_label TEXT NOT NULL,
		swarm_status TEXT NOT NULL DEFAULT 'active'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backlog_enqueued ON bead_backlog (enqueued_at_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_agent ON bead_claims (repo_id, agent_num)`,
	`CREATE INDEX IF NOT EXISTS idx_history_bead ON stage_history (bead_id)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_bead ON stage_artifacts (bead_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_repo ON execution_events (repo_id, at_ms)`,
}

// InitSchema creates all swarm tables and indexes.
func (d *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// TableNames lists the tables the schema owns, for doctor and smoke checks.
func TableNames() []string {
	return []string{
		"repos", "agent_state", "bead_backlog", "bead_claims",
		"stage_history", "stage_artifacts", "execution_events",
		"agent_messages", "command_audit", "resource_locks", "swarm_config",
	}
}
