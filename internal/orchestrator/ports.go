// Package orchestrator drives agents through the bead pipeline: claiming
// work, heartbeating leases, running stages, and applying transitions.
package orchestrator

import (
	"context"

	"github.com/steveyegge/swarm/internal/agent"
	"github.com/steveyegge/swarm/internal/artifact"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
	"github.com/steveyegge/swarm/internal/store"
)

// ClaimStore is the claim lifecycle surface the orchestrator needs.
type ClaimStore interface {
	ClaimNext(ctx context.Context, agentID ids.AgentID, maxAttempts uint32, leaseMS int64) (*store.Claim, error)
	GetClaim(ctx context.Context, agentID ids.AgentID) (*store.Claim, error)
	Heartbeat(ctx context.Context, agentID ids.AgentID, extensionMS int64) (bool, error)
	RecoverStaleClaims(ctx context.Context, repo ids.RepoID) ([]string, error)
	UpdateClaimProgress(ctx context.Context, bead ids.BeadID, st stage.Stage, attempt uint32, status agent.ClaimStatus) error
	MarkBlocked(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error
	CompleteClaim(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error
}

// AgentStore is the agent state surface the orchestrator needs.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID ids.AgentID) (*store.AgentRow, error)
	SetAgentState(ctx context.Context, st agent.State) error
}

// HistoryStore records stage lifecycle rows, artifacts, and events. A
// stage run opens a started row before execution and resolves it with the
// outcome afterwards.
type HistoryStore interface {
	StartStage(ctx context.Context, agentID ids.AgentID, bead ids.BeadID, st stage.Stage, attempt uint32) (int64, error)
	ResolveStage(ctx context.Context, historyID int64, result stage.Result, reason string) error
	AddArtifact(ctx context.Context, bead ids.BeadID, st stage.Stage, at artifact.Type, payload string) error
	AppendEvent(ctx context.Context, repo ids.RepoID, agentNum *uint32, bead *ids.BeadID, kind, detail string) error
}

// StageRunner executes one stage for one bead and reports the outcome.
type StageRunner interface {
	RunStage(ctx context.Context, st stage.Stage, bead ids.BeadID, agentID ids.AgentID) stage.Result
}

// WorkspaceManager prepares an isolated working tree for an agent/bead
// pair before the first stage runs.
type WorkspaceManager interface {
	CreateWorkspace(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error
}

// PushConfirmer reports whether the bead's branch has actually landed.
// Completion is refused until it says yes.
type PushConfirmer interface {
	ConfirmPush(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) (bool, error)
}
