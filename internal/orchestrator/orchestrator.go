package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/steveyegge/swarm/internal/agent"
	"github.com/steveyegge/swarm/internal/artifact"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
	"github.com/steveyegge/swarm/internal/store"
)

// TickOutcome summarizes what one tick accomplished.
type TickOutcome int

const (
	// AgentMissing means the agent is not registered.
	AgentMissing TickOutcome = iota
	// Idle means the agent has no work and none was available.
	Idle
	// Progressed means the agent claimed work or moved its bead forward.
	Progressed
	// Completed means the agent's bead finished the pipeline.
	Completed
)

// String returns the wire name for the outcome.
func (o TickOutcome) String() string {
	switch o {
	case AgentMissing:
		return "agent_missing"
	case Idle:
		return "idle"
	case Progressed:
		return "progressed"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Orchestrator wires the ports together and runs ticks.
type Orchestrator struct {
	Claims     ClaimStore
	Agents     AgentStore
	History    HistoryStore
	Runner     StageRunner
	Workspaces WorkspaceManager
	Pushes     PushConfirmer

	MaxAttempts uint32
	LeaseMS     int64
}

// Tick runs one orchestration step for the agent: recover stale claims,
// load state, then branch on status. Errors from the best-effort recovery
// sweep are recorded as events rather than failing the tick.
func (o *Orchestrator) Tick(ctx context.Context, agentID ids.AgentID) (TickOutcome, error) {
	if recovered, err := o.Claims.RecoverStaleClaims(ctx, agentID.Repo); err != nil {
		o.recordEvent(ctx, agentID, nil, "recover_failed", err.Error())
	} else if len(recovered) > 0 {
		o.recordEvent(ctx, agentID, nil, "claims_recovered", fmt.Sprintf("%d stale claims returned to backlog", len(recovered)))
	}

	row, err := o.Agents.GetAgent(ctx, agentID)
	if err != nil {
		return AgentMissing, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if row == nil {
		return AgentMissing, nil
	}
	state, err := row.State()
	if err != nil {
		return AgentMissing, fmt.Errorf("agent %s state: %w", agentID, err)
	}

	switch state.Status {
	case agent.Idle:
		return o.tickIdle(ctx, agentID)
	case agent.DoneStatus:
		return Completed, nil
	case agent.Working, agent.Waiting:
		return o.tickWorking(ctx, agentID, state)
	case agent.Error:
		if err := o.Agents.SetAgentState(ctx, agent.NewIdle(agentID)); err != nil {
			return Idle, fmt.Errorf("reset errored agent %s: %w", agentID, err)
		}
		return Idle, nil
	default:
		return Idle, fmt.Errorf("agent %s: unhandled status %s", agentID, state.Status)
	}
}

func (o *Orchestrator) tickIdle(ctx context.Context, agentID ids.AgentID) (TickOutcome, error) {
	claim, err := o.Claims.ClaimNext(ctx, agentID, o.MaxAttempts, o.LeaseMS)
	if err != nil {
		return Idle, fmt.Errorf("claim next for %s: %w", agentID, err)
	}
	if claim == nil {
		return Idle, nil
	}

	bead, ok := ids.NewBeadID(claim.Bead)
	if !ok {
		return Idle, fmt.Errorf("claimed empty bead id for %s", agentID)
	}
	if err := o.Workspaces.CreateWorkspace(ctx, agentID, bead); err != nil {
		// The claim stands; the workspace is retried on the next tick.
		o.recordEvent(ctx, agentID, &bead, "workspace_failed", err.Error())
		return Progressed, nil
	}
	o.recordEvent(ctx, agentID, &bead, "claimed", claim.Stage)
	return Progressed, nil
}

func (o *Orchestrator) tickWorking(ctx context.Context, agentID ids.AgentID, state agent.State) (TickOutcome, error) {
	alive, err := o.Claims.Heartbeat(ctx, agentID, o.LeaseMS)
	if err != nil {
		return Idle, fmt.Errorf("heartbeat %s: %w", agentID, err)
	}
	if !alive {
		// Lease lost: the bead belongs to someone else now. Drop it.
		o.recordEvent(ctx, agentID, state.Bead, "lease_lost", "claim gone, dropping work")
		if err := o.Agents.SetAgentState(ctx, agent.NewIdle(agentID)); err != nil {
			return Idle, fmt.Errorf("idle agent %s after lease loss: %w", agentID, err)
		}
		return Idle, nil
	}
	return o.executeStage(ctx, agentID)
}

func (o *Orchestrator) executeStage(ctx context.Context, agentID ids.AgentID) (TickOutcome, error) {
	claim, err := o.Claims.GetClaim(ctx, agentID)
	if err != nil {
		return Idle, fmt.Errorf("load claim for %s: %w", agentID, err)
	}
	if claim == nil {
		if err := o.Agents.SetAgentState(ctx, agent.NewIdle(agentID)); err != nil {
			return Idle, fmt.Errorf("idle claimless agent %s: %w", agentID, err)
		}
		return Idle, nil
	}

	bead, ok := ids.NewBeadID(claim.Bead)
	if !ok {
		return Idle, fmt.Errorf("claim for %s has empty bead id", agentID)
	}
	st, ok := stage.Parse(claim.Stage)
	if !ok {
		return Idle, fmt.Errorf("claim for %s has unknown stage %q", bead, claim.Stage)
	}

	historyID, err := o.History.StartStage(ctx, agentID, bead, st, claim.Attempt)
	if err != nil {
		return Idle, fmt.Errorf("record stage start for %s: %w", bead, err)
	}

	result := o.Runner.RunStage(ctx, st, bead, agentID)
	exec := agent.Execution{
		Bead:        bead,
		Stage:       st,
		Attempt:     claim.Attempt,
		MaxAttempts: claim.MaxAttempts,
		Status:      agent.ClaimInProgress,
	}

	decision, err := stage.Decide(st, result, exec.RetriesExhausted())
	if err != nil {
		return Idle, fmt.Errorf("decide for %s: %w", bead, err)
	}

	if err := o.History.ResolveStage(ctx, historyID, result, decision.Reason); err != nil {
		return Idle, fmt.Errorf("record stage outcome for %s: %w", bead, err)
	}
	o.recordPrimaryArtifact(ctx, bead, st, result)

	return o.applyTransition(ctx, agentID, exec, decision, result)
}

func (o *Orchestrator) applyTransition(ctx context.Context, agentID ids.AgentID, exec agent.Execution, decision stage.Transition, result stage.Result) (TickOutcome, error) {
	bead := exec.Bead
	switch decision.Kind {
	case stage.Advance:
		next, err := exec.Apply(decision, false)
		if err != nil {
			return Idle, err
		}
		if err := o.Claims.UpdateClaimProgress(ctx, bead, next.Stage, next.Attempt, next.Status); err != nil {
			return Idle, err
		}
		working, err := agent.NewWorking(agentID, bead, next.Stage)
		if err != nil {
			return Idle, err
		}
		if err := o.Agents.SetAgentState(ctx, working); err != nil {
			return Idle, err
		}
		o.recordEvent(ctx, agentID, &bead, "stage_advanced", next.Stage.String())
		return Progressed, nil

	case stage.Retry:
		next, err := exec.Apply(decision, false)
		if err != nil {
			return Idle, err
		}
		packet := artifact.NewRetryPacket(bead, exec.Stage, exec.Attempt, exec.MaxAttempts, result.Message, nowMS())
		if payload, err := packet.Marshal(); err == nil {
			if err := o.History.AddArtifact(ctx, bead, exec.Stage, artifact.RetryPacketType, string(payload)); err != nil {
				o.recordEvent(ctx, agentID, &bead, "artifact_write_failed", err.Error())
			}
		}
		if err := o.Claims.UpdateClaimProgress(ctx, bead, next.Stage, next.Attempt, next.Status); err != nil {
			return Idle, err
		}
		o.recordEvent(ctx, agentID, &bead, "stage_retrying", fmt.Sprintf("attempt %d of %d", next.Attempt, next.MaxAttempts))
		return Progressed, nil

	case stage.Complete:
		confirmed, err := o.Pushes.ConfirmPush(ctx, agentID, bead)
		if err != nil {
			o.recordEvent(ctx, agentID, &bead, "push_check_failed", err.Error())
			return Progressed, nil
		}
		if err := stage.GuardComplete(decision, confirmed); err != nil {
			// Not landed yet: stay working and try again next tick.
			o.recordEvent(ctx, agentID, &bead, "push_unconfirmed", "completion deferred until the branch lands")
			return Progressed, nil
		}
		if err := o.Claims.CompleteClaim(ctx, agentID, bead); err != nil {
			return Idle, err
		}
		o.recordEvent(ctx, agentID, &bead, "completed", stage.ReasonRedQueenComplete)
		return Completed, nil

	case stage.Block:
		if err := o.Claims.MarkBlocked(ctx, agentID, bead); err != nil {
			return Idle, err
		}
		o.recordEvent(ctx, agentID, &bead, "blocked", decision.Reason)
		return Progressed, nil

	default: // stage.NoOp
		return Progressed, nil
	}
}

func (o *Orchestrator) recordPrimaryArtifact(ctx context.Context, bead ids.BeadID, st stage.Stage, result stage.Result) {
	payload, err := json.Marshal(map[string]string{
		"stage":   st.String(),
		"result":  result.String(),
		"message": result.Message,
	})
	if err != nil {
		return
	}
	// Artifact writes are observability; the transition still applies.
	_ = o.History.AddArtifact(ctx, bead, st, artifact.Primary(st, result.OK()), string(payload))
}

// recordEvent is best-effort: event loss never fails a tick.
func (o *Orchestrator) recordEvent(ctx context.Context, agentID ids.AgentID, bead *ids.BeadID, kind, detail string) {
	num := agentID.Num
	_ = o.History.AppendEvent(ctx, agentID.Repo, &num, bead, kind, detail)
}

func nowMS() int64 {
	return store.NowMS()
}
