package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/swarm/internal/artifact"
	"github.com/steveyegge/swarm/internal/beads"
	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/doctor"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/orchestrator"
	"github.com/steveyegge/swarm/internal/protocol"
	"github.com/steveyegge/swarm/internal/shell"
	"github.com/steveyegge/swarm/internal/stage"
	"github.com/steveyegge/swarm/internal/store"
)

// maxLoopTicks bounds the agent command so a wedged pipeline cannot spin
// forever.
const maxLoopTicks = 64

// buildOrchestrator wires the tick service over one database session.
func (d *Dispatcher) buildOrchestrator(db *store.DB) (*orchestrator.Orchestrator, config.Config) {
	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	return &orchestrator.Orchestrator{
		Claims:      db,
		Agents:      db,
		History:     db,
		Runner:      &orchestrator.ShellStageRunner{Commands: cfg.StageCommands, Timeout: shell.DefaultTimeout},
		Workspaces:  &orchestrator.ZjjWorkspaceManager{Timeout: shell.DefaultTimeout},
		Pushes:      &orchestrator.GitPushConfirmer{Timeout: shell.DefaultTimeout},
		MaxAttempts: cfg.MaxImplementationAttempts,
		LeaseMS:     store.DefaultLeaseExtensionMS,
	}, cfg
}

// claimView is the wire shape of a claim.
type claimView struct {
	Bead        string `json:"bead"`
	Agent       string `json:"agent"`
	Stage       string `json:"stage"`
	Attempt     uint32 `json:"attempt"`
	MaxAttempts uint32 `json:"max_attempts"`
	Status      string `json:"status"`
	LeaseUntil  int64  `json:"lease_until_ms"`
}

func viewClaim(c *store.Claim) *claimView {
	if c == nil {
		return nil
	}
	return &claimView{
		Bead:        c.Bead,
		Agent:       fmt.Sprintf("%s-%d", c.Repo, c.AgentNum),
		Stage:       c.Stage,
		Attempt:     c.Attempt,
		MaxAttempts: c.MaxAttempts,
		Status:      c.Status,
		LeaseUntil:  c.LeaseUntilMS,
	}
}

func handleNext(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	ready, err := d.Beads.Ready(ctx, cfg.ClaimLabel)
	if err != nil {
		return beadsError(req.RID, err)
	}
	if len(ready) == 0 {
		return protocol.SuccessValue(req.RID, map[string]any{"bead": nil})
	}
	return protocol.SuccessValue(req.RID, map[string]any{"bead": ready[0]}).
		WithNext("claim-next")
}

// beadsError maps br/bv failures to wire codes: broken output is the
// caller's problem, a dead binary is a dependency problem.
func beadsError(rid *string, err error) *protocol.Envelope {
	var notJSON *beads.NotJSONError
	var projection *beads.ProjectionError
	switch {
	case errors.As(err, &notJSON), errors.As(err, &projection):
		return protocol.Error(rid, protocol.CodeInvalid, err.Error()).
			WithFix("Check the br/bv installation; JSON-mode calls must print JSON")
	default:
		return protocol.Error(rid, protocol.CodeDependency, err.Error()).
			WithFix("Check that br and bv are installed and the bead database is reachable")
	}
}

// claimReleaser is the compensation surface confirmClaim needs.
type claimReleaser interface {
	ReleaseClaim(ctx context.Context, agentID ids.AgentID) (*string, error)
}

// confirmClaim pushes the claim to the external bead tracker. When br
// refuses, the local claim is released so store and tracker never disagree.
func confirmClaim(ctx context.Context, ops beads.Ops, rel claimReleaser, agentID ids.AgentID, bead ids.BeadID, rid *string) *protocol.Envelope {
	assignee := fmt.Sprintf("swarm-agent-%s", agentID)
	if err := ops.Update(ctx, bead.Value(), "in_progress", assignee); err != nil {
		if _, relErr := rel.ReleaseClaim(ctx, agentID); relErr != nil {
			return protocol.Error(rid, protocol.CodeInternal,
				fmt.Sprintf("bead update failed and release failed for bead %s: %v", bead, relErr)).
				WithFix("Run 'release' for the agent, then retry").
				WithCtx(map[string]string{"error": err.Error()})
		}
		return protocol.Error(rid, protocol.CodeConflict,
			fmt.Sprintf("bead tracker update failed, rolled back for bead %s", bead)).
			WithFix("Check the br installation and retry").
			WithCtx(map[string]string{"error": err.Error()})
	}
	return nil
}

func handleClaimNext(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	agentID, envErr := requireAgent(req, "agent_id")
	if envErr != nil {
		return envErr
	}

	// bv recommends; an empty recommendation still lets the local backlog
	// serve whatever it already holds.
	recommended, err := d.Beads.RobotNext(ctx)
	if err != nil {
		return beadsError(req.RID, err)
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	if recommended != "" {
		if bead, ok := ids.NewBeadID(recommended); ok {
			if err := sess.db.EnqueueBead(ctx, agentID.Repo, bead); err != nil {
				return storeError(req.RID, err)
			}
		}
	}

	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	claim, err := sess.db.ClaimNext(ctx, agentID, cfg.MaxImplementationAttempts, store.DefaultLeaseExtensionMS)
	if err != nil {
		return storeError(req.RID, err)
	}

	if claim != nil {
		bead, _ := ids.NewBeadID(claim.Bead)
		if env := confirmClaim(ctx, d.Beads, sess.db, agentID, bead, req.RID); env != nil {
			return env
		}
	}

	env := protocol.SuccessValue(req.RID, map[string]any{"claim": viewClaim(claim)})
	if claim != nil {
		env = env.WithNext("run-once")
	}
	return withState(ctx, env, sess.db, agentID.Repo)
}

func handleAssign(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	bead, envErr := requireBead(req, "bead_id")
	if envErr != nil {
		return envErr
	}
	agentID, envErr := requireAgent(req, "agent_id")
	if envErr != nil {
		return envErr
	}

	shown, err := d.Beads.Show(ctx, bead.Value())
	if err != nil {
		return beadsError(req.RID, err)
	}
	if shown == nil {
		return protocol.Error(req.RID, protocol.CodeNotFound,
			fmt.Sprintf("bead %s does not exist", bead)).
			WithFix("Run 'next' to see ready beads")
	}
	if shown.Status != "open" {
		return protocol.Error(req.RID, protocol.CodeConflict,
			fmt.Sprintf("bead %s is %s, not open", bead, shown.Status)).
			WithFix("Assign only open beads")
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	claim, err := sess.db.AssignBead(ctx, agentID, bead, cfg.MaxImplementationAttempts, store.DefaultLeaseExtensionMS)
	if err != nil {
		return storeError(req.RID, err)
	}
	if env := confirmClaim(ctx, d.Beads, sess.db, agentID, bead, req.RID); env != nil {
		return env
	}
	env := protocol.SuccessValue(req.RID, map[string]any{"claim": viewClaim(claim)}).
		WithNext("run-once")
	return withState(ctx, env, sess.db, agentID.Repo)
}

// handleRunOnce is the composite one-shot: environment check, progress
// snapshot, one tick, then a fresh progress read, with per-step timings.
func handleRunOnce(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	agentID, envErr := requireAgent(req, "agent_id")
	if envErr != nil {
		return envErr
	}
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	stepsMS := map[string]int64{}
	timed := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		stepsMS[name] = time.Since(start).Milliseconds()
		return err
	}

	report := doctor.Run(ctx, &doctor.CheckContext{Root: d.Root}, []doctor.Check{&doctor.GitRepoCheck{}, &doctor.ConfigCheck{}})
	stepsMS["doctor"] = report.ElapsedMS

	var before store.Progress
	if err := timed("status", func() error {
		var err error
		before, err = sess.db.GetProgress(ctx, agentID.Repo)
		return err
	}); err != nil {
		return storeError(req.RID, err)
	}

	orch, _ := d.buildOrchestrator(sess.db)
	outcome := orchestrator.Idle
	stepsMS["claim_next"] = 0

	held, err := sess.db.GetClaim(ctx, agentID)
	if err != nil {
		return storeError(req.RID, err)
	}
	if held == nil {
		// No work in hand: the first tick claims (or stays idle).
		if err := timed("claim_next", func() error {
			var err error
			outcome, err = orch.Tick(ctx, agentID)
			return err
		}); err != nil {
			return storeError(req.RID, err)
		}
	}
	if err := timed("agent", func() error {
		var err error
		outcome, err = orch.Tick(ctx, agentID)
		return err
	}); err != nil {
		return storeError(req.RID, err)
	}
	if outcome == orchestrator.AgentMissing {
		return protocol.Error(req.RID, protocol.CodeNotFound,
			fmt.Sprintf("agent %s is not registered", agentID)).
			WithFix("Run 'register' first")
	}

	var after store.Progress
	if err := timed("monitor", func() error {
		var err error
		after, err = sess.db.GetProgress(ctx, agentID.Repo)
		return err
	}); err != nil {
		return storeError(req.RID, err)
	}

	env := protocol.SuccessValue(req.RID, map[string]any{
		"agent":   agentID.String(),
		"outcome": outcome.String(),
		"progress": map[string]any{
			"backlog_before": before.Backlog,
			"backlog_after":  after.Backlog,
			"working":        after.Working,
		},
		"timing": map[string]any{"steps_ms": stepsMS},
	})
	return withState(ctx, env, sess.db, agentID.Repo)
}

func handleQA(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	bead, envErr := requireBead(req, "bead_id")
	if envErr != nil {
		return envErr
	}
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	claim, err := sess.db.GetClaimByBead(ctx, bead)
	if err != nil {
		return storeError(req.RID, err)
	}
	if claim == nil {
		return protocol.Error(req.RID, protocol.CodeNotFound,
			fmt.Sprintf("no claim for bead %s", bead)).
			WithFix("Claim or assign the bead first")
	}

	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	runner := &orchestrator.ShellStageRunner{Commands: cfg.StageCommands, Timeout: shell.DefaultTimeout}
	agentID := ids.NewAgentID(ids.NewRepoID(claim.Repo), claim.AgentNum)
	result := runner.RunStage(ctx, stage.QaEnforcer, bead, agentID)

	return protocol.SuccessValue(req.RID, map[string]any{
		"bead":    bead.Value(),
		"result":  result.String(),
		"message": result.Message,
	})
}

func handleResume(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	return resumeContexts(ctx, d, req, "", false)
}

func handleResumeContext(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	beadFilter := ""
	if _, present := req.Args["bead_id"]; present {
		v, ok := req.StringArg("bead_id")
		if !ok || strings.TrimSpace(v) == "" {
			return protocol.Error(req.RID, protocol.CodeInvalid,
				"bead_id must be a non-empty string").
				WithFix(`Example: {"cmd":"resume-context","bead_id":"bd-123"}`).
				WithCtx(map[string]any{"arg": "bead_id"})
		}
		beadFilter = v
	}
	return resumeContexts(ctx, d, req, beadFilter, true)
}

// resumeContexts projects the repo's in-flight claims into resumable work
// contexts. The deep variant adds each bead's latest retry packet and can
// filter to one bead, answering NOTFOUND when that bead holds no context.
func resumeContexts(ctx context.Context, d *Dispatcher, req *protocol.Request, beadFilter string, deep bool) *protocol.Envelope {
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	repo := d.repoID(req)
	claims, err := sess.db.ListClaims(ctx, repo)
	if err != nil {
		return storeError(req.RID, err)
	}

	type runView struct {
		Stage      string `json:"stage"`
		Attempt    uint32 `json:"attempt"`
		Status     string `json:"status"`
		Reason     string `json:"reason"`
		DurationMS *int64 `json:"duration_ms,omitempty"`
	}
	type contextView struct {
		Bead        string          `json:"bead_id"`
		Agent       string          `json:"agent"`
		Stage       string          `json:"stage"`
		Attempt     uint32          `json:"attempt"`
		Status      string          `json:"status"`
		History     []runView       `json:"history"`
		RetryPacket json.RawMessage `json:"retry_packet,omitempty"`
	}

	contexts := make([]contextView, 0, len(claims))
	for _, claim := range claims {
		if beadFilter != "" && claim.Bead != beadFilter {
			continue
		}
		bead, ok := ids.NewBeadID(claim.Bead)
		if !ok {
			continue
		}
		history, err := sess.db.ListStageHistory(ctx, bead)
		if err != nil {
			return storeError(req.RID, err)
		}
		runs := make([]runView, 0, len(history))
		for _, h := range history {
			runs = append(runs, runView{
				Stage: h.Stage, Attempt: h.Attempt, Status: h.Status,
				Reason: h.Reason, DurationMS: h.DurationMS,
			})
		}
		cv := contextView{
			Bead:    claim.Bead,
			Agent:   ids.NewAgentID(ids.NewRepoID(claim.Repo), claim.AgentNum).String(),
			Stage:   claim.Stage,
			Attempt: claim.Attempt,
			Status:  claim.Status,
			History: runs,
		}
		if deep {
			packet, err := sess.db.LatestRetryPacket(ctx, bead)
			if err != nil {
				return storeError(req.RID, err)
			}
			if packet != "" {
				cv.RetryPacket = json.RawMessage(packet)
			}
		}
		contexts = append(contexts, cv)
	}

	if beadFilter != "" && len(contexts) == 0 {
		return protocol.Error(req.RID, protocol.CodeNotFound,
			fmt.Sprintf("bead %s not found or not resumable", beadFilter)).
			WithFix("Run 'resume' to list resumable beads").
			WithCtx(map[string]string{"bead_id": beadFilter})
	}

	env := protocol.SuccessValue(req.RID, map[string]any{"contexts": contexts}).
		WithNext("monitor")
	return withState(ctx, env, sess.db, repo)
}

func handleArtifacts(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	bead, envErr := requireBead(req, "bead_id")
	if envErr != nil {
		return envErr
	}
	stageFilter, _ := req.StringArg("stage")
	typeFilter, _ := req.StringArg("artifact_type")
	if typeFilter != "" && !artifact.Valid(artifact.Type(typeFilter)) {
		return protocol.Error(req.RID, protocol.CodeInvalid,
			fmt.Sprintf("unknown artifact type %q", typeFilter)).
			WithFix("Use a canonical artifact type, e.g. contract_document or retry_packet").
			WithCtx(map[string]any{"artifact_type": typeFilter})
	}
	limit, envErr := intArg(req, "limit", 50)
	if envErr != nil {
		return envErr
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	rows, err := sess.db.ListArtifacts(ctx, bead, stageFilter, typeFilter, limit)
	if err != nil {
		return storeError(req.RID, err)
	}
	type view struct {
		Stage   string `json:"stage"`
		Type    string `json:"type"`
		Payload string `json:"payload"`
		AtMS    int64  `json:"at_ms"`
	}
	views := make([]view, 0, len(rows))
	for _, row := range rows {
		views = append(views, view{Stage: row.Stage, Type: row.Type, Payload: row.Payload, AtMS: row.CreatedAtMS})
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"bead":      bead.Value(),
		"artifacts": views,
	})
}

func handleAgentLoop(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	agentID, envErr := requireAgent(req, "id")
	if envErr != nil {
		return envErr
	}
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	orch, _ := d.buildOrchestrator(sess.db)
	var outcomes []string
	final := orchestrator.Idle
	for i := 0; i < maxLoopTicks; i++ {
		outcome, err := orch.Tick(ctx, agentID)
		if err != nil {
			return storeError(req.RID, err)
		}
		outcomes = append(outcomes, outcome.String())
		final = outcome
		if outcome != orchestrator.Progressed {
			break
		}
	}
	if final == orchestrator.AgentMissing {
		return protocol.Error(req.RID, protocol.CodeNotFound,
			fmt.Sprintf("agent %s is not registered", agentID)).
			WithFix("Run 'register' first")
	}
	env := protocol.SuccessValue(req.RID, map[string]any{
		"agent":   agentID.String(),
		"ticks":   len(outcomes),
		"outcome": final.String(),
		"trace":   outcomes,
	})
	return withState(ctx, env, sess.db, agentID.Repo)
}

func handleRelease(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	agentID, envErr := requireAgent(req, "agent_id")
	if envErr != nil {
		return envErr
	}
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	released, err := sess.db.ReleaseClaim(ctx, agentID)
	if err != nil {
		return storeError(req.RID, err)
	}
	env := protocol.SuccessValue(req.RID, map[string]any{
		"agent":         agentID.String(),
		"released_bead": released,
	})
	return withState(ctx, env, sess.db, agentID.Repo)
}
