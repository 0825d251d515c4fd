package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/steveyegge/swarm/internal/agent"
	"github.com/steveyegge/swarm/internal/artifact"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
	"github.com/steveyegge/swarm/internal/store"
)

type fakeWorld struct {
	agents     map[string]*store.AgentRow
	claims     map[string]*store.Claim // keyed by agent address
	backlog    []string
	heartbeats bool
	recovered  []string

	started   []string // "bead/stage/attempt"
	history   []string // "bead/stage/result/reason"
	openRuns  map[int64]string
	nextRunID int64
	artifacts map[artifact.Type][]string
	events    []string

	stageResults map[string]stage.Result // keyed by stage wire name
	pushOK       bool
	workspaceErr error
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		agents:       map[string]*store.AgentRow{},
		claims:       map[string]*store.Claim{},
		heartbeats:   true,
		openRuns:     map[int64]string{},
		artifacts:    map[artifact.Type][]string{},
		stageResults: map[string]stage.Result{},
		pushOK:       true,
	}
}

func (f *fakeWorld) ClaimNext(ctx context.Context, agentID ids.AgentID, maxAttempts uint32, leaseMS int64) (*store.Claim, error) {
	if len(f.backlog) == 0 {
		return nil, nil
	}
	bead := f.backlog[0]
	f.backlog = f.backlog[1:]
	claim := &store.Claim{
		Bead: bead, Repo: agentID.Repo.Value(), AgentNum: agentID.Num,
		Stage: stage.RustContract.String(), Attempt: 1, MaxAttempts: maxAttempts,
		Status: agent.ClaimInProgress.String(),
	}
	f.claims[agentID.String()] = claim
	f.agents[agentID.String()] = &store.AgentRow{
		Repo: agentID.Repo.Value(), Num: agentID.Num,
		Status: agent.Working.String(), Bead: &claim.Bead, Stage: &claim.Stage,
	}
	return claim, nil
}

func (f *fakeWorld) GetClaim(ctx context.Context, agentID ids.AgentID) (*store.Claim, error) {
	return f.claims[agentID.String()], nil
}

func (f *fakeWorld) Heartbeat(ctx context.Context, agentID ids.AgentID, extensionMS int64) (bool, error) {
	return f.heartbeats, nil
}

func (f *fakeWorld) RecoverStaleClaims(ctx context.Context, repo ids.RepoID) ([]string, error) {
	return f.recovered, nil
}

func (f *fakeWorld) UpdateClaimProgress(ctx context.Context, bead ids.BeadID, st stage.Stage, attempt uint32, status agent.ClaimStatus) error {
	for _, claim := range f.claims {
		if claim.Bead == bead.Value() {
			claim.Stage = st.String()
			claim.Attempt = attempt
			claim.Status = status.String()
		}
	}
	return nil
}

func (f *fakeWorld) MarkBlocked(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error {
	if claim := f.claims[agentID.String()]; claim != nil {
		claim.Status = agent.ClaimBlocked.String()
	}
	f.agents[agentID.String()] = &store.AgentRow{
		Repo: agentID.Repo.Value(), Num: agentID.Num, Status: agent.Error.String(),
	}
	return nil
}

func (f *fakeWorld) CompleteClaim(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error {
	if claim := f.claims[agentID.String()]; claim != nil {
		claim.Status = agent.ClaimCompleted.String()
		claim.Stage = stage.Done.String()
	}
	doneStage := stage.Done.String()
	f.agents[agentID.String()] = &store.AgentRow{
		Repo: agentID.Repo.Value(), Num: agentID.Num,
		Status: agent.DoneStatus.String(), Stage: &doneStage,
	}
	return nil
}

func (f *fakeWorld) GetAgent(ctx context.Context, agentID ids.AgentID) (*store.AgentRow, error) {
	return f.agents[agentID.String()], nil
}

func (f *fakeWorld) SetAgentState(ctx context.Context, st agent.State) error {
	row := &store.AgentRow{
		Repo: st.ID.Repo.Value(), Num: st.ID.Num, Status: st.Status.String(),
	}
	if st.Bead != nil {
		v := st.Bead.Value()
		row.Bead = &v
	}
	if st.Stage != nil {
		v := st.Stage.String()
		row.Stage = &v
	}
	f.agents[st.ID.String()] = row
	return nil
}

func (f *fakeWorld) StartStage(ctx context.Context, agentID ids.AgentID, bead ids.BeadID, st stage.Stage, attempt uint32) (int64, error) {
	f.nextRunID++
	f.openRuns[f.nextRunID] = bead.Value() + "/" + st.String()
	f.started = append(f.started, fmt.Sprintf("%s/%s/%d", bead.Value(), st.String(), attempt))
	return f.nextRunID, nil
}

func (f *fakeWorld) ResolveStage(ctx context.Context, historyID int64, result stage.Result, reason string) error {
	run, ok := f.openRuns[historyID]
	if !ok {
		return fmt.Errorf("no open stage run %d", historyID)
	}
	delete(f.openRuns, historyID)
	f.history = append(f.history, run+"/"+result.String()+"/"+reason)
	return nil
}

func (f *fakeWorld) AddArtifact(ctx context.Context, bead ids.BeadID, st stage.Stage, at artifact.Type, payload string) error {
	f.artifacts[at] = append(f.artifacts[at], payload)
	return nil
}

func (f *fakeWorld) AppendEvent(ctx context.Context, repo ids.RepoID, agentNum *uint32, bead *ids.BeadID, kind, detail string) error {
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeWorld) RunStage(ctx context.Context, st stage.Stage, bead ids.BeadID, agentID ids.AgentID) stage.Result {
	if result, ok := f.stageResults[st.String()]; ok {
		return result
	}
	return stage.Passed()
}

func (f *fakeWorld) CreateWorkspace(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error {
	return f.workspaceErr
}

func (f *fakeWorld) ConfirmPush(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) (bool, error) {
	return f.pushOK, nil
}

func newOrchestrator(f *fakeWorld) *Orchestrator {
	return &Orchestrator{
		Claims: f, Agents: f, History: f, Runner: f, Workspaces: f, Pushes: f,
		MaxAttempts: 3, LeaseMS: store.DefaultLeaseExtensionMS,
	}
}

func testAgent() ids.AgentID {
	return ids.NewAgentID(ids.NewRepoID("testrepo"), 1)
}

func registerIdle(f *fakeWorld, agentID ids.AgentID) {
	f.agents[agentID.String()] = &store.AgentRow{
		Repo: agentID.Repo.Value(), Num: agentID.Num, Status: agent.Idle.String(),
	}
}

func TestTickAgentMissing(t *testing.T) {
	f := newFakeWorld()
	outcome, err := newOrchestrator(f).Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != AgentMissing {
		t.Errorf("outcome = %s, want agent_missing", outcome)
	}
}

func TestTickIdleNoBacklog(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	outcome, err := newOrchestrator(f).Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Idle {
		t.Errorf("outcome = %s, want idle", outcome)
	}
}

func TestTickIdleClaimsWork(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}

	outcome, err := newOrchestrator(f).Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Progressed {
		t.Fatalf("outcome = %s, want progressed", outcome)
	}
	claim := f.claims[testAgent().String()]
	if claim == nil || claim.Stage != "rust-contract" || claim.Attempt != 1 {
		t.Errorf("claim = %+v", claim)
	}
	if f.agents[testAgent().String()].Status != "working" {
		t.Errorf("agent status = %s", f.agents[testAgent().String()].Status)
	}
}

func TestTickWorkingAdvancesOnPass(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}
	orch := newOrchestrator(f)

	// Claim, then run rust-contract which passes by default.
	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	outcome, err := orch.Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Progressed {
		t.Fatalf("outcome = %s, want progressed", outcome)
	}
	claim := f.claims[testAgent().String()]
	if claim.Stage != "implement" || claim.Attempt != 1 {
		t.Errorf("after advance: %+v", claim)
	}
	if len(f.history) != 1 || f.history[0] != "bead-1/rust-contract/passed/stage_passed_advance" {
		t.Errorf("history = %v", f.history)
	}
	if len(f.artifacts[artifact.ContractDocument]) != 1 {
		t.Errorf("missing contract document artifact: %v", f.artifacts)
	}
}

func TestTickRecordsStartedThenResolves(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}
	orch := newOrchestrator(f)

	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	if len(f.started) != 1 || f.started[0] != "bead-1/rust-contract/1" {
		t.Errorf("started markers = %v", f.started)
	}
	if len(f.openRuns) != 0 {
		t.Errorf("stage run left unresolved: %v", f.openRuns)
	}
	if len(f.history) != 1 || f.history[0] != "bead-1/rust-contract/passed/stage_passed_advance" {
		t.Errorf("resolved history = %v", f.history)
	}
}

func TestTickWorkingRetriesOnFailure(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}
	f.stageResults["rust-contract"] = stage.Failed("contract rejected")
	orch := newOrchestrator(f)

	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	outcome, err := orch.Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Progressed {
		t.Fatalf("outcome = %s", outcome)
	}
	claim := f.claims[testAgent().String()]
	if claim.Stage != "rust-contract" || claim.Attempt != 2 {
		t.Errorf("after retry: %+v", claim)
	}
	if len(f.artifacts[artifact.RetryPacketType]) != 1 {
		t.Error("retry packet not written")
	}
	if len(f.artifacts[artifact.ContractDocument]) != 1 {
		t.Error("failed contract stage must still record its document")
	}
}

func TestTickBlocksAfterExhaustion(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}
	f.stageResults["rust-contract"] = stage.Failed("still broken")
	orch := newOrchestrator(f)

	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	// Attempts 1..3 fail; the third tick blocks.
	for i := 0; i < 2; i++ {
		if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
			t.Fatal(err)
		}
	}
	outcome, err := orch.Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Progressed {
		t.Fatalf("outcome = %s", outcome)
	}
	claim := f.claims[testAgent().String()]
	if claim.Status != "blocked" {
		t.Errorf("claim status = %s, want blocked", claim.Status)
	}
	if f.agents[testAgent().String()].Status != "error" {
		t.Errorf("agent status = %s, want error", f.agents[testAgent().String()].Status)
	}
}

func TestTickCompletesAfterRedQueenWithPush(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}
	orch := newOrchestrator(f)

	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	// rust-contract, implement, qa-enforcer pass and advance.
	for i := 0; i < 3; i++ {
		if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
			t.Fatal(err)
		}
	}
	outcome, err := orch.Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Completed {
		t.Fatalf("outcome = %s, want completed", outcome)
	}
	claim := f.claims[testAgent().String()]
	if claim.Status != "completed" || claim.Stage != "done" {
		t.Errorf("claim = %+v", claim)
	}
	if f.agents[testAgent().String()].Status != "done" {
		t.Errorf("agent status = %s", f.agents[testAgent().String()].Status)
	}
}

func TestTickDefersCompletionWithoutPush(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}
	f.pushOK = false
	orch := newOrchestrator(f)

	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
			t.Fatal(err)
		}
	}
	outcome, err := orch.Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Progressed {
		t.Fatalf("outcome = %s, want progressed (completion deferred)", outcome)
	}
	claim := f.claims[testAgent().String()]
	if claim.Status != "in_progress" {
		t.Errorf("claim status = %s, want in_progress", claim.Status)
	}
	deferred := false
	for _, kind := range f.events {
		if kind == "push_unconfirmed" {
			deferred = true
		}
	}
	if !deferred {
		t.Error("expected push_unconfirmed event")
	}
}

func TestTickHeartbeatLossDropsWork(t *testing.T) {
	f := newFakeWorld()
	registerIdle(f, testAgent())
	f.backlog = []string{"bead-1"}
	orch := newOrchestrator(f)

	if _, err := orch.Tick(context.Background(), testAgent()); err != nil {
		t.Fatal(err)
	}
	f.heartbeats = false
	outcome, err := orch.Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Idle {
		t.Fatalf("outcome = %s, want idle", outcome)
	}
	if f.agents[testAgent().String()].Status != "idle" {
		t.Errorf("agent status = %s, want idle", f.agents[testAgent().String()].Status)
	}
}

func TestTickErrorAgentResetsToIdle(t *testing.T) {
	f := newFakeWorld()
	f.agents[testAgent().String()] = &store.AgentRow{
		Repo: "testrepo", Num: 1, Status: agent.Error.String(),
	}
	outcome, err := newOrchestrator(f).Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Idle {
		t.Fatalf("outcome = %s, want idle", outcome)
	}
	if f.agents[testAgent().String()].Status != "idle" {
		t.Errorf("agent status = %s", f.agents[testAgent().String()].Status)
	}
}

func TestTickDoneAgentReportsCompleted(t *testing.T) {
	f := newFakeWorld()
	doneStage := stage.Done.String()
	f.agents[testAgent().String()] = &store.AgentRow{
		Repo: "testrepo", Num: 1, Status: agent.DoneStatus.String(), Stage: &doneStage,
	}
	outcome, err := newOrchestrator(f).Tick(context.Background(), testAgent())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Completed {
		t.Errorf("outcome = %s, want completed", outcome)
	}
}
