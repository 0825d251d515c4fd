package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
)

func runnerFixture(commands map[string]string) *ShellStageRunner {
	return &ShellStageRunner{Commands: commands, Timeout: 5 * time.Second}
}

func TestShellStageRunnerPass(t *testing.T) {
	r := runnerFixture(map[string]string{"rust-contract": "true"})
	bead, _ := ids.NewBeadID("bead-1")
	result := r.RunStage(context.Background(), stage.RustContract, bead, testAgent())
	if result.Kind != stage.ResultPassed {
		t.Errorf("result = %s, want passed", result)
	}
}

func TestShellStageRunnerFailureCapturesStderr(t *testing.T) {
	r := runnerFixture(map[string]string{"rust-contract": "echo oops >&2; exit 3"})
	bead, _ := ids.NewBeadID("bead-1")
	result := r.RunStage(context.Background(), stage.RustContract, bead, testAgent())
	if result.Kind != stage.ResultFailed {
		t.Fatalf("result = %s, want failed", result)
	}
	if !strings.Contains(result.Message, "oops") {
		t.Errorf("message = %q, want stderr content", result.Message)
	}
}

func TestShellStageRunnerMissingCommand(t *testing.T) {
	r := runnerFixture(map[string]string{})
	bead, _ := ids.NewBeadID("bead-1")
	result := r.RunStage(context.Background(), stage.Implement, bead, testAgent())
	if result.Kind != stage.ResultError {
		t.Errorf("result = %s, want error", result)
	}
}

func TestShellStageRunnerTimeout(t *testing.T) {
	r := &ShellStageRunner{
		Commands: map[string]string{"rust-contract": "sleep 5"},
		Timeout:  100 * time.Millisecond,
	}
	bead, _ := ids.NewBeadID("bead-1")
	result := r.RunStage(context.Background(), stage.RustContract, bead, testAgent())
	if result.Kind != stage.ResultError {
		t.Fatalf("result = %s, want error", result)
	}
	if !strings.Contains(result.Message, "timed out") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestShellStageRunnerSubstitutesPlaceholders(t *testing.T) {
	r := runnerFixture(map[string]string{
		"rust-contract": "test {bead_id} = bead-1 && test {agent_id} = testrepo-1",
	})
	bead, _ := ids.NewBeadID("bead-1")
	result := r.RunStage(context.Background(), stage.RustContract, bead, testAgent())
	if result.Kind != stage.ResultPassed {
		t.Errorf("result = %s, want passed (placeholders substituted)", result)
	}
}
