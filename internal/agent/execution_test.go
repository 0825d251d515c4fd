package agent

import (
	"errors"
	"testing"

	"github.com/steveyegge/swarm/internal/stage"
)

func TestNewExecution(t *testing.T) {
	bead := testBead(t, "bead-1")
	if _, err := NewExecution(bead, 0); err == nil {
		t.Fatal("max attempts 0 should be rejected")
	}
	exec, err := NewExecution(bead, 3)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Stage != stage.RustContract || exec.Attempt != 1 || exec.Status != ClaimInProgress {
		t.Errorf("fresh execution = %+v", exec)
	}
	if err := exec.Validate(); err != nil {
		t.Errorf("fresh execution invalid: %v", err)
	}
}

func TestExecutionValidate(t *testing.T) {
	bead := testBead(t, "bead-1")
	tests := []struct {
		name    string
		exec    Execution
		wantErr bool
	}{
		{"ok", Execution{Bead: bead, Stage: stage.Implement, Attempt: 2, MaxAttempts: 3, Status: ClaimInProgress}, false},
		{"attempt zero", Execution{Bead: bead, Stage: stage.Implement, Attempt: 0, MaxAttempts: 3, Status: ClaimInProgress}, true},
		{"attempt over max", Execution{Bead: bead, Stage: stage.Implement, Attempt: 4, MaxAttempts: 3, Status: ClaimInProgress}, true},
		{"completed off done", Execution{Bead: bead, Stage: stage.RedQueen, Attempt: 1, MaxAttempts: 3, Status: ClaimCompleted}, true},
		{"done but in progress", Execution{Bead: bead, Stage: stage.Done, Attempt: 1, MaxAttempts: 3, Status: ClaimInProgress}, true},
		{"completed at done", Execution{Bead: bead, Stage: stage.Done, Attempt: 1, MaxAttempts: 3, Status: ClaimCompleted}, false},
		{"blocked mid-pipeline", Execution{Bead: bead, Stage: stage.QaEnforcer, Attempt: 3, MaxAttempts: 3, Status: ClaimBlocked}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyAdvanceResetsAttempt(t *testing.T) {
	bead := testBead(t, "bead-1")
	exec := Execution{Bead: bead, Stage: stage.RustContract, Attempt: 2, MaxAttempts: 3, Status: ClaimInProgress}
	tr, err := stage.Decide(exec.Stage, stage.Passed(), exec.RetriesExhausted())
	if err != nil {
		t.Fatal(err)
	}
	next, err := exec.Apply(tr, false)
	if err != nil {
		t.Fatal(err)
	}
	if next.Stage != stage.Implement || next.Attempt != 1 {
		t.Errorf("after advance: %+v", next)
	}
}

func TestApplyRetryIncrementsAttempt(t *testing.T) {
	bead := testBead(t, "bead-1")
	exec := Execution{Bead: bead, Stage: stage.Implement, Attempt: 1, MaxAttempts: 3, Status: ClaimInProgress}
	tr, err := stage.Decide(exec.Stage, stage.Failed("tests red"), exec.RetriesExhausted())
	if err != nil {
		t.Fatal(err)
	}
	next, err := exec.Apply(tr, false)
	if err != nil {
		t.Fatal(err)
	}
	if next.Attempt != 2 || next.Stage != stage.Implement {
		t.Errorf("after retry: %+v", next)
	}
}

func TestRetryExhaustionBlocks(t *testing.T) {
	bead := testBead(t, "bead-1")
	exec := Execution{Bead: bead, Stage: stage.Implement, Attempt: 3, MaxAttempts: 3, Status: ClaimInProgress}
	if !exec.RetriesExhausted() {
		t.Fatal("attempt == max should exhaust retries")
	}
	tr, err := stage.Decide(exec.Stage, stage.Failed("still red"), exec.RetriesExhausted())
	if err != nil {
		t.Fatal(err)
	}
	if tr.Kind != stage.Block {
		t.Fatalf("decision = %+v, want Block", tr)
	}
	next, err := exec.Apply(tr, false)
	if err != nil {
		t.Fatal(err)
	}
	if next.Status != ClaimBlocked {
		t.Errorf("after block: status = %s", next.Status)
	}
}

func TestApplyCompleteRequiresPush(t *testing.T) {
	bead := testBead(t, "bead-1")
	exec := Execution{Bead: bead, Stage: stage.RedQueen, Attempt: 1, MaxAttempts: 3, Status: ClaimInProgress}
	tr, err := stage.Decide(exec.Stage, stage.Passed(), false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Apply(tr, false); !errors.Is(err, stage.ErrPushNotConfirmed) {
		t.Fatalf("unconfirmed completion error = %v", err)
	}
	next, err := exec.Apply(tr, true)
	if err != nil {
		t.Fatal(err)
	}
	if next.Status != ClaimCompleted || next.Stage != stage.Done {
		t.Errorf("after complete: %+v", next)
	}
}
