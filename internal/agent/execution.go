package agent

import (
	"fmt"

	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
)

// ClaimStatus is the lifecycle state of a bead claim.
type ClaimStatus int

const (
	ClaimInProgress ClaimStatus = iota
	ClaimCompleted
	ClaimBlocked
)

// String returns the wire name for the claim status.
func (c ClaimStatus) String() string {
	switch c {
	case ClaimInProgress:
		return "in_progress"
	case ClaimCompleted:
		return "completed"
	case ClaimBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("claim(%d)", int(c))
	}
}

// ParseClaimStatus resolves a wire name back to a ClaimStatus.
func ParseClaimStatus(name string) (ClaimStatus, bool) {
	switch name {
	case "in_progress":
		return ClaimInProgress, true
	case "completed":
		return ClaimCompleted, true
	case "blocked":
		return ClaimBlocked, true
	default:
		return 0, false
	}
}

// Execution tracks one bead moving through the pipeline under a claim.
type Execution struct {
	Bead        ids.BeadID
	Stage       stage.Stage
	Attempt     uint32
	MaxAttempts uint32
	Status      ClaimStatus
}

// NewExecution starts an execution at the first pipeline stage, attempt 1.
func NewExecution(bead ids.BeadID, maxAttempts uint32) (Execution, error) {
	if maxAttempts < 1 {
		return Execution{}, fmt.Errorf("execution for %s: max attempts must be at least 1", bead)
	}
	return Execution{
		Bead:        bead,
		Stage:       stage.RustContract,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		Status:      ClaimInProgress,
	}, nil
}

// Validate enforces the execution invariants:
// max_attempts ≥ 1, 1 ≤ attempt ≤ max_attempts, completed ⇔ stage done,
// blocked ⇒ stage not done.
func (e Execution) Validate() error {
	if e.MaxAttempts < 1 {
		return fmt.Errorf("execution %s: max attempts must be at least 1", e.Bead)
	}
	if e.Attempt < 1 || e.Attempt > e.MaxAttempts {
		return fmt.Errorf("execution %s: attempt %d out of range [1,%d]", e.Bead, e.Attempt, e.MaxAttempts)
	}
	if e.Status == ClaimCompleted && !e.Stage.IsTerminal() {
		return fmt.Errorf("execution %s: completed at non-terminal stage %s", e.Bead, e.Stage)
	}
	if e.Status != ClaimCompleted && e.Stage.IsTerminal() {
		return fmt.Errorf("execution %s: stage done but claim is %s", e.Bead, e.Status)
	}
	if e.Status == ClaimBlocked && e.Stage.IsTerminal() {
		return fmt.Errorf("execution %s: blocked at terminal stage", e.Bead)
	}
	return nil
}

// RetriesExhausted reports whether the current attempt is the last one.
func (e Execution) RetriesExhausted() bool {
	return e.Attempt >= e.MaxAttempts
}

// Apply advances the execution per a decided transition. Complete requires
// the push confirmation to have been checked by the caller via
// stage.GuardComplete before this point; Apply re-checks to keep the
// invariant local.
func (e Execution) Apply(tr stage.Transition, pushConfirmed bool) (Execution, error) {
	if err := stage.GuardComplete(tr, pushConfirmed); err != nil {
		return Execution{}, err
	}
	next := e
	switch tr.Kind {
	case stage.Advance:
		next.Stage = tr.To
		next.Attempt = 1
	case stage.Retry:
		if e.RetriesExhausted() {
			return Execution{}, fmt.Errorf("execution %s: retry past max attempts %d", e.Bead, e.MaxAttempts)
		}
		next.Attempt = e.Attempt + 1
	case stage.Complete:
		next.Stage = stage.Done
		next.Status = ClaimCompleted
	case stage.Block:
		next.Status = ClaimBlocked
	case stage.NoOp:
	}
	if err := next.Validate(); err != nil {
		return Execution{}, err
	}
	return next, nil
}
