package stage

import (
	"errors"
	"fmt"
)

// TransitionKind is the action the orchestrator takes after a stage run.
type TransitionKind int

const (
	// Advance moves the bead to the next stage.
	Advance TransitionKind = iota
	// Retry re-runs the current stage with an incremented attempt.
	Retry
	// Complete finishes the bead. Applying it requires push confirmation.
	Complete
	// Block parks the bead after exhausting retries.
	Block
	// NoOp leaves the bead untouched (terminal stage already reached).
	NoOp
)

// Reason codes attached to every transition decision. These are stable wire
// strings recorded in stage history and surfaced in envelopes.
const (
	ReasonPassedAdvance     = "stage_passed_advance"
	ReasonPassedNoNext      = "stage_passed_no_next_stage"
	ReasonRedQueenComplete  = "red_queen_passed_complete"
	ReasonFailedRetry       = "stage_failed_retry"
	ReasonFailedMaxAttempts = "stage_failed_max_attempts_reached"
)

// Transition is a decided action plus the stage it targets (Advance only)
// and the reason code that produced it.
type Transition struct {
	Kind   TransitionKind
	To     Stage // meaningful only for Advance
	Reason string
}

// ErrPushNotConfirmed is returned when a Complete transition is applied
// without a confirmed push. Completion without a landed branch would lose
// work, so the guard is unconditional.
var ErrPushNotConfirmed = errors.New("completion requires a confirmed push")

// ErrResultNotDecidable is returned when a started marker reaches Decide.
var ErrResultNotDecidable = errors.New("started result cannot drive a transition")

// Decide maps a finished stage run to the next transition. It is pure:
// the same inputs always produce the same transition and reason.
func Decide(current Stage, result Result, retriesExhausted bool) (Transition, error) {
	if !result.Decidable() {
		return Transition{}, ErrResultNotDecidable
	}

	if result.OK() {
		if current == RedQueen {
			return Transition{Kind: Complete, Reason: ReasonRedQueenComplete}, nil
		}
		next, ok := current.Next()
		if !ok {
			return Transition{Kind: NoOp, Reason: ReasonPassedNoNext}, nil
		}
		return Transition{Kind: Advance, To: next, Reason: ReasonPassedAdvance}, nil
	}

	if retriesExhausted {
		return Transition{Kind: Block, Reason: ReasonFailedMaxAttempts}, nil
	}
	return Transition{Kind: Retry, Reason: ReasonFailedRetry}, nil
}

// GuardComplete enforces the completion invariant: a Complete transition may
// only be applied once the push has been confirmed.
func GuardComplete(tr Transition, pushConfirmed bool) error {
	if tr.Kind == Complete && !pushConfirmed {
		return fmt.Errorf("apply %s: %w", tr.Reason, ErrPushNotConfirmed)
	}
	return nil
}
