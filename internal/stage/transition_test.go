package stage

import (
	"errors"
	"testing"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		current    Stage
		result     Result
		exhausted  bool
		wantKind   TransitionKind
		wantTo     Stage
		wantReason string
	}{
		{"contract passes advances to implement", RustContract, Passed(), false, Advance, Implement, ReasonPassedAdvance},
		{"implement passes advances to qa", Implement, Passed(), false, Advance, QaEnforcer, ReasonPassedAdvance},
		{"qa passes advances to red queen", QaEnforcer, Passed(), false, Advance, RedQueen, ReasonPassedAdvance},
		{"red queen pass completes", RedQueen, Passed(), false, Complete, 0, ReasonRedQueenComplete},
		{"done pass is a no-op", Done, Passed(), false, NoOp, 0, ReasonPassedNoNext},
		{"failure retries", Implement, Failed("tests red"), false, Retry, 0, ReasonFailedRetry},
		{"failure after exhaustion blocks", Implement, Failed("tests red"), true, Block, 0, ReasonFailedMaxAttempts},
		{"error retries like failure", QaEnforcer, Errored("spawn failed"), false, Retry, 0, ReasonFailedRetry},
		{"error after exhaustion blocks", RedQueen, Errored("timeout"), true, Block, 0, ReasonFailedMaxAttempts},
		{"exhaustion is ignored on success", Implement, Passed(), true, Advance, QaEnforcer, ReasonPassedAdvance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.current, tt.result, tt.exhausted)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Kind == Advance && got.To != tt.wantTo {
				t.Errorf("To = %v, want %v", got.To, tt.wantTo)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecideRejectsStarted(t *testing.T) {
	_, err := Decide(Implement, Started(), false)
	if !errors.Is(err, ErrResultNotDecidable) {
		t.Fatalf("Decide(started) error = %v, want ErrResultNotDecidable", err)
	}
}

func TestDecideIsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		got, err := Decide(RedQueen, Passed(), false)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != Complete || got.Reason != ReasonRedQueenComplete {
			t.Fatalf("iteration %d: got %+v", i, got)
		}
	}
}

func TestGuardComplete(t *testing.T) {
	complete := Transition{Kind: Complete, Reason: ReasonRedQueenComplete}
	if err := GuardComplete(complete, false); !errors.Is(err, ErrPushNotConfirmed) {
		t.Errorf("unconfirmed push: error = %v, want ErrPushNotConfirmed", err)
	}
	if err := GuardComplete(complete, true); err != nil {
		t.Errorf("confirmed push: unexpected error %v", err)
	}
	// The guard only applies to completion.
	advance := Transition{Kind: Advance, To: Implement, Reason: ReasonPassedAdvance}
	if err := GuardComplete(advance, false); err != nil {
		t.Errorf("advance should not require push confirmation: %v", err)
	}
}

func TestStageOrder(t *testing.T) {
	order := All()
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		if !ok {
			t.Fatalf("%s has no next stage", order[i])
		}
		if next != order[i+1] {
			t.Errorf("%s.Next() = %s, want %s", order[i], next, order[i+1])
		}
	}
	if _, ok := Done.Next(); ok {
		t.Error("done must be terminal")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range All() {
		parsed, ok := Parse(s.String())
		if !ok || parsed != s {
			t.Errorf("Parse(%q) = %v, %v", s.String(), parsed, ok)
		}
	}
	if _, ok := Parse("rustcontract"); ok {
		t.Error("non-kebab name should not parse")
	}
}

func TestResultWireNames(t *testing.T) {
	tests := []struct {
		result Result
		want   string
	}{
		{Started(), "started"},
		{Passed(), "passed"},
		{Failed("x"), "failed"},
		{Errored("x"), "error"},
	}
	for _, tt := range tests {
		if got := tt.result.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
