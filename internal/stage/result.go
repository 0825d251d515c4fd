package stage

// ResultKind classifies the outcome of one stage run.
type ResultKind int

const (
	// ResultStarted marks a run in flight. It is a progress marker only and
	// must never feed a transition decision.
	ResultStarted ResultKind = iota
	ResultPassed
	ResultFailed
	ResultError
)

// Result is the outcome of running one stage for one bead. Failed and Error
// carry a message; Started and Passed do not.
type Result struct {
	Kind    ResultKind
	Message string
}

// Started returns the in-flight marker result.
func Started() Result { return Result{Kind: ResultStarted} }

// Passed returns a successful result.
func Passed() Result { return Result{Kind: ResultPassed} }

// Failed returns a result for a stage that ran and rejected the work.
func Failed(msg string) Result { return Result{Kind: ResultFailed, Message: msg} }

// Errored returns a result for a stage that could not run to completion.
func Errored(msg string) Result { return Result{Kind: ResultError, Message: msg} }

// String returns the wire name for the result kind.
func (r Result) String() string {
	switch r.Kind {
	case ResultStarted:
		return "started"
	case ResultPassed:
		return "passed"
	case ResultFailed:
		return "failed"
	default:
		return "error"
	}
}

// OK reports whether the stage accepted the work.
func (r Result) OK() bool {
	return r.Kind == ResultPassed
}

// Decidable reports whether the result may feed a transition decision.
func (r Result) Decidable() bool {
	return r.Kind != ResultStarted
}
