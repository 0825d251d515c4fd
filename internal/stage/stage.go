// Package stage defines the bead pipeline stages and the pure transition
// decision applied after each stage run.
package stage

import "fmt"

// Stage is one step of the bead pipeline. The pipeline is a linear DAG:
// rust-contract → implement → qa-enforcer → red-queen → done.
type Stage int

const (
	RustContract Stage = iota
	Implement
	QaEnforcer
	RedQueen
	Done
)

var stageNames = map[Stage]string{
	RustContract: "rust-contract",
	Implement:    "implement",
	QaEnforcer:   "qa-enforcer",
	RedQueen:     "red-queen",
	Done:         "done",
}

// String returns the kebab-case wire name for the stage.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Parse resolves a wire name back to a Stage.
func Parse(name string) (Stage, bool) {
	for s, n := range stageNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Next returns the stage that follows s, or false when s is terminal.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case RustContract:
		return Implement, true
	case Implement:
		return QaEnforcer, true
	case QaEnforcer:
		return RedQueen, true
	case RedQueen:
		return Done, true
	default:
		return 0, false
	}
}

// IsTerminal reports whether the stage ends the pipeline.
func (s Stage) IsTerminal() bool {
	return s == Done
}

// All returns the pipeline stages in execution order.
func All() []Stage {
	return []Stage{RustContract, Implement, QaEnforcer, RedQueen, Done}
}
