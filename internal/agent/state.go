// Package agent models swarm agent state and the bead execution each agent
// carries while working.
package agent

import (
	"fmt"

	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
)

// Status is the lifecycle state of one agent.
type Status int

const (
	Idle Status = iota
	Working
	Waiting
	Error
	DoneStatus
)

var statusNames = map[Status]string{
	Idle:       "idle",
	Working:    "working",
	Waiting:    "waiting",
	Error:      "error",
	DoneStatus: "done",
}

// String returns the wire name for the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus resolves a wire name back to a Status.
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// State is the persisted view of one agent. The constructors enforce the
// coupling between status, bead, and stage:
//
//	working       ⇒ bead and stage present
//	done          ⇒ no bead, stage absent or done
//	idle/waiting/error ⇒ no bead
type State struct {
	ID     ids.AgentID
	Status Status
	Bead   *ids.BeadID
	Stage  *stage.Stage
}

// NewIdle returns an idle agent carrying no work.
func NewIdle(id ids.AgentID) State {
	return State{ID: id, Status: Idle}
}

// NewWorking returns an agent actively running a stage for a bead.
func NewWorking(id ids.AgentID, bead ids.BeadID, st stage.Stage) (State, error) {
	if bead.IsZero() {
		return State{}, fmt.Errorf("working agent %s: bead required", id)
	}
	return State{ID: id, Status: Working, Bead: &bead, Stage: &st}, nil
}

// NewWaiting returns an agent parked between ticks with no bead.
func NewWaiting(id ids.AgentID) State {
	return State{ID: id, Status: Waiting}
}

// NewError returns an agent in the error state with no bead.
func NewError(id ids.AgentID) State {
	return State{ID: id, Status: Error}
}

// NewDone returns an agent whose work landed. Stage may be nil or done.
func NewDone(id ids.AgentID, st *stage.Stage) (State, error) {
	if st != nil && !st.IsTerminal() {
		return State{}, fmt.Errorf("done agent %s: stage %s is not terminal", id, st)
	}
	return State{ID: id, Status: DoneStatus, Stage: st}, nil
}

// Validate re-checks the status/bead/stage coupling on a state loaded from
// storage. Rows written by older versions may violate it.
func (s State) Validate() error {
	switch s.Status {
	case Working:
		if s.Bead == nil || s.Stage == nil {
			return fmt.Errorf("agent %s: working without bead or stage", s.ID)
		}
	case DoneStatus:
		if s.Bead != nil {
			return fmt.Errorf("agent %s: done but still holds bead %s", s.ID, s.Bead)
		}
		if s.Stage != nil && !s.Stage.IsTerminal() {
			return fmt.Errorf("agent %s: done at non-terminal stage %s", s.ID, s.Stage)
		}
	case Idle, Waiting, Error:
		if s.Bead != nil {
			return fmt.Errorf("agent %s: %s but holds bead %s", s.ID, s.Status, s.Bead)
		}
	}
	return nil
}
