// Package beads wraps the external br and bv binaries that own the bead
// database. The swarm never links a bead store; it shells out and parses
// JSON stdout.
package beads

import (
	"context"
	"time"
)

// DefaultTimeout bounds one br/bv invocation.
const DefaultTimeout = 15 * time.Second

// Bead is the subset of bead fields the swarm reads.
type Bead struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Status string   `json:"status"`
	Labels []string `json:"labels,omitempty"`
}

// Ops abstracts the br/bv binaries so services can run against a fake.
type Ops interface {
	// Ready lists beads carrying the claim label, oldest first.
	Ready(ctx context.Context, label string) ([]Bead, error)

	// Show loads one bead, or nil when it does not exist.
	Show(ctx context.Context, id string) (*Bead, error)

	// RobotNext asks bv for the next bead to work on. Returns "" when bv
	// has no recommendation.
	RobotNext(ctx context.Context) (string, error)

	// Update moves a bead to a new status with an assignee.
	Update(ctx context.Context, id, status, assignee string) error
}
