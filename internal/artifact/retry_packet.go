package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/stage"
)

// RetryPacket is the handoff written when a stage fails and the bead will be
// retried. The next attempt reads it to avoid repeating the same mistake.
type RetryPacket struct {
	Bead        string `json:"bead_id"`
	Stage       string `json:"stage"`
	Attempt     uint32 `json:"attempt"`
	MaxAttempts uint32 `json:"max_attempts"`
	Failure     string `json:"failure"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// NewRetryPacket builds the packet for a failed attempt.
func NewRetryPacket(bead ids.BeadID, st stage.Stage, attempt, maxAttempts uint32, failure string, nowMS int64) RetryPacket {
	return RetryPacket{
		Bead:        bead.Value(),
		Stage:       st.String(),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Failure:     failure,
		CreatedAtMS: nowMS,
	}
}

// Marshal serializes the packet as the stage_artifacts payload.
func (p RetryPacket) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal retry packet for %s: %w", p.Bead, err)
	}
	return data, nil
}

// ParseRetryPacket deserializes a stored retry packet payload.
func ParseRetryPacket(data []byte) (RetryPacket, error) {
	var p RetryPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return RetryPacket{}, fmt.Errorf("parse retry packet: %w", err)
	}
	return p, nil
}
