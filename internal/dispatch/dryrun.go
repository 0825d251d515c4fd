package dispatch

import (
	"encoding/json"
	"sort"

	"github.com/steveyegge/swarm/internal/protocol"
)

// dryRunStep is one planned action in a dry-run reply.
type dryRunStep struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Target string `json:"target"`
}

type dryRunBody struct {
	Dry         bool         `json:"dry"`
	WouldDo     []dryRunStep `json:"would_do"`
	EstimatedMS int64        `json:"estimated_ms"`
	Reversible  bool         `json:"reversible"`
	SideEffects []string     `json:"side_effects"`
}

// dryRun answers a dry:true request without touching any state: the plan
// the command would execute, never the execution.
func dryRun(req *protocol.Request) *protocol.Envelope {
	steps, ok := plannedSteps(req)
	if !ok {
		steps = []dryRunStep{{Step: 1, Action: "validate", Target: req.Cmd}}
		step := 2
		for _, name := range sortedArgNames(req.Args) {
			steps = append(steps, dryRunStep{Step: step, Action: "bind", Target: name})
			step++
		}
		steps = append(steps, dryRunStep{Step: step, Action: "execute", Target: req.Cmd})
	}

	return protocol.SuccessValue(req.RID, dryRunBody{
		Dry:         true,
		WouldDo:     steps,
		EstimatedMS: 250,
		Reversible:  true,
		SideEffects: []string{},
	})
}

// plannedSteps spells out the external side effects of the mutating
// commands; everything else falls back to the generic plan.
func plannedSteps(req *protocol.Request) ([]dryRunStep, bool) {
	arg := func(name, fallback string) string {
		if v, ok := req.StringArg(name); ok && v != "" {
			return v
		}
		return fallback
	}

	switch req.Cmd {
	case "claim-next":
		return []dryRunStep{
			{Step: 1, Action: "bv_robot_next", Target: "bv"},
			{Step: 2, Action: "br_update", Target: "in_progress"},
			{Step: 3, Action: "db_claim", Target: arg("agent_id", "<agent>")},
		}, true
	case "assign":
		return []dryRunStep{
			{Step: 1, Action: "bv_show", Target: arg("bead_id", "<bead>")},
			{Step: 2, Action: "db_claim", Target: arg("agent_id", "<agent>")},
			{Step: 3, Action: "br_update", Target: "in_progress"},
		}, true
	case "release":
		return []dryRunStep{
			{Step: 1, Action: "db_release", Target: arg("agent_id", "<agent>")},
			{Step: 2, Action: "requeue_bead", Target: "backlog"},
		}, true
	case "lock":
		return []dryRunStep{
			{Step: 1, Action: "sweep_expired", Target: "resource_locks"},
			{Step: 2, Action: "insert_lock", Target: arg("resource", "<resource>")},
		}, true
	case "unlock":
		return []dryRunStep{
			{Step: 1, Action: "delete_lock", Target: arg("resource", "<resource>")},
		}, true
	case "broadcast":
		return []dryRunStep{
			{Step: 1, Action: "insert_messages", Target: "agent_messages"},
		}, true
	case "run-once", "agent":
		return []dryRunStep{
			{Step: 1, Action: "recover_stale_claims", Target: "bead_claims"},
			{Step: 2, Action: "heartbeat_or_claim", Target: arg("agent_id", arg("id", "<agent>"))},
			{Step: 3, Action: "execute_stage", Target: "stage command"},
		}, true
	}
	return nil, false
}

func sortedArgNames(args map[string]json.RawMessage) []string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
