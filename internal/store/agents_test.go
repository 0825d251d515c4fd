package store

import (
	"testing"

	"github.com/steveyegge/swarm/internal/agent"
)

func strPtr(s string) *string { return &s }

func TestAgentRowState(t *testing.T) {
	tests := []struct {
		name    string
		row     AgentRow
		wantErr bool
		want    agent.Status
	}{
		{"idle", AgentRow{Repo: "r", Num: 1, Status: "idle"}, false, agent.Idle},
		{"working", AgentRow{Repo: "r", Num: 1, Status: "working", Bead: strPtr("b-1"), Stage: strPtr("implement")}, false, agent.Working},
		{"done terminal stage", AgentRow{Repo: "r", Num: 1, Status: "done", Stage: strPtr("done")}, false, agent.DoneStatus},
		{"unknown status", AgentRow{Repo: "r", Num: 1, Status: "zombie"}, true, 0},
		{"unknown stage", AgentRow{Repo: "r", Num: 1, Status: "working", Bead: strPtr("b-1"), Stage: strPtr("compile")}, true, 0},
		{"working without bead", AgentRow{Repo: "r", Num: 1, Status: "working", Stage: strPtr("implement")}, true, 0},
		{"idle holding bead", AgentRow{Repo: "r", Num: 1, Status: "idle", Bead: strPtr("b-1")}, true, 0},
		{"done at implement", AgentRow{Repo: "r", Num: 1, Status: "done", Stage: strPtr("implement")}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := tt.row.State()
			if (err != nil) != tt.wantErr {
				t.Fatalf("State() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && st.Status != tt.want {
				t.Errorf("Status = %v, want %v", st.Status, tt.want)
			}
		})
	}
}

func TestProgressCounters(t *testing.T) {
	p := Progress{Idle: 2, Working: 3, Waiting: 1, Errors: 1, Done: 4, Backlog: 7}
	if got := p.Total(); got != 11 {
		t.Errorf("Total() = %d, want 11", got)
	}
	if got := p.Active(); got != 4 {
		t.Errorf("Active() = %d, want 4", got)
	}
}
