package beads

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func mustDoc(t *testing.T, raw string) map[string]json.RawMessage {
	t.Helper()
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	return doc
}

func TestProjectBeadID(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
		ok   bool
	}{
		{"id field", `{"id":"bd-1"}`, "bd-1", true},
		{"next field", `{"next":"bd-2"}`, "bd-2", true},
		{"recommendation field", `{"recommendation":"bd-3"}`, "bd-3", true},
		{"triage top picks", `{"triage":{"quick_ref":{"top_picks":["bd-4","bd-5"]}}}`, "bd-4", true},
		{"id wins over next", `{"next":"bd-9","id":"bd-8"}`, "bd-8", true},
		{"empty id falls through", `{"id":"","next":"bd-6"}`, "bd-6", true},
		{"nothing projectable", `{"score":0.9,"notes":"busy"}`, "", false},
		{"empty top picks", `{"triage":{"quick_ref":{"top_picks":[]}}}`, "", false},
		{"non-string id", `{"id":42}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ProjectBeadID(mustDoc(t, tt.doc))
			if ok != tt.ok || got != tt.want {
				t.Errorf("ProjectBeadID(%s) = (%q, %v), want (%q, %v)", tt.doc, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFakeOpsRecordsUpdates(t *testing.T) {
	f := &FakeOps{}
	if err := f.Update(context.Background(), "bd-1", "in_progress", "swarm-agent-r-1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(f.Updates) != 1 || f.Updates[0] != "bd-1 in_progress swarm-agent-r-1" {
		t.Errorf("Updates = %v", f.Updates)
	}
}

func TestFakeOpsUpdateErr(t *testing.T) {
	boom := errors.New("boom")
	f := &FakeOps{UpdateErr: boom}
	if err := f.Update(context.Background(), "bd-1", "open", ""); !errors.Is(err, boom) {
		t.Errorf("Update error = %v, want %v", err, boom)
	}
	if len(f.Updates) != 0 {
		t.Errorf("failed update must not be recorded, got %v", f.Updates)
	}
}

func TestNotJSONErrorTruncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := &NotJSONError{Program: "bv", Output: string(long)}
	if len(err.Error()) > 300 {
		t.Errorf("error message not truncated: %d bytes", len(err.Error()))
	}
}
