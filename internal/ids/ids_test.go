package ids

import "testing"

func TestAgentIDString(t *testing.T) {
	tests := []struct {
		name string
		id   AgentID
		want string
	}{
		{"simple", NewAgentID(NewRepoID("myrepo"), 1), "myrepo-1"},
		{"dashed repo", NewAgentID(NewRepoID("my-repo"), 12), "my-repo-12"},
		{"local fallback", NewAgentID(NewRepoID("local"), 3), "local-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAgentAddress(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		wantRepo string
		wantNum  uint32
		wantOK   bool
	}{
		{"simple", "myrepo-1", "myrepo", 1, true},
		{"dashed repo keeps dashes", "my-repo-12", "my-repo", 12, true},
		{"zero ordinal rejected", "myrepo-0", "", 0, false},
		{"no ordinal", "myrepo", "", 0, false},
		{"trailing dash", "myrepo-", "", 0, false},
		{"non-numeric ordinal", "myrepo-abc", "", 0, false},
		{"empty", "", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAgentAddress(tt.addr)
			if ok != tt.wantOK {
				t.Fatalf("ParseAgentAddress(%q) ok = %v, want %v", tt.addr, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Repo.Value() != tt.wantRepo || got.Num != tt.wantNum {
				t.Errorf("ParseAgentAddress(%q) = %s/%d, want %s/%d",
					tt.addr, got.Repo.Value(), got.Num, tt.wantRepo, tt.wantNum)
			}
		})
	}
}

func TestAgentAddressRoundTrip(t *testing.T) {
	id := NewAgentID(NewRepoID("deep-nested-repo"), 42)
	parsed, ok := ParseAgentAddress(id.String())
	if !ok {
		t.Fatalf("round trip failed for %q", id.String())
	}
	if parsed != id {
		t.Errorf("round trip: got %+v, want %+v", parsed, id)
	}
}

func TestNewBeadID(t *testing.T) {
	if _, ok := NewBeadID("   "); ok {
		t.Error("whitespace-only bead id should be rejected")
	}
	if _, ok := NewBeadID(""); ok {
		t.Error("empty bead id should be rejected")
	}
	b, ok := NewBeadID("  bead-7 ")
	if !ok {
		t.Fatal("valid bead id rejected")
	}
	if b.Value() != "bead-7" {
		t.Errorf("bead id not trimmed: %q", b.Value())
	}
}
