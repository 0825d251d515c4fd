package shell

import "testing"

func TestEscape(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain word", "bead-123", "bead-123"},
		{"path", "./scripts/run.sh", "./scripts/run.sh"},
		{"underscore", "agent_1", "agent_1"},
		{"empty quoted", "", "''"},
		{"space", "two words", "'two words'"},
		{"semicolon", "a;rm -rf /", "'a;rm -rf /'"},
		{"dollar", "$HOME", "'$HOME'"},
		{"single quote", "it's", `'it'\''s'`},
		{"backtick", "`id`", "'`id`'"},
		{"newline", "a\nb", "'a\nb'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRenderStageCommand(t *testing.T) {
	tests := []struct {
		name     string
		template string
		bead     string
		agent    string
		want     string
	}{
		{
			"plain ids pass through",
			"make qa BEAD={bead_id} AGENT={agent_id}",
			"bead-7", "myrepo-1",
			"make qa BEAD=bead-7 AGENT=myrepo-1",
		},
		{
			"hostile bead id is quoted",
			"run.sh {bead_id}",
			"x; rm -rf /", "myrepo-1",
			"run.sh 'x; rm -rf /'",
		},
		{
			"repeated placeholders",
			"echo {bead_id} {bead_id}",
			"b1", "a1",
			"echo b1 b1",
		},
		{
			"no placeholders",
			"make check",
			"b1", "a1",
			"make check",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderStageCommand(tt.template, tt.bead, tt.agent); got != tt.want {
				t.Errorf("RenderStageCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}
