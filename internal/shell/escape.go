package shell

import "strings"

// safeChars are the bytes that never need quoting in a POSIX shell word.
const safeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_./-"

func isSafe(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(safeChars, rune(s[i])) {
			return false
		}
	}
	return true
}

// Escape quotes s for safe interpolation into a bash command line. Safe
// strings pass through; everything else is single-quoted with embedded
// single quotes rewritten to close, escape, and reopen the quoting.
func Escape(s string) string {
	if isSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RenderStageCommand substitutes the {bead_id} and {agent_id} placeholders
// in a stage command template, escaping both values.
func RenderStageCommand(template, beadID, agentID string) string {
	rendered := strings.ReplaceAll(template, "{bead_id}", Escape(beadID))
	return strings.ReplaceAll(rendered, "{agent_id}", Escape(agentID))
}
