package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steveyegge/swarm/internal/protocol"
	"github.com/steveyegge/swarm/internal/style"
)

// renderHuman turns selected ok envelopes into styled tables for terminal
// use. It declines anything it has no renderer for, any error envelope,
// and all output on a pipe, so JSON stays the default for scripts.
func renderHuman(cmdName string, env *protocol.Envelope) (string, bool) {
	if !style.IsTerminal() || !env.OK || len(env.D) == 0 {
		return "", false
	}
	switch cmdName {
	case "status":
		return renderStatusBody(env)
	case "agents":
		return renderAgentsBody(env)
	case "monitor":
		return renderMonitorBody(env)
	case "help-commands":
		return renderHelpBody(env)
	default:
		return "", false
	}
}

func renderStatusBody(env *protocol.Envelope) (string, bool) {
	var body struct {
		Repo     string           `json:"repo"`
		Progress map[string]int64 `json:"progress"`
	}
	if json.Unmarshal(env.D, &body) != nil || body.Progress == nil {
		return "", false
	}

	var sb strings.Builder
	sb.WriteString(style.RenderHeader("Swarm: "+body.Repo) + "\n")
	table := style.NewTable(
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "COUNT", Width: 7, Align: style.AlignRight},
	)
	for _, name := range []string{"backlog", "idle", "working", "waiting", "error", "done"} {
		table.AddRow(style.RenderStatus(name), fmt.Sprintf("%d", body.Progress[name]))
	}
	sb.WriteString(table.Render())
	if env.State != nil {
		sb.WriteString(style.RenderMuted(
			fmt.Sprintf("  %d beads total, %d active\n", env.State.Total, env.State.Active)))
	}
	return sb.String(), true
}

type renderedAgent struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Bead   *string `json:"bead"`
	Stage  *string `json:"stage"`
}

func renderAgentsBody(env *protocol.Envelope) (string, bool) {
	var body struct {
		Agents []renderedAgent `json:"agents"`
		Locks  []struct {
			Resource string `json:"resource"`
			Agent    string `json:"agent"`
		} `json:"locks"`
	}
	if json.Unmarshal(env.D, &body) != nil {
		return "", false
	}

	var sb strings.Builder
	sb.WriteString(style.RenderHeader("Agents") + "\n")
	sb.WriteString(agentTable(body.Agents))
	if len(body.Locks) > 0 {
		sb.WriteString(style.RenderHeader("Locks") + "\n")
		table := style.NewTable(
			style.Column{Name: "RESOURCE", Width: 24},
			style.Column{Name: "AGENT", Width: 16},
		)
		for _, l := range body.Locks {
			table.AddRow(l.Resource, l.Agent)
		}
		sb.WriteString(table.Render())
	}
	return sb.String(), true
}

func agentTable(agents []renderedAgent) string {
	if len(agents) == 0 {
		return style.RenderMuted("  no agents registered\n")
	}
	table := style.NewTable(
		style.Column{Name: "AGENT", Width: 16},
		style.Column{Name: "STATUS", Width: 8},
		style.Column{Name: "BEAD", Width: 20},
		style.Column{Name: "STAGE", Width: 14},
	)
	for _, a := range agents {
		table.AddRow(a.ID, style.RenderStatus(a.Status), deref(a.Bead), deref(a.Stage))
	}
	return table.Render()
}

func renderMonitorBody(env *protocol.Envelope) (string, bool) {
	var body struct {
		View   string          `json:"view"`
		Active []renderedAgent `json:"active"`
	}
	if json.Unmarshal(env.D, &body) != nil || body.View != "active" {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString(style.RenderHeader("Active agents") + "\n")
	sb.WriteString(agentTable(body.Active))
	return sb.String(), true
}

func renderHelpBody(env *protocol.Envelope) (string, bool) {
	var body struct {
		Commands []struct {
			Name    string `json:"name"`
			Summary string `json:"summary"`
		} `json:"commands"`
	}
	if json.Unmarshal(env.D, &body) != nil || len(body.Commands) == 0 {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString(style.RenderHeader("Commands") + "\n")
	table := style.NewTable(
		style.Column{Name: "COMMAND", Width: 16},
		style.Column{Name: "SUMMARY", Width: 52},
	)
	table.SetHeaderSeparator(false)
	for _, c := range body.Commands {
		table.AddRow(c.Name, style.RenderMuted(c.Summary))
	}
	sb.WriteString(table.Render())
	return sb.String(), true
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
