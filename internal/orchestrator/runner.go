package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/shell"
	"github.com/steveyegge/swarm/internal/stage"
)

// ShellStageRunner runs each stage's configured command template under
// bash with bounded capture.
type ShellStageRunner struct {
	// Commands maps stage wire names to command templates with
	// {bead_id} and {agent_id} placeholders.
	Commands map[string]string
	Timeout  time.Duration
}

// RunStage implements StageRunner. Exit 0 passes, non-zero fails with the
// captured diagnostics, and spawn failures or timeouts error.
func (r *ShellStageRunner) RunStage(ctx context.Context, st stage.Stage, bead ids.BeadID, agentID ids.AgentID) stage.Result {
	template, ok := r.Commands[st.String()]
	if !ok || strings.TrimSpace(template) == "" {
		return stage.Errored(fmt.Sprintf("no command configured for stage %s", st))
	}

	command := shell.RenderStageCommand(template, bead.Value(), agentID.String())
	capture, err := shell.Run(ctx, command, r.Timeout)
	if err != nil {
		return stage.Errored(fmt.Sprintf("spawn stage %s: %v", st, err))
	}
	if capture.TimedOut {
		return stage.Errored(fmt.Sprintf("stage %s timed out", st))
	}
	if capture.ExitCode == 0 {
		return stage.Passed()
	}

	msg := strings.TrimSpace(capture.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(capture.Stdout)
	}
	if msg == "" {
		msg = fmt.Sprintf("stage %s exited %d", st, capture.ExitCode)
	}
	if capture.StderrTruncated || capture.StdoutTruncated {
		msg += " [output truncated]"
	}
	return stage.Failed(msg)
}

// ZjjWorkspaceManager creates per-agent working trees with the zjj tool,
// one workspace per agent/bead pair.
type ZjjWorkspaceManager struct {
	Timeout time.Duration
}

// CreateWorkspace implements WorkspaceManager.
func (z *ZjjWorkspaceManager) CreateWorkspace(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) error {
	name := fmt.Sprintf("agent-%d-%s", agentID.Num, bead.Value())
	capture, err := shell.Run(ctx, "zjj add "+shell.Escape(name), z.Timeout)
	if err != nil {
		return fmt.Errorf("create workspace %s: %w", name, err)
	}
	if capture.TimedOut {
		return fmt.Errorf("create workspace %s: timed out", name)
	}
	if capture.ExitCode != 0 {
		detail := strings.TrimSpace(capture.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(capture.Stdout)
		}
		return fmt.Errorf("create workspace %s: %s", name, detail)
	}
	return nil
}

// GitPushConfirmer confirms a bead branch has landed by asking git whether
// the remote ref exists.
type GitPushConfirmer struct {
	Timeout time.Duration
}

// ConfirmPush implements PushConfirmer.
func (g *GitPushConfirmer) ConfirmPush(ctx context.Context, agentID ids.AgentID, bead ids.BeadID) (bool, error) {
	ref := "refs/heads/" + bead.Value()
	capture, err := shell.Run(ctx, "git ls-remote --exit-code origin "+shell.Escape(ref), g.Timeout)
	if err != nil {
		return false, fmt.Errorf("confirm push for %s: %w", bead, err)
	}
	if capture.TimedOut {
		return false, fmt.Errorf("confirm push for %s: timed out", bead)
	}
	return capture.ExitCode == 0, nil
}
