package beads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// NotJSONError marks br/bv stdout that failed to parse as JSON. Handlers
// map it to the INVALID wire code.
type NotJSONError struct {
	Program string
	Output  string
}

func (e *NotJSONError) Error() string {
	return fmt.Sprintf("%s produced non-JSON output: %s", e.Program, truncateForError(e.Output))
}

func truncateForError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// RealOps runs the actual br and bv binaries.
type RealOps struct {
	// BrPath and BvPath default to "br" and "bv" on PATH.
	BrPath  string
	BvPath  string
	Timeout time.Duration
}

// NewRealOps returns ops using the binaries from PATH with the default
// timeout.
func NewRealOps() *RealOps {
	return &RealOps{BrPath: "br", BvPath: "bv", Timeout: DefaultTimeout}
}

// Ready implements Ops via `br list --label <label> --json`.
func (r *RealOps) Ready(ctx context.Context, label string) ([]Bead, error) {
	out, err := r.run(ctx, r.BrPath, "list", "--label", label, "--json")
	if err != nil {
		return nil, err
	}
	var beads []Bead
	if err := json.Unmarshal(out, &beads); err != nil {
		return nil, &NotJSONError{Program: r.BrPath, Output: string(out)}
	}
	return beads, nil
}

// Show implements Ops via `bv show <id> --json`.
func (r *RealOps) Show(ctx context.Context, id string) (*Bead, error) {
	out, err := r.run(ctx, r.BvPath, "show", id, "--json")
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, err
	}
	var bead Bead
	if err := json.Unmarshal(out, &bead); err != nil {
		return nil, &NotJSONError{Program: r.BvPath, Output: string(out)}
	}
	return &bead, nil
}

// ProjectionError marks a bv recommendation that carried no usable bead id.
// Handlers map it to the INVALID wire code.
type ProjectionError struct {
	Output string
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("bv recommendation has no bead id: %s", truncateForError(e.Output))
}

// RobotNext implements Ops via `bv --robot-next`. Empty output or an empty
// recommendation yields "" with no error.
func (r *RealOps) RobotNext(ctx context.Context) (string, error) {
	out, err := r.run(ctx, r.BvPath, "--robot-next")
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return "", nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(out, &doc); err != nil {
		return "", &NotJSONError{Program: r.BvPath, Output: string(out)}
	}
	if len(doc) == 0 {
		return "", nil
	}
	id, ok := ProjectBeadID(doc)
	if !ok {
		return "", &ProjectionError{Output: string(out)}
	}
	return id, nil
}

// ProjectBeadID extracts the recommended bead id from a bv reply, trying
// the known shapes in order: id, next, recommendation, then
// triage.quick_ref.top_picks[0].
func ProjectBeadID(doc map[string]json.RawMessage) (string, bool) {
	for _, key := range []string{"id", "next", "recommendation"} {
		if raw, ok := doc[key]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return s, true
			}
		}
	}
	var triage struct {
		QuickRef struct {
			TopPicks []string `json:"top_picks"`
		} `json:"quick_ref"`
	}
	if raw, ok := doc["triage"]; ok {
		if json.Unmarshal(raw, &triage) == nil && len(triage.QuickRef.TopPicks) > 0 && triage.QuickRef.TopPicks[0] != "" {
			return triage.QuickRef.TopPicks[0], true
		}
	}
	return "", false
}

// Update implements Ops via `br update <id> --status <status>`.
func (r *RealOps) Update(ctx context.Context, id, status, assignee string) error {
	args := []string{"update", id, "--status", status}
	if assignee != "" {
		args = append(args, "--assignee", assignee)
	}
	_, err := r.run(ctx, r.BrPath, args...)
	return err
}

// run executes program directly (no shell) and returns stdout. A non-zero
// exit surfaces stderr; a timeout kills the process.
func (r *RealOps) run(ctx context.Context, program string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s timed out after %s", program, timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s %s: %s", program, strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}

// FakeOps is an in-memory Ops for tests.
type FakeOps struct {
	ReadyBeads []Bead
	BeadsByID  map[string]Bead
	NextID     string
	ReadyErr   error
	ShowErr    error
	NextErr    error
	UpdateErr  error

	// Updates records each Update call as "id status assignee".
	Updates []string
}

// Ready returns the configured ready list.
func (f *FakeOps) Ready(ctx context.Context, label string) ([]Bead, error) {
	if f.ReadyErr != nil {
		return nil, f.ReadyErr
	}
	return f.ReadyBeads, nil
}

// Show returns the configured bead, or nil.
func (f *FakeOps) Show(ctx context.Context, id string) (*Bead, error) {
	if f.ShowErr != nil {
		return nil, f.ShowErr
	}
	bead, ok := f.BeadsByID[id]
	if !ok {
		return nil, nil
	}
	return &bead, nil
}

// RobotNext returns the configured recommendation.
func (f *FakeOps) RobotNext(ctx context.Context) (string, error) {
	if f.NextErr != nil {
		return "", f.NextErr
	}
	return f.NextID, nil
}

// Update records the call and returns the configured error.
func (f *FakeOps) Update(ctx context.Context, id, status, assignee string) error {
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.Updates = append(f.Updates, fmt.Sprintf("%s %s %s", id, status, assignee))
	return nil
}
