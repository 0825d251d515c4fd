// Package doctor provides environment health checks for the swarm: the
// git repository, the config file, database reachability, and the external
// bead binaries.
package doctor

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/store"
)

// Status is the outcome of one check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Result is the outcome of a health check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	FixHint string `json:"fix_hint,omitempty"`
}

// CheckContext carries everything a check may need.
type CheckContext struct {
	Root             string
	DBCandidates     []string
	ConnectTimeoutMS uint64
}

// Check is one health check.
type Check interface {
	Name() string
	Run(ctx context.Context, cc *CheckContext) Result
}

// Summary counts results by status.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// Report is the full doctor output.
type Report struct {
	Checks    []Result `json:"checks"`
	Summary   Summary  `json:"summary"`
	Healthy   bool     `json:"healthy"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// Run executes the checks in order and summarizes.
func Run(ctx context.Context, cc *CheckContext, checks []Check) *Report {
	start := time.Now()
	report := &Report{}
	for _, check := range checks {
		result := check.Run(ctx, cc)
		report.Checks = append(report.Checks, result)
		report.Summary.Total++
		switch result.Status {
		case StatusOK:
			report.Summary.OK++
		case StatusWarning:
			report.Summary.Warnings++
		default:
			report.Summary.Errors++
		}
	}
	report.Healthy = report.Summary.Errors == 0
	report.ElapsedMS = time.Since(start).Milliseconds()
	return report
}

// DefaultChecks is the standard swarm check set.
func DefaultChecks() []Check {
	return []Check{
		&GitRepoCheck{},
		&ConfigCheck{},
		&DatabaseCheck{},
		&BinaryCheck{Binary: "br", Purpose: "bead CRUD"},
		&BinaryCheck{Binary: "bv", Purpose: "bead recommendations"},
	}
}

// GitRepoCheck verifies the working directory is inside a git repository.
type GitRepoCheck struct{}

func (c *GitRepoCheck) Name() string { return "git-repo" }

func (c *GitRepoCheck) Run(ctx context.Context, cc *CheckContext) Result {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "not inside a git repository",
			FixHint: "Run swarm from a git checkout, or pass repo_id explicitly",
		}
	}
	return Result{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: strings.TrimSpace(string(out)),
	}
}

// ConfigCheck verifies .swarm/config.toml exists and parses.
type ConfigCheck struct{}

func (c *ConfigCheck) Name() string { return "config" }

func (c *ConfigCheck) Run(ctx context.Context, cc *CheckContext) Result {
	path := config.Path(cc.Root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Result{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: path + " missing, using defaults",
			FixHint: "Run 'init' to write a config skeleton",
		}
	}
	if _, err := config.Load(cc.Root); err != nil {
		return Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: err.Error(),
			FixHint: "Fix or delete " + path,
		}
	}
	return Result{Name: c.Name(), Status: StatusOK, Message: path}
}

// DatabaseCheck verifies at least one database candidate is reachable.
type DatabaseCheck struct{}

func (c *DatabaseCheck) Name() string { return "database" }

func (c *DatabaseCheck) Run(ctx context.Context, cc *CheckContext) Result {
	db, connected, failures := store.OpenCandidates(ctx, cc.DBCandidates, cc.ConnectTimeoutMS, config.MaskDatabaseURL)
	if db == nil {
		return Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "no database candidate reachable: " + strings.Join(failures, "; "),
			FixHint: "Run 'init-local-db' or set DATABASE_URL",
		}
	}
	db.Close()
	return Result{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: config.MaskDatabaseURL(connected),
	}
}

// BinaryCheck verifies an external binary is on PATH.
type BinaryCheck struct {
	Binary  string
	Purpose string
}

func (c *BinaryCheck) Name() string { return "binary-" + c.Binary }

func (c *BinaryCheck) Run(ctx context.Context, cc *CheckContext) Result {
	path, err := exec.LookPath(c.Binary)
	if err != nil {
		return Result{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: c.Binary + " not found on PATH (" + c.Purpose + ")",
			FixHint: "Install " + c.Binary + " or commands that need it will fail",
		}
	}
	return Result{Name: c.Name(), Status: StatusOK, Message: path}
}
