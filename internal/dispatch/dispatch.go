// Package dispatch routes validated protocol requests to their handlers.
// One request line in, one envelope out; handlers own the database session
// and the external process calls.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/swarm/internal/beads"
	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/protocol"
	"github.com/steveyegge/swarm/internal/store"
)

// Dispatcher routes protocol requests. Root anchors config discovery; DB,
// when set, pins every handler to one connection instead of resolving
// candidates per request.
type Dispatcher struct {
	Root  string
	Beads beads.Ops
	DB    *store.DB

	auditOnce sync.Once
	auditConn *store.DB
}

// New builds a dispatcher rooted at dir with the real bead binaries.
func New(root string) *Dispatcher {
	return &Dispatcher{Root: root, Beads: beads.NewRealOps()}
}

type handlerFunc func(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope

func handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"?":              handleHelp,
		"help":           handleHelp,
		"doctor":         handleDoctor,
		"status":         handleStatus,
		"state":          handleState,
		"agents":         handleAgents,
		"history":        handleHistory,
		"next":           handleNext,
		"claim-next":     handleClaimNext,
		"assign":         handleAssign,
		"run-once":       handleRunOnce,
		"qa":             handleQA,
		"resume":         handleResume,
		"resume-context": handleResumeContext,
		"artifacts":      handleArtifacts,
		"agent":          handleAgentLoop,
		"register":       handleRegister,
		"release":        handleRelease,
		"monitor":        handleMonitor,
		"init":           handleInit,
		"init-db":        handleInitDB,
		"init-local-db":  handleInitLocalDB,
		"bootstrap":      handleBootstrap,
		"spawn-prompts":  handleSpawnPrompts,
		"prompt":         handlePrompt,
		"smoke":          handleSmoke,
		"batch":          handleBatch,
		"lock":           handleLock,
		"unlock":         handleUnlock,
		"broadcast":      handleBroadcast,
		"load-profile":   handleLoadProfile,
	}
}

// Dispatch handles one request line end to end and stamps the elapsed time.
func (d *Dispatcher) Dispatch(ctx context.Context, line []byte) *protocol.Envelope {
	start := time.Now()
	env := d.dispatch(ctx, line)
	return env.WithElapsed(time.Since(start))
}

func (d *Dispatcher) dispatch(ctx context.Context, line []byte) *protocol.Envelope {
	req, err := protocol.ParseRequest(line)
	if err != nil {
		return protocol.Error(nil, protocol.CodeInvalid, err.Error()).
			WithFix(`Send one JSON object per line, e.g. {"cmd":"status"}`)
	}
	if env := protocol.Validate(line, req); env != nil {
		return env
	}
	if req.Dry {
		return dryRun(req)
	}
	return handlers()[req.Cmd](ctx, d, req)
}

// session is a database handle scoped to one request. Borrowed handles
// (Dispatcher.DB) are not closed.
type session struct {
	db       *store.DB
	url      string
	borrowed bool
}

func (s *session) close() {
	if !s.borrowed {
		s.db.Close()
	}
}

// openSession resolves the candidate list (explicit arg first), connects
// within the clamped timeout, and maps total failure to INTERNAL with the
// masked candidate context.
func (d *Dispatcher) openSession(ctx context.Context, req *protocol.Request) (*session, *protocol.Envelope) {
	if d.DB != nil {
		return &session{db: d.DB, borrowed: true}, nil
	}

	var explicit *uint64
	if timeout, ok := req.UintArg("connect_timeout_ms"); ok {
		explicit = &timeout
	}
	timeoutMS := config.ConnectTimeoutMS(explicit)

	candidates := config.DatabaseURLCandidates(d.Root)
	if url, ok := req.StringArg("database_url"); ok && url != "" {
		candidates = append([]string{url}, candidates...)
	}

	db, connected, failures := store.OpenCandidates(ctx, candidates, timeoutMS, config.MaskDatabaseURL)
	if db == nil {
		masked := make([]string, 0, len(candidates))
		for _, c := range candidates {
			masked = append(masked, config.MaskDatabaseURL(c))
		}
		return nil, protocol.Error(req.RID, protocol.CodeInternal, "no database candidate reachable").
			WithFix("Run 'init-local-db' or set DATABASE_URL").
			WithCtx(map[string]any{"tried": masked, "errors": failures})
	}
	return &session{db: db, url: connected}, nil
}

// repoID resolves the request scope: explicit arg, then the enclosing git
// repository, then "local".
func (d *Dispatcher) repoID(req *protocol.Request) ids.RepoID {
	if v, ok := req.StringArg("repo_id"); ok && v != "" {
		return ids.NewRepoID(v)
	}
	if repo, ok := ids.RepoIDFromCurrentDir(); ok {
		return repo
	}
	return ids.NewRepoID("local")
}

// withState attaches the swarm-wide counters to a success envelope.
// Counter failures are swallowed; the reply stands without them.
func withState(ctx context.Context, env *protocol.Envelope, db *store.DB, repo ids.RepoID) *protocol.Envelope {
	if !env.OK {
		return env
	}
	progress, err := db.GetProgress(ctx, repo)
	if err != nil {
		return env
	}
	return env.WithState(protocol.StateSummary{Total: progress.Total(), Active: progress.Active()})
}

// storeError maps persistence failures to wire codes.
func storeError(rid *string, err error) *protocol.Envelope {
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &conflict):
		return protocol.Error(rid, protocol.CodeConflict, conflict.Msg).
			WithFix("Pick an idle agent or an unclaimed bead and retry")
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.Error(rid, protocol.CodeTimeout, err.Error()).
			WithFix("Increase connect_timeout_ms or check database load")
	default:
		return protocol.Error(rid, protocol.CodeInternal, err.Error()).
			WithFix("Check database connectivity and retry")
	}
}

// requireString extracts a mandatory string argument, or explains how to
// supply it.
func requireString(req *protocol.Request, name, example string) (string, *protocol.Envelope) {
	v, ok := req.StringArg(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", protocol.Error(req.RID, protocol.CodeInvalid,
			fmt.Sprintf("%s is required for %s", name, req.Cmd)).
			WithFix(fmt.Sprintf("Example: %s", example)).
			WithCtx(map[string]string{"missing": name})
	}
	return v, nil
}

// requireAgent extracts and parses a mandatory agent address argument.
func requireAgent(req *protocol.Request, name string) (ids.AgentID, *protocol.Envelope) {
	addr, env := requireString(req, name, fmt.Sprintf(`{"cmd":%q,%q:"myrepo-1"}`, req.Cmd, name))
	if env != nil {
		return ids.AgentID{}, env
	}
	agentID, ok := ids.ParseAgentAddress(addr)
	if !ok {
		return ids.AgentID{}, protocol.Error(req.RID, protocol.CodeInvalid,
			fmt.Sprintf("malformed agent address %q", addr)).
			WithFix("Agent addresses look like <repo>-<n> with n >= 1").
			WithCtx(map[string]string{name: addr})
	}
	return agentID, nil
}

// requireBead extracts a mandatory bead id argument.
func requireBead(req *protocol.Request, name string) (ids.BeadID, *protocol.Envelope) {
	raw, env := requireString(req, name, fmt.Sprintf(`{"cmd":%q,%q:"bd-123"}`, req.Cmd, name))
	if env != nil {
		return ids.BeadID{}, env
	}
	bead, ok := ids.NewBeadID(raw)
	if !ok {
		return ids.BeadID{}, protocol.Error(req.RID, protocol.CodeInvalid, "bead id must be non-empty").
			WithFix(fmt.Sprintf(`Example: {"cmd":%q,%q:"bd-123"}`, req.Cmd, name))
	}
	return bead, nil
}

// intArg extracts an optional non-negative integer argument. A value that
// is present but negative or not an integer is rejected, never defaulted.
func intArg(req *protocol.Request, name string, fallback int) (int, *protocol.Envelope) {
	if _, present := req.Args[name]; !present {
		return fallback, nil
	}
	n, ok := req.IntArg(name)
	if !ok || n < 0 {
		return 0, protocol.Error(req.RID, protocol.CodeInvalid,
			fmt.Sprintf("%s must be a non-negative integer", name)).
			WithFix(fmt.Sprintf(`Example: {"cmd":%q,%q:10}`, req.Cmd, name)).
			WithCtx(map[string]any{"arg": name})
	}
	return int(n), nil
}
