package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/ids"
	"github.com/steveyegge/swarm/internal/loadprofile"
	"github.com/steveyegge/swarm/internal/protocol"
	"github.com/steveyegge/swarm/internal/shell"
	"github.com/steveyegge/swarm/internal/store"
	"github.com/steveyegge/swarm/internal/util"
)

// MaxRegisterCount caps how many agents one register call may create.
const MaxRegisterCount = 100

// DefaultLockTTLMS is the resource lock lease when ttl_ms is omitted.
const DefaultLockTTLMS = 60_000

// resolveCount picks the agent count: explicit input, then the config
// file, then the default. An explicit zero, negative, or non-integer count
// resolves to 0 so callers reject it.
func resolveCount(req *protocol.Request, cfg config.Config) uint32 {
	if _, present := req.Args["count"]; present {
		n, ok := req.IntArg("count")
		if !ok || n < 0 {
			return 0
		}
		return uint32(n)
	}
	if cfg.MaxAgents > 0 {
		return cfg.MaxAgents
	}
	return config.DefaultMaxAgents
}

func handleRegister(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	count := resolveCount(req, cfg)
	if count == 0 {
		return protocol.Error(req.RID, protocol.CodeInvalid, "count must be at least 1").
			WithFix(`Example: {"cmd":"register","count":5}`).
			WithCtx(map[string]any{"count": count})
	}
	if count > MaxRegisterCount {
		return protocol.Error(req.RID, protocol.CodeInvalid,
			fmt.Sprintf("count %d exceeds the maximum of %d", count, MaxRegisterCount)).
			WithFix(fmt.Sprintf(`Example: {"cmd":"register","count":%d}`, MaxRegisterCount)).
			WithCtx(map[string]any{"count": count, "max": MaxRegisterCount})
	}

	repo, envErr := d.requireRepo(req)
	if envErr != nil {
		return envErr
	}
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	if err := sess.db.RegisterRepo(ctx, repo, repo.Value(), d.Root); err != nil {
		return storeError(req.RID, err)
	}
	for n := uint32(1); n <= count; n++ {
		if err := sess.db.RegisterAgent(ctx, ids.NewAgentID(repo, n)); err != nil {
			return storeError(req.RID, err)
		}
	}
	if err := sess.db.UpsertSwarmConfig(ctx, store.SwarmConfigRow{
		Repo:                      repo.Value(),
		MaxAgents:                 count,
		MaxImplementationAttempts: cfg.MaxImplementationAttempts,
		ClaimLabel:                cfg.ClaimLabel,
		SwarmStatus:               "registered",
	}); err != nil {
		return storeError(req.RID, err)
	}

	env := protocol.SuccessValue(req.RID, map[string]any{
		"repo":  repo.Value(),
		"count": count,
	}).WithNext("claim-next")
	return withState(ctx, env, sess.db, repo)
}

// requireRepo resolves the repo scope but, unlike repoID, refuses to fall
// back to "local": registration binds agents to a real repository.
func (d *Dispatcher) requireRepo(req *protocol.Request) (ids.RepoID, *protocol.Envelope) {
	if v, ok := req.StringArg("repo_id"); ok && v != "" {
		return ids.NewRepoID(v), nil
	}
	repo, ok := ids.RepoIDFromCurrentDir()
	if !ok {
		return ids.RepoID{}, protocol.Error(req.RID, protocol.CodeInvalid,
			"not inside a git repository").
			WithFix("Run from a git checkout or pass repo_id explicitly")
	}
	return repo, nil
}

func handleInit(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	path := config.Path(d.Root)
	force, _ := req.BoolArg("force")
	if _, err := os.Stat(path); err == nil && !force {
		return protocol.Error(req.RID, protocol.CodeExists,
			path+" already exists").
			WithFix(`Pass {"force":true} to overwrite`)
	}

	cfg := config.Default()
	cfg.StageCommands = map[string]string{
		"rust-contract": "moon run contract -- {bead_id}",
		"implement":     "moon run implement -- {bead_id} {agent_id}",
		"qa-enforcer":   "moon run qa -- {bead_id}",
		"red-queen":     "moon run red-queen -- {bead_id}",
	}
	if err := config.Save(d.Root, cfg); err != nil {
		return protocol.Error(req.RID, protocol.CodeInternal, err.Error()).
			WithFix("Check directory permissions for " + filepath.Dir(path))
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"path":    path,
		"created": true,
	}).WithNext("init-db")
}

func handleInitDB(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	var sess *session
	if url, ok := req.StringArg("url"); ok && url != "" {
		db, err := store.Open(ctx, url, config.ConnectTimeoutMS(nil))
		if err != nil {
			return protocol.Error(req.RID, protocol.CodeInternal,
				fmt.Sprintf("connect %s: %v", config.MaskDatabaseURL(url), err)).
				WithFix("Check the url argument")
		}
		sess = &session{db: db, url: url}
	} else {
		var envErr *protocol.Envelope
		sess, envErr = d.openSession(ctx, req)
		if envErr != nil {
			return envErr
		}
	}
	defer sess.close()

	if err := sess.db.InitSchema(ctx); err != nil {
		return storeError(req.RID, err)
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"tables": store.TableNames(),
	}).WithNext("register")
}

// localDBContainer is the docker container name for the dev database.
const localDBContainer = "swarm-postgres"

func handleInitLocalDB(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	// Two concurrent invocations must not race container creation.
	lock := flock.New(filepath.Join(os.TempDir(), "swarm-init-local-db.lock"))
	if err := lock.Lock(); err != nil {
		return protocol.Error(req.RID, protocol.CodeInternal,
			fmt.Sprintf("acquire bootstrap lock: %v", err)).
			WithFix("Check permissions on " + os.TempDir())
	}
	defer lock.Unlock()

	command := fmt.Sprintf(
		"docker run -d --name %s -e POSTGRES_USER=shitty_swarm_manager -e POSTGRES_PASSWORD=swarm -e POSTGRES_DB=swarm -p 5437:5432 postgres:16",
		localDBContainer)
	capture, err := shell.Run(ctx, command, 60*time.Second)
	if err != nil {
		return protocol.Error(req.RID, protocol.CodeDependency,
			fmt.Sprintf("docker: %v", err)).
			WithFix("Install docker or point DATABASE_URL at an existing postgres")
	}
	if capture.ExitCode != 0 && !strings.Contains(capture.Stderr, "already in use") {
		return protocol.Error(req.RID, protocol.CodeDependency,
			"docker run failed: "+strings.TrimSpace(capture.Stderr)).
			WithFix("Remove a stale container with 'docker rm -f " + localDBContainer + "'")
	}

	url := config.ComputedDefaultDatabaseURL()
	db, err := util.Retry(ctx, util.RetryConfig{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		IsRetryable:  func(error) bool { return true },
	}, func() (*store.DB, error) {
		return store.Open(ctx, url, config.ConnectTimeoutMS(nil))
	})
	if err != nil {
		return protocol.Error(req.RID, protocol.CodeInternal,
			fmt.Sprintf("postgres did not come up: %v", err)).
			WithFix("Check 'docker logs " + localDBContainer + "'")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		return storeError(req.RID, err)
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"container": localDBContainer,
		"url":       config.MaskDatabaseURL(url),
	}).WithNext("register")
}

// handleBootstrap is init + init-db + register as one saga. Each step's
// failure envelope is returned as-is so the caller sees where it stopped.
func handleBootstrap(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	var steps []string

	if _, err := os.Stat(config.Path(d.Root)); os.IsNotExist(err) {
		if env := handleInit(ctx, d, req); !env.OK {
			return env
		}
		steps = append(steps, "init")
	} else {
		steps = append(steps, "init (already present)")
	}

	if env := handleInitDB(ctx, d, req); !env.OK {
		return env
	}
	steps = append(steps, "init-db")

	env := handleRegister(ctx, d, req)
	if !env.OK {
		return env
	}
	steps = append(steps, "register")

	return protocol.SuccessValue(req.RID, map[string]any{
		"steps": steps,
	}).WithNext("claim-next")
}

// promptTemplate renders one agent's marching orders.
var promptTemplate = template.Must(template.New("prompt").Parse(
	`You are swarm agent {{.Agent}} working on repository {{.Repo}}.

Claim beads labeled "{{.ClaimLabel}}" one at a time and drive each through
the pipeline: rust-contract, implement, qa-enforcer, red-queen.

Rules:
- Work only in your own workspace, agent-{{.Num}}-<bead>.
- Push your branch before declaring a bead done; unpushed work does not count.
- On a failed stage, read the retry packet before trying again.
- After {{.MaxAttempts}} failed attempts the bead is blocked; move on.
`))

type promptData struct {
	Agent       string
	Repo        string
	Num         uint32
	ClaimLabel  string
	MaxAttempts uint32
}

func renderPrompt(cfg config.Config, agentID ids.AgentID) (string, error) {
	var sb strings.Builder
	err := promptTemplate.Execute(&sb, promptData{
		Agent:       agentID.String(),
		Repo:        agentID.Repo.Value(),
		Num:         agentID.Num,
		ClaimLabel:  cfg.ClaimLabel,
		MaxAttempts: cfg.MaxImplementationAttempts,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt for %s: %w", agentID, err)
	}
	return sb.String(), nil
}

func handlePrompt(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	agentID, envErr := requireAgent(req, "agent_id")
	if envErr != nil {
		return envErr
	}
	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	prompt, err := renderPrompt(cfg, agentID)
	if err != nil {
		return protocol.Error(req.RID, protocol.CodeInternal, err.Error()).
			WithFix("Report this; the prompt template failed to render")
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"agent":  agentID.String(),
		"prompt": prompt,
	})
}

func handleSpawnPrompts(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}
	count := resolveCount(req, cfg)
	if count == 0 || count > MaxRegisterCount {
		return protocol.Error(req.RID, protocol.CodeInvalid,
			fmt.Sprintf("count must be between 1 and %d", MaxRegisterCount)).
			WithFix(`Example: {"cmd":"spawn-prompts","count":5}`)
	}

	repo, envErr := d.requireRepo(req)
	if envErr != nil {
		return envErr
	}
	dir, ok := req.StringArg("dir")
	if !ok || dir == "" {
		dir = filepath.Join(d.Root, config.ConfigDir, "prompts")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return protocol.Error(req.RID, protocol.CodeInternal,
			fmt.Sprintf("create %s: %v", dir, err)).
			WithFix("Check directory permissions")
	}

	var files []string
	for n := uint32(1); n <= count; n++ {
		agentID := ids.NewAgentID(repo, n)
		prompt, err := renderPrompt(cfg, agentID)
		if err != nil {
			return protocol.Error(req.RID, protocol.CodeInternal, err.Error()).
				WithFix("Report this; the prompt template failed to render")
		}
		path := filepath.Join(dir, fmt.Sprintf("agent-%d.md", n))
		if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
			return protocol.Error(req.RID, protocol.CodeInternal,
				fmt.Sprintf("write %s: %v", path, err)).
				WithFix("Check directory permissions")
		}
		files = append(files, path)
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"dir":   dir,
		"files": files,
	})
}

// handleSmoke runs an end-to-end self-check against a throwaway repo id:
// register, enqueue, claim, release. Nothing it creates collides with real
// swarm state.
func handleSmoke(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	repo := ids.NewRepoID("smoke-" + uuid.NewString())
	agentID := ids.NewAgentID(repo, 1)
	bead, _ := ids.NewBeadID("smoke-bead-" + uuid.NewString())

	var steps []string
	fail := func(step string, err error) *protocol.Envelope {
		return protocol.Error(req.RID, protocol.CodeInternal,
			fmt.Sprintf("smoke step %s: %v", step, err)).
			WithFix("Run 'doctor' to diagnose the environment").
			WithCtx(map[string]any{"completed": steps, "failed": step})
	}

	if err := sess.db.InitSchema(ctx); err != nil {
		return fail("schema", err)
	}
	steps = append(steps, "schema")
	if err := sess.db.RegisterRepo(ctx, repo, repo.Value(), ""); err != nil {
		return fail("register-repo", err)
	}
	if err := sess.db.RegisterAgent(ctx, agentID); err != nil {
		return fail("register-agent", err)
	}
	steps = append(steps, "register")
	if err := sess.db.EnqueueBead(ctx, repo, bead); err != nil {
		return fail("enqueue", err)
	}
	steps = append(steps, "enqueue")

	claim, err := sess.db.ClaimNext(ctx, agentID, 3, store.DefaultLeaseExtensionMS)
	if err != nil {
		return fail("claim", err)
	}
	if claim == nil || claim.Bead != bead.Value() {
		return fail("claim", fmt.Errorf("expected to claim %s, got %v", bead, claim))
	}
	steps = append(steps, "claim")

	released, err := sess.db.ReleaseClaim(ctx, agentID)
	if err != nil {
		return fail("release", err)
	}
	if released == nil || *released != bead.Value() {
		return fail("release", fmt.Errorf("expected to release %s, got %v", bead, released))
	}
	steps = append(steps, "release")

	return protocol.SuccessValue(req.RID, map[string]any{
		"repo":   repo.Value(),
		"steps":  steps,
		"passed": true,
	})
}

func handleLock(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	resource, envErr := requireString(req, "resource", `{"cmd":"lock","resource":"deploy","agent":"myrepo-1"}`)
	if envErr != nil {
		return envErr
	}
	holder, envErr := requireString(req, "agent", `{"cmd":"lock","resource":"deploy","agent":"myrepo-1"}`)
	if envErr != nil {
		return envErr
	}
	ttlMS := int64(DefaultLockTTLMS)
	if v, ok := req.UintArg("ttl_ms"); ok && v > 0 {
		ttlMS = int64(v)
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	until, err := sess.db.AcquireLock(ctx, resource, holder, ttlMS)
	if err != nil {
		return storeError(req.RID, err)
	}
	if until == nil {
		return protocol.Error(req.RID, protocol.CodeBusy,
			fmt.Sprintf("resource %s is locked", resource)).
			WithFix("Wait for the lease to expire or pick another resource").
			WithCtx(map[string]string{"resource": resource})
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"resource": resource,
		"agent":    holder,
		"until_ms": *until,
	})
}

func handleUnlock(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	resource, envErr := requireString(req, "resource", `{"cmd":"unlock","resource":"deploy","agent":"myrepo-1"}`)
	if envErr != nil {
		return envErr
	}
	holder, envErr := requireString(req, "agent", `{"cmd":"unlock","resource":"deploy","agent":"myrepo-1"}`)
	if envErr != nil {
		return envErr
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	released, err := sess.db.Unlock(ctx, resource, holder)
	if err != nil {
		return storeError(req.RID, err)
	}
	return protocol.SuccessValue(req.RID, map[string]any{
		"resource": resource,
		"released": released,
	})
}

func handleBroadcast(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	msg, envErr := requireString(req, "msg", `{"cmd":"broadcast","msg":"pause work","from":"operator"}`)
	if envErr != nil {
		return envErr
	}
	from, envErr := requireString(req, "from", `{"cmd":"broadcast","msg":"pause work","from":"operator"}`)
	if envErr != nil {
		return envErr
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	repo := d.repoID(req)
	delivered, err := sess.db.WriteBroadcast(ctx, repo, from, msg)
	if err != nil {
		return storeError(req.RID, err)
	}
	env := protocol.SuccessValue(req.RID, map[string]any{
		"delivered_to": delivered,
	})
	return withState(ctx, env, sess.db, repo)
}

func handleLoadProfile(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	agents, envErr := intArg(req, "agents", 10)
	if envErr != nil {
		return envErr
	}
	rounds, envErr := intArg(req, "rounds", 3)
	if envErr != nil {
		return envErr
	}
	if agents <= 0 || rounds <= 0 {
		return protocol.Error(req.RID, protocol.CodeInvalid,
			"agents and rounds must be at least 1").
			WithFix(`Example: {"cmd":"load-profile","agents":10,"rounds":3}`)
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	if err := sess.db.InitSchema(ctx); err != nil {
		return storeError(req.RID, err)
	}

	timeoutMS := uint64(0)
	if v, ok := req.UintArg("timeout_ms"); ok {
		timeoutMS = v
	}
	report, err := loadprofile.Run(ctx, sess.db, loadprofile.Params{
		Repo:          ids.NewRepoID("load-" + uuid.NewString()),
		Agents:        uint32(agents),
		Rounds:        uint32(rounds),
		CallTimeoutMS: timeoutMS,
	})
	if err != nil {
		return storeError(req.RID, err)
	}

	sess.db.SetPoolLimits(report.Recommendation.MaxConnections, report.Recommendation.MaxConnections/2)
	return protocol.SuccessValue(req.RID, report)
}
