package dispatch

import (
	"context"
	"fmt"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/doctor"
	"github.com/steveyegge/swarm/internal/protocol"
	"github.com/steveyegge/swarm/internal/store"
)

// commandSummaries are the one-liners behind ? and help.
var commandSummaries = map[string]string{
	"?":              "list supported commands",
	"help":           "list supported commands",
	"doctor":         "check git, config, database, and bead binaries",
	"status":         "swarm progress counters and runtime config",
	"state":          "full snapshot: agents, resources, health, config",
	"agents":         "list registered agents and active resource locks",
	"history":        "command audit log with aggregates",
	"next":           "recommend the next ready bead",
	"claim-next":     "atomically claim the oldest backlog bead",
	"assign":         "assign a specific bead to a specific agent",
	"run-once":       "run one orchestration tick for an agent",
	"qa":             "run the qa-enforcer stage for a bead",
	"resume":         "list resumable bead contexts",
	"resume-context": "deep context for a bead, with retry packet",
	"artifacts":      "list stage artifacts for a bead",
	"agent":          "run an agent loop until idle or completed",
	"register":       "register the repo and N agents",
	"release":        "release an agent's claim back to the backlog",
	"monitor":        "views: active, progress, failures, events, messages",
	"init":           "write a .swarm/config.toml skeleton",
	"init-db":        "apply the schema to the database",
	"init-local-db":  "start a local postgres container and apply schema",
	"bootstrap":      "init + init-db + register in one step",
	"spawn-prompts":  "write per-agent prompt files",
	"prompt":         "render one agent's prompt",
	"smoke":          "end-to-end self-check against a throwaway repo",
	"batch":          "run several requests in order",
	"lock":           "acquire a named resource lock",
	"unlock":         "release a named resource lock",
	"broadcast":      "message every active agent",
	"load-profile":   "profile concurrent claims and size the pool",
}

func handleHelp(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	type entry struct {
		Name    string `json:"name"`
		Summary string `json:"summary"`
	}
	var entries []entry
	for _, name := range protocol.Commands() {
		entries = append(entries, entry{Name: name, Summary: commandSummaries[name]})
	}
	return protocol.SuccessValue(req.RID, map[string]any{"commands": entries}).
		WithNext("status")
}

func handleDoctor(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	var explicit *uint64
	if timeout, ok := req.UintArg("connect_timeout_ms"); ok {
		explicit = &timeout
	}
	candidates := config.DatabaseURLCandidates(d.Root)
	if url, ok := req.StringArg("database_url"); ok && url != "" {
		candidates = append([]string{url}, candidates...)
	}

	report := doctor.Run(ctx, &doctor.CheckContext{
		Root:             d.Root,
		DBCandidates:     candidates,
		ConnectTimeoutMS: config.ConnectTimeoutMS(explicit),
	}, doctor.DefaultChecks())

	env := protocol.SuccessValue(req.RID, report)
	if !report.Healthy {
		env = env.WithNext("init-local-db")
	}
	return env
}

func handleStatus(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	repo := d.repoID(req)
	progress, err := sess.db.GetProgress(ctx, repo)
	if err != nil {
		return storeError(req.RID, err)
	}
	swarmCfg, err := sess.db.GetSwarmConfig(ctx, repo)
	if err != nil {
		return storeError(req.RID, err)
	}

	body := map[string]any{
		"repo": repo.Value(),
		"progress": map[string]int64{
			"idle":    progress.Idle,
			"working": progress.Working,
			"waiting": progress.Waiting,
			"error":   progress.Errors,
			"done":    progress.Done,
			"backlog": progress.Backlog,
		},
	}
	if swarmCfg != nil {
		body["config"] = map[string]any{
			"max_agents":                  swarmCfg.MaxAgents,
			"max_implementation_attempts": swarmCfg.MaxImplementationAttempts,
			"claim_label":                 swarmCfg.ClaimLabel,
			"swarm_status":                swarmCfg.SwarmStatus,
		}
	}
	return withState(ctx, protocol.SuccessValue(req.RID, body), sess.db, repo)
}

func handleState(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	repo := d.repoID(req)
	limit, envErr := intArg(req, "limit", 25)
	if envErr != nil {
		return envErr
	}

	rows, err := sess.db.ListAgents(ctx, repo)
	if err != nil {
		return storeError(req.RID, err)
	}
	truncated := false
	if len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}

	type agentView struct {
		ID       string  `json:"id"`
		Resource string  `json:"resource"`
		Status   string  `json:"status"`
		Bead     *string `json:"bead,omitempty"`
		Stage    *string `json:"stage,omitempty"`
	}
	agents := make([]agentView, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, agentView{
			ID:       fmt.Sprintf("%s-%d", row.Repo, row.Num),
			Resource: fmt.Sprintf("res_agent_%d", row.Num),
			Status:   row.Status,
			Bead:     row.Bead,
			Stage:    row.Stage,
		})
	}

	locks, err := sess.db.ListActiveLocks(ctx)
	if err != nil {
		return storeError(req.RID, err)
	}
	cfg, err := config.Load(d.Root)
	if err != nil {
		cfg = config.Default()
	}

	body := map[string]any{
		"repo":      repo.Value(),
		"agents":    agents,
		"resources": lockViews(locks),
		"health":    "ok",
		"config": map[string]any{
			"max_agents":                  cfg.MaxAgents,
			"max_implementation_attempts": cfg.MaxImplementationAttempts,
			"claim_label":                 cfg.ClaimLabel,
		},
		"warnings":  []string{},
		"truncated": truncated,
	}
	return withState(ctx, protocol.SuccessValue(req.RID, body), sess.db, repo)
}

func handleAgents(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	repo := d.repoID(req)
	rows, err := sess.db.ListAgents(ctx, repo)
	if err != nil {
		return storeError(req.RID, err)
	}
	locks, err := sess.db.ListActiveLocks(ctx)
	if err != nil {
		return storeError(req.RID, err)
	}

	type agentView struct {
		ID     string  `json:"id"`
		Status string  `json:"status"`
		Bead   *string `json:"bead,omitempty"`
		Stage  *string `json:"stage,omitempty"`
	}
	agents := make([]agentView, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, agentView{
			ID:     fmt.Sprintf("%s-%d", row.Repo, row.Num),
			Status: row.Status,
			Bead:   row.Bead,
			Stage:  row.Stage,
		})
	}
	body := map[string]any{"agents": agents, "locks": lockViews(locks)}
	return withState(ctx, protocol.SuccessValue(req.RID, body), sess.db, repo)
}

type lockView struct {
	Resource string `json:"resource"`
	Agent    string `json:"agent"`
	UntilMS  int64  `json:"until_ms"`
}

func lockViews(locks []store.LockRow) []lockView {
	views := make([]lockView, 0, len(locks))
	for _, l := range locks {
		views = append(views, lockView{Resource: l.Resource, Agent: l.Owner, UntilMS: l.UntilMS})
	}
	return views
}

func handleHistory(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	limit, envErr := intArg(req, "limit", 100)
	if envErr != nil {
		return envErr
	}
	if limit > 500 {
		limit = 500
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()
	rows, err := sess.db.CommandHistory(ctx, limit)
	if err != nil {
		return storeError(req.RID, err)
	}

	type auditView struct {
		Seq       int64   `json:"seq"`
		T         int64   `json:"t"`
		Cmd       string  `json:"cmd"`
		OK        bool    `json:"ok"`
		MS        int64   `json:"ms"`
		ErrorCode *string `json:"error_code,omitempty"`
	}
	var (
		views     []auditView
		succeeded int
		totalMS   int64
		errFreq   = map[string]int{}
	)
	for _, row := range rows {
		views = append(views, auditView{
			Seq: row.Seq, T: row.T, Cmd: row.Cmd, OK: row.OK, MS: row.MS, ErrorCode: row.ErrorCode,
		})
		if row.OK {
			succeeded++
		} else if row.ErrorCode != nil {
			errFreq[*row.ErrorCode]++
		}
		totalMS += row.MS
	}

	aggregates := map[string]any{
		"success_rate":     0.0,
		"avg_duration_ms":  0.0,
		"common_sequences": []string{},
		"error_frequency":  errFreq,
	}
	if len(rows) > 0 {
		aggregates["success_rate"] = float64(succeeded) / float64(len(rows))
		aggregates["avg_duration_ms"] = float64(totalMS) / float64(len(rows))
	}
	body := map[string]any{"entries": views, "aggregates": aggregates}
	return protocol.SuccessValue(req.RID, body)
}

func handleMonitor(ctx context.Context, d *Dispatcher, req *protocol.Request) *protocol.Envelope {
	limit, envErr := intArg(req, "limit", 50)
	if envErr != nil {
		return envErr
	}
	// The protocol surface renders once; the CLI owns the watch loop. A
	// negative interval is still a caller mistake worth rejecting here.
	if _, envErr := intArg(req, "watch_ms", 0); envErr != nil {
		return envErr
	}
	view, ok := req.StringArg("view")
	if !ok || view == "" {
		view = "active"
	}

	sess, envErr := d.openSession(ctx, req)
	if envErr != nil {
		return envErr
	}
	defer sess.close()

	repo := d.repoID(req)

	var body any
	switch view {
	case "active":
		rows, err := sess.db.ListAgents(ctx, repo)
		if err != nil {
			return storeError(req.RID, err)
		}
		type active struct {
			ID    string `json:"id"`
			Bead  string `json:"bead"`
			Stage string `json:"stage"`
		}
		var working []active
		for _, row := range rows {
			if row.Bead != nil && row.Stage != nil {
				working = append(working, active{
					ID:    fmt.Sprintf("%s-%d", row.Repo, row.Num),
					Bead:  *row.Bead,
					Stage: *row.Stage,
				})
			}
		}
		body = map[string]any{"view": view, "active": working}

	case "progress":
		progress, err := sess.db.GetProgress(ctx, repo)
		if err != nil {
			return storeError(req.RID, err)
		}
		body = map[string]any{
			"view":    view,
			"idle":    progress.Idle,
			"working": progress.Working,
			"waiting": progress.Waiting,
			"error":   progress.Errors,
			"done":    progress.Done,
			"backlog": progress.Backlog,
		}

	case "failures":
		events, err := sess.db.ListEvents(ctx, repo, limit)
		if err != nil {
			return storeError(req.RID, err)
		}
		var failures []store.EventRow
		for _, ev := range events {
			switch ev.Kind {
			case "blocked", "stage_retrying", "workspace_failed", "push_check_failed", "lease_lost":
				failures = append(failures, ev)
			}
		}
		body = map[string]any{"view": view, "failures": eventViews(failures)}

	case "events":
		events, err := sess.db.ListEvents(ctx, repo, limit)
		if err != nil {
			return storeError(req.RID, err)
		}
		body = map[string]any{"view": view, "events": eventViews(events)}

	case "messages":
		messages, err := sess.db.ListMessages(ctx, repo, limit)
		if err != nil {
			return storeError(req.RID, err)
		}
		type msgView struct {
			From string `json:"from"`
			Msg  string `json:"msg"`
			AtMS int64  `json:"at_ms"`
		}
		views := make([]msgView, 0, len(messages))
		for _, m := range messages {
			views = append(views, msgView{From: m.Sender, Msg: m.Body, AtMS: m.SentAtMS})
		}
		body = map[string]any{"view": view, "messages": views}

	default:
		return protocol.Error(req.RID, protocol.CodeInvalid,
			fmt.Sprintf("unknown monitor view %q", view)).
			WithFix("Valid views: active, progress, failures, events, messages").
			WithCtx(map[string]any{"view": view})
	}
	return withState(ctx, protocol.SuccessValue(req.RID, body), sess.db, repo)
}

type eventView struct {
	Kind   string  `json:"kind"`
	Agent  *uint32 `json:"agent,omitempty"`
	Bead   *string `json:"bead,omitempty"`
	Detail string  `json:"detail"`
	AtMS   int64   `json:"at_ms"`
}

func eventViews(events []store.EventRow) []eventView {
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView{
			Kind: ev.Kind, Agent: ev.AgentNum, Bead: ev.Bead, Detail: ev.Detail, AtMS: ev.AtMS,
		})
	}
	return views
}
