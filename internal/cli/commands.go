package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// flagKind selects how a flag value lands in the request.
type flagKind int

const (
	flagString flagKind = iota
	flagUint
	flagBool
)

type flagSpec struct {
	name  string
	kind  flagKind
	usage string
}

// cmdSpec mirrors one protocol command as a subcommand.
type cmdSpec struct {
	name    string
	summary string
	flags   []flagSpec
	watch   bool // monitor only: re-poll on a terminal
}

func commandSpecs() []cmdSpec {
	agentID := flagSpec{"agent-id", flagString, "agent address, e.g. myrepo-1"}
	beadID := flagSpec{"bead-id", flagString, "bead identifier"}
	limit := flagSpec{"limit", flagUint, "maximum rows to return"}
	count := flagSpec{"count", flagUint, "number of agents"}

	return []cmdSpec{
		{name: "help-commands", summary: "list protocol commands with summaries"},
		{name: "doctor", summary: "check git, config, database, and bead binaries"},
		{name: "status", summary: "swarm progress counters", flags: []flagSpec{limit}},
		{name: "state", summary: "full swarm snapshot", flags: []flagSpec{limit}},
		{name: "agents", summary: "list agents and resource locks"},
		{name: "history", summary: "command audit log", flags: []flagSpec{limit}},
		{name: "next", summary: "recommend the next ready bead"},
		{name: "claim-next", summary: "claim the oldest backlog bead",
			flags: []flagSpec{agentID, {"timeout-ms", flagUint, "claim call timeout"}}},
		{name: "assign", summary: "assign a bead to an agent", flags: []flagSpec{beadID, agentID}},
		{name: "run-once", summary: "run one orchestration tick", flags: []flagSpec{agentID}},
		{name: "qa", summary: "run qa-enforcer for a bead", flags: []flagSpec{beadID}},
		{name: "resume", summary: "list resumable bead contexts"},
		{name: "resume-context", summary: "deep context for a bead, with retry packet", flags: []flagSpec{beadID}},
		{name: "artifacts", summary: "list stage artifacts for a bead",
			flags: []flagSpec{beadID, {"stage", flagString, "filter by stage"}, {"artifact-type", flagString, "filter by artifact type"}, limit}},
		{name: "agent", summary: "run an agent loop until idle or completed",
			flags: []flagSpec{{"id", flagString, "agent address, e.g. myrepo-1"}}},
		{name: "register", summary: "register the repo and N agents", flags: []flagSpec{count}},
		{name: "release", summary: "release an agent's claim", flags: []flagSpec{agentID}},
		{name: "monitor", summary: "live views of the swarm", watch: true,
			flags: []flagSpec{{"view", flagString, "active, progress, failures, events, or messages"}, limit}},
		{name: "init", summary: "write a config skeleton",
			flags: []flagSpec{{"force", flagBool, "overwrite an existing config"}}},
		{name: "init-db", summary: "apply the schema",
			flags: []flagSpec{{"url", flagString, "postgres URL to initialize"}}},
		{name: "init-local-db", summary: "start a local postgres container"},
		{name: "bootstrap", summary: "init + init-db + register", flags: []flagSpec{count}},
		{name: "spawn-prompts", summary: "write per-agent prompt files",
			flags: []flagSpec{count, {"dir", flagString, "output directory"}}},
		{name: "prompt", summary: "render one agent's prompt", flags: []flagSpec{agentID}},
		{name: "smoke", summary: "end-to-end self-check"},
		{name: "lock", summary: "acquire a resource lock",
			flags: []flagSpec{{"resource", flagString, "resource name"}, {"agent", flagString, "lock-holding agent"}, {"ttl-ms", flagUint, "lease duration"}}},
		{name: "unlock", summary: "release a resource lock",
			flags: []flagSpec{{"resource", flagString, "resource name"}, {"agent", flagString, "lock-holding agent"}}},
		{name: "broadcast", summary: "message every active agent",
			flags: []flagSpec{{"msg", flagString, "message body"}, {"from", flagString, "sender name"}}},
		{name: "load-profile", summary: "profile concurrent claims",
			flags: []flagSpec{{"agents", flagUint, "concurrent agents"}, {"rounds", flagUint, "claim rounds"}, {"timeout-ms", flagUint, "per-call timeout"}}},
	}
}

// protocolName maps subcommand names back to wire command names.
func protocolName(sub string) string {
	if sub == "help-commands" {
		return "?"
	}
	return sub
}

// flagArgName converts a kebab-case flag to the wire argument name.
func flagArgName(flag string) string {
	out := make([]byte, len(flag))
	for i := 0; i < len(flag); i++ {
		if flag[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = flag[i]
		}
	}
	return string(out)
}

func buildCommand(opts *rootOptions, spec cmdSpec) *cobra.Command {
	strings := map[string]*string{}
	uints := map[string]*uint64{}
	bools := map[string]*bool{}
	var dry, watch bool

	cmd := &cobra.Command{
		Use:   spec.name,
		Short: spec.summary,
		RunE: func(cmd *cobra.Command, args []string) error {
			build := func() map[string]any {
				req := map[string]any{"cmd": protocolName(spec.name)}
				if dry {
					req["dry"] = true
				}
				for flag, value := range strings {
					if cmd.Flags().Changed(flag) {
						req[flagArgName(flag)] = *value
					}
				}
				for flag, value := range uints {
					if cmd.Flags().Changed(flag) {
						req[flagArgName(flag)] = *value
					}
				}
				for flag, value := range bools {
					if cmd.Flags().Changed(flag) {
						req[flagArgName(flag)] = *value
					}
				}
				return req
			}

			if watch {
				return watchLoop(cmd, opts, spec.name, build)
			}
			env := runRequest(cmd.Context(), opts, build())
			return printEnvelope(opts, spec.name, env)
		},
	}

	for _, f := range spec.flags {
		switch f.kind {
		case flagString:
			var v string
			strings[f.name] = &v
			cmd.Flags().StringVar(&v, f.name, "", f.usage)
		case flagUint:
			var v uint64
			uints[f.name] = &v
			cmd.Flags().Uint64Var(&v, f.name, 0, f.usage)
		case flagBool:
			var v bool
			bools[f.name] = &v
			cmd.Flags().BoolVar(&v, f.name, false, f.usage)
		}
	}
	cmd.Flags().BoolVar(&dry, "dry", false, "plan only, change nothing")
	if spec.watch {
		cmd.Flags().BoolVar(&watch, "watch", false, "re-poll every 2s until interrupted")
	}
	return cmd
}

// watchLoop re-polls a view until the context is cancelled.
func watchLoop(cmd *cobra.Command, opts *rootOptions, name string, build func() map[string]any) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		env := runRequest(cmd.Context(), opts, build())
		if err := printEnvelope(opts, name, env); err != nil {
			return err
		}
		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}
