package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/dispatch"
	"github.com/steveyegge/swarm/internal/exitcode"
	"github.com/steveyegge/swarm/internal/protocol"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	repoID      string
	databaseURL string
	jsonOutput  bool
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   Name(),
		Short: "Multi-agent bead swarm orchestrator",
		Long: Name() + ` drives a swarm of agents through the bead pipeline.

Run without a subcommand to speak the line-delimited JSON protocol on
stdin/stdout. Every protocol command is also available as a subcommand.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDispatcher()
			return d.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	root.PersistentFlags().StringVar(&opts.repoID, "repo-id", "", "repository scope (default: enclosing git repo)")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "postgres URL (default: resolved candidates)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "always print raw JSON envelopes")

	for _, spec := range commandSpecs() {
		root.AddCommand(buildCommand(opts, spec))
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Name(), err)
		return exitcode.Code(err)
	}
	return lastExitCode
}

// lastExitCode carries the envelope-derived code out of cobra's RunE,
// which only returns errors.
var lastExitCode int

func newDispatcher() *dispatch.Dispatcher {
	root, err := os.Getwd()
	if err != nil {
		root = "."
	}
	return dispatch.New(root)
}

// runRequest dispatches one request in-process, prints the reply, and
// records the exit code. Exit 0 is returned only for ok envelopes.
func runRequest(ctx context.Context, opts *rootOptions, req map[string]any) *protocol.Envelope {
	if opts.repoID != "" {
		req["repo_id"] = opts.repoID
	}
	if opts.databaseURL != "" {
		req["database_url"] = opts.databaseURL
	}
	line, err := json.Marshal(req)
	if err != nil {
		lastExitCode = exitcode.ErrSerialization
		fmt.Fprintf(os.Stderr, "%s: encode request: %v\n", Name(), err)
		return nil
	}

	env := newDispatcher().Dispatch(ctx, line)
	lastExitCode = envelopeExitCode(env)
	return env
}

// envelopeExitCode maps wire error codes to process exit codes.
func envelopeExitCode(env *protocol.Envelope) int {
	if env.OK {
		return exitcode.Success
	}
	if env.Err == nil {
		return exitcode.ErrInternal
	}
	switch env.Err.Code {
	case protocol.CodeInvalid, protocol.CodeExists:
		return exitcode.ErrConfig
	case protocol.CodeTimeout:
		return exitcode.ErrDatabase
	case protocol.CodeBusy:
		return exitcode.ErrAgent
	case protocol.CodeNotFound, protocol.CodeConflict:
		return exitcode.ErrBead
	case protocol.CodeDependency:
		return exitcode.ErrIO
	default:
		return exitcode.ErrInternal
	}
}

// printEnvelope writes the reply: raw JSON in json mode or for pipes,
// styled tables on a terminal where a renderer exists.
func printEnvelope(opts *rootOptions, cmdName string, env *protocol.Envelope) error {
	if env == nil {
		return nil
	}
	if !opts.jsonOutput {
		if rendered, ok := renderHuman(cmdName, env); ok {
			fmt.Print(rendered)
			return nil
		}
	}
	out, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
