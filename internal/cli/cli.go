// Package cli is the cobra facade over the protocol: every protocol
// command is mirrored as a flag-parsed subcommand that dispatches
// in-process and prints the response envelope.
package cli

import (
	"os"
	"sync"
)

var (
	nameOnce sync.Once
	name     string
)

// Name returns the CLI binary name for help text and error messages.
// SWARM_COMMAND overrides it for wrapper scripts.
func Name() string {
	nameOnce.Do(func() {
		name = os.Getenv("SWARM_COMMAND")
		if name == "" {
			name = "swarm"
		}
	})
	return name
}
