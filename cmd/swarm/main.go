// swarm is the bead-swarm orchestrator CLI and protocol server.
package main

import (
	"os"

	"github.com/steveyegge/swarm/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
