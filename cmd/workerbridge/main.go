// Command workerbridge runs a worker process behind the bridge and exposes
// it on the terminal: each stdin line is sent as a command, and every event
// is printed to stdout as one JSON line.
package main

import (
	"fmt"
	"os"

	"github.com/wagiedev/workerbridge/internal/cli"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd := cli.NewRootCommand(fmt.Sprintf("%s (commit: %s)", version, commit))

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
