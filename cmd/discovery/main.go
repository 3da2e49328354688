// Command discovery is the command-line client of the discovery engine.
package main

import (
	"github.com/turtacn/discovery-engine/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	cli.Main()
}
