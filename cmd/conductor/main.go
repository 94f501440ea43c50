// Command conductor is the orchestrator's entry point: it delegates
// entirely to internal/cli, which builds the cobra command tree and the
// shared dependencies (config, logger, repository) each subcommand needs.
package main

import (
	"os"

	"github.com/pivotloop/conductor/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:]))
}
