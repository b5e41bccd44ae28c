// Command strata inspects and checks strata graph stores.
//
// Usage:
//
//	strata [flags] <command> [args]
//
// Commands:
//
//	validate  - Load a schema and optionally validate a snapshot against it
//	replay    - Replay the stored event log and verify determinism
//	diff      - Structural diff between two snapshots or stored versions
//	test      - Run YAML scenarios, with golden trace comparison
//	log       - Show stored versions and branches
//	find      - Query the records of a stored version
package main

import (
	"fmt"
	"os"

	"github.com/roach88/strata/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
