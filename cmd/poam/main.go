// Command poam proves, chains, composes and verifies rounds of computation
// under ordering and cardinality rules.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/poam/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
