// Command rollcall tracks camera attendance for a fixed roster.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rollcall/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rollcall:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
