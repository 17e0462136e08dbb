// Package main is tcctl, the command-line control surface for the
// Transaction Coordinator daemon: status, abort-session, and show-lock
// (§6). Grounded on internal/infrastructure/migrations's CLI/cobra
// subcommand shape, adapted from a migration tool to an HTTP client
// talking to tcd's admin surface.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cli := NewCLI(os.Getenv("TC_LISTEN_ADDR"))
	if err := cli.GetRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a command error to the §6 exit-code contract: 1 for
// invalid arguments, 2 for RPC failure talking to tcd.
func exitCodeFor(err error) int {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return 2
	}
	return 1
}
