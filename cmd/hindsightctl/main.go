// Package main is the entry point for hindsightctl, the embedded-mode CLI
// for the memory engine: it wires the same engine.Engine the daemon does,
// but with an inline task backend so the process can exit cleanly without
// an orphaned worker goroutine (spec.md §9).
package main

import (
	"fmt"
	"os"

	"github.com/hindsight-ai/hindsight-go/cmd/hindsightctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
