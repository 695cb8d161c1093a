// Package main is the entry point for hindsightd, the memory engine daemon.
package main

import (
	"fmt"
	"os"

	"github.com/hindsight-ai/hindsight-go/cmd/hindsightd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
