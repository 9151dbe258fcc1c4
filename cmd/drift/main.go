// Package main provides the drift CLI entry point.
// Drift is an offline-first chat client state engine.
package main

import (
	"fmt"
	"os"

	"github.com/driftchat/drift/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
