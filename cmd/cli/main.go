// Package main is the entry point for the simwatch CLI.
// The CLI is the operator terminal tool for inspecting monitored
// simulations and replaying mailbox emails.
package main

import (
	"os"

	"simwatch/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
