// Package main is the entry point for spoolctl, the operator CLI for the
// call spool.
package main

import (
	"os"

	"callspool/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
