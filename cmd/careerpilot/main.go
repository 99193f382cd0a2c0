// Package main is the entry point for the careerpilot CLI.
package main

import (
	"os"

	"github.com/careerpilot/careerpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
