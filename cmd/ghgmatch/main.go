// Package main provides the entry point for the ghgmatch CLI.
package main

import (
	"os"

	"github.com/ghgmatch/core/cmd/ghgmatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
