// Package main provides the CLI for LeapPlan.
package main

import (
	"os"

	"github.com/leapstack-labs/leapplan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
