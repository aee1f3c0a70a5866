// Package main provides the entry point for the loreweave CLI.
package main

import (
	"os"

	"github.com/loreweave/loreweave/cmd/loreweave/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
