// Package main provides the entry point for the docengine CLI.
package main

import (
	"os"

	"github.com/hybridsearch/docengine/cmd/docengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
