// Package main provides the entry point for the sourcecolon CLI.
package main

import (
	"os"

	"github.com/sourcecolon/sourcecolon/cmd/sourcecolon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
