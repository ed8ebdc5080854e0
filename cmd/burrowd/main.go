// Package main is the entry point for the burrow server.
package main

import (
	"os"

	"github.com/burrowai/burrow/cmd/burrowd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
