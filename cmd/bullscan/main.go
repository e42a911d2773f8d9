package main

import (
	"os"

	"github.com/wonny/bullscan/cmd/bullscan/commands"
)

// main is the entry point for the bullscan CLI: go run ./cmd/bullscan [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
