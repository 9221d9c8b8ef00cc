package main

import (
	"os"

	"github.com/wonny/cyclebot/cmd/cyclebot/commands"
)

// main is the entry point for the cyclebot CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/cyclebot [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
