package main

import (
	"fmt"
	"os"

	"evalgo.org/fastvm/internal/commands"
	"evalgo.org/fastvm/internal/version"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// @title fastvm API
// @version 1.0
// @description Single-host virtual machine orchestration: VM lifecycle, volumes, snapshots, consoles and telemetry.
// @BasePath /
func main() {
	version.Version = Version
	version.BuildTime = BuildTime
	version.GitCommit = GitCommit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
