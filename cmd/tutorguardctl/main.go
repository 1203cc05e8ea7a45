// Package main provides tutorguardctl, the operator CLI for tutorguard.
package main

import (
	"fmt"
	"os"

	"github.com/tutorstack/tutorguard/internal/cli"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
