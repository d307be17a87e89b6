// Package main is the entry point for the branchenv CLI.
//
// branchenv provisions an isolated, namespace-scoped environment for every
// source branch of a repository and tears it down when the branch goes away.
// Environments are driven from the command line or by GitHub webhooks
// (branchenv serve).
//
// For detailed usage information, run:
//
//	branchenv --help
package main

import (
	"fmt"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/imamik/branchenv/cmd/branchenv/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	opts := zap.Options{
		Development: os.Getenv("DEBUG") == "true",
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
