package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	version     = "dev"
	buildCommit = ""
	buildTime   = ""
)

func main() {
	err := newRootCmd().Execute()
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(2)
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

func (e exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fast-security-server",
		Short: "WebRTC signaling relay and SOS intake for Fast Security clients",
		// Flags are parsed by config.Load so env and flags share one
		// precedence order; cobra only dispatches.
		DisableFlagParsing: true,
		Args:               cobra.ArbitraryArgs,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), args)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:                "serve",
		Short:              "Run the HTTP and WebSocket server (default)",
		DisableFlagParsing: true,
		Args:               cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			b := resolveBuildInfo(version, buildCommit, buildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "fast-security-server %s (commit %s, built %s)\n", b.Version, orUnknown(b.Commit), orUnknown(b.BuildTime))
		},
	})

	return root
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
