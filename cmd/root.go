// Package cmd contains the CLI commands for the assembler.
package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/agentic-research/assembler/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"

	verbose    bool
	configPath string

	rootCmd = &cobra.Command{
		Use:   "assembler",
		Short: "Assemble an application and its addons into a build tree",
		Long: `assembler composes an application's source trees and those of its addons
into one output tree: app and addon modules under their namespaces, vendor
imports, styles, public assets, the index page and the test harness.

Build options are read from ember-cli-build.hcl in the project root, then
EMBER_ENV and EMBER_CLI_TEST_COMMAND, then command line flags.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "environment config, relative to the project root (default config/environment.json)")
}

// newLogger writes to stderr. --verbose turns on per-stage and per-tree
// debug output.
func newLogger(w io.Writer, prefix string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: prefix})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler),
	); err != nil {
		os.Exit(1)
	}
}

// errorHandler prints actionable errors with their suggestions, and the
// error chain when --verbose is set.
func errorHandler(w io.Writer, styles fang.Styles, err error) {
	fang.DefaultErrorHandler(w, styles, errors.New(issue.Format(err, verbose)))
}
