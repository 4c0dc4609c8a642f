// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for modkit.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/modkit/modkit/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modkit",
		Short: "Module bootstrap and deployment orchestration",
		Long: TitleStyle.Render("modkit") + SubtitleStyle.Render(" - module bootstrap and deployment orchestration") + `

modkit preprocesses deployment trees: it discovers module descriptors,
resolves their requirements, runs install actions and merges template
contributions. It then boots a kernel that installs modules from
watched directories and drives them through their lifecycle.

` + SubtitleStyle.Render("Examples:") + `
  modkit preprocess ./deploy          Preprocess a deployment tree
  modkit modules ./deploy             List modules without changing anything
  modkit run ./mods --watch           Run a kernel over watched module directories
  modkit config show                  Show the effective configuration`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/modkit/config.cue)")

	rootCmd.AddCommand(
		newPreprocessCommand(app),
		newModulesCommand(app),
		newRunCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process. It is called by main.main().
func Execute() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		return 1
	}
	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	if err := fang.Execute(
		ctx,
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(app.handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return 1
	}
	return 0
}

// handleError renders command errors. Actionable errors show their
// suggestions, and in verbose mode the linked catalog guidance.
func (app *App) handleError(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		fang.DefaultErrorHandler(w, styles, err)
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, app.verbose))
	if g := ae.Guidance(); g != nil && app.verbose {
		if rendered, renderErr := g.Render(""); renderErr == nil {
			fmt.Fprint(w, rendered)
		}
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
