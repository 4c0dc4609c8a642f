// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"cmp"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/modkit/modkit/internal/issue"
	"github.com/modkit/modkit/internal/preprocess"

	"github.com/spf13/cobra"
)

type preprocessFlags struct {
	json   bool
	report string
	dryRun bool
	env    map[string]string
}

func newPreprocessCommand(app *App) *cobra.Command {
	var flags preprocessFlags
	cmd := &cobra.Command{
		Use:   "preprocess [dir]",
		Short: "Preprocess a deployment tree",
		Long: `Preprocess the container rooted at dir (default: preprocess.root).

Modules are discovered, resolved in requirement order, installed through
their install actions, and their template contributions are merged and
written. Nested containers are processed after their parent. Module-local
failures are reported and do not stop the pass; the command then exits
with status 1.

Examples:
  modkit preprocess ./deploy
  modkit preprocess ./deploy --report report.md
  modkit preprocess --json --env REGION=eu`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreprocess(cmd, app, args, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.json, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&flags.report, "report", "", "write a markdown report to this file (default: preprocess.report)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "scan and resolve without running actions or writing files")
	cmd.Flags().StringToStringVar(&flags.env, "env", nil, "seed the command context (KEY=VALUE)")
	return cmd
}

func runPreprocess(cmd *cobra.Command, app *App, args []string, flags preprocessFlags) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := app.logger(cfg)

	root := cfg.Preprocess.Root
	if len(args) > 0 {
		root = args[0]
	}
	env := maps.Clone(cfg.Preprocess.Env)
	if env == nil {
		env = map[string]string{}
	}
	maps.Copy(env, flags.env)

	p := preprocess.New(preprocess.Options{
		Env:    env,
		Ignore: cfg.Modules.Ignore,
		DryRun: flags.dryRun,
		Logger: logger,
		Stdout: app.stdout,
		Stderr: app.stderr,
	})
	report, err := p.Run(ctx, root)
	if err != nil {
		return err
	}

	reportPath := cmp.Or(flags.report, cfg.Preprocess.Report)
	if reportPath != "" {
		if err := os.WriteFile(reportPath, []byte(report.Markdown()), 0o644); err != nil {
			return issue.NewErrorContext().
				WithOperation("write preprocessing report").
				WithResource(reportPath).
				WithIssue(issue.OutputNotWritableId).
				Wrap(err).
				BuildError()
		}
		logger.Info("wrote report", "path", reportPath)
	}

	if flags.json {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(app.stdout, string(data))
	} else {
		renderReport(app, report)
	}

	if report.HasErrors() {
		return &ExitError{Code: 1}
	}
	return nil
}

// renderReport prints a compact, styled summary of the report tree.
func renderReport(app *App, report *preprocess.Report) {
	w := app.stdout
	report.Walk(func(r *preprocess.Report) {
		fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("container "+r.Container), SubtitleStyle.Render(r.Dir))
		if len(r.Resolved) > 0 {
			fmt.Fprintf(w, "  %s resolved: %s\n", SuccessStyle.Render("✓"), strings.Join(r.Resolved, ", "))
		} else {
			fmt.Fprintf(w, "  %s resolved: none\n", SubtitleStyle.Render("-"))
		}
		for _, name := range slices.Sorted(maps.Keys(r.Missing)) {
			fmt.Fprintf(w, "  %s missing: %s (required by %s)\n",
				WarningStyle.Render("!"), KeyStyle.Render(name), strings.Join(r.Missing[name], ", "))
		}
		for _, p := range r.Pending {
			fmt.Fprintf(w, "  %s pending: %s waits for %s\n",
				ErrorStyle.Render("✗"), KeyStyle.Render(p.Name), strings.Join(p.WaitsFor, ", "))
		}
		for _, c := range r.Cycles {
			fmt.Fprintf(w, "  %s cycle: %s\n", ErrorStyle.Render("✗"), strings.Join(append(slices.Clone(c), c[0]), " -> "))
		}
		for _, d := range r.Diagnostics {
			marker := WarningStyle.Render("!")
			if d.Severity == preprocess.SeverityError {
				marker = ErrorStyle.Render("✗")
			}
			subject := d.Module
			if subject == "" {
				subject = d.Path
			}
			fmt.Fprintf(w, "  %s %s %s: %s\n", marker, d.Code, subject, d.Message)
		}
		for _, p := range r.Written {
			fmt.Fprintf(w, "  %s wrote %s\n", SuccessStyle.Render("✓"), p)
		}
	})
}
