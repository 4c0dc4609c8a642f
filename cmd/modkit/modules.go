// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/modkit/modkit/internal/preprocess"

	"github.com/spf13/cobra"
)

func newModulesCommand(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "modules [dir]",
		Short: "List the modules of a deployment tree",
		Long: `List every module discovered under the container rooted at dir, in
discovery order, without running install actions or writing files.

Examples:
  modkit modules ./deploy
  modkit modules ./deploy --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return err
			}
			root := cfg.Preprocess.Root
			if len(args) > 0 {
				root = args[0]
			}
			p := preprocess.New(preprocess.Options{
				Env:    cfg.Preprocess.Env,
				Ignore: cfg.Modules.Ignore,
				DryRun: true,
				Logger: app.logger(cfg),
			})
			report, err := p.Run(ctx, root)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := report.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, string(data))
				return nil
			}
			report.Walk(func(r *preprocess.Report) {
				fmt.Fprintln(app.stdout, TitleStyle.Render("container "+r.Container))
				for _, m := range r.Modules {
					state := SuccessStyle.Render("resolved")
					if !m.Resolved {
						state = WarningStyle.Render("pending")
					}
					line := fmt.Sprintf("  %-24s %-10s %-9s %s", KeyStyle.Render(m.Name), m.Version, m.Kind, state)
					if len(m.Requires) > 0 {
						line += SubtitleStyle.Render(" requires " + strings.Join(m.Requires, ", "))
					}
					fmt.Fprintln(app.stdout, strings.TrimRight(line, " "))
				}
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")
	return cmd
}
