// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/modkit/modkit/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `modkit config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modkit configuration",
		Long: `Manage modkit configuration.

Configuration is stored in:
  - Linux: ~/.config/modkit/config.cue
  - macOS: ~/Library/Application Support/modkit/config.cue
  - Windows: %APPDATA%\modkit\config.cue

Every key can be overridden with a MODKIT_ environment variable, dots
replaced by underscores (MODKIT_LOG_LEVEL=debug).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var asCUE bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadWithPath(cmd.Context(), config.LoadOptions{ConfigFilePath: app.configPath})
			if err != nil {
				return err
			}
			if asCUE {
				fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
				return nil
			}
			showConfig(app, cfg, path)
			return nil
		},
	}
	show.Flags().BoolVar(&asCUE, "cue", false, "print the configuration as CUE")

	cfgCmd.AddCommand(show, &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.configPath
			var err error
			switch {
			case path == "":
				path, err = config.CreateDefaultConfig("")
			case !fileExists(path):
				err = config.Save(path, config.DefaultConfig())
			}
			if err != nil {
				return fmt.Errorf("failed to create config: %w", err)
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}, &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.configPath != "" {
				fmt.Fprintln(app.stdout, app.configPath)
				return nil
			}
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(app *App, cfg *config.Config, path string) {
	w := app.stdout
	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if path != "" {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	kv := func(key string, value any) {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render(key), SuccessStyle.Render(fmt.Sprint(value)))
	}
	list := func(key string, items []string) {
		if len(items) == 0 {
			fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render(key), SubtitleStyle.Render("(none)"))
			return
		}
		kv(key, strings.Join(items, ", "))
	}

	home, err := config.HomeDir(cfg)
	if err == nil {
		kv("home", home)
	}
	kv("preprocess.root", cfg.Preprocess.Root)
	for _, k := range slices.Sorted(maps.Keys(cfg.Preprocess.Env)) {
		kv("preprocess.env."+k, cfg.Preprocess.Env[k])
	}
	if cfg.Preprocess.Report != "" {
		kv("preprocess.report", cfg.Preprocess.Report)
	}
	list("modules.paths", cfg.Modules.Paths)
	list("modules.ignore", cfg.Modules.Ignore)
	list("loader.boot_prefixes", cfg.Loader.BootPrefixes)
	list("loader.delegation_prefixes", cfg.Loader.DelegationPrefixes)
	list("loader.boot_paths", cfg.Loader.BootPaths)
	if cacheDir, err := config.CacheDir(cfg); err == nil {
		kv("loader.cache_dir", cacheDir)
	}
	kv("loader.flush_cache", cfg.Loader.FlushCache)
	kv("lifecycle.synch_mode", cfg.Lifecycle.SynchMode)
	kv("lifecycle.debounce", cfg.Lifecycle.Debounce)
	kv("log.level", cfg.Log.Level)
	kv("log.format", cfg.Log.Format)
	kv("metrics.namespace", cfg.Metrics.Namespace)
	if cfg.Metrics.Textfile != "" {
		kv("metrics.textfile", cfg.Metrics.Textfile)
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
