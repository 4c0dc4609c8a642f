// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/modkit/modkit/internal/components"
	"github.com/modkit/modkit/internal/config"
	"github.com/modkit/modkit/internal/lifecycle"
)

type (
	// App wires CLI services and shared dependencies. Cobra handlers receive
	// an App reference instead of reaching for package globals.
	App struct {
		Config     ConfigProvider
		Components *lifecycle.ComponentRegistry
		stdout     io.Writer
		stderr     io.Writer

		// set by the root command before any subcommand runs
		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     ConfigProvider
		Components *lifecycle.ComponentRegistry
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}
)

// NewApp creates an App, filling unset dependencies with defaults. The
// default component registry carries the built-in component types.
func NewApp(deps Dependencies) (*App, error) {
	app := &App{
		Config:     deps.Config,
		Components: deps.Components,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Components == nil {
		app.Components = lifecycle.NewComponentRegistry()
		if err := components.Register(app.Components, components.IO{Stdout: app.stdout, Stderr: app.stderr}); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// loadConfig loads the configuration honoring the --config flag.
func (app *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return app.Config.Load(ctx, config.LoadOptions{ConfigFilePath: app.configPath})
}

// logger builds the CLI logger for cfg. --verbose forces debug level.
func (app *App) logger(cfg *config.Config) *slog.Logger {
	lc := cfg.Log
	if app.verbose {
		lc.Level = config.LogLevelDebug
	}
	return newLogger(app.stderr, lc)
}
