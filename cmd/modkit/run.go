// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/config"
	"github.com/modkit/modkit/internal/issue"
	"github.com/modkit/modkit/internal/kernel"
	"github.com/modkit/modkit/internal/lifecycle"

	"github.com/spf13/cobra"
)

type runFlags struct {
	watch bool
	once  bool
	synch string
}

func newRunCommand(app *App) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [module-dir...]",
		Short: "Boot a kernel over module directories",
		Long: `Boot a kernel, install every module found in the module directories
(default: modules.paths) and start them in requirement order.

When loader.boot_paths is set, the kernel is selected by the manifest
modkit/kernel/kernel.cue found there; otherwise the built-in kernel is used.

With --watch, module artifacts added, modified or removed afterwards are
applied in debounced batches. With --synch defer, updates stay pending
until SIGHUP flushes them. The system is stopped on interrupt.

Examples:
  modkit run ./modules --watch
  modkit run ./modules --once
  modkit run --synch defer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKernel(cmd, app, args, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "apply module changes while running")
	cmd.Flags().BoolVar(&flags.once, "once", false, "install, start, list and stop instead of running until interrupted")
	cmd.Flags().StringVar(&flags.synch, "synch", "", "update mode: on, off or defer (default: lifecycle.synch_mode)")
	return cmd
}

func runKernel(cmd *cobra.Command, app *App, args []string, flags runFlags) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := app.logger(cfg)

	mode, err := lifecycle.ParseSynchMode(cmp.Or(flags.synch, cfg.Lifecycle.SynchMode))
	if err != nil {
		return err
	}
	dirs := cfg.Modules.Paths
	if len(args) > 0 {
		dirs = args
	}
	cacheDir, err := config.CacheDir(cfg)
	if err != nil {
		return err
	}

	metrics := lifecycle.NewPrometheusCollector(cfg.Metrics.Namespace)
	base := kernel.Options{
		Dirs:       dirs,
		CacheDir:   cacheDir,
		FlushCache: cfg.Loader.FlushCache,
		Watch:      flags.watch,
		Debounce:   cfg.Lifecycle.Debounce,
		Ignore:     cfg.Modules.Ignore,
		SynchMode:  mode,
		Components: app.Components,
		Metrics:    metrics,
		Logger:     logger,
	}
	loader := bootloader.New(bootloader.Options{
		BootPrefixes:       cfg.Loader.BootPrefixes,
		DelegationPrefixes: cfg.Loader.DelegationPrefixes,
		Logger:             logger,
	})

	k, err := bootKernel(ctx, loader, cfg.Loader.BootPaths, base)
	if err != nil {
		return err
	}

	if flags.once {
		err = runOnce(ctx, app, k)
	} else {
		if mode == lifecycle.SynchDefer || mode == lifecycle.SynchOff {
			stop := flushOnHangup(ctx, k, logger)
			defer stop()
		}
		err = k.Run(ctx)
	}

	if path := cfg.Metrics.Textfile; path != "" {
		if werr := metrics.WriteTextfile(path); werr != nil {
			logger.Warn("failed to write metrics", "path", path, "error", werr)
		}
	}
	return err
}

// bootKernel builds the kernel directly, or through the kernel manifest
// when boot paths are configured.
func bootKernel(ctx context.Context, loader *bootloader.Loader, bootPaths []string, base kernel.Options) (*kernel.Kernel, error) {
	if len(bootPaths) == 0 {
		k, err := kernel.New(base, loader)
		if err != nil {
			return nil, err
		}
		loader.SetWiring(k.Wiring())
		return k, nil
	}

	factories := bootloader.NewFactories()
	kernel.Register(factories, base)
	bk, err := bootloader.Bootstrap(ctx, loader, bootPaths, factories)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("bootstrap kernel").
			WithResource(strings.Join(bootPaths, string(os.PathListSeparator))).
			WithIssue(issue.KernelManifestInvalidId).
			Wrap(err).
			BuildError()
	}
	k, ok := bk.(*kernel.Kernel)
	if !ok {
		return nil, fmt.Errorf("kernel factory returned %T, want *kernel.Kernel", bk)
	}
	return k, nil
}

func runOnce(ctx context.Context, app *App, k *kernel.Kernel) error {
	var errs []error
	errs = append(errs, k.InstallDirs(ctx), k.Start(ctx))
	if err := k.Close(); err != nil {
		errs = append(errs, err)
	}
	if mode := k.Manager().SynchMode(); mode == lifecycle.SynchOff {
		errs = append(errs, k.SetSynchMode(ctx, lifecycle.SynchFlush))
	}
	printModules(app, k.Manager())
	errs = append(errs, k.Stop(context.WithoutCancel(ctx)))
	return errors.Join(errs...)
}

func printModules(app *App, mgr *lifecycle.Manager) {
	w := app.stdout
	for _, info := range mgr.ListModules() {
		line := fmt.Sprintf("%-24s %-10s %s", KeyStyle.Render(info.Name), info.Version, renderState(info.State))
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	missing := mgr.Missing()
	for _, name := range slices.Sorted(maps.Keys(missing)) {
		fmt.Fprintf(w, "%s missing %s (required by %s)\n",
			WarningStyle.Render("!"), name, strings.Join(missing[name], ", "))
	}
	for _, c := range mgr.Components() {
		fmt.Fprintf(w, "%s %s/%s (%s)\n", SubtitleStyle.Render("component"), c.Module, c.Name, c.Type)
	}
}

// flushOnHangup flushes pending updates on each SIGHUP until ctx ends or
// the returned stop function is called.
func flushOnHangup(ctx context.Context, k *kernel.Kernel, logger *slog.Logger) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ch:
				logger.Info("flushing pending module updates", "pending", k.Manager().Pending())
				if err := k.SetSynchMode(ctx, lifecycle.SynchFlush); err != nil {
					logger.Error("flush failed", "error", err)
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
