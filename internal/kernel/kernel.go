// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/lifecycle"
	"github.com/modkit/modkit/internal/watch"
	"github.com/modkit/modkit/pkg/batch"
	"github.com/modkit/modkit/pkg/descriptor"
)

type (
	// Options configures a Kernel.
	Options struct {
		// Dirs are the module directories installed at start.
		Dirs []string
		// CacheDir receives expanded nested archives. Empty disables
		// expansion.
		CacheDir string
		// FlushCache empties CacheDir first.
		FlushCache bool
		// Watch keeps tracking Dirs after start.
		Watch    bool
		Debounce time.Duration
		Ignore   []string
		// SynchMode is the mode batches settle in: SynchOn (the default)
		// flushes each batch, SynchDefer and SynchOff keep it pending until
		// an explicit flush.
		SynchMode lifecycle.SynchMode

		Components *lifecycle.ComponentRegistry
		Metrics    lifecycle.MetricsCollector
		Logger     *slog.Logger
	}

	// Kernel installs, tracks and runs modules.
	Kernel struct {
		opts    Options
		mgr     *lifecycle.Manager
		tracker *watch.Tracker
		logger  *slog.Logger

		mu sync.Mutex
		// byPath maps an artifact to the modules it provided.
		byPath map[string][]string
	}
)

var _ bootloader.Kernel = (*Kernel)(nil)

// New creates a Kernel whose components load resources through loader.
// loader may be nil.
func New(opts Options, loader *bootloader.Loader) (*Kernel, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var exp *bootloader.Expander
	if opts.CacheDir != "" {
		var err error
		if exp, err = bootloader.NewExpander(opts.CacheDir, opts.FlushCache); err != nil {
			return nil, err
		}
	}

	k := &Kernel{
		opts:   opts,
		logger: opts.Logger,
		byPath: make(map[string][]string),
		mgr: lifecycle.NewManager(lifecycle.Options{
			Components: opts.Components,
			Loader:     loader,
			Expander:   exp,
			Metrics:    opts.Metrics,
			Logger:     opts.Logger,
		}),
	}

	if k.settleMode() == lifecycle.SynchOff {
		if err := k.mgr.SetSynchMode(context.Background(), lifecycle.SynchOff); err != nil {
			return nil, err
		}
	}

	if len(opts.Dirs) > 0 {
		tr, err := watch.New(watch.Config{
			Dirs:     opts.Dirs,
			Ignore:   opts.Ignore,
			Debounce: opts.Debounce,
			OnBatch:  k.Apply,
			Logger:   opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		k.tracker = tr
	}
	return k, nil
}

// Wiring implements bootloader.Kernel.
func (k *Kernel) Wiring() bootloader.Wiring {
	return k.mgr.Wiring()
}

// Manager returns the lifecycle manager.
func (k *Kernel) Manager() *lifecycle.Manager {
	return k.mgr
}

// Install installs the modules described at path and returns the ID of the
// first one.
func (k *Kernel) Install(ctx context.Context, path string) (lifecycle.ModuleID, error) {
	ids, err := k.add(ctx, path)
	if len(ids) == 0 {
		return 0, err
	}
	return ids[0], err
}

// Uninstall removes one module.
func (k *Kernel) Uninstall(ctx context.Context, id lifecycle.ModuleID) error {
	m, ok := k.mgr.Module(id)
	if !ok {
		return fmt.Errorf("%w: %d", lifecycle.ErrUnknownModule, id)
	}
	if err := k.mgr.Uninstall(ctx, id); err != nil {
		return err
	}
	k.forget(m.Name())
	return nil
}

// ListModules returns every installed module.
func (k *Kernel) ListModules() []lifecycle.ModuleInfo {
	return k.mgr.ListModules()
}

// Start activates every resolvable module.
func (k *Kernel) Start(ctx context.Context) error {
	return k.mgr.Start(ctx)
}

// Stop deactivates every active module.
func (k *Kernel) Stop(ctx context.Context) error {
	return k.mgr.Stop(ctx)
}

// SetSynchMode switches the update strategy.
func (k *Kernel) SetSynchMode(ctx context.Context, mode lifecycle.SynchMode) error {
	return k.mgr.SetSynchMode(ctx, mode)
}

// InstallDirs installs every artifact currently present in the module
// directories as one batch.
func (k *Kernel) InstallDirs(ctx context.Context) error {
	if k.tracker == nil {
		return nil
	}
	known := k.tracker.Known()
	events := make([]watch.Event, 0, len(known))
	for _, p := range known {
		events = append(events, watch.Event{Op: watch.OpAdd, Path: p})
	}
	return k.Apply(ctx, events)
}

// Apply handles one coalesced batch of artifact events: updates are
// deferred while the events are applied, then flushed together.
func (k *Kernel) Apply(ctx context.Context, events []watch.Event) error {
	if len(events) == 0 {
		return nil
	}
	c := batch.NewCollector("apply module changes")
	c.Add(k.mgr.SetSynchMode(ctx, lifecycle.SynchOff))
	for _, ev := range events {
		k.logger.Info("module artifact", "op", ev.Op, "path", ev.Path)
		switch ev.Op {
		case watch.OpAdd:
			_, err := k.add(ctx, ev.Path)
			c.Add(err)
		case watch.OpModify:
			c.Add(k.modify(ctx, ev.Path))
		case watch.OpRemove:
			c.Add(k.remove(ctx, ev.Path))
		}
	}
	c.Add(k.mgr.SetSynchMode(ctx, k.settleMode()))
	return c.Err()
}

// Run installs the module directories, starts the system and, when
// watching, applies artifact batches until ctx is cancelled. The system is
// stopped before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	c := batch.NewCollector("run kernel")
	c.Add(k.InstallDirs(ctx))
	c.Add(k.Start(ctx))
	if err := c.Err(); err != nil {
		k.logger.Warn("kernel started with failures", "error", err)
	}

	var runErr error
	if k.tracker != nil && k.opts.Watch {
		runErr = k.tracker.Run(ctx)
	} else {
		if err := k.Close(); err != nil {
			k.logger.Warn("close tracker", "error", err)
		}
		<-ctx.Done()
	}

	stop := batch.NewCollector("stop kernel")
	stop.Add(runErr)
	stop.Add(k.Stop(context.WithoutCancel(ctx)))
	return stop.Err()
}

// Close releases the directory tracker. A closed kernel can still install
// and uninstall explicitly but no longer watches.
func (k *Kernel) Close() error {
	if k.tracker == nil {
		return nil
	}
	return k.tracker.Close()
}

func (k *Kernel) settleMode() lifecycle.SynchMode {
	switch k.opts.SynchMode {
	case lifecycle.SynchDefer, lifecycle.SynchOff:
		return lifecycle.SynchOff
	default:
		return lifecycle.SynchOn
	}
}

func (k *Kernel) add(ctx context.Context, path string) ([]lifecycle.ModuleID, error) {
	mods, err := descriptor.Load(path)
	if err != nil {
		return nil, err
	}
	c := batch.NewCollector("install " + path)
	ids := make([]lifecycle.ModuleID, 0, len(mods))
	names := make([]string, 0, len(mods))
	for _, d := range mods {
		id, err := k.mgr.InstallDescriptor(ctx, d)
		c.Add(err)
		if id != 0 {
			ids = append(ids, id)
			names = append(names, d.Name)
		}
	}
	k.mu.Lock()
	k.byPath[path] = append(k.byPath[path], names...)
	k.mu.Unlock()
	return ids, c.Err()
}

func (k *Kernel) modify(ctx context.Context, path string) error {
	mods, err := descriptor.Load(path)
	if err != nil {
		return err
	}
	c := batch.NewCollector("reinstall " + path)
	names := make([]string, 0, len(mods))
	for _, d := range mods {
		id, err := k.mgr.Replace(ctx, d)
		c.Add(err)
		if id != 0 {
			names = append(names, d.Name)
		}
	}

	k.mu.Lock()
	prev := k.byPath[path]
	k.byPath[path] = names
	k.mu.Unlock()

	for _, name := range prev {
		if !slices.Contains(names, name) {
			c.Add(k.uninstallName(ctx, name))
		}
	}
	return c.Err()
}

func (k *Kernel) remove(ctx context.Context, path string) error {
	k.mu.Lock()
	names := k.byPath[path]
	delete(k.byPath, path)
	k.mu.Unlock()

	// dependents first: names keep their installation order
	slices.Reverse(names)
	return batch.CollectAll("uninstall "+path, slices.Values(names), func(name string) error {
		return k.uninstallName(ctx, name)
	})
}

func (k *Kernel) uninstallName(ctx context.Context, name string) error {
	m, ok := k.mgr.ModuleByName(name)
	if !ok {
		return nil
	}
	return k.mgr.Uninstall(ctx, m.ID())
}

// forget drops name from the artifact table.
func (k *Kernel) forget(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for p, names := range k.byPath {
		if i := slices.Index(names, name); i >= 0 {
			k.byPath[p] = slices.Delete(names, i, i+1)
		}
	}
}
