// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/lifecycle"
	"github.com/modkit/modkit/internal/testutil"
	"github.com/modkit/modkit/internal/watch"
)

type sink struct {
	data string
}

func testComponents() *lifecycle.ComponentRegistry {
	reg := lifecycle.NewComponentRegistry()
	reg.MustRegister("sink", func(_ context.Context, spec lifecycle.ComponentSpec) (any, error) {
		p := &sink{}
		if len(spec.Resources) > 0 {
			p.data = string(spec.Resources[0].Data)
		}
		return p, nil
	})
	return reg
}

func states(k *Kernel) map[string]string {
	out := make(map[string]string)
	for _, info := range k.ListModules() {
		out[info.Name] = info.State
	}
	return out
}

func moduleTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "core", "module.cue"), `name: "core"
components: [{name: "p", type: "sink"}]
`)
	testutil.WriteFile(t, filepath.Join(dir, "app.module.yaml"), "name: app\nrequires: [core]\n")
	testutil.WriteFile(t, filepath.Join(dir, "lib.fragments.yaml"), `fragments:
  - name: lib-a
    requires: [core]
  - name: lib-b
    requires: [lib-a]
`)
	return dir
}

func newKernel(t *testing.T, opts Options) *Kernel {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Components == nil {
		opts.Components = testComponents()
	}
	k, err := New(opts, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return k
}

func TestKernel_InstallDirsAndApply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := moduleTree(t)
	k := newKernel(t, Options{Dirs: []string{dir}})
	testutil.DeferClose(t, k)

	if err := k.InstallDirs(ctx); err != nil {
		t.Fatalf("InstallDirs() error = %v", err)
	}
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for _, n := range []string{"core", "app", "lib-a", "lib-b"} {
		if got := states(k)[n]; got != "ACTIVE" {
			t.Errorf("%s = %q, want ACTIVE", n, got)
		}
	}

	// Dropping a fragment from the file uninstalls that module only.
	fragments := filepath.Join(dir, "lib.fragments.yaml")
	testutil.WriteFile(t, fragments, "fragments:\n  - name: lib-a\n    requires: [core]\n")
	if err := k.Apply(ctx, []watch.Event{{Op: watch.OpModify, Path: fragments}}); err != nil {
		t.Fatalf("Apply(modify) error = %v", err)
	}
	got := states(k)
	if _, ok := got["lib-b"]; ok {
		t.Error("lib-b still installed")
	}
	if got["lib-a"] != "ACTIVE" {
		t.Errorf("lib-a = %q, want ACTIVE", got["lib-a"])
	}

	// Removing core sends its dependents back to INSTALLED.
	core := filepath.Join(dir, "core", "module.cue")
	if err := k.Apply(ctx, []watch.Event{{Op: watch.OpRemove, Path: core}}); err != nil {
		t.Fatalf("Apply(remove) error = %v", err)
	}
	got = states(k)
	if _, ok := got["core"]; ok {
		t.Error("core still installed")
	}
	if got["app"] != "INSTALLED" || got["lib-a"] != "INSTALLED" {
		t.Errorf("states = %v, want app and lib-a INSTALLED", got)
	}
	if mode := k.Manager().SynchMode(); mode != lifecycle.SynchOn {
		t.Errorf("SynchMode() = %s after a batch, want on", mode)
	}
}

func TestKernel_InstallAndUninstall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := moduleTree(t)
	k := newKernel(t, Options{})

	id, err := k.Install(ctx, filepath.Join(dir, "core", "module.cue"))
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := k.Uninstall(ctx, id); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if len(k.ListModules()) != 0 {
		t.Errorf("ListModules() = %v, want empty", k.ListModules())
	}
	if err := k.Uninstall(ctx, id); !errors.Is(err, lifecycle.ErrUnknownModule) {
		t.Errorf("Uninstall() twice error = %v", err)
	}
	if err := k.SetSynchMode(ctx, lifecycle.SynchMode("sometimes")); err == nil {
		t.Error("SetSynchMode accepted an unknown mode")
	}
}

func TestKernel_RunWatchesDirectories(t *testing.T) {
	t.Parallel()

	dir := moduleTree(t)
	k := newKernel(t, Options{Dirs: []string{dir}, Watch: true, Debounce: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(ctx) }()

	waitFor := func(name, state string) {
		t.Helper()
		testutil.Eventually(t, 5*time.Second, func() bool { return states(k)[name] == state }, name+" reaches "+state)
	}

	waitFor("app", "ACTIVE")
	testutil.WriteFile(t, filepath.Join(dir, "late", "module.yaml"), "name: late\nrequires: [app]\n")
	waitFor("late", "ACTIVE")

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := states(k)["late"]; got != "RESOLVED" {
		t.Errorf("late = %q after Run returns, want RESOLVED", got)
	}
}

func TestBootstrapKernel(t *testing.T) {
	t.Parallel()

	modDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(modDir, "core", "module.yaml"), `name: core
components:
  - name: p
    type: sink
    resources: [conf/greeting.txt]
`)
	testutil.WriteFile(t, filepath.Join(modDir, "core", "conf", "greeting.txt"), "hello")

	bootDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(bootDir, "modkit", "kernel", "kernel.cue"), `factory: "modkit.kernel"
options: {dirs: ["`+filepath.ToSlash(modDir)+`"]}
`)

	factories := bootloader.NewFactories()
	Register(factories, Options{Components: testComponents(), Logger: slog.New(slog.DiscardHandler)})

	loader := bootloader.New(bootloader.Options{Logger: slog.New(slog.DiscardHandler)})
	bk, err := bootloader.Bootstrap(context.Background(), loader, []string{bootDir}, factories)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	k := bk.(*Kernel)
	testutil.DeferClose(t, k)

	if err := k.InstallDirs(context.Background()); err != nil {
		t.Fatalf("InstallDirs() error = %v", err)
	}
	c, ok := k.Manager().Component("core/p")
	if !ok {
		t.Fatalf("core/p not bound (states %v)", states(k))
	}
	if got := c.Value.(*sink).data; got != "hello" {
		t.Errorf("resource data = %q, want hello", got)
	}
}

func TestOverlay(t *testing.T) {
	t.Parallel()

	opts, err := overlay(Options{Dirs: []string{"base"}}, map[string]any{
		"dirs":       []any{"extra"},
		"watch":      true,
		"debounce":   "250ms",
		"cache_dir":  "/tmp/cache",
		"synch_mode": "defer",
	})
	if err != nil {
		t.Fatalf("overlay() error = %v", err)
	}
	if len(opts.Dirs) != 2 || !opts.Watch || opts.Debounce != 250*time.Millisecond || opts.CacheDir != "/tmp/cache" || opts.SynchMode != lifecycle.SynchDefer {
		t.Errorf("overlay() = %+v", opts)
	}

	for _, bad := range []map[string]any{
		{"dirs": "not-a-list"},
		{"watch": "yes"},
		{"debounce": "soon"},
		{"colour": "blue"},
		{"synch_mode": "sometimes"},
	} {
		if _, err := overlay(Options{}, bad); err == nil {
			t.Errorf("overlay(%v) succeeded", bad)
		}
	}
}

func TestKernel_DeferredSettle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := moduleTree(t)
	k := newKernel(t, Options{Dirs: []string{dir}, SynchMode: lifecycle.SynchDefer})
	testutil.DeferClose(t, k)

	if err := k.InstallDirs(ctx); err != nil {
		t.Fatalf("InstallDirs() error = %v", err)
	}
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := k.Manager().SynchMode(); got != lifecycle.SynchOff {
		t.Fatalf("SynchMode() = %q, want off", got)
	}
	if len(k.Manager().Pending()) != 4 {
		t.Fatalf("Pending() = %v, want 4 modules", k.Manager().Pending())
	}
	for _, info := range k.ListModules() {
		if info.Level != "none" {
			t.Errorf("%s level = %q before flush, want none", info.Name, info.Level)
		}
	}

	if err := k.SetSynchMode(ctx, lifecycle.SynchFlush); err != nil {
		t.Fatalf("flush error = %v", err)
	}
	for _, info := range k.ListModules() {
		if info.State != "ACTIVE" || info.Level != "active" {
			t.Errorf("%s = %s/%s after flush, want ACTIVE/active", info.Name, info.State, info.Level)
		}
	}
}
