// SPDX-License-Identifier: MPL-2.0

package bootloader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/modkit/modkit/internal/testutil"
)

func zipBytes(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLoader_IsBoot(t *testing.T) {
	t.Parallel()

	l := New(Options{DelegationPrefixes: []string{"org/example/shared"}})
	tests := map[string]bool{
		"std/io/reader":              true,
		"xml/parser":                 true,
		"modkit/api/kernel":          true,
		"modkit/api":                 false,
		"modkit/kernel/kernel.cue":   false,
		"org/example/shared/x/y.cue": true,
		"org/example/other":          false,
		"stdlib/x":                   false,
	}
	for name, want := range tests {
		if got := l.IsBoot(name); got != want {
			t.Errorf("IsBoot(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoader_BootDelegatesToParent(t *testing.T) {
	t.Parallel()

	parent := &FSSource{FS: fstest.MapFS{"std/fmt/print": {Data: []byte("boot")}}, Origin: "host"}
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "std", "fmt", "print"), "shadow")

	l := New(Options{Parent: parent, Wiring: &DirWiring{Dirs: []string{dir}}})
	u, err := l.Load("m", "std/fmt/print")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(u.Data) != "boot" || u.Origin != "host" {
		t.Errorf("boot unit must come from the parent, got %q from %s", u.Data, u.Origin)
	}

	_, err = l.Load("m", "std/missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Requester != "m" {
		t.Errorf("Load(std/missing) error = %v, want *NotFoundError for m", err)
	}
}

func TestLoader_WiringAndNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "res", "a.txt"), "a")

	l := New(Options{})
	if _, err := l.Load("m", "res/a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() without wiring error = %v, want ErrNotFound", err)
	}

	l.SetWiring(&DirWiring{Dirs: []string{dir}})
	u, err := l.Load("m", "res/a.txt")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(u.Data) != "a" {
		t.Errorf("Data = %q", u.Data)
	}
	if _, err := l.Load("m", "res"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(directory) error = %v, want ErrNotFound", err)
	}
	if _, err := l.Load("m", "../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(escape) error = %v, want ErrNotFound", err)
	}
}

func TestLoader_CacheClearedOnSetWiring(t *testing.T) {
	t.Parallel()

	first, second := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, filepath.Join(first, "u"), "first")
	testutil.WriteFile(t, filepath.Join(second, "u"), "second")

	l := New(Options{Wiring: &DirWiring{Dirs: []string{first}}})
	if u, _ := l.Load("m", "u"); u == nil || string(u.Data) != "first" {
		t.Fatalf("Load() = %v", u)
	}
	testutil.WriteFile(t, filepath.Join(first, "u"), "changed")
	if u, _ := l.Load("m", "u"); string(u.Data) != "first" {
		t.Errorf("cached unit expected, got %q", u.Data)
	}

	l.SetWiring(&DirWiring{Dirs: []string{second}})
	if u, _ := l.Load("m", "u"); string(u.Data) != "second" {
		t.Errorf("after SetWiring got %q, want second", u.Data)
	}
}

func TestLoader_CannotLoadIsDistinct(t *testing.T) {
	t.Parallel()

	corrupt := filepath.Join(t.TempDir(), "broken.zip")
	testutil.WriteFile(t, corrupt, "not a zip")

	_, err := SearchRoots([]Root{{Module: "broken", Dir: corrupt, Archive: true}}, "res/x")
	var cl *CannotLoadError
	if !errors.As(err, &cl) {
		t.Fatalf("error = %v, want *CannotLoadError", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("CannotLoadError must not match ErrNotFound")
	}
}

func TestSearchRoots_Order(t *testing.T) {
	t.Parallel()

	empty, first, second := t.TempDir(), t.TempDir(), t.TempDir()
	testutil.WriteFile(t, filepath.Join(first, "res", "x"), "first")
	testutil.WriteFile(t, filepath.Join(second, "res", "x"), "second")
	corrupt := filepath.Join(t.TempDir(), "broken.zip")
	testutil.WriteFile(t, corrupt, "not a zip")

	u, err := SearchRoots([]Root{{Module: "empty", Dir: empty}, {Module: "a", Dir: first}, {Module: "b", Dir: second}}, "res/x")
	if err != nil {
		t.Fatalf("SearchRoots() error = %v", err)
	}
	if u.Origin != "a" || string(u.Data) != "first" {
		t.Errorf("unit from %s = %q, want the first root that has it", u.Origin, u.Data)
	}

	_, err = SearchRoots([]Root{{Module: "broken", Dir: corrupt, Archive: true}, {Module: "b", Dir: second}}, "res/x")
	var cl *CannotLoadError
	if !errors.As(err, &cl) {
		t.Errorf("an I/O error should stop the search, got %v", err)
	}

	_, err = SearchRoots([]Root{{Module: "empty", Dir: empty}}, "res/x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// blockingWiring counts Locate calls and blocks those for "slow".
type blockingWiring struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWiring) Locate(requester, name string) (*Unit, error) {
	w.calls.Add(1)
	if name == "slow" {
		w.entered <- struct{}{}
		<-w.release
	}
	return &Unit{Name: name, Origin: requester}, nil
}

func TestLoader_ConcurrentLoads(t *testing.T) {
	t.Parallel()

	w := &blockingWiring{entered: make(chan struct{}, 1), release: make(chan struct{})}
	l := New(Options{Wiring: w})

	var wg sync.WaitGroup
	results := make([]*Unit, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := l.Load("m", "slow")
			if err != nil {
				t.Errorf("Load() error = %v", err)
			}
			results[i] = u
		}()
	}
	<-w.entered

	// A distinct name proceeds while "slow" is still being defined.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := l.Load("m", "fast"); err != nil {
			t.Errorf("Load(fast) error = %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("distinct name blocked behind an in-flight definition")
	}

	time.Sleep(50 * time.Millisecond)
	close(w.release)
	wg.Wait()

	if got := w.calls.Load(); got != 2 {
		t.Errorf("Locate calls = %d, want 2 (one per distinct name)", got)
	}
	for _, u := range results[1:] {
		if u != results[0] {
			t.Fatal("concurrent loads of one name must share a single definition")
		}
	}
}

// originWiring answers every name with a unit stamped with its origin.
type originWiring string

func (w originWiring) Locate(_, name string) (*Unit, error) {
	return &Unit{Name: name, Origin: string(w)}, nil
}

func TestLoader_SetWiringDoesNotShareInFlightLoads(t *testing.T) {
	t.Parallel()

	old := &blockingWiring{entered: make(chan struct{}, 1), release: make(chan struct{})}
	l := New(Options{Wiring: old})

	stale := make(chan *Unit, 1)
	go func() {
		u, err := l.Load("m", "slow")
		if err != nil {
			t.Errorf("Load() against old wiring error = %v", err)
		}
		stale <- u
	}()
	<-old.entered

	l.SetWiring(originWiring("new"))
	fresh := make(chan *Unit, 1)
	go func() {
		u, err := l.Load("m", "slow")
		if err != nil {
			t.Errorf("Load() against new wiring error = %v", err)
		}
		fresh <- u
	}()

	select {
	case u := <-fresh:
		if u == nil || u.Origin != "new" {
			t.Errorf("Load() after SetWiring = %+v, want a unit from the new wiring", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Load() after SetWiring waited on a resolution from the old wiring")
	}

	close(old.release)
	if u := <-stale; u == nil || u.Origin != "m" {
		t.Errorf("in-flight Load() = %+v, want the old wiring's unit", u)
	}
	if u, err := l.Load("m", "slow"); err != nil || u.Origin != "new" {
		t.Errorf("cached Load() = %+v, %v, want the new wiring's unit", u, err)
	}
}

func TestRoot_ArchiveAndExpandedDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "mod.zip")
	inner := zipBytes(t, map[string][]byte{"res/nested.txt": []byte("nested")})
	if err := os.WriteFile(archive, zipBytes(t, map[string][]byte{
		"res/top.txt":   []byte("top"),
		"lib/inner.zip": inner,
	}), 0o644); err != nil {
		t.Fatal(err)
	}

	exp, err := NewExpander(filepath.Join(dir, "cache"), false)
	if err != nil {
		t.Fatal(err)
	}
	dirs, err := exp.Expand("mod", archive, []string{"lib/inner.zip"})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("Expand() dirs = %v", dirs)
	}
	again, err := exp.Expand("mod", archive, []string{"lib/inner.zip"})
	if err != nil || again[0] != dirs[0] {
		t.Fatalf("second Expand() = %v, %v; want cached %s", again, err, dirs[0])
	}

	root := Root{Module: "mod", Dir: archive, Archive: true, Extra: dirs}
	top, err := root.Find("res/top.txt")
	if err != nil || string(top.Data) != "top" || top.Origin != "mod" {
		t.Fatalf("Find(top) = %+v, %v", top, err)
	}
	nested, err := root.Find("res/nested.txt")
	if err != nil || string(nested.Data) != "nested" {
		t.Fatalf("Find(nested) = %+v, %v", nested, err)
	}

	if _, err := NewExpander(filepath.Join(dir, "cache"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dirs[0]); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("flush should clear the cache, stat err = %v", err)
	}
}

type fakeKernel struct {
	wiring  Wiring
	options map[string]any
}

func (k *fakeKernel) Wiring() Wiring { return k.wiring }

func TestBootstrap(t *testing.T) {
	t.Parallel()

	bootDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(bootDir, "modkit", "kernel", "kernel.cue"), `
factory: "test"
options: {greeting: "hi"}
`)

	kernelWiring := &DirWiring{Dirs: []string{t.TempDir()}}
	factories := NewFactories()
	factories.MustRegister("test", func(_ context.Context, opts map[string]any, _ *Loader) (Kernel, error) {
		return &fakeKernel{wiring: kernelWiring, options: opts}, nil
	})
	if err := factories.Register("test", nil); err == nil {
		t.Error("Register(nil factory) should fail")
	}

	l := New(Options{})
	k, err := Bootstrap(context.Background(), l, []string{bootDir}, factories)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if k.(*fakeKernel).options["greeting"] != "hi" {
		t.Errorf("options = %v", k.(*fakeKernel).options)
	}
	if l.Wiring() != Wiring(kernelWiring) {
		t.Error("loader wiring should be handed to the kernel")
	}
	if _, err := l.Load(BootRequester, KernelManifestName); !errors.Is(err, ErrNotFound) {
		t.Errorf("transient boot wiring should be gone, Load() error = %v", err)
	}
}

func TestBootstrap_UnknownFactory(t *testing.T) {
	t.Parallel()

	bootDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(bootDir, "modkit", "kernel", "kernel.cue"), `factory: "nope"`)

	if _, err := Bootstrap(context.Background(), New(Options{}), []string{bootDir}, NewFactories()); err == nil {
		t.Fatal("Bootstrap() expected error for unknown factory")
	}
}
