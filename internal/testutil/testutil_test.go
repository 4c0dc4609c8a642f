// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestWriteTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	WriteTree(t, root, map[string]string{
		"a/module.yaml":   "name: a\n",
		"b/META-INF/x.MF": "Module-Name: b\n",
		"container.cue":   "name: \"c\"\n",
	})

	for rel, want := range map[string]string{
		"a/module.yaml":   "name: a\n",
		"b/META-INF/x.MF": "Module-Name: b\n",
		"container.cue":   "name: \"c\"\n",
	} {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", rel, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", rel, data, want)
		}
	}
}

func TestWriteZip(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "nested", "mod.zip")
	WriteZip(t, p, map[string]string{"META-INF/module.cue": `name: "z"`})

	r, err := zip.OpenReader(p)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()
	if len(r.File) != 1 || r.File[0].Name != "META-INF/module.cue" {
		t.Fatalf("members = %v, want META-INF/module.cue", r.File)
	}
	rc, err := r.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `name: "z"` {
		t.Errorf("content = %q", data)
	}
}

func TestEventually(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	Eventually(t, time.Second, func() bool { return calls.Add(1) >= 3 }, "three calls")
	if got := calls.Load(); got < 3 {
		t.Errorf("calls = %d, want >= 3", got)
	}
}

func TestDeferClose(t *testing.T) {
	t.Parallel()

	closed := false
	t.Run("inner", func(t *testing.T) {
		DeferClose(t, closerFunc(func() error {
			closed = true
			return nil
		}))
	})
	if !closed {
		t.Error("Close was not called at cleanup")
	}
}

func TestDeferClose_ReportsError(t *testing.T) {
	t.Parallel()

	var failed bool
	ft := &fakeTB{TB: t, onError: func() { failed = true }}
	DeferClose(ft, closerFunc(func() error { return errors.New("boom") }))
	for _, fn := range ft.cleanups {
		fn()
	}
	if !failed {
		t.Error("close error was not reported")
	}
}

// fakeTB collects cleanups and records Errorf calls instead of failing.
type fakeTB struct {
	testing.TB
	cleanups []func()
	onError  func()
}

func (f *fakeTB) Helper()               {}
func (f *fakeTB) Cleanup(fn func())     { f.cleanups = append(f.cleanups, fn) }
func (f *fakeTB) Errorf(string, ...any) { f.onError() }
