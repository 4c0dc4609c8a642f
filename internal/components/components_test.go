// SPDX-License-Identifier: MPL-2.0

package components

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/lifecycle"
)

func newShell(t *testing.T, out *bytes.Buffer, cfg map[string]any) *Shell {
	t.Helper()
	v, err := ShellFactory(IO{Stdout: out})(context.Background(), lifecycle.ComponentSpec{
		Module: "web",
		Name:   "server",
		Type:   TypeShell,
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("ShellFactory() error = %v", err)
	}
	return v.(*Shell)
}

func TestShell_Hooks(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := newShell(t, &out, map[string]any{
		"activate":   `echo "$MODKIT_HOOK $MODKIT_MODULE/$MODKIT_COMPONENT $PORT"`,
		"deactivate": `echo "$MODKIT_HOOK"`,
		"start":      `echo started`,
		"env":        map[string]any{"PORT": 8080},
	})

	ctx := context.Background()
	for _, step := range []func(context.Context) error{s.Activate, s.Start, s.Stop, s.Deactivate} {
		if err := step(ctx); err != nil {
			t.Fatalf("hook error = %v", err)
		}
	}

	want := "activate web/server 8080\nstarted\ndeactivate\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestShell_WorkingDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var out bytes.Buffer
	s := newShell(t, &out, map[string]any{"start": `pwd`, "dir": dir})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != dir {
		t.Errorf("pwd = %q, want %q", got, dir)
	}
}

func TestShell_ExitStatus(t *testing.T) {
	t.Parallel()

	s := newShell(t, &bytes.Buffer{}, map[string]any{"activate": `exit 3`})
	err := s.Activate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 3") {
		t.Errorf("Activate() error = %v, want exit status 3", err)
	}
}

func TestShellFactory_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]map[string]any{
		"syntax":  {"start": `if then`},
		"type":    {"stop": 42},
		"unknown": {"restart": "true"},
		"env":     {"env": "A=1"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ShellFactory(IO{})(context.Background(), lifecycle.ComponentSpec{Module: "m", Name: "c", Config: cfg})
			if err == nil {
				t.Error("ShellFactory() should fail")
			}
		})
	}
}

func TestResource(t *testing.T) {
	t.Parallel()

	units := []*bootloader.Unit{{Name: "conf/a.txt", Data: []byte("a")}, {Name: "conf/b.txt", Data: []byte("b")}}
	v, err := ResourceFactory(context.Background(), lifecycle.ComponentSpec{Resources: units})
	if err != nil {
		t.Fatal(err)
	}
	r := v.(*Resource)
	if len(r.Units()) != 2 {
		t.Errorf("Units() = %d, want 2", len(r.Units()))
	}
	if u, ok := r.Lookup("conf/b.txt"); !ok || string(u.Data) != "b" {
		t.Errorf("Lookup(conf/b.txt) = %v, %v", u, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) should fail")
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := lifecycle.NewComponentRegistry()
	if err := Register(reg, IO{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !reg.Has(TypeShell) || !reg.Has(TypeResource) {
		t.Errorf("Types() = %v", reg.Types())
	}
	if err := Register(reg, IO{}); err == nil {
		t.Error("second Register() should fail")
	}
}
