// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modkit/modkit/internal/config"
	"github.com/modkit/modkit/internal/issue"

	"github.com/charmbracelet/fang"
)

type staticConfig struct {
	cfg *config.Config
	err error
}

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	return s.cfg, s.err
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	app, err := NewApp(Dependencies{Config: staticConfig{cfg: cfg}, Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	return app, &stdout, &stderr
}

func execute(t *testing.T, app *App, args ...string) error {
	t.Helper()
	root := NewRootCommand(app)
	root.SetArgs(args)
	return root.ExecuteContext(t.Context())
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	app, stdout, _ := newTestApp(t, nil)
	if err := execute(t, app, "version"); err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "modkit dev (built from source)") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestPreprocessCommand_PendingExitsOne(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("container.yaml", "name: c\ndirectories: [mods]\n")
	write("mods/a.module.yaml", "name: a\nrequires: [missing]\n")

	cfg := config.DefaultConfig()
	cfg.Preprocess.Root = root
	cfg.Preprocess.Report = filepath.Join(t.TempDir(), "report.md")
	app, stdout, _ := newTestApp(t, cfg)

	err := execute(t, app, "preprocess")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("error = %v, want exit code 1", err)
	}
	for _, want := range []string{"pending: ", "waits for missing"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("stdout %q missing %q", stdout.String(), want)
		}
	}
	data, err := os.ReadFile(cfg.Preprocess.Report)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(data), "## Pending") {
		t.Errorf("report = %q", data)
	}
}

func TestConfigErrorPropagates(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	app, err := NewApp(Dependencies{Config: staticConfig{err: wantErr}, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := execute(t, app, "modules", t.TempDir()); !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

func TestHandleError(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)
	var silent bytes.Buffer
	app.handleError(&silent, fang.Styles{}, &ExitError{Code: 1})
	if silent.Len() != 0 {
		t.Errorf("bare exit error printed %q", silent.String())
	}

	actionable := issue.NewErrorContext().
		WithOperation("write template").
		WithResource("out/web.xml").
		WithSuggestion("Check permissions").
		Wrap(errors.New("permission denied")).
		BuildError()
	var out bytes.Buffer
	app.handleError(&out, fang.Styles{}, actionable)
	got := out.String()
	for _, want := range []string{"failed to write template", "out/web.xml", "Check permissions"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}
