// SPDX-License-Identifier: MPL-2.0

package preprocess

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/modkit/modkit/internal/issue"
	"github.com/modkit/modkit/internal/testutil"
)

const webTemplate = `<web-app>
%{servlets}%
</web-app>
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTree lays out a container with modules a, b (requires a) and
// c (requires b and the absent z).
func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "container.cue"), `
name: "app"
directories: ["modules"]
templates: {
	"web.xml": {src: "templates/web.xml.tmpl", install_path: "out/WEB-INF/web.xml"}
	"empty.xml": {src: "templates/web.xml.tmpl", install_path: "out/empty.xml", required: true}
	"unused.xml": {src: "templates/web.xml.tmpl", install_path: "out/unused.xml"}
}
`)
	testutil.WriteFile(t, filepath.Join(root, "templates", "web.xml.tmpl"), webTemplate)
	// Written in reverse order to prove contributions follow resolution order.
	testutil.WriteFile(t, filepath.Join(root, "modules", "c", "module.cue"), `
name: "c"
requires: ["b", "z"]
contributions: [{template: "web.xml", marker: "servlets", payload: "<servlet name=\"c\"/>"}]
`)
	testutil.WriteFile(t, filepath.Join(root, "modules", "b.module.yaml"), `name: b
requires: [a]
contributions:
  - template: web.xml
    marker: servlets
    payload: <servlet name="b"/>
`)
	testutil.WriteFile(t, filepath.Join(root, "modules", "a", "module.toml"), `name = "a"

[[contributions]]
template = "web.xml"
marker = "servlets"
payload = '<servlet name="a"/>'
`)
	return root
}

func TestRun_ResolvesAndMergesInOrder(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	report, err := New(Options{Logger: quietLogger()}).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !slices.Equal(report.Resolved, []string{"a", "b"}) {
		t.Errorf("Resolved = %v, want [a b]", report.Resolved)
	}
	if !slices.Equal(report.Missing["z"], []string{"c"}) || len(report.Missing) != 1 {
		t.Errorf("Missing = %v, want map[z:[c]]", report.Missing)
	}
	if len(report.Pending) != 1 || report.Pending[0].Name != "c" || !slices.Equal(report.Pending[0].WaitsFor, []string{"z"}) {
		t.Errorf("Pending = %+v, want c waiting for z", report.Pending)
	}

	got, err := os.ReadFile(filepath.Join(root, "out", "WEB-INF", "web.xml"))
	if err != nil {
		t.Fatalf("web.xml not written: %v", err)
	}
	want := "<web-app>\n<servlet name=\"a\"/>\n<servlet name=\"b\"/>\n%{servlets}%\n</web-app>\n"
	if string(got) != want {
		t.Errorf("web.xml = %q, want %q", got, want)
	}

	if _, err := os.Stat(filepath.Join(root, "out", "unused.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("untouched optional template should not be written, stat err = %v", err)
	}
	if len(report.Written) != 2 {
		t.Errorf("Written = %v, want web.xml and empty.xml", report.Written)
	}
	if !report.HasErrors() {
		t.Error("HasErrors() should report the pending module")
	}
}

func TestRun_RequiredTemplateWithoutContributions(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	if _, err := New(Options{Logger: quietLogger()}).Run(context.Background(), root); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "out", "empty.xml"))
	if err != nil {
		t.Fatalf("required template not written: %v", err)
	}
	if string(got) != webTemplate {
		t.Errorf("empty.xml = %q, want the source unchanged", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	p := New(Options{Logger: quietLogger()})
	out := filepath.Join(root, "out", "WEB-INF", "web.xml")

	if _, err := p.Run(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("second pass differs:\n%s\nvs\n%s", first, second)
	}
}

func TestRun_InstallActions(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "container.cue"), `
name: "app"
directories: ["modules"]
install: [{set: {key: "GREETING", value: "hello"}}]
`)
	testutil.WriteFile(t, filepath.Join(root, "modules", "a", "files", "conf", "a.properties"), "k=v\n")
	testutil.WriteFile(t, filepath.Join(root, "modules", "a", "module.cue"), `
name: "a"
install: [
	{mkdir: "out/${MODULE_NAME}"},
	{copy: {from: "files", to: "out/${MODULE_NAME}/files"}},
	{set: {key: "TARGET", value: "${CONTAINER_DIR}/out/${MODULE_NAME}"}},
	{run: "echo \"$GREETING from $MODULE_NAME\" > \"$TARGET/greeting.txt\""},
	{log: "installed ${MODULE_NAME}"},
]
`)

	var stdout bytes.Buffer
	report, err := New(Options{Logger: quietLogger(), Stdout: &stdout}).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", report.Diagnostics)
	}

	greeting, err := os.ReadFile(filepath.Join(root, "out", "a", "greeting.txt"))
	if err != nil {
		t.Fatalf("run action output missing: %v", err)
	}
	if strings.TrimSpace(string(greeting)) != "hello from a" {
		t.Errorf("greeting = %q", greeting)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "a", "files", "conf", "a.properties")); err != nil {
		t.Errorf("copied tree missing: %v", err)
	}
}

func TestRun_ModuleLocalFailuresBecomeDiagnostics(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "container.cue"), `
name: "app"
directories: ["modules"]
files: ["extra/missing.module.cue"]
`)
	testutil.WriteFile(t, filepath.Join(root, "modules", "broken.module.cue"), `name: `)
	testutil.WriteFile(t, filepath.Join(root, "modules", "unnamed.fragments.cue"), `fragments: [{requires: []}]`)
	testutil.WriteFile(t, filepath.Join(root, "modules", "escape.module.cue"), `
name: "escape"
install: [{mkdir: "../../outside"}]
`)
	testutil.WriteFile(t, filepath.Join(root, "modules", "stray.module.cue"), `
name: "stray"
contributions: [{template: "nope", marker: "m", payload: "x"}]
`)
	testutil.WriteFile(t, filepath.Join(root, "modules", "ok.module.cue"), `name: "ok"`)

	report, err := New(Options{Logger: quietLogger()}).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(report.Resolved, []string{"escape", "ok", "stray"}) {
		t.Errorf("Resolved = %v", report.Resolved)
	}

	codes := map[string]int{}
	for _, d := range report.Diagnostics {
		codes[d.Code]++
	}
	if codes[CodeScanFailed] != 3 {
		t.Errorf("scan diagnostics = %d, want 3 (broken, unnamed, missing file): %+v", codes[CodeScanFailed], report.Diagnostics)
	}
	if codes[CodeInstallFailed] != 1 {
		t.Errorf("install diagnostics = %d, want 1", codes[CodeInstallFailed])
	}
	if codes[CodeTemplateError] != 1 {
		t.Errorf("template diagnostics = %d, want 1", codes[CodeTemplateError])
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside")); err == nil {
		t.Error("mkdir escaped the container tree")
	}
}

func TestRun_TemplateOutputsStayInsideTree(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	root := filepath.Join(parent, "app")
	inside := filepath.ToSlash(filepath.Join(root, "out", "abs.txt"))
	testutil.WriteTree(t, root, map[string]string{
		"container.cue": `
name: "app"
directories: ["modules"]
templates: {
	"escaped": {src: "t.tmpl", install_path: "../escaped.txt", required: true}
	"inside": {src: "t.tmpl", install_path: "` + inside + `", required: true}
}
`,
		"t.tmpl": "body\n",
		"modules/m/module.cue": `
name: "m"
templates: "m.txt": {src: "m.tmpl", install_path: "out/../../m.txt", required: true}
`,
		"modules/m/m.tmpl": "module body\n",
	})

	report, err := New(Options{Logger: quietLogger()}).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, name := range []string{"escaped.txt", "m.txt"} {
		if _, err := os.Stat(filepath.Join(parent, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s written outside the container tree, stat err = %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "out", "abs.txt")); err != nil {
		t.Errorf("absolute output inside the tree not written: %v", err)
	}

	var outside []Diagnostic
	for _, d := range report.Diagnostics {
		if d.Code == CodeTemplateOutside {
			outside = append(outside, d)
		}
	}
	if len(outside) != 2 {
		t.Fatalf("outside-tree diagnostics = %+v, want 2", outside)
	}
	for _, d := range outside {
		if d.Severity != SeverityError || !errors.Is(d.Cause, ErrOutsideTree) {
			t.Errorf("diagnostic = %+v, want an error wrapping ErrOutsideTree", d)
		}
	}
	if outside[0].Module != "" || outside[1].Module != "m" {
		t.Errorf("diagnostic modules = %q, %q, want container then m", outside[0].Module, outside[1].Module)
	}
	if !report.HasErrors() {
		t.Error("HasErrors() should report the rejected templates")
	}
}

func TestRun_ArchiveTemplatesAreReported(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "container.cue"), `
name: "app"
directories: ["modules"]
`)
	testutil.WriteZip(t, filepath.Join(root, "modules", "zipped.zip"), map[string]string{
		"META-INF/module.cue": `
name: "zipped"
templates: "z.xml": {src: "z.tmpl", install_path: "out/z.xml", required: true}
`,
		"z.tmpl": "zipped\n",
	})

	report, err := New(Options{Logger: quietLogger()}).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(report.Resolved, []string{"zipped"}) {
		t.Errorf("Resolved = %v, want [zipped]", report.Resolved)
	}

	var found *Diagnostic
	for i, d := range report.Diagnostics {
		if d.Code == CodeArchiveTemplates {
			found = &report.Diagnostics[i]
		}
	}
	if found == nil {
		t.Fatalf("no %s diagnostic in %+v", CodeArchiveTemplates, report.Diagnostics)
	}
	if found.Severity != SeverityWarning || found.Module != "zipped" {
		t.Errorf("diagnostic = %+v, want a warning for zipped", *found)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "z.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive template should not be written, stat err = %v", err)
	}
}

func TestRun_NestedContainersAndCycles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "container.cue"), `
name: "root"
directories: ["."]
containers: ["sub"]
`)
	testutil.WriteFile(t, filepath.Join(root, "x.module.cue"), `name: "x", requires: ["y"]`)
	testutil.WriteFile(t, filepath.Join(root, "y.module.cue"), `name: "y", requires: ["x"]`)
	testutil.WriteFile(t, filepath.Join(root, "sub", "container.cue"), `
name: "sub"
directories: ["."]
`)
	testutil.WriteFile(t, filepath.Join(root, "sub", "inner.module.cue"), `name: "inner"`)

	report, err := New(Options{Logger: quietLogger()}).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Cycles) != 1 || !slices.Equal(report.Cycles[0], []string{"x", "y"}) {
		t.Errorf("Cycles = %v, want [[x y]]", report.Cycles)
	}
	if slices.Contains(report.Resolved, "inner") {
		t.Error("nested container modules must not leak into the parent scan")
	}
	if len(report.Children) != 1 || !slices.Equal(report.Children[0].Resolved, []string{"inner"}) {
		t.Fatalf("Children = %+v", report.Children)
	}

	md := report.Markdown()
	for _, want := range []string{"# Container `root`", "## Cycles", "# Container `sub`"} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() missing %q:\n%s", want, md)
		}
	}
	if _, err := report.JSON(); err != nil {
		t.Errorf("JSON() error = %v", err)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	report, err := New(Options{Logger: quietLogger(), DryRun: true}).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Written) != 0 {
		t.Errorf("Written = %v, want none", report.Written)
	}
	if _, err := os.Stat(filepath.Join(root, "out")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("dry run created output, stat err = %v", err)
	}
	if len(report.Modules) != 3 {
		t.Errorf("Modules = %+v, want a b c", report.Modules)
	}
}

func TestRun_MissingRootIsStructural(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Logger: quietLogger()}).Run(context.Background(), t.TempDir())
	var actionable *issue.ActionableError
	if !errors.As(err, &actionable) {
		t.Fatalf("Run() error = %v, want *issue.ActionableError", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Options{Logger: quietLogger()}).Run(ctx, root); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
