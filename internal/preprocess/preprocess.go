// SPDX-License-Identifier: MPL-2.0

package preprocess

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"

	"github.com/modkit/modkit/internal/issue"
	"github.com/modkit/modkit/internal/resolver"
	"github.com/modkit/modkit/internal/template"
	"github.com/modkit/modkit/pkg/descriptor"
)

type (
	// Options configures a Preprocessor.
	Options struct {
		// Env seeds the command context of every pass.
		Env map[string]string
		// Ignore holds doublestar patterns excluded from scanning.
		Ignore []string
		// DryRun scans and resolves without running actions or writing files.
		DryRun bool
		Logger *slog.Logger
		Stdout io.Writer
		Stderr io.Writer
	}

	// Preprocessor drives scan, resolve, merge and write passes.
	Preprocessor struct {
		opts Options
	}
)

// New creates a Preprocessor.
func New(opts Options) *Preprocessor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Preprocessor{opts: opts}
}

// Run preprocesses the container rooted at rootDir and its nested containers.
// Module-local failures are reported as diagnostics; the returned error is
// non-nil only for structural failures.
func (p *Preprocessor) Run(ctx context.Context, rootDir string) (*Report, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	return p.runContainer(ctx, abs, NewCommandContext(p.opts.Env))
}

func (p *Preprocessor) runContainer(ctx context.Context, dir string, cc *CommandContext) (*Report, error) {
	c, err := descriptor.LoadContainer(dir)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load container descriptor").
			WithResource(dir).
			WithIssue(issue.DescriptorParseErrorId).
			WithSuggestion("Create container.cue (or .toml/.yaml) with at least a name").
			WithSuggestion("Check the descriptor against the schema: modkit config show").
			Wrap(err).
			BuildError()
	}

	log := p.opts.Logger.With("container", c.Name)
	report := &Report{Container: c.Name, Dir: c.Dir, Resolved: []string{}}

	scanner := &Scanner{Ignore: p.opts.Ignore, Logger: log}
	scan := scanner.Scan(c)
	report.Diagnostics = append(report.Diagnostics, scan.Diagnostics...)

	graph := p.resolve(scan.Modules, report)
	templates := p.defineTemplates(c, graph, report)

	cc.EnterContainer(c)
	runner := &ActionRunner{Root: c.Dir, Stdout: p.opts.Stdout, Stderr: p.opts.Stderr}

	if !p.opts.DryRun {
		for i, a := range c.Install {
			runner.Logger = log
			if err := runner.Run(ctx, a, cc, c.Dir); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("container %s install[%d] (%s): %w", c.Name, i, a.Kind(), err)
			}
		}
	}

	for _, entry := range graph.ResolvedEntries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := entry.Value
		report.Resolved = append(report.Resolved, m.Name)
		if m.IsMarker() || p.opts.DryRun {
			continue
		}
		p.installModule(ctx, m, cc, runner, templates, log, report)
	}

	if !p.opts.DryRun {
		for _, t := range templates.Writable() {
			if err := t.Write(); err != nil {
				return nil, issue.NewErrorContext().
					WithOperation("write template").
					WithResource(t.Output).
					WithIssue(issue.OutputNotWritableId).
					WithSuggestion("Check that the container directory is writable").
					Wrap(err).
					BuildError()
			}
			log.Info("wrote template", "template", t.Name, "path", t.Output)
			report.Written = append(report.Written, t.Output)
		}
	}

	for _, sub := range c.Containers {
		child, err := p.runContainer(ctx, resolvePath(c.Dir, sub), cc.Clone())
		if err != nil {
			return nil, err
		}
		report.Children = append(report.Children, child)
	}
	return report, nil
}

// resolve registers the scanned modules in lexicographic order and fills the
// resolution part of report.
func (p *Preprocessor) resolve(modules []*descriptor.Module, report *Report) *resolver.Graph[*descriptor.Module] {
	sorted := slices.Clone(modules)
	slices.SortStableFunc(sorted, func(a, b *descriptor.Module) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Source, b.Source))
	})

	graph := resolver.New[*descriptor.Module]()
	for _, m := range sorted {
		if prev, ok := graph.Get(m.Name); ok && prev.Registered() {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeDuplicateModule,
				Message:  fmt.Sprintf("module %s from %s replaces the one from %s", m.Name, m.Source, prev.Value.Source),
				Module:   m.Name,
				Path:     m.Source,
			})
		}
		graph.Add(m.Name, m.Requires, m.RequiredBy, m)
	}

	for _, m := range sorted {
		if e, _ := graph.Get(m.Name); e.Value == m {
			report.Modules = append(report.Modules, ModuleSummary{
				Name:     m.Name,
				Version:  m.Version,
				Kind:     string(m.Kind),
				Source:   m.Source,
				Requires: m.Requires,
				Resolved: e.Resolved(),
			})
		}
	}

	report.Missing = graph.MissingRequirements()
	report.Pending = graph.PendingEntries()
	report.Cycles = graph.Cycles()

	for _, name := range slices.Sorted(maps.Keys(report.Missing)) {
		for _, dependent := range report.Missing[name] {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeMissingRequirement,
				Message:  fmt.Sprintf("module %s requires %s, which was not found", dependent, name),
				Module:   dependent,
			})
		}
	}
	for _, cycle := range report.Cycles {
		report.Diagnostics = append(report.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Code:     CodeDependencyCycle,
			Message:  fmt.Sprintf("modules %v require each other and cannot resolve", cycle),
			Module:   cycle[0],
		})
	}
	return graph
}

// defineTemplates collects the container's templates and those declared by
// resolved modules. Templates whose output leaves the container tree are
// reported and skipped.
func (p *Preprocessor) defineTemplates(c *descriptor.Container, graph *resolver.Graph[*descriptor.Module], report *Report) *template.Set {
	set := template.NewSet()
	define := func(name, srcDir string, spec descriptor.TemplateSpec, module string) {
		output, err := confine(c.Dir, spec.InstallPath)
		if err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity: SeverityError,
				Code:     CodeTemplateOutside,
				Message:  fmt.Sprintf("template %s: %v", name, err),
				Module:   module,
				Path:     spec.InstallPath,
				Cause:    err,
			})
			return
		}
		t := &template.Template{
			Name:     name,
			Src:      resolvePath(srcDir, spec.Src),
			Output:   output,
			Required: spec.Required,
		}
		if err := set.Define(t); err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeDuplicateTemplate,
				Message:  err.Error(),
				Module:   module,
				Cause:    err,
			})
		}
	}

	for _, name := range slices.Sorted(maps.Keys(c.Templates)) {
		define(name, c.Dir, c.Templates[name], "")
	}
	for _, entry := range graph.ResolvedEntries() {
		m := entry.Value
		if m.Archive {
			if len(m.Templates) > 0 {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{
					Severity: SeverityWarning,
					Code:     CodeArchiveTemplates,
					Message:  fmt.Sprintf("packaged module %s declares %d template(s); templates are only read from directory modules", m.Name, len(m.Templates)),
					Module:   m.Name,
					Path:     m.Source,
				})
			}
			continue
		}
		for _, name := range slices.Sorted(maps.Keys(m.Templates)) {
			define(name, m.Dir, m.Templates[name], m.Name)
		}
	}
	return set
}

func (p *Preprocessor) installModule(ctx context.Context, m *descriptor.Module, cc *CommandContext, runner *ActionRunner, templates *template.Set, log *slog.Logger, report *Report) {
	log = log.With("module", m.Name)
	cc.EnterModule(m)
	runner.Logger = log

	base := m.Dir
	if m.Archive {
		base = runner.Root
	}
	for i, a := range m.Install {
		if err := runner.Run(ctx, a, cc, base); err != nil {
			log.Error("install action failed", "index", i, "action", a.Kind(), "error", err)
			d := newDiagnostic(SeverityError, CodeInstallFailed, m.Source,
				fmt.Errorf("install[%d] (%s): %w", i, a.Kind(), err))
			d.Module = m.Name
			report.Diagnostics = append(report.Diagnostics, d)
			return
		}
	}

	for _, contrib := range m.Contributions {
		if err := templates.Apply(m.Name, contrib.Template, contrib.Marker, contrib.Payload); err != nil {
			log.Warn("contribution dropped", "template", contrib.Template, "marker", contrib.Marker, "error", err)
			d := newDiagnostic(SeverityWarning, CodeTemplateError, m.Source, err)
			d.Module = m.Name
			report.Diagnostics = append(report.Diagnostics, d)
		}
	}
}
