// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/modkit/modkit/internal/platform"

	"golang.org/x/mod/semver"
)

const (
	// KindFragment is a module backed by a real descriptor.
	KindFragment Kind = "fragment"
	// KindMarker is a dependency-only entry derived from a legacy archive. It
	// carries no install actions, templates or contributions.
	KindMarker Kind = "marker"
)

var (
	// ErrNoDescriptor is returned when a path holds no recognizable descriptor.
	ErrNoDescriptor = errors.New("no descriptor found")

	// ErrUnnamedFragment is returned when a multi-fragment file contains an entry
	// without an explicit name.
	ErrUnnamedFragment = errors.New("every fragment in a multi-fragment file must declare a name")
)

type (
	// Kind distinguishes real fragments from dependency-only markers.
	Kind string

	// CopySpec describes a copy install action.
	CopySpec struct {
		From string `json:"from"`
		To   string `json:"to"`
	}

	// SetSpec describes a set install action that stores a value in the
	// command context of the current preprocessing pass.
	SetSpec struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	// Action is one install instruction. Exactly one field is set.
	Action struct {
		// Run is a shell script interpreted in-process (no host shell).
		Run string `json:"run,omitempty"`
		// Mkdir creates a directory (and parents).
		Mkdir string `json:"mkdir,omitempty"`
		// Delete removes a file or directory tree.
		Delete string `json:"delete,omitempty"`
		// Log writes a message to the pass logger.
		Log string `json:"log,omitempty"`
		// Copy copies a file or directory tree.
		Copy *CopySpec `json:"copy,omitempty"`
		// Set stores a key in the command context.
		Set *SetSpec `json:"set,omitempty"`
	}

	// TemplateSpec declares a shared template owned by a container (or
	// contributed to it by a fragment).
	TemplateSpec struct {
		// Src is the template source, relative to the declaring descriptor.
		Src string `json:"src"`
		// InstallPath is the output path, relative to the container directory. It
		// must stay inside that directory.
		InstallPath string `json:"install_path"`
		// Required templates are written even when nothing contributes to them.
		Required bool `json:"required,omitempty"`
	}

	// Contribution is a named edit applied at an insertion marker of a template.
	Contribution struct {
		Template string `json:"template"`
		Marker   string `json:"marker"`
		Payload  string `json:"payload,omitempty"`
	}

	// Component declares a runtime component contributed by a module.
	Component struct {
		// Name is unique within the module.
		Name string `json:"name"`
		// Type selects the component factory.
		Type string `json:"type"`
		// Order groups components for start notification (ascending).
		Order int `json:"order,omitempty"`
		// Aliases are additional lookup names, unique across a kernel.
		Aliases []string `json:"aliases,omitempty"`
		// Resources are unit names the component loads through its module wiring.
		Resources []string `json:"resources,omitempty"`
		// Config is opaque, factory-specific configuration.
		Config map[string]any `json:"config,omitempty"`
	}

	// Module is the in-memory form of a fragment descriptor. It is immutable
	// after parsing.
	Module struct {
		Name          string                  `json:"name"`
		Version       string                  `json:"version,omitempty"`
		Requires      []string                `json:"requires,omitempty"`
		RequiredBy    []string                `json:"required_by,omitempty"`
		Install       []Action                `json:"install,omitempty"`
		Templates     map[string]TemplateSpec `json:"templates,omitempty"`
		Contributions []Contribution          `json:"contributions,omitempty"`
		Components    []Component             `json:"components,omitempty"`

		// Kind is KindFragment or KindMarker (not part of the file format).
		Kind Kind `json:"-"`
		// Source is the descriptor location. Archive members are written as
		// "<archive>!/<member>".
		Source string `json:"-"`
		// Dir is the module root: the descriptor directory, the package
		// directory, or the archive path.
		Dir string `json:"-"`
		// Archive is true when Dir is a .zip archive.
		Archive bool `json:"-"`
		// NestedArchives lists archive members that must be expanded before
		// their content is visible to the loader.
		NestedArchives []string `json:"-"`
	}

	// fragmentList is the on-disk shape of a multi-fragment file.
	fragmentList struct {
		Fragments []Module `json:"fragments"`
	}

	// Container owns a fragment registry and shared templates.
	Container struct {
		Name        string                  `json:"name"`
		Directories []string                `json:"directories,omitempty"`
		Files       []string                `json:"files,omitempty"`
		Templates   map[string]TemplateSpec `json:"templates,omitempty"`
		Install     []Action                `json:"install,omitempty"`
		Containers  []string                `json:"containers,omitempty"`

		// Dir is the container's own tree root (not part of the file format).
		Dir string `json:"-"`
		// Source is the container descriptor path.
		Source string `json:"-"`
	}

	// ScanError reports that one module artifact could not be parsed. It never
	// aborts the scan of sibling artifacts.
	ScanError struct {
		Path string
		Err  error
	}
)

// Error implements the error interface.
func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying parse failure.
func (e *ScanError) Unwrap() error {
	return e.Err
}

// Kind returns a short label for the action, used in logs.
func (a Action) Kind() string {
	switch {
	case a.Run != "":
		return "run"
	case a.Mkdir != "":
		return "mkdir"
	case a.Delete != "":
		return "delete"
	case a.Copy != nil:
		return "copy"
	case a.Set != nil:
		return "set"
	default:
		return "log"
	}
}

// IsMarker reports whether m is a dependency-only marker.
func (m *Module) IsMarker() bool {
	return m.Kind == KindMarker
}

// Validate checks constraints the schema cannot express.
func (m *Module) Validate() error {
	var errs []error

	if m.Name != "" && !platform.IsPortableDirName(m.Name) {
		errs = append(errs, fmt.Errorf("module name %q cannot be used as a directory name on every platform", m.Name))
	}
	if m.Version != "" && !semver.IsValid(canonicalVersion(m.Version)) {
		errs = append(errs, fmt.Errorf("version %q is not a valid semantic version", m.Version))
	}
	if slices.Contains(m.Requires, m.Name) {
		errs = append(errs, fmt.Errorf("module %q cannot require itself", m.Name))
	}
	if slices.Contains(m.RequiredBy, m.Name) {
		errs = append(errs, fmt.Errorf("module %q cannot be required by itself", m.Name))
	}

	seen := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("duplicate component %q", c.Name))
		}
		seen[c.Name] = true
	}

	return errors.Join(errs...)
}

// Clone returns a deep-enough copy for callers that need to adjust location
// fields (Dir, Source) without touching a shared descriptor.
func (m *Module) Clone() *Module {
	c := *m
	c.Requires = slices.Clone(m.Requires)
	c.RequiredBy = slices.Clone(m.RequiredBy)
	c.Install = slices.Clone(m.Install)
	c.Contributions = slices.Clone(m.Contributions)
	c.Components = slices.Clone(m.Components)
	c.NestedArchives = slices.Clone(m.NestedArchives)
	c.Templates = maps.Clone(m.Templates)
	return &c
}

// String returns "name@version" or just the name.
func (m *Module) String() string {
	if m.Version == "" {
		return m.Name
	}
	return m.Name + "@" + strings.TrimPrefix(m.Version, "v")
}

// NewMarker builds a dependency-only entry for a legacy archive.
func NewMarker(name, source string, requires []string) *Module {
	return &Module{
		Name:     name,
		Requires: requires,
		Kind:     KindMarker,
		Source:   source,
		Dir:      source,
		Archive:  strings.HasSuffix(strings.ToLower(source), ArchiveExt),
	}
}

func canonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
