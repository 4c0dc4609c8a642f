// SPDX-License-Identifier: MPL-2.0

package preprocess

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/modkit/modkit/internal/resolver"
)

type (
	// Report is the outcome of preprocessing one container and, recursively,
	// its nested containers.
	Report struct {
		Container string `json:"container"`
		Dir       string `json:"dir"`
		// Modules lists every registered module in discovery order.
		Modules []ModuleSummary `json:"modules,omitempty"`
		// Resolved is the order modules were installed in.
		Resolved []string `json:"resolved"`
		// Missing maps each unknown required name to its dependents.
		Missing map[string][]string `json:"missing,omitempty"`
		// Pending lists registered modules that did not resolve.
		Pending []resolver.Pending `json:"pending,omitempty"`
		// Cycles lists groups of modules that require each other.
		Cycles      [][]string   `json:"cycles,omitempty"`
		Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
		// Written lists the template outputs produced by the pass.
		Written  []string  `json:"written,omitempty"`
		Children []*Report `json:"children,omitempty"`
	}

	// ModuleSummary is the listing form of a discovered module.
	ModuleSummary struct {
		Name     string   `json:"name"`
		Version  string   `json:"version,omitempty"`
		Kind     string   `json:"kind"`
		Source   string   `json:"source"`
		Requires []string `json:"requires,omitempty"`
		Resolved bool     `json:"resolved"`
	}
)

// HasErrors reports whether this report or any child carries an error
// diagnostic or an unresolved module.
func (r *Report) HasErrors() bool {
	if len(r.Pending) > 0 {
		return true
	}
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	for _, c := range r.Children {
		if c.HasErrors() {
			return true
		}
	}
	return false
}

// Walk calls fn for r and every descendant, depth first.
func (r *Report) Walk(fn func(*Report)) {
	fn(r)
	for _, c := range r.Children {
		c.Walk(fn)
	}
}

// JSON returns the indented JSON encoding of the report tree.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders the report tree as markdown.
func (r *Report) Markdown() string {
	var b strings.Builder
	r.Walk(func(rep *Report) {
		rep.writeMarkdown(&b)
	})
	return b.String()
}

func (r *Report) writeMarkdown(b *strings.Builder) {
	fmt.Fprintf(b, "# Container `%s`\n\n", r.Container)
	fmt.Fprintf(b, "Directory: `%s`\n\n", r.Dir)

	if len(r.Resolved) == 0 {
		b.WriteString("**Resolved**: none\n\n")
	} else {
		fmt.Fprintf(b, "**Resolved** (%d): %s\n\n", len(r.Resolved), codeList(r.Resolved))
	}

	if len(r.Missing) > 0 {
		b.WriteString("## Missing requirements\n\n")
		for _, name := range slices.Sorted(maps.Keys(r.Missing)) {
			fmt.Fprintf(b, "- `%s` required by %s\n", name, codeList(r.Missing[name]))
		}
		b.WriteString("\n")
	}

	if len(r.Pending) > 0 {
		b.WriteString("## Pending\n\n")
		for _, p := range r.Pending {
			fmt.Fprintf(b, "- `%s` waits for %s\n", p.Name, codeList(p.WaitsFor))
		}
		b.WriteString("\n")
	}

	if len(r.Cycles) > 0 {
		b.WriteString("## Cycles\n\n")
		for _, c := range r.Cycles {
			fmt.Fprintf(b, "- %s\n", strings.Join(append(quote(c), "`"+c[0]+"`"), " -> "))
		}
		b.WriteString("\n")
	}

	if len(r.Diagnostics) > 0 {
		b.WriteString("## Diagnostics\n\n")
		b.WriteString("| Severity | Code | Module | Message |\n|---|---|---|---|\n")
		for _, d := range r.Diagnostics {
			msg := strings.ReplaceAll(d.Message, "\n", " ")
			msg = strings.ReplaceAll(msg, "|", "\\|")
			fmt.Fprintf(b, "| %s | `%s` | %s | %s |\n", d.Severity, d.Code, d.Module, msg)
		}
		b.WriteString("\n")
	}

	if len(r.Written) > 0 {
		b.WriteString("## Written\n\n")
		for _, w := range r.Written {
			fmt.Fprintf(b, "- `%s`\n", w)
		}
		b.WriteString("\n")
	}
}

func quote(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "`" + n + "`"
	}
	return out
}

func codeList(names []string) string {
	return strings.Join(quote(names), ", ")
}
