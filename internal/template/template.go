// SPDX-License-Identifier: MPL-2.0

package template

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	markerOpen  = "%{"
	markerClose = "}%"
)

var (
	// ErrUnknownMarker is returned when a contribution targets a marker the
	// template does not contain.
	ErrUnknownMarker = errors.New("unknown insertion marker")
	// ErrUnknownTemplate is returned when a contribution targets a template
	// no container declared.
	ErrUnknownTemplate = errors.New("unknown template")
)

type (
	// TemplateError reports a contribution that could not be applied.
	TemplateError struct {
		Template string
		Marker   string
		Module   string
		Err      error
	}

	// Template is a named shared template. Its source is compiled lazily on
	// the first contribution (or on Write for required templates).
	Template struct {
		// Name is the key contributions refer to.
		Name string
		// Src is the template source path.
		Src string
		// Output is the path the rendered template is written to.
		Output string
		// Required templates are written even when untouched.
		Required bool

		compiled *Compiled
		touched  bool
	}

	// Compiled is the parsed form of a template source.
	Compiled struct {
		segments []segment
		markers  map[string]int
	}

	// segment is literal text followed by an optional marker. Payloads
	// inserted at the marker render between the two.
	segment struct {
		text     string
		marker   string
		inserted []string
	}
)

func (e *TemplateError) Error() string {
	var b strings.Builder
	b.WriteString("template ")
	b.WriteString(e.Template)
	if e.Marker != "" {
		fmt.Fprintf(&b, " marker %q", e.Marker)
	}
	if e.Module != "" {
		fmt.Fprintf(&b, " (contributed by %s)", e.Module)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Compile parses text into segments. Malformed markers are kept as literal
// text.
func Compile(text string) *Compiled {
	c := &Compiled{markers: make(map[string]int)}
	rest := text
	var lit strings.Builder

	for {
		start := strings.Index(rest, markerOpen)
		if start < 0 {
			lit.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(markerOpen):], markerClose)
		if end < 0 {
			lit.WriteString(rest)
			break
		}
		name := rest[start+len(markerOpen) : start+len(markerOpen)+end]
		if !validMarker(name) {
			lit.WriteString(rest[:start+len(markerOpen)])
			rest = rest[start+len(markerOpen):]
			continue
		}

		lit.WriteString(rest[:start])
		if _, dup := c.markers[name]; !dup {
			c.markers[name] = len(c.segments)
		}
		c.segments = append(c.segments, segment{text: lit.String(), marker: name})
		lit.Reset()
		rest = rest[start+len(markerOpen)+end+len(markerClose):]
	}

	c.segments = append(c.segments, segment{text: lit.String()})
	return c
}

// Markers returns the marker names in first-occurrence order.
func (c *Compiled) Markers() []string {
	var out []string
	for _, s := range c.segments {
		if s.marker != "" && !slices.Contains(out, s.marker) {
			out = append(out, s.marker)
		}
	}
	return out
}

// Render returns the text with every inserted payload in place.
func (c *Compiled) Render() []byte {
	var buf bytes.Buffer
	for _, s := range c.segments {
		buf.WriteString(s.text)
		for _, p := range s.inserted {
			buf.WriteString(p)
		}
		if s.marker != "" {
			buf.WriteString(markerOpen)
			buf.WriteString(s.marker)
			buf.WriteString(markerClose)
		}
	}
	return buf.Bytes()
}

// Update inserts payload before the first occurrence of marker. A missing
// trailing newline is added.
func (c *Compiled) Update(marker, payload string) error {
	idx, ok := c.markers[marker]
	if !ok {
		return ErrUnknownMarker
	}
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	c.segments[idx].inserted = append(c.segments[idx].inserted, payload)
	return nil
}

func validMarker(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}

// Touched reports whether a contribution was applied.
func (t *Template) Touched() bool {
	return t.touched
}

// ShouldWrite reports whether the template belongs in the output.
func (t *Template) ShouldWrite() bool {
	return t.touched || t.Required
}

// Update applies one contribution, compiling the source on first touch.
func (t *Template) Update(marker, payload string) error {
	if err := t.ensureCompiled(); err != nil {
		return err
	}
	if err := t.compiled.Update(marker, payload); err != nil {
		return &TemplateError{Template: t.Name, Marker: marker, Err: err}
	}
	t.touched = true
	return nil
}

// Render compiles the template if needed and returns its current text.
func (t *Template) Render() ([]byte, error) {
	if err := t.ensureCompiled(); err != nil {
		return nil, err
	}
	return t.compiled.Render(), nil
}

// Write renders the template to Output, creating parent directories.
func (t *Template) Write() error {
	data, err := t.Render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.Output), 0o755); err != nil {
		return fmt.Errorf("create output directory for template %s: %w", t.Name, err)
	}
	if err := os.WriteFile(t.Output, data, 0o644); err != nil {
		return fmt.Errorf("write template %s: %w", t.Name, err)
	}
	return nil
}

func (t *Template) ensureCompiled() error {
	if t.compiled != nil {
		return nil
	}
	data, err := os.ReadFile(t.Src)
	if err != nil {
		return &TemplateError{Template: t.Name, Err: fmt.Errorf("read source: %w", err)}
	}
	t.compiled = Compile(string(data))
	return nil
}
