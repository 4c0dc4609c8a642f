// SPDX-License-Identifier: MPL-2.0

package template

import "fmt"

// Set holds the templates visible to one container.
type Set struct {
	templates map[string]*Template
	order     []string
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{templates: make(map[string]*Template)}
}

// Define adds t. Template names are unique within a Set.
func (s *Set) Define(t *Template) error {
	if _, dup := s.templates[t.Name]; dup {
		return fmt.Errorf("template %s already defined", t.Name)
	}
	s.templates[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

// Lookup returns the template named name.
func (s *Set) Lookup(name string) (*Template, bool) {
	t, ok := s.templates[name]
	return t, ok
}

// Len returns the number of defined templates.
func (s *Set) Len() int {
	return len(s.order)
}

// Apply inserts payload at marker in the named template on behalf of module.
func (s *Set) Apply(module, name, marker, payload string) error {
	t, ok := s.templates[name]
	if !ok {
		return &TemplateError{Template: name, Marker: marker, Module: module, Err: ErrUnknownTemplate}
	}
	if err := t.Update(marker, payload); err != nil {
		if te, ok := err.(*TemplateError); ok {
			te.Module = module
		}
		return err
	}
	return nil
}

// Writable returns the touched or required templates in definition order.
func (s *Set) Writable() []*Template {
	var out []*Template
	for _, name := range s.order {
		if t := s.templates[name]; t.ShouldWrite() {
			out = append(out, t)
		}
	}
	return out
}
