// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"cmp"
	"errors"
	"maps"
	"slices"

	"github.com/modkit/modkit/internal/dag"
)

type (
	// Entry is one node of the graph. Entries created only because another
	// entry requires them are placeholders until registered.
	Entry[T any] struct {
		// Name is the unique key of the entry.
		Name string
		// Value is the registered payload; zero for placeholders.
		Value T

		seq        int
		registered bool
		resolved   bool
		// requires are the entry's own declared requirements.
		requires []string
		// requiredBy are the names this entry declared itself required by.
		requiredBy []string
		// injected are requirements other entries attached via requiredBy.
		injected map[string]struct{}
		// dependsOnMe are the names that require this entry.
		dependsOnMe map[string]struct{}
	}

	// Pending describes a registered entry that has not resolved.
	Pending struct {
		Name string `json:"name"`
		// WaitsFor lists the unresolved requirements, sorted.
		WaitsFor []string `json:"waits_for"`
	}

	// Graph is an incremental resolver. It is not safe for concurrent use;
	// callers serialize access.
	Graph[T any] struct {
		entries map[string]*Entry[T]
		order   []string
		seq     int
	}
)

// ErrUnknownEntry is returned when removing a name that is not registered.
var ErrUnknownEntry = errors.New("unknown entry")

// New creates an empty Graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{entries: make(map[string]*Entry[T])}
}

// Registered reports whether the entry is backed by a real value.
func (e *Entry[T]) Registered() bool { return e.registered }

// Resolved reports whether the entry has resolved.
func (e *Entry[T]) Resolved() bool { return e.resolved }

// Add registers value under name. requires lists names that must resolve
// first; requiredBy lists names that require this entry. Re-adding a
// registered name replaces its value in place and recomputes its edges.
func (g *Graph[T]) Add(name string, requires, requiredBy []string, value T) {
	e := g.entry(name)
	var released []*Entry[T]
	if e.registered {
		released = g.dropEdges(e)
	}

	e.Value = value
	e.registered = true
	e.requires = dedupe(requires, name)
	e.requiredBy = dedupe(requiredBy, name)

	for _, r := range e.requires {
		g.entry(r).dependsOnMe[name] = struct{}{}
	}
	for _, x := range e.requiredBy {
		g.entry(x).injected[name] = struct{}{}
		e.dependsOnMe[x] = struct{}{}
	}

	if e.resolved && !g.satisfiedInPlace(e) {
		g.unresolve(e)
	}
	for _, x := range e.requiredBy {
		if dependent := g.entries[x]; dependent.resolved && !g.satisfiedInPlace(dependent) {
			g.unresolve(dependent)
		}
	}

	g.tryResolve(e)
	for _, x := range e.requiredBy {
		g.tryResolve(g.entries[x])
	}
	for _, r := range released {
		if _, ok := g.entries[r.Name]; ok {
			g.tryResolve(r)
		}
	}
}

// Remove unregisters name. Its dependents are unresolved transitively and stay
// registered, now waiting on name again. The entry survives as a placeholder
// while anything still requires it.
func (g *Graph[T]) Remove(name string) error {
	e, ok := g.entries[name]
	if !ok || !e.registered {
		return ErrUnknownEntry
	}

	g.unresolve(e)
	released := g.dropEdges(e)

	var zero T
	e.Value = zero
	e.registered = false
	e.requires, e.requiredBy = nil, nil
	g.prune(e)

	for _, r := range released {
		if _, ok := g.entries[r.Name]; ok {
			g.tryResolve(r)
		}
	}
	return nil
}

// Get returns the entry for name, including placeholders.
func (g *Graph[T]) Get(name string) (*Entry[T], bool) {
	e, ok := g.entries[name]
	return e, ok
}

// IsResolved reports whether name is registered and resolved.
func (g *Graph[T]) IsResolved(name string) bool {
	e, ok := g.entries[name]
	return ok && e.resolved
}

// Len returns the number of registered entries.
func (g *Graph[T]) Len() int {
	n := 0
	for _, e := range g.entries {
		if e.registered {
			n++
		}
	}
	return n
}

// ResolvedEntries returns the resolved entries in resolution order.
func (g *Graph[T]) ResolvedEntries() []*Entry[T] {
	out := make([]*Entry[T], 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.entries[name])
	}
	return out
}

// MissingRequirements maps every required but unregistered name to the sorted
// registered entries that require it.
func (g *Graph[T]) MissingRequirements() map[string][]string {
	missing := make(map[string][]string)
	for name, e := range g.entries {
		if e.registered {
			continue
		}
		var dependents []string
		for d := range e.dependsOnMe {
			if dep := g.entries[d]; dep.registered && slices.Contains(dep.requires, name) {
				dependents = append(dependents, d)
			}
		}
		if len(dependents) > 0 {
			slices.Sort(dependents)
			missing[name] = dependents
		}
	}
	return missing
}

// PendingEntries returns the registered, unresolved entries in discovery order,
// each with the requirements it still waits for.
func (g *Graph[T]) PendingEntries() []Pending {
	var pending []Pending
	for _, e := range g.sorted(g.entries) {
		if e.registered && !e.resolved {
			pending = append(pending, Pending{Name: e.Name, WaitsFor: g.waitsFor(e)})
		}
	}
	return pending
}

// Cycles returns the groups of pending entries that require each other and so
// can never resolve. Groups and members follow discovery order.
func (g *Graph[T]) Cycles() [][]string {
	d := dag.New()
	for _, e := range g.sorted(g.entries) {
		if !e.registered || e.resolved {
			continue
		}
		d.AddNode(e.Name)
		for _, r := range g.requirements(e) {
			if req := g.entries[r]; req.registered && !req.resolved {
				d.AddEdge(r, e.Name)
			}
		}
	}

	var cycleErr *dag.CycleError
	if _, err := d.TopologicalSort(); errors.As(err, &cycleErr) {
		return cycleErr.Cycles
	}
	return nil
}

// Requirements returns the effective requirements of name (declared plus
// those attached through requiredBy), sorted.
func (g *Graph[T]) Requirements(name string) []string {
	e, ok := g.entries[name]
	if !ok {
		return nil
	}
	return g.requirements(e)
}

// Dependents returns the registered entries that require name, in discovery
// order.
func (g *Graph[T]) Dependents(name string) []string {
	e, ok := g.entries[name]
	if !ok {
		return nil
	}
	var out []string
	for _, d := range g.sorted(pick(g.entries, e.dependsOnMe)) {
		if d.registered {
			out = append(out, d.Name)
		}
	}
	return out
}

func (g *Graph[T]) entry(name string) *Entry[T] {
	if e, ok := g.entries[name]; ok {
		return e
	}
	g.seq++
	e := &Entry[T]{
		Name:        name,
		seq:         g.seq,
		injected:    make(map[string]struct{}),
		dependsOnMe: make(map[string]struct{}),
	}
	g.entries[name] = e
	return e
}

// dropEdges withdraws the edges e declared. An edge also declared from the
// other side survives. It returns the entries that lost a requirement and
// may now resolve.
func (g *Graph[T]) dropEdges(e *Entry[T]) []*Entry[T] {
	var released []*Entry[T]
	for _, r := range e.requires {
		if req, ok := g.entries[r]; ok {
			if !slices.Contains(req.requiredBy, e.Name) {
				delete(req.dependsOnMe, e.Name)
			}
			if req != e {
				g.prune(req)
			}
		}
	}
	for _, x := range e.requiredBy {
		if dependent, ok := g.entries[x]; ok {
			delete(dependent.injected, e.Name)
			if !slices.Contains(dependent.requires, e.Name) {
				delete(e.dependsOnMe, x)
			}
			released = append(released, dependent)
			g.prune(dependent)
		}
	}
	return released
}

// prune deletes a placeholder nothing refers to anymore.
func (g *Graph[T]) prune(e *Entry[T]) {
	if e.registered || len(e.dependsOnMe) > 0 || len(e.injected) > 0 {
		return
	}
	delete(g.entries, e.Name)
}

func (g *Graph[T]) requirements(e *Entry[T]) []string {
	reqs := slices.Clone(e.requires)
	for name := range e.injected {
		if !slices.Contains(reqs, name) {
			reqs = append(reqs, name)
		}
	}
	slices.Sort(reqs)
	return reqs
}

func (g *Graph[T]) waitsFor(e *Entry[T]) []string {
	var waits []string
	for _, r := range g.requirements(e) {
		if req, ok := g.entries[r]; !ok || !req.resolved {
			waits = append(waits, r)
		}
	}
	return waits
}

// satisfiedInPlace reports whether a resolved entry may keep its position:
// every requirement is resolved and precedes it in the order.
func (g *Graph[T]) satisfiedInPlace(e *Entry[T]) bool {
	pos := slices.Index(g.order, e.Name)
	for _, r := range g.requirements(e) {
		if !g.IsResolved(r) || slices.Index(g.order, r) > pos {
			return false
		}
	}
	return true
}

// tryResolve resolves e if possible and cascades to its dependents in
// breadth-first, discovery order.
func (g *Graph[T]) tryResolve(e *Entry[T]) {
	queue := []*Entry[T]{e}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.resolved || !cur.registered || len(g.waitsFor(cur)) > 0 {
			continue
		}
		cur.resolved = true
		g.order = append(g.order, cur.Name)
		queue = append(queue, g.sorted(pick(g.entries, cur.dependsOnMe))...)
	}
}

// unresolve marks e and everything that transitively requires it unresolved.
func (g *Graph[T]) unresolve(e *Entry[T]) {
	if !e.resolved {
		return
	}
	e.resolved = false
	g.order = slices.DeleteFunc(g.order, func(n string) bool { return n == e.Name })
	for d := range e.dependsOnMe {
		if dep, ok := g.entries[d]; ok {
			g.unresolve(dep)
		}
	}
}

// sorted returns the entries ordered by discovery.
func (g *Graph[T]) sorted(m map[string]*Entry[T]) []*Entry[T] {
	return slices.SortedFunc(maps.Values(m), func(a, b *Entry[T]) int {
		return cmp.Compare(a.seq, b.seq)
	})
}

func pick[T any](entries map[string]*Entry[T], names map[string]struct{}) map[string]*Entry[T] {
	out := make(map[string]*Entry[T], len(names))
	for n := range names {
		if e, ok := entries[n]; ok {
			out[n] = e
		}
	}
	return out
}

// dedupe drops duplicates and self references, keeping first occurrence.
func dedupe(names []string, self string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != self && n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
