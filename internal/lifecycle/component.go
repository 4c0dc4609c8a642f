// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/modkit/modkit/internal/bootloader"
)

type (
	// Activator is implemented by components with activation side effects.
	Activator interface {
		Activate(ctx context.Context) error
	}

	// Deactivator is implemented by components that undo activation.
	Deactivator interface {
		Deactivate(ctx context.Context) error
	}

	// Starter is notified once the whole system has started.
	Starter interface {
		Start(ctx context.Context) error
	}

	// Stopper is notified before the whole system stops.
	Stopper interface {
		Stop(ctx context.Context) error
	}

	// ComponentSpec is the input to a ComponentFactory.
	ComponentSpec struct {
		Module    string
		Name      string
		Type      string
		Config    map[string]any
		Resources []*bootloader.Unit
	}

	// ComponentFactory instantiates a component of one type.
	ComponentFactory func(ctx context.Context, spec ComponentSpec) (any, error)

	// ComponentRegistry maps component type names to factories.
	// It is safe for concurrent use.
	ComponentRegistry struct {
		mu        sync.RWMutex
		factories map[string]ComponentFactory
	}

	// Component is an instantiated component bound into a RuntimeContext.
	Component struct {
		Module  string
		Name    string
		Type    string
		Order   int
		Aliases []string
		Value   any
	}

	// componentIndex is the manager-wide lookup of bound components and
	// registered contexts.
	componentIndex struct {
		mu         sync.RWMutex
		byKey      map[string]*Component
		registered map[string]*RuntimeContext
	}
)

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{factories: make(map[string]ComponentFactory)}
}

// Register adds a factory for typ. Registering a type twice is an error.
func (r *ComponentRegistry) Register(typ string, f ComponentFactory) error {
	if typ == "" || f == nil {
		return fmt.Errorf("component type and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("component type %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *ComponentRegistry) MustRegister(typ string, f ComponentFactory) {
	if err := r.Register(typ, f); err != nil {
		panic(err)
	}
}

// Has reports whether typ has a factory.
func (r *ComponentRegistry) Has(typ string) bool {
	_, ok := r.lookup(typ)
	return ok
}

// Types returns the registered type names, sorted.
func (r *ComponentRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *ComponentRegistry) lookup(typ string) (ComponentFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

// Key is the canonical lookup name of c: "<module>/<name>".
func (c *Component) Key() string {
	return c.Module + "/" + c.Name
}

func newComponentIndex() *componentIndex {
	return &componentIndex{
		byKey:      make(map[string]*Component),
		registered: make(map[string]*RuntimeContext),
	}
}

func (ix *componentIndex) register(rc *RuntimeContext) {
	ix.mu.Lock()
	ix.registered[rc.module.Name()] = rc
	ix.mu.Unlock()
}

func (ix *componentIndex) unregister(rc *RuntimeContext) {
	ix.mu.Lock()
	if ix.registered[rc.module.Name()] == rc {
		delete(ix.registered, rc.module.Name())
	}
	ix.mu.Unlock()
}

func (ix *componentIndex) bind(comps []*Component) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, c := range comps {
		ix.byKey[c.Key()] = c
		for _, a := range c.Aliases {
			ix.byKey[a] = c
		}
	}
}

func (ix *componentIndex) unbind(comps []*Component) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, c := range comps {
		if ix.byKey[c.Key()] == c {
			delete(ix.byKey, c.Key())
		}
		for _, a := range c.Aliases {
			if ix.byKey[a] == c {
				delete(ix.byKey, a)
			}
		}
	}
}

func (ix *componentIndex) lookup(name string) (*Component, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.byKey[name]
	return c, ok
}

// all returns every bound component sorted by module then name.
func (ix *componentIndex) all() []*Component {
	ix.mu.RLock()
	seen := make(map[*Component]struct{}, len(ix.byKey))
	out := make([]*Component, 0, len(ix.byKey))
	for _, c := range ix.byKey {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	ix.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Component) int {
		return cmp.Or(strings.Compare(a.Module, b.Module), strings.Compare(a.Name, b.Name))
	})
	return out
}
