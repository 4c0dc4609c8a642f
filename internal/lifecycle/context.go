// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// RuntimeContext holds the applied side effects of one module: its
// registration in the component index, its instantiated components and
// their activation. It moves one level at a time.
type RuntimeContext struct {
	module *Module
	mgr    *Manager

	mu         sync.Mutex
	level      Level
	components []*Component
	// stale is set when the descriptor changed; the next reconcile unbinds
	// before moving on.
	stale bool
}

func newRuntimeContext(mgr *Manager, m *Module) *RuntimeContext {
	return &RuntimeContext{module: m, mgr: mgr}
}

// Module returns the owning module.
func (rc *RuntimeContext) Module() *Module { return rc.module }

// Level returns the currently applied level.
func (rc *RuntimeContext) Level() Level {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.level
}

// Components returns the bound components in activation order.
func (rc *RuntimeContext) Components() []*Component {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return slices.Clone(rc.components)
}

func (rc *RuntimeContext) markStale() {
	rc.mu.Lock()
	rc.stale = true
	rc.mu.Unlock()
}

// reconcile steps the context to target. A failed upward step leaves the
// context at the last level reached. Downward steps always complete; their
// errors are returned together.
func (rc *RuntimeContext) reconcile(ctx context.Context, target Level) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	var errs []error
	if rc.stale {
		for rc.level > LevelRegistered {
			errs = append(errs, rc.down(ctx))
		}
		rc.stale = false
	}
	for rc.level != target {
		if rc.level < target {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if err := rc.up(ctx); err != nil {
				return errors.Join(append(errs, err)...)
			}
			continue
		}
		errs = append(errs, rc.down(ctx))
	}
	return errors.Join(errs...)
}

func (rc *RuntimeContext) up(ctx context.Context) error {
	switch rc.level {
	case LevelNone:
		rc.mgr.index.register(rc)
	case LevelRegistered:
		if err := rc.bind(ctx); err != nil {
			return err
		}
	case LevelBound:
		if err := rc.activate(ctx); err != nil {
			return err
		}
	default:
		return nil
	}
	rc.level++
	return nil
}

func (rc *RuntimeContext) down(ctx context.Context) error {
	var err error
	switch rc.level {
	case LevelActive:
		err = rc.deactivate(ctx)
	case LevelBound:
		rc.mgr.index.unbind(rc.components)
		rc.components = nil
	case LevelRegistered:
		rc.mgr.index.unregister(rc)
	default:
		return nil
	}
	rc.level--
	return err
}

func (rc *RuntimeContext) bind(ctx context.Context) error {
	d := rc.module.Descriptor()
	comps := make([]*Component, 0, len(d.Components))
	for _, spec := range d.Components {
		factory, ok := rc.mgr.components.lookup(spec.Type)
		if !ok {
			return fmt.Errorf("component %s/%s: unknown type %q", d.Name, spec.Name, spec.Type)
		}
		units, err := rc.mgr.loadResources(d.Name, spec.Resources)
		if err != nil {
			return fmt.Errorf("component %s/%s: %w", d.Name, spec.Name, err)
		}
		v, err := factory(ctx, ComponentSpec{
			Module:    d.Name,
			Name:      spec.Name,
			Type:      spec.Type,
			Config:    spec.Config,
			Resources: units,
		})
		if err != nil {
			return fmt.Errorf("component %s/%s: %w", d.Name, spec.Name, err)
		}
		comps = append(comps, &Component{
			Module:  d.Name,
			Name:    spec.Name,
			Type:    spec.Type,
			Order:   spec.Order,
			Aliases: slices.Clone(spec.Aliases),
			Value:   v,
		})
	}
	slices.SortStableFunc(comps, func(a, b *Component) int { return cmp.Compare(a.Order, b.Order) })
	rc.components = comps
	rc.mgr.index.bind(comps)
	return nil
}

// activate runs Activators in order. On failure the components already
// activated are deactivated in reverse.
func (rc *RuntimeContext) activate(ctx context.Context) error {
	for i, c := range rc.components {
		a, ok := c.Value.(Activator)
		if !ok {
			continue
		}
		if err := a.Activate(ctx); err != nil {
			if rerr := deactivateAll(ctx, rc.components[:i]); rerr != nil {
				rc.mgr.logger.Warn("rollback after failed activation", "module", rc.module.Name(), "error", rerr)
			}
			return fmt.Errorf("activate %s: %w", c.Key(), err)
		}
	}
	return nil
}

func (rc *RuntimeContext) deactivate(ctx context.Context) error {
	return deactivateAll(ctx, rc.components)
}

func deactivateAll(ctx context.Context, comps []*Component) error {
	var errs []error
	for _, c := range slices.Backward(comps) {
		d, ok := c.Value.(Deactivator)
		if !ok {
			continue
		}
		if err := d.Deactivate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("deactivate %s: %w", c.Key(), err))
		}
	}
	return errors.Join(errs...)
}
