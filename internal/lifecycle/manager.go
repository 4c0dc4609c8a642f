// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/resolver"
	"github.com/modkit/modkit/pkg/batch"
	"github.com/modkit/modkit/pkg/descriptor"
)

type (
	// Options configures a Manager.
	Options struct {
		// Components provides component factories. Defaults to an empty registry.
		Components *ComponentRegistry
		// Loader, when set, loads component resources and checks them
		// during resolution.
		Loader *bootloader.Loader
		// Expander, when set, expands nested archives of packaged modules.
		Expander *bootloader.Expander
		Metrics  MetricsCollector
		Logger   *slog.Logger
	}

	// Manager tracks installed modules and drives their lifecycle.
	// Operations are serialized; queries may run concurrently with them.
	Manager struct {
		// opMu serializes operations and passes.
		opMu     sync.Mutex
		started  bool
		strategy UpdateStrategy
		mode     SynchMode
		claims   map[string]string

		// regMu guards the module tables and the resolver graph.
		regMu   sync.RWMutex
		modules map[ModuleID]*Module
		byName  map[string]*Module
		graph   *resolver.Graph[*Module]
		nextID  ModuleID

		immediate  *Immediate
		deferred   *Deferred
		components *ComponentRegistry
		index      *componentIndex
		loader     *bootloader.Loader
		expander   *bootloader.Expander
		metrics    MetricsCollector
		logger     *slog.Logger
	}
)

// NewManager creates a Manager in synch mode "on".
func NewManager(opts Options) *Manager {
	if opts.Components == nil {
		opts.Components = NewComponentRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewNoopMetricsCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mgr := &Manager{
		claims:     make(map[string]string),
		modules:    make(map[ModuleID]*Module),
		byName:     make(map[string]*Module),
		graph:      resolver.New[*Module](),
		immediate:  NewImmediate(opts.Metrics),
		deferred:   NewDeferred(opts.Metrics),
		components: opts.Components,
		index:      newComponentIndex(),
		loader:     opts.Loader,
		expander:   opts.Expander,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		mode:       SynchOn,
	}
	mgr.strategy = mgr.immediate
	mgr.deferred.rank = mgr.contextRank
	mgr.deferred.activationFailed = mgr.demote
	return mgr
}

// Install loads the single module at path and installs it.
func (mgr *Manager) Install(ctx context.Context, path string) (ModuleID, error) {
	mods, err := descriptor.Load(path)
	if err != nil {
		return 0, err
	}
	if len(mods) != 1 {
		return 0, fmt.Errorf("%s: expected one module, found %d", path, len(mods))
	}
	return mgr.InstallDescriptor(ctx, mods[0])
}

// InstallDescriptor installs d and runs a resolution pass. The returned
// ModuleID is valid whenever the module was installed, even if the pass
// reported failures.
func (mgr *Manager) InstallDescriptor(ctx context.Context, d *descriptor.Module) (ModuleID, error) {
	if err := d.Validate(); err != nil {
		return 0, fmt.Errorf("module %s: %w", d.Name, err)
	}

	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	if _, exists := mgr.ModuleByName(d.Name); exists {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyInstalled, d.Name)
	}
	return mgr.install(ctx, d)
}

func (mgr *Manager) install(ctx context.Context, d *descriptor.Module) (ModuleID, error) {
	expanded, err := mgr.expand(d)
	if err != nil {
		return 0, err
	}

	mgr.regMu.Lock()
	mgr.nextID++
	m := &Module{id: mgr.nextID, name: d.Name, expanded: expanded}
	m.desc.Store(d)
	m.state.Store(int32(StateInstalled))
	m.rc = newRuntimeContext(mgr, m)
	mgr.modules[m.id] = m
	mgr.byName[m.name] = m
	mgr.graph.Add(d.Name, d.Requires, d.RequiredBy, m)
	n := len(mgr.modules)
	mgr.regMu.Unlock()

	mgr.metrics.Modules(n)
	mgr.logger.Info("module installed", "module", d.String(), "id", m.id, "source", d.Source)

	c := batch.NewCollector("install " + d.Name)
	c.Add(mgr.strategy.Install(ctx, m.rc))
	c.Add(mgr.pass(ctx))
	return m.id, c.Err()
}

// Uninstall brings the module's dependents back to INSTALLED, tears the
// module down and forgets it.
func (mgr *Manager) Uninstall(ctx context.Context, id ModuleID) error {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	m, ok := mgr.Module(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}

	c := batch.NewCollector("uninstall " + m.name)
	mgr.bringDown(ctx, c, m)

	mgr.transition(m, StateUninstalled)
	c.Add(mgr.strategy.Destroy(ctx, m.rc))

	mgr.regMu.Lock()
	delete(mgr.modules, m.id)
	delete(mgr.byName, m.name)
	if err := mgr.graph.Remove(m.name); err != nil {
		c.Add(err)
	}
	n := len(mgr.modules)
	mgr.regMu.Unlock()

	mgr.metrics.Modules(n)
	mgr.invalidate()
	mgr.logger.Info("module uninstalled", "module", m.name, "id", m.id)
	return c.Err()
}

// Reinstall reloads the single module at path and replaces the installed
// module of the same name, installing it when none exists.
func (mgr *Manager) Reinstall(ctx context.Context, path string) (ModuleID, error) {
	mods, err := descriptor.Load(path)
	if err != nil {
		return 0, err
	}
	if len(mods) != 1 {
		return 0, fmt.Errorf("%s: expected one module, found %d", path, len(mods))
	}
	return mgr.Replace(ctx, mods[0])
}

// Replace swaps the descriptor of the installed module named d.Name, or
// installs d when no such module exists. The module and its dependents go
// back to INSTALLED first and are resolved again by the following pass.
func (mgr *Manager) Replace(ctx context.Context, d *descriptor.Module) (ModuleID, error) {
	if err := d.Validate(); err != nil {
		return 0, fmt.Errorf("module %s: %w", d.Name, err)
	}

	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	m, ok := mgr.ModuleByName(d.Name)
	if !ok {
		return mgr.install(ctx, d)
	}

	expanded, err := mgr.expand(d)
	if err != nil {
		return 0, err
	}

	c := batch.NewCollector("reinstall " + d.Name)
	mgr.bringDown(ctx, c, m)

	m.rc.markStale()
	mgr.regMu.Lock()
	m.desc.Store(d)
	m.expanded = expanded
	mgr.graph.Add(d.Name, d.Requires, d.RequiredBy, m)
	mgr.regMu.Unlock()

	mgr.invalidate()
	mgr.logger.Info("module reinstalled", "module", d.String(), "id", m.id)
	c.Add(mgr.pass(ctx))
	return m.id, c.Err()
}

// ListModules returns every installed module ordered by ID.
func (mgr *Manager) ListModules() []ModuleInfo {
	mgr.regMu.RLock()
	mods := slices.Collect(maps.Values(mgr.modules))
	mgr.regMu.RUnlock()

	slices.SortFunc(mods, func(a, b *Module) int { return cmp.Compare(a.id, b.id) })
	infos := make([]ModuleInfo, 0, len(mods))
	for _, m := range mods {
		infos = append(infos, m.Info())
	}
	return infos
}

// Module returns the installed module with the given ID.
func (mgr *Manager) Module(id ModuleID) (*Module, bool) {
	mgr.regMu.RLock()
	defer mgr.regMu.RUnlock()
	m, ok := mgr.modules[id]
	return m, ok
}

// ModuleByName returns the installed module with the given name.
func (mgr *Manager) ModuleByName(name string) (*Module, bool) {
	mgr.regMu.RLock()
	defer mgr.regMu.RUnlock()
	m, ok := mgr.byName[name]
	return m, ok
}

// Missing maps requirements no installed module provides to the modules
// waiting on them.
func (mgr *Manager) Missing() map[string][]string {
	mgr.regMu.RLock()
	defer mgr.regMu.RUnlock()
	return mgr.graph.MissingRequirements()
}

// Components returns every bound component sorted by module then name.
func (mgr *Manager) Components() []*Component {
	return mgr.index.all()
}

// Component looks a bound component up by "<module>/<name>" or alias.
func (mgr *Manager) Component(name string) (*Component, bool) {
	return mgr.index.lookup(name)
}

// Started reports whether Start has been called without a matching Stop.
func (mgr *Manager) Started() bool {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()
	return mgr.started
}

// Start marks the system started, activates every resolvable module and
// notifies Starter components level by level.
func (mgr *Manager) Start(ctx context.Context) error {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	mgr.started = true
	err := mgr.pass(ctx)
	mgr.notify(ctx, "start", false)
	mgr.logger.Info("system started", "modules", len(mgr.ListModules()))
	return err
}

// Stop notifies Stopper components level by level, then deactivates every
// active module in reverse resolution order.
func (mgr *Manager) Stop(ctx context.Context) error {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	mgr.notify(ctx, "stop", true)
	mgr.started = false

	c := batch.NewCollector("stop modules")
	for _, m := range slices.Backward(mgr.resolvedOrder()) {
		if m.State() == StateActive {
			c.Add(mgr.deactivate(ctx, m))
		}
	}
	mgr.logger.Info("system stopped")
	return c.Err()
}

// pass resolves every INSTALLED module whose requirements are at least
// RESOLVED and, when started, activates every RESOLVED module whose
// requirements are at least RESOLVED. Callers hold opMu.
func (mgr *Manager) pass(ctx context.Context) error {
	c := batch.NewCollector("module pass")
	order := mgr.resolvedOrder()
	for _, m := range order {
		if err := ctx.Err(); err != nil {
			c.Add(err)
			return c.Err()
		}
		if m.State() != StateInstalled || !mgr.requirementsUp(m) {
			continue
		}
		if err := mgr.resolveConfig(m); err != nil {
			mgr.metrics.ResolutionFailure(m.name)
			mgr.logger.Warn("module did not resolve", "module", m.name, "error", err)
			continue
		}
		mgr.transition(m, StateResolved)
		if err := mgr.strategy.Resolve(ctx, m.rc); err != nil {
			mgr.release(m)
			mgr.transition(m, StateInstalled)
			if uerr := mgr.strategy.Unresolve(ctx, m.rc); uerr != nil {
				mgr.logger.Warn("unresolve after failed bind", "module", m.name, "error", uerr)
			}
			mgr.metrics.ResolutionFailure(m.name)
			mgr.logger.Warn("module did not resolve", "module", m.name, "error", err)
			continue
		}
	}

	if !mgr.started {
		return c.Err()
	}
	for _, m := range order {
		if err := ctx.Err(); err != nil {
			c.Add(err)
			return c.Err()
		}
		if m.State() == StateResolved && mgr.requirementsUp(m) {
			c.Add(mgr.activate(ctx, m))
		}
	}
	return c.Err()
}

// bringDown returns m and everything depending on it to INSTALLED,
// dependents first.
func (mgr *Manager) bringDown(ctx context.Context, c *batch.Collector, m *Module) {
	for _, d := range slices.Backward(mgr.dependentClosure(m)) {
		mgr.unresolve(ctx, c, d)
	}
	mgr.unresolve(ctx, c, m)
}

func (mgr *Manager) unresolve(ctx context.Context, c *batch.Collector, m *Module) {
	if m.State() == StateActive {
		c.Add(mgr.deactivate(ctx, m))
	}
	if m.State() == StateResolved {
		mgr.release(m)
		mgr.transition(m, StateInstalled)
		c.Add(mgr.strategy.Unresolve(ctx, m.rc))
	}
}

func (mgr *Manager) activate(ctx context.Context, m *Module) error {
	mgr.transition(m, StateStarting)
	if err := mgr.strategy.Activate(ctx, m.rc); err != nil {
		mgr.transition(m, StateResolved)
		return err
	}
	mgr.transition(m, StateActive)
	return nil
}

// demote returns a module whose deferred activation failed to RESOLVED so
// its state matches the level its context reached.
func (mgr *Manager) demote(rc *RuntimeContext) {
	m := rc.module
	if m.State() != StateActive {
		return
	}
	mgr.transition(m, StateStopping)
	mgr.transition(m, StateResolved)
	mgr.logger.Warn("deferred activation failed", "module", m.name, "level", rc.Level())
}

func (mgr *Manager) deactivate(ctx context.Context, m *Module) error {
	mgr.transition(m, StateStopping)
	err := mgr.strategy.Deactivate(ctx, m.rc)
	mgr.transition(m, StateResolved)
	return err
}

// transition moves m to the given state. Callers only request legal
// transitions; an illegal one is logged and ignored.
func (mgr *Manager) transition(m *Module, to State) {
	from := m.State()
	if err := checkTransition(m.name, from, to); err != nil {
		mgr.logger.Error("lifecycle", "error", err)
		return
	}
	m.state.Store(int32(to))
	mgr.metrics.StateTransition(m.name, from, to)
	mgr.logger.Debug("module state", "module", m.name, "from", from, "to", to)
}

// resolveConfig checks what the module itself needs before it can leave
// INSTALLED, and claims its aliases on success.
func (mgr *Manager) resolveConfig(m *Module) error {
	d := m.Descriptor()
	var errs []error
	aliases := make(map[string]struct{})
	for _, c := range d.Components {
		if !mgr.components.Has(c.Type) {
			errs = append(errs, fmt.Errorf("component %s: unknown type %q", c.Name, c.Type))
		}
		for _, a := range c.Aliases {
			_, dup := aliases[a]
			if owner, claimed := mgr.claims[a]; dup || (claimed && owner != m.name) {
				errs = append(errs, fmt.Errorf("component %s: alias %q already in use", c.Name, a))
			}
			aliases[a] = struct{}{}
		}
		if _, err := mgr.loadResources(m.name, c.Resources); err != nil {
			errs = append(errs, fmt.Errorf("component %s: %w", c.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &ResolutionFailure{Module: m.name, Err: err}
	}
	for a := range aliases {
		mgr.claims[a] = m.name
	}
	return nil
}

func (mgr *Manager) release(m *Module) {
	maps.DeleteFunc(mgr.claims, func(_, owner string) bool { return owner == m.name })
}

func (mgr *Manager) loadResources(requester string, names []string) ([]*bootloader.Unit, error) {
	if mgr.loader == nil || len(names) == 0 {
		return nil, nil
	}
	units := make([]*bootloader.Unit, 0, len(names))
	for _, n := range names {
		u, err := mgr.loader.Load(requester, n)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (mgr *Manager) expand(d *descriptor.Module) ([]string, error) {
	if mgr.expander == nil || len(d.NestedArchives) == 0 {
		return nil, nil
	}
	return mgr.expander.Expand(d.Name, d.Dir, d.NestedArchives)
}

func (mgr *Manager) invalidate() {
	if mgr.loader != nil {
		mgr.loader.Invalidate()
	}
}

// requirementsUp reports whether every requirement of m is installed and
// at least RESOLVED.
func (mgr *Manager) requirementsUp(m *Module) bool {
	mgr.regMu.RLock()
	defer mgr.regMu.RUnlock()
	for _, r := range mgr.graph.Requirements(m.name) {
		dep, ok := mgr.byName[r]
		if !ok || !dep.State().AtLeastResolved() {
			return false
		}
	}
	return true
}

// resolvedOrder returns the modules whose requirements the resolver
// considers satisfied, in resolution order.
func (mgr *Manager) resolvedOrder() []*Module {
	mgr.regMu.RLock()
	defer mgr.regMu.RUnlock()
	entries := mgr.graph.ResolvedEntries()
	mods := make([]*Module, 0, len(entries))
	for _, e := range entries {
		mods = append(mods, e.Value)
	}
	return mods
}

// dependentClosure returns every module transitively depending on m in
// discovery order.
func (mgr *Manager) dependentClosure(m *Module) []*Module {
	mgr.regMu.RLock()
	defer mgr.regMu.RUnlock()

	seen := map[string]bool{m.name: true}
	var out []*Module
	queue := []string{m.name}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range mgr.graph.Dependents(name) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			queue = append(queue, dep)
			if dm, ok := mgr.byName[dep]; ok {
				out = append(out, dm)
			}
		}
	}
	return out
}

// contextRank orders contexts for a flush: resolution order first, then
// modules the resolver has not resolved.
func (mgr *Manager) contextRank() map[*RuntimeContext]int {
	order := mgr.resolvedOrder()
	rank := make(map[*RuntimeContext]int, len(order))
	for i, m := range order {
		rank[m.rc] = i
	}
	return rank
}

// notify calls Start (or Stop, in reverse) on components grouped by order.
// A failure is logged and does not stop the remaining groups.
func (mgr *Manager) notify(ctx context.Context, what string, reverse bool) {
	groups := make(map[int][]*Component)
	for _, c := range mgr.index.all() {
		groups[c.Order] = append(groups[c.Order], c)
	}
	levels := slices.Sorted(maps.Keys(groups))
	if reverse {
		slices.Reverse(levels)
	}
	for _, lvl := range levels {
		for _, c := range groups[lvl] {
			var err error
			if reverse {
				if s, ok := c.Value.(Stopper); ok {
					err = s.Stop(ctx)
				}
			} else if s, ok := c.Value.(Starter); ok {
				err = s.Start(ctx)
			}
			if err != nil {
				mgr.logger.Error("component "+what+" failed", "component", c.Key(), "order", lvl, "error", err)
			}
		}
	}
}
