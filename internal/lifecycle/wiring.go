// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"

	"github.com/modkit/modkit/internal/bootloader"
)

// moduleWiring exposes a requester's own content followed by the content of
// each requirement that is at least RESOLVED.
type moduleWiring struct {
	mgr *Manager
}

// Wiring returns a bootloader.Wiring over the installed modules.
func (mgr *Manager) Wiring() bootloader.Wiring {
	return moduleWiring{mgr: mgr}
}

// Locate implements bootloader.Wiring.
func (w moduleWiring) Locate(requester, name string) (*bootloader.Unit, error) {
	u, err := bootloader.SearchRoots(w.mgr.roots(requester), name)
	if errors.Is(err, bootloader.ErrNotFound) {
		return nil, &bootloader.NotFoundError{Requester: requester, Name: name}
	}
	return u, err
}

func (mgr *Manager) roots(requester string) []bootloader.Root {
	mgr.regMu.RLock()
	defer mgr.regMu.RUnlock()

	m, ok := mgr.byName[requester]
	if !ok {
		return nil
	}
	roots := []bootloader.Root{rootOf(m)}
	for _, r := range mgr.graph.Requirements(requester) {
		if dep, ok := mgr.byName[r]; ok && dep.State().AtLeastResolved() {
			roots = append(roots, rootOf(dep))
		}
	}
	return roots
}

// rootOf describes m's searchable content. Callers hold the registry lock.
func rootOf(m *Module) bootloader.Root {
	d := m.Descriptor()
	return bootloader.Root{Module: m.name, Dir: d.Dir, Archive: d.Archive, Extra: m.expanded}
}
