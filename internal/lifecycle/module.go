// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"sync/atomic"

	"github.com/modkit/modkit/pkg/descriptor"
)

type (
	// Module is an installed module tracked by a Manager.
	Module struct {
		id    ModuleID
		name  string
		desc  atomic.Pointer[descriptor.Module]
		state atomic.Int32
		rc    *RuntimeContext

		// expanded holds the directories nested archives were expanded
		// into. Guarded by the manager's registry lock.
		expanded []string
	}

	// ModuleInfo is a point-in-time view of a Module.
	ModuleInfo struct {
		ID      ModuleID `json:"id"`
		Name    string   `json:"name"`
		Version string   `json:"version,omitempty"`
		State   string   `json:"state"`
		Level   string   `json:"level"`
		Source  string   `json:"source,omitempty"`
	}
)

// ID returns the module identifier.
func (m *Module) ID() ModuleID { return m.id }

// Name returns the module name. It does not change across reinstalls.
func (m *Module) Name() string { return m.name }

// Descriptor returns the current descriptor.
func (m *Module) Descriptor() *descriptor.Module { return m.desc.Load() }

// State returns the current lifecycle state.
func (m *Module) State() State { return State(m.state.Load()) }

// Context returns the module's runtime context.
func (m *Module) Context() *RuntimeContext { return m.rc }

// Info snapshots the module.
func (m *Module) Info() ModuleInfo {
	d := m.Descriptor()
	return ModuleInfo{
		ID:      m.id,
		Name:    m.name,
		Version: d.Version,
		State:   m.State().String(),
		Level:   m.rc.Level().String(),
		Source:  d.Source,
	}
}
