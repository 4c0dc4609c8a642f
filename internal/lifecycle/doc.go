// SPDX-License-Identifier: MPL-2.0

// Package lifecycle drives installed modules through their state machine
// (INSTALLED, RESOLVED, STARTING, ACTIVE, STOPPING, UNINSTALLED) and applies
// the side effects of each transition to the module's RuntimeContext.
//
// Side effects go through an UpdateStrategy. The immediate strategy applies
// them synchronously; the deferred strategy only records the affected
// contexts. A flush later reconciles every recorded context to the level
// implied by its module's current state, so bulk reconfiguration never
// leaves a cascade of partial activations behind.
package lifecycle
