// SPDX-License-Identifier: MPL-2.0

// Package resolver maintains an incremental dependency graph over named
// entries. Entries may be added in any order; a requirement on a name that has
// not been registered yet creates a placeholder, so a missing dependency is a
// reportable state rather than an error. An entry resolves as soon as it is
// registered and all of its requirements have resolved, and resolution
// cascades to the entries waiting on it. The order in which entries resolve is
// a valid topological order; callers that add entries in a stable order (for
// example lexicographically sorted) get a reproducible order.
package resolver
