// SPDX-License-Identifier: MPL-2.0

// Package preprocess materializes configuration before the kernel starts.
//
// A pass loads a container descriptor, scans its declared directories and
// files for module descriptors, resolves them, runs each resolved module's
// install actions, merges its template contributions and writes the touched
// (or required) templates under the container tree. Nested containers are
// processed recursively. Module-local failures become diagnostics in the
// returned Report; only structural failures abort the pass.
package preprocess
