// SPDX-License-Identifier: MPL-2.0

// Package components provides the component types built into the modkit CLI:
// "shell", which runs lifecycle hooks through the mvdan/sh interpreter, and
// "resource", which exposes the units a module loaded through its wiring.
package components
