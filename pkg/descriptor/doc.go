// SPDX-License-Identifier: MPL-2.0

// Package descriptor models deployable modules ("fragments") and the
// containers that own them.
//
// A fragment declares its identity, the names it requires (or is required by),
// ordered install actions, template declarations, ordered template
// contributions, and runtime components. A container declares where fragments
// are discovered, which shared templates it owns, and nested sub-containers.
//
// Descriptors may be written in CUE, TOML or YAML; all formats are validated
// against the same embedded CUE schema (descriptor_schema.cue).
//
// # Discovery inputs
//
//   - single-fragment file: module.cue, or <name>.module.cue (also .toml/.yaml/.yml)
//   - multi-fragment file: <name>.fragments.cue holding `fragments: [...]`; every
//     entry must carry an explicit name or the whole file is rejected
//   - packaged module: a directory or .zip archive with META-INF/module.cue
//   - legacy archive: a .zip without descriptor; META-INF/MANIFEST.MF supplies a
//     name when present, otherwise the module becomes a dependency-only marker
//
// Parse failures are reported as [ScanError] and only affect the file at hand.
package descriptor
