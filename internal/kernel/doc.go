// SPDX-License-Identifier: MPL-2.0

// Package kernel is the runtime control surface of modkit. It owns the
// lifecycle manager, installs the modules found in the configured module
// directories and turns module-artifact events into lifecycle operations,
// applying each batch in deferred mode and flushing once at the end.
package kernel
