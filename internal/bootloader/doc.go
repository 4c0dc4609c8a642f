// SPDX-License-Identifier: MPL-2.0

// Package bootloader resolves named units (kernel manifests, module resources)
// without mixing the host's own files with module content.
//
// A Loader answers each request in one of two ways. Names under a boot prefix
// are delegated to the parent Source. Everything else is located by the
// current Wiring among the modules wired to the requester. The wiring is
// swappable: Bootstrap first reads the kernel manifest through a transient
// directory wiring, then hands control to the wiring the kernel provides.
package bootloader
