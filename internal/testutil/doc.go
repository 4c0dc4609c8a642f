// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include module tree setup (WriteFile, WriteTree), polling
// (Eventually), and resource cleanup (DeferClose).
package testutil
