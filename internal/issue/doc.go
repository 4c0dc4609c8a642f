// SPDX-License-Identifier: MPL-2.0

// Package issue reports structural failures in a form an operator can act on.
//
// ActionableError carries the failed operation, the resource involved,
// remediation hints and an optional link into a catalog of longer
// markdown guidance (Issue), rendered for the terminal with glamour.
package issue
