// SPDX-License-Identifier: MPL-2.0

// Package template merges module contributions into shared text templates.
//
// A template is arbitrary text containing insertion markers of the form
// %{NAME}%. Contributions insert a payload immediately before a marker; the
// marker itself is kept so later contributions, or a later pass, can insert
// again. A template nothing contributed to renders byte-identically to its
// source.
package template
