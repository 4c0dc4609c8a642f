// SPDX-License-Identifier: MPL-2.0

// Package batch provides the error-accumulation primitives used by batched
// lifecycle operations.
//
// Three building blocks are exposed:
//   - [Result]: a value or a recoverable failure, never both.
//   - [CollectAll] / [Collector]: attempt every item of a sequence, collect all
//     failures, and report them once as an [AggregateError].
//   - [FirstMatch]: walk a sequence and stop at the first result accepted by a
//     predicate (for example the first failure, or the first success).
package batch
