// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE parsing utilities.
//
// Every declarative file read by modkit (fragment and container descriptors,
// the kernel manifest, the configuration file) is validated against an
// embedded CUE schema using the same 3-step flow:
//
//  1. Compile the embedded schema
//  2. Compile (or encode) user data and unify with the schema definition
//  3. Validate and decode to a Go struct
//
// Descriptors written in TOML or YAML are first decoded into plain Go values and
// then pushed through [ValidateAndDecode], so all formats share one schema.
//
// # Usage
//
//	//go:embed descriptor_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Fragment](
//	    schemaBytes,
//	    userFileBytes,
//	    "#Fragment",
//	    cueutil.WithFilename("module.cue"),
//	)
//	if err != nil {
//	    return nil, err  // Error includes CUE path for debugging
//	}
//	return result.Value, nil
package cueutil
