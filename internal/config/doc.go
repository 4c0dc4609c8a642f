// SPDX-License-Identifier: MPL-2.0

// Package config handles modkit configuration using Viper with CUE as the
// file format.
//
// Configuration is read from config.cue in the modkit configuration
// directory ($XDG_CONFIG_HOME/modkit on Linux, ~/Library/Application
// Support/modkit on macOS, %APPDATA%\modkit on Windows), falling back to
// ./config.cue and then to built-in defaults. Files are validated against
// the embedded #Config schema. Every scalar key can be overridden from the
// environment with the MODKIT_ prefix, dots replaced by underscores
// (MODKIT_LOG_LEVEL=debug).
package config
