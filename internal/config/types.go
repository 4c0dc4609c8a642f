// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// LogLevelDebug enables debug logging.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// LogFormatText renders human-readable log lines.
	LogFormatText LogFormat = "text"
	// LogFormatJSON renders one JSON object per line.
	LogFormatJSON LogFormat = "json"
)

var (
	// ErrInvalidLogLevel is returned for an unknown LogLevel.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned for an unknown LogFormat.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level logged by the CLI.
	LogLevel string

	// LogFormat selects the log renderer.
	LogFormat string

	// InvalidConfigError collects field-level validation errors.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Home is the modkit home directory. Empty means ~/.modkit.
		Home       string           `json:"home" mapstructure:"home"`
		Preprocess PreprocessConfig `json:"preprocess" mapstructure:"preprocess"`
		Modules    ModulesConfig    `json:"modules" mapstructure:"modules"`
		Loader     LoaderConfig     `json:"loader" mapstructure:"loader"`
		Lifecycle  LifecycleConfig  `json:"lifecycle" mapstructure:"lifecycle"`
		Log        LogConfig        `json:"log" mapstructure:"log"`
		Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
	}

	// PreprocessConfig configures the deployment preprocessor.
	PreprocessConfig struct {
		// Root is the root container directory.
		Root string `json:"root" mapstructure:"root"`
		// Env seeds the command context.
		Env map[string]string `json:"env" mapstructure:"env"`
		// Report, when set, receives the markdown diagnostics report.
		Report string `json:"report" mapstructure:"report"`
	}

	// ModulesConfig lists the module directories the kernel tracks.
	ModulesConfig struct {
		Paths  []string `json:"paths" mapstructure:"paths"`
		Ignore []string `json:"ignore" mapstructure:"ignore"`
	}

	// LoaderConfig configures the bootstrap loader.
	LoaderConfig struct {
		BootPrefixes       []string `json:"boot_prefixes" mapstructure:"boot_prefixes"`
		DelegationPrefixes []string `json:"delegation_prefixes" mapstructure:"delegation_prefixes"`
		// BootPaths hold boot units and the kernel manifest.
		BootPaths []string `json:"boot_paths" mapstructure:"boot_paths"`
		// CacheDir receives expanded nested archives. Empty means <home>/cache.
		CacheDir   string `json:"cache_dir" mapstructure:"cache_dir"`
		FlushCache bool   `json:"flush_cache" mapstructure:"flush_cache"`
	}

	// LifecycleConfig configures the module lifecycle manager.
	LifecycleConfig struct {
		// SynchMode is the initial synch mode: on, off or defer.
		SynchMode string        `json:"synch_mode" mapstructure:"synch_mode"`
		Debounce  time.Duration `json:"debounce" mapstructure:"debounce"`
	}

	// LogConfig configures CLI logging.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// MetricsConfig configures lifecycle metrics.
	MetricsConfig struct {
		Namespace string `json:"namespace" mapstructure:"namespace"`
		// Textfile, when set, receives the metrics on exit.
		Textfile string `json:"textfile" mapstructure:"textfile"`
	}
)

// IsValid reports whether l is a known level.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidLogLevel, string(l))}
	}
}

// IsValid reports whether f is a known format.
func (f LogFormat) IsValid() (bool, []error) {
	switch f {
	case LogFormatText, LogFormatJSON:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidLogFormat, string(f))}
	}
}

// IsValid checks what the schema cannot: values that arrive through
// environment overrides, and the debounce sign.
func (c *Config) IsValid() (bool, []error) {
	var errs []error
	if ok, fieldErrs := c.Log.Level.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	if ok, fieldErrs := c.Log.Format.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	switch c.Lifecycle.SynchMode {
	case "on", "off", "defer":
	default:
		errs = append(errs, fmt.Errorf("lifecycle.synch_mode: unknown mode %q", c.Lifecycle.SynchMode))
	}
	if c.Lifecycle.Debounce < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.debounce: must not be negative"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
