// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/issue"
	"github.com/modkit/modkit/pkg/cueutil"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "modkit"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides (MODKIT_LOG_LEVEL).
	EnvPrefix = "MODKIT"
)

//go:embed config_schema.cue
var configSchema string

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Preprocess: PreprocessConfig{
			Root: ".",
			Env:  map[string]string{},
		},
		Modules: ModulesConfig{
			Paths:  []string{},
			Ignore: []string{},
		},
		Loader: LoaderConfig{
			BootPrefixes:       append([]string(nil), bootloader.DefaultBootPrefixes...),
			DelegationPrefixes: []string{},
			BootPaths:          []string{},
		},
		Lifecycle: LifecycleConfig{
			SynchMode: "on",
			Debounce:  500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Metrics: MetricsConfig{
			Namespace: AppName,
		},
	}
}

// ConfigDir returns the modkit configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// HomeDir returns the modkit home directory: cfg.Home when set, ~/.modkit otherwise.
func HomeDir(cfg *Config) (string, error) {
	if cfg != nil && cfg.Home != "" {
		return cfg.Home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "."+AppName), nil
}

// CacheDir returns the nested-archive cache directory.
func CacheDir(cfg *Config) (string, error) {
	if cfg != nil && cfg.Loader.CacheDir != "" {
		return cfg.Loader.CacheDir, nil
	}
	home, err := HomeDir(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "cache"), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := newViper(opts.Env)

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'modkit config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}
		for _, candidate := range []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			ConfigFileName + "." + ConfigFileExt,
		} {
			if fileExists(candidate) {
				resolvedPath = candidate
				break
			}
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if ok, errs := cfg.IsValid(); !ok {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check MODKIT_* environment overrides").
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// newViper builds a Viper instance carrying defaults and environment bindings.
// A nil env reads the process environment.
func newViper(env map[string]string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	defaults := DefaultConfig()
	v.SetDefault("home", defaults.Home)
	v.SetDefault("preprocess.root", defaults.Preprocess.Root)
	v.SetDefault("preprocess.env", defaults.Preprocess.Env)
	v.SetDefault("preprocess.report", defaults.Preprocess.Report)
	v.SetDefault("modules.paths", defaults.Modules.Paths)
	v.SetDefault("modules.ignore", defaults.Modules.Ignore)
	v.SetDefault("loader.boot_prefixes", defaults.Loader.BootPrefixes)
	v.SetDefault("loader.delegation_prefixes", defaults.Loader.DelegationPrefixes)
	v.SetDefault("loader.boot_paths", defaults.Loader.BootPaths)
	v.SetDefault("loader.cache_dir", defaults.Loader.CacheDir)
	v.SetDefault("loader.flush_cache", defaults.Loader.FlushCache)
	v.SetDefault("lifecycle.synch_mode", defaults.Lifecycle.SynchMode)
	v.SetDefault("lifecycle.debounce", defaults.Lifecycle.Debounce)
	v.SetDefault("log.level", string(defaults.Log.Level))
	v.SetDefault("log.format", string(defaults.Log.Format))
	v.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
	v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)

	if env == nil {
		v.AutomaticEnv()
		return v
	}
	// Explicit environments (tests, embedding) are applied as overrides on
	// the same keys AutomaticEnv would consult.
	for _, key := range v.AllKeys() {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if val, ok := env[name]; ok {
			v.Set(key, splitEnvList(key, val))
		}
	}
	return v
}

// splitEnvList turns a whitespace-separated value into a list for list keys.
func splitEnvList(key, val string) any {
	switch key {
	case "modules.paths", "modules.ignore", "loader.boot_prefixes",
		"loader.delegation_prefixes", "loader.boot_paths":
		return strings.Fields(val)
	default:
		return val
	}
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into v.
// The file decodes to a map rather than a struct so Viper keeps precedence
// over defaults and the environment; fields are optional, hence non-concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecodeString[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config file unless one exists.
// It returns the path of the config file.
func CreateDefaultConfig(configDirPath string) (string, error) {
	cfgDir, err := configDirWithOverride(configDirPath)
	if err != nil {
		return "", err
	}
	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}
	return cfgPath, Save(cfgPath, DefaultConfig())
}

// Save writes cfg as CUE to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// modkit configuration file\n\n")

	if cfg.Home != "" {
		fmt.Fprintf(&sb, "home: %q\n\n", cfg.Home)
	}

	sb.WriteString("preprocess: {\n")
	fmt.Fprintf(&sb, "\troot: %q\n", cfg.Preprocess.Root)
	if len(cfg.Preprocess.Env) > 0 {
		sb.WriteString("\tenv: {\n")
		keys := make([]string, 0, len(cfg.Preprocess.Env))
		for k := range cfg.Preprocess.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\t\t%s: %q\n", k, cfg.Preprocess.Env[k])
		}
		sb.WriteString("\t}\n")
	}
	if cfg.Preprocess.Report != "" {
		fmt.Fprintf(&sb, "\treport: %q\n", cfg.Preprocess.Report)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nmodules: {\n")
	writeList(&sb, "paths", cfg.Modules.Paths)
	writeList(&sb, "ignore", cfg.Modules.Ignore)
	sb.WriteString("}\n")

	sb.WriteString("\nloader: {\n")
	writeList(&sb, "boot_prefixes", cfg.Loader.BootPrefixes)
	writeList(&sb, "delegation_prefixes", cfg.Loader.DelegationPrefixes)
	writeList(&sb, "boot_paths", cfg.Loader.BootPaths)
	if cfg.Loader.CacheDir != "" {
		fmt.Fprintf(&sb, "\tcache_dir: %q\n", cfg.Loader.CacheDir)
	}
	fmt.Fprintf(&sb, "\tflush_cache: %v\n", cfg.Loader.FlushCache)
	sb.WriteString("}\n")

	sb.WriteString("\nlifecycle: {\n")
	fmt.Fprintf(&sb, "\tsynch_mode: %q\n", cfg.Lifecycle.SynchMode)
	fmt.Fprintf(&sb, "\tdebounce: %q\n", cfg.Lifecycle.Debounce.String())
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	sb.WriteString("\nmetrics: {\n")
	fmt.Fprintf(&sb, "\tnamespace: %q\n", cfg.Metrics.Namespace)
	if cfg.Metrics.Textfile != "" {
		fmt.Fprintf(&sb, "\ttextfile: %q\n", cfg.Metrics.Textfile)
	}
	sb.WriteString("}\n")

	return sb.String()
}

func writeList(sb *strings.Builder, key string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\t%s: [", key)
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%q", item)
	}
	sb.WriteString("]\n")
}
