// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/lifecycle"
)

// FactoryID is the kernel factory name used in kernel manifests.
const FactoryID = "modkit.kernel"

// Register adds the kernel factory to f. Manifest options override base.
func Register(f *bootloader.Factories, base Options) {
	f.MustRegister(FactoryID, Factory(base))
}

// Factory returns a bootloader.KernelFactory building a Kernel from base
// overlaid with the manifest options:
//
//	dirs        list of module directories (appended)
//	ignore      list of ignore patterns (appended)
//	watch       bool
//	debounce    duration string
//	synch_mode  on, off or defer
//	cache_dir   string
func Factory(base Options) bootloader.KernelFactory {
	return func(_ context.Context, manifest map[string]any, l *bootloader.Loader) (bootloader.Kernel, error) {
		opts, err := overlay(base, manifest)
		if err != nil {
			return nil, fmt.Errorf("kernel options: %w", err)
		}
		return New(opts, l)
	}
}

func overlay(opts Options, manifest map[string]any) (Options, error) {
	for key, v := range manifest {
		switch key {
		case "dirs":
			dirs, err := stringList(key, v)
			if err != nil {
				return opts, err
			}
			opts.Dirs = append(append([]string(nil), opts.Dirs...), dirs...)
		case "ignore":
			ignore, err := stringList(key, v)
			if err != nil {
				return opts, err
			}
			opts.Ignore = append(append([]string(nil), opts.Ignore...), ignore...)
		case "watch":
			b, ok := v.(bool)
			if !ok {
				return opts, fmt.Errorf("%s: want bool, got %T", key, v)
			}
			opts.Watch = b
		case "debounce":
			s, ok := v.(string)
			if !ok {
				return opts, fmt.Errorf("%s: want duration string, got %T", key, v)
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return opts, fmt.Errorf("%s: %w", key, err)
			}
			opts.Debounce = d
		case "synch_mode":
			s, ok := v.(string)
			if !ok {
				return opts, fmt.Errorf("%s: want string, got %T", key, v)
			}
			mode, err := lifecycle.ParseSynchMode(s)
			if err != nil {
				return opts, fmt.Errorf("%s: %w", key, err)
			}
			opts.SynchMode = mode
		case "cache_dir":
			s, ok := v.(string)
			if !ok {
				return opts, fmt.Errorf("%s: want string, got %T", key, v)
			}
			opts.CacheDir = s
		default:
			return opts, fmt.Errorf("unknown option %q", key)
		}
	}
	return opts, nil
}

func stringList(key string, v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: want list, got %T", key, v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("%s: want strings, got %T", key, it)
		}
		out = append(out, s)
	}
	return out, nil
}
