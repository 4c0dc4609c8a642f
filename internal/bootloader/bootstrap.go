// SPDX-License-Identifier: MPL-2.0

package bootloader

import (
	"context"
	_ "embed"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/modkit/modkit/pkg/cueutil"
)

const (
	// KernelManifestName is the unit Bootstrap reads to select the kernel.
	KernelManifestName = "modkit/kernel/kernel.cue"
	// BootRequester is the requester name used during bootstrap.
	BootRequester = "bootstrap"
)

//go:embed kernel_schema.cue
var kernelSchema []byte

type (
	// KernelManifest selects a kernel factory and passes it options.
	KernelManifest struct {
		Factory string         `json:"factory"`
		Options map[string]any `json:"options,omitempty"`
	}

	// Kernel is the contract between bootstrap and the kernel it starts: after
	// construction the loader's wiring is handed to the kernel.
	Kernel interface {
		Wiring() Wiring
	}

	// KernelFactory constructs a kernel from manifest options.
	KernelFactory func(ctx context.Context, opts map[string]any, l *Loader) (Kernel, error)

	// Factories maintains known kernel factories.
	Factories struct {
		mu        sync.RWMutex
		factories map[string]KernelFactory
	}
)

// NewFactories returns an empty registry.
func NewFactories() *Factories {
	return &Factories{factories: map[string]KernelFactory{}}
}

// Register installs a kernel factory. Returns an error if the ID already exists.
func (f *Factories) Register(id string, factory KernelFactory) error {
	if id == "" {
		return fmt.Errorf("bootloader: factory id is required")
	}
	if factory == nil {
		return fmt.Errorf("bootloader: factory is required for %s", id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.factories[id]; exists {
		return fmt.Errorf("bootloader: %s already registered", id)
	}
	f.factories[id] = factory
	return nil
}

// MustRegister panics if registration fails.
func (f *Factories) MustRegister(id string, factory KernelFactory) {
	if err := f.Register(id, factory); err != nil {
		panic(err)
	}
}

// IDs returns a sorted list of registered factory identifiers.
func (f *Factories) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.factories))
	for id := range f.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *Factories) lookup(id string) (KernelFactory, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	factory, ok := f.factories[id]
	return factory, ok
}

// ParseKernelManifest validates and decodes a kernel manifest.
func ParseKernelManifest(data []byte, filename string) (*KernelManifest, error) {
	res, err := cueutil.ParseAndDecode[KernelManifest](kernelSchema, data, "#Kernel", cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Bootstrap loads the kernel manifest from bootDirs through a transient
// directory wiring, instantiates the selected kernel and swaps the loader's
// wiring to the one the kernel provides.
func Bootstrap(ctx context.Context, l *Loader, bootDirs []string, factories *Factories) (Kernel, error) {
	l.SetWiring(&DirWiring{Dirs: slices.Clone(bootDirs)})

	unit, err := l.Load(BootRequester, KernelManifestName)
	if err != nil {
		return nil, fmt.Errorf("load kernel manifest: %w", err)
	}
	manifest, err := ParseKernelManifest(unit.Data, unit.Path)
	if err != nil {
		return nil, err
	}

	factory, ok := factories.lookup(manifest.Factory)
	if !ok {
		return nil, fmt.Errorf("unknown kernel factory %q (known: %v)", manifest.Factory, factories.IDs())
	}
	l.logger.Debug("instantiating kernel", "factory", manifest.Factory, "manifest", unit.Path)

	k, err := factory(ctx, manifest.Options, l)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", manifest.Factory, err)
	}
	l.SetWiring(k.Wiring())
	return k, nil
}
