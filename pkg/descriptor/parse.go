// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modkit/modkit/pkg/cueutil"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// FormatCUE is the native descriptor format.
	FormatCUE Format = "cue"
	// FormatTOML descriptors are decoded with go-toml and validated by the CUE schema.
	FormatTOML Format = "toml"
	// FormatYAML descriptors are decoded with yaml.v3 and validated by the CUE schema.
	FormatYAML Format = "yaml"
)

//go:embed descriptor_schema.cue
var descriptorSchema []byte

// Format identifies a descriptor file format.
type Format string

// FormatOf returns the descriptor format implied by the file extension, or
// the empty Format for unsupported extensions.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// decode validates data against the named schema definition and decodes it.
// The filename determines the format and appears in error messages.
func decode[T any](data []byte, filename, definition string) (*T, error) {
	opts := []cueutil.Option{cueutil.WithFilename(filename)}

	switch FormatOf(filename) {
	case FormatCUE:
		res, err := cueutil.ParseAndDecode[T](descriptorSchema, data, definition, opts...)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	case FormatTOML:
		if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, filename); err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		return validateRaw[T](raw, definition, opts)
	case FormatYAML:
		if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, filename); err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		return validateRaw[T](raw, definition, opts)
	default:
		return nil, fmt.Errorf("%s: unsupported descriptor format", filename)
	}
}

func validateRaw[T any](raw map[string]any, definition string, opts []cueutil.Option) (*T, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	res, err := cueutil.ValidateAndDecode[T](descriptorSchema, raw, definition, opts...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// ParseFragment parses a single-fragment descriptor. The filename selects the
// format; dir becomes the module root.
func ParseFragment(data []byte, filename, dir string) (*Module, error) {
	m, err := decode[Module](data, filename, "#Fragment")
	if err != nil {
		return nil, err
	}
	m.Kind = KindFragment
	m.Source = filename
	m.Dir = dir
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return m, nil
}

// ParseFragments parses a multi-fragment descriptor. The file is rejected as a
// whole when an entry lacks a name or two entries share one.
func ParseFragments(data []byte, filename, dir string) ([]*Module, error) {
	list, err := decode[fragmentList](data, filename, "#Fragments")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(list.Fragments))
	modules := make([]*Module, 0, len(list.Fragments))
	for i := range list.Fragments {
		m := &list.Fragments[i]
		if m.Name == "" {
			return nil, fmt.Errorf("%s: fragments[%d]: %w", filename, i, ErrUnnamedFragment)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("%s: fragments[%d]: duplicate fragment name %q", filename, i, m.Name)
		}
		seen[m.Name] = true

		m.Kind = KindFragment
		m.Source = filename
		m.Dir = dir
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%s: fragments[%d]: %w", filename, i, err)
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// ParseContainer parses a container descriptor rooted at dir.
func ParseContainer(data []byte, filename, dir string) (*Container, error) {
	c, err := decode[Container](data, filename, "#Container")
	if err != nil {
		return nil, err
	}
	c.Dir = dir
	c.Source = filename
	return c, nil
}

// LoadFragmentFile reads and parses a single-fragment descriptor file.
func LoadFragmentFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	m, err := ParseFragment(data, path, filepath.Dir(path))
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	return m, nil
}

// LoadFragmentsFile reads and parses a multi-fragment descriptor file.
func LoadFragmentsFile(path string) ([]*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	modules, err := ParseFragments(data, path, filepath.Dir(path))
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	return modules, nil
}

// LoadContainer locates and parses the container descriptor inside dir.
func LoadContainer(dir string) (*Container, error) {
	path, ok := findDescriptor(dir, ContainerBaseName)
	if !ok {
		return nil, fmt.Errorf("%s: container descriptor: %w", dir, ErrNoDescriptor)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read container descriptor: %w", err)
	}
	return ParseContainer(data, path, dir)
}

// findDescriptor returns the first existing <dir>/<base>.<ext> in the
// supported extension order.
func findDescriptor(dir, base string) (string, bool) {
	for _, ext := range descriptorExts {
		p := filepath.Join(dir, base+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// HasContainer reports whether dir holds a container descriptor.
func HasContainer(dir string) bool {
	_, ok := findDescriptor(dir, ContainerBaseName)
	return ok
}
