// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	// ManifestModuleName is the preferred manifest key for the module name.
	ManifestModuleName = "Module-Name"
	// ManifestSymbolicName is the fallback manifest key for the module name.
	ManifestSymbolicName = "Bundle-SymbolicName"
	// ManifestRequires lists required module names, comma separated.
	ManifestRequires = "Require-Module"
	// ManifestNestedArchives lists nested archive members, comma separated.
	ManifestNestedArchives = "Nested-Archives"
)

// Manifest is a parsed key/value archive header.
type Manifest map[string]string

// ParseManifest reads a "Key: value" header. A line starting with a single
// space continues the previous value; a blank line ends the main section.
func ParseManifest(r io.Reader) (Manifest, error) {
	m := make(Manifest)
	scanner := bufio.NewScanner(r)
	var lastKey string
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, " ") {
			if lastKey == "" {
				return nil, fmt.Errorf("manifest line %d: continuation without header", lineNo)
			}
			m[lastKey] += line[1:]
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("manifest line %d: expected \"Key: value\"", lineNo)
		}
		lastKey = strings.TrimSpace(key)
		m[lastKey] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

// Name returns the module name declared by the manifest, if any. OSGi-style
// directives after ';' are stripped.
func (m Manifest) Name() string {
	name := m[ManifestModuleName]
	if name == "" {
		name = m[ManifestSymbolicName]
	}
	name, _, _ = strings.Cut(name, ";")
	return strings.TrimSpace(name)
}

// List splits a comma-separated manifest value, dropping empty items.
func (m Manifest) List(key string) []string {
	var out []string
	for item := range strings.SplitSeq(m[key], ",") {
		item, _, _ = strings.Cut(item, ";")
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
