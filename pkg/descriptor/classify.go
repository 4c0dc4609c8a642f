// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// ClassIgnored entries are skipped by the scanner.
	ClassIgnored Class = iota
	// ClassFragment is a single-fragment descriptor file.
	ClassFragment
	// ClassFragments is a multi-fragment descriptor file.
	ClassFragments
	// ClassPackage is a directory carrying META-INF/module.<ext>.
	ClassPackage
	// ClassArchive is a .zip packaged module (with or without descriptor).
	ClassArchive
	// ClassDirectory is a plain directory the scanner recurses into.
	ClassDirectory
)

const (
	// FragmentBaseName is the base name of a single-fragment descriptor.
	FragmentBaseName = "module"
	// FragmentSuffix marks named single-fragment files (<name>.module.cue).
	FragmentSuffix = ".module"
	// FragmentsSuffix marks multi-fragment files (<name>.fragments.cue).
	FragmentsSuffix = ".fragments"
	// ContainerBaseName is the base name of a container descriptor.
	ContainerBaseName = "container"
	// PackageMetaDir is the fixed directory holding a packaged descriptor.
	PackageMetaDir = "META-INF"
	// ManifestName is the key/value header consulted for legacy archives.
	ManifestName = "MANIFEST.MF"
	// ArchiveExt is the packaged-module archive extension.
	ArchiveExt = ".zip"
)

// descriptorExts lists supported extensions in lookup precedence order.
var descriptorExts = []string{".cue", ".toml", ".yaml", ".yml"}

// Class is the scanner's classification of a filesystem entry.
type Class int

// String returns a human-readable class name.
func (c Class) String() string {
	switch c {
	case ClassFragment:
		return "fragment"
	case ClassFragments:
		return "fragments"
	case ClassPackage:
		return "package"
	case ClassArchive:
		return "archive"
	case ClassDirectory:
		return "directory"
	default:
		return "ignored"
	}
}

// Classify inspects path and reports how the scanner must treat it.
// Container descriptors and unsupported files are ignored.
func Classify(path string) (Class, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ClassIgnored, err
	}
	if info.IsDir() {
		if _, ok := findDescriptor(filepath.Join(path, PackageMetaDir), FragmentBaseName); ok {
			return ClassPackage, nil
		}
		return ClassDirectory, nil
	}
	return classifyFile(filepath.Base(path)), nil
}

// classifyFile classifies a regular file by name alone.
func classifyFile(name string) Class {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ArchiveExt) {
		return ClassArchive
	}

	ext := filepath.Ext(lower)
	if FormatOf(lower) == "" {
		return ClassIgnored
	}
	stem := strings.TrimSuffix(lower, ext)

	switch {
	case stem == FragmentBaseName, strings.HasSuffix(stem, FragmentSuffix):
		return ClassFragment
	case strings.HasSuffix(stem, FragmentsSuffix):
		return ClassFragments
	default:
		return ClassIgnored
	}
}
