// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ArchiveMemberSep separates an archive path from a member path in Source.
const ArchiveMemberSep = "!/"

// Load parses the module artifact at path according to its classification.
// Plain directories and ignored files yield ErrNoDescriptor.
func Load(p string) ([]*Module, error) {
	class, err := Classify(p)
	if err != nil {
		return nil, &ScanError{Path: p, Err: err}
	}

	switch class {
	case ClassFragment:
		m, err := LoadFragmentFile(p)
		if err != nil {
			return nil, err
		}
		return []*Module{m}, nil
	case ClassFragments:
		return LoadFragmentsFile(p)
	case ClassPackage, ClassArchive:
		m, err := LoadPackage(p)
		if err != nil {
			return nil, err
		}
		return []*Module{m}, nil
	default:
		return nil, &ScanError{Path: p, Err: ErrNoDescriptor}
	}
}

// LoadPackage loads a packaged module from a directory or a .zip archive.
// The descriptor at META-INF/module.<ext> wins; otherwise the manifest header
// (or, failing that, the archive base name) yields a dependency-only marker.
func LoadPackage(p string) (*Module, error) {
	var (
		pkg packageFS
		err error
	)
	if strings.HasSuffix(strings.ToLower(p), ArchiveExt) {
		pkg, err = openArchive(p)
	} else {
		pkg, err = openDir(p)
	}
	if err != nil {
		return nil, &ScanError{Path: p, Err: err}
	}
	defer pkg.Close()

	m, err := loadPackage(pkg, p)
	if err != nil {
		return nil, &ScanError{Path: p, Err: err}
	}
	return m, nil
}

func loadPackage(pkg packageFS, root string) (*Module, error) {
	manifest, err := readManifest(pkg)
	if err != nil {
		return nil, err
	}
	archive := strings.HasSuffix(strings.ToLower(root), ArchiveExt)

	for _, ext := range descriptorExts {
		member := path.Join(PackageMetaDir, FragmentBaseName+ext)
		data, err := fs.ReadFile(pkg, member)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", member, err)
		}

		m, err := ParseFragment(data, memberSource(root, member, archive), root)
		if err != nil {
			return nil, err
		}
		m.Archive = archive
		if manifest != nil {
			m.NestedArchives = manifest.List(ManifestNestedArchives)
		}
		return m, nil
	}

	if manifest != nil && manifest.Name() != "" {
		marker := NewMarker(manifest.Name(), root, manifest.List(ManifestRequires))
		marker.NestedArchives = manifest.List(ManifestNestedArchives)
		return marker, nil
	}
	if !archive {
		return nil, ErrNoDescriptor
	}
	return NewMarker(ArchiveBaseName(root), root, nil), nil
}

// ArchiveBaseName derives a marker name from an archive path.
func ArchiveBaseName(p string) string {
	base := filepath.Base(p)
	return base[:len(base)-len(filepath.Ext(base))]
}

func memberSource(root, member string, archive bool) string {
	if archive {
		return root + ArchiveMemberSep + member
	}
	return filepath.Join(root, filepath.FromSlash(member))
}

func readManifest(pkg packageFS) (Manifest, error) {
	f, err := pkg.Open(path.Join(PackageMetaDir, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseManifest(f)
}

// packageFS is a read-only view of a packaged module.
type packageFS interface {
	fs.FS
	io.Closer
}

type dirPackage struct{ fs.FS }

func (dirPackage) Close() error { return nil }

func openDir(p string) (packageFS, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", p)
	}
	return dirPackage{os.DirFS(p)}, nil
}

func openArchive(p string) (packageFS, error) {
	return zip.OpenReader(p)
}
