// SPDX-License-Identifier: MPL-2.0

package bootloader

import (
	"archive/zip"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/modkit/modkit/pkg/batch"
	"github.com/modkit/modkit/pkg/descriptor"
)

type (
	// Unit is a resolved named resource.
	Unit struct {
		// Name is the slash-separated unit name.
		Name string
		// Origin is the module (or source) that provided the unit.
		Origin string
		// Path locates the unit on disk; archive members use "<zip>!/<member>".
		Path string
		Data []byte
	}

	// Source finds units by name. Implementations return an error matching
	// ErrNotFound when the unit is absent.
	Source interface {
		Find(name string) (*Unit, error)
	}

	// Wiring locates units among the modules wired to a requester.
	Wiring interface {
		Locate(requester, name string) (*Unit, error)
	}

	// FSSource is a Source backed by an fs.FS.
	FSSource struct {
		FS     fs.FS
		Origin string
	}

	// Root is the searchable content of one module: its directory or archive,
	// followed by any expanded nested-archive directories.
	Root struct {
		Module  string
		Dir     string
		Archive bool
		Extra   []string
	}

	// DirWiring is a transient wiring over plain directories, used before any
	// module is installed. Every requester sees every directory.
	DirWiring struct {
		Dirs []string
	}
)

// Find implements Source.
func (s *FSSource) Find(name string) (*Unit, error) {
	data, err := fs.ReadFile(s.FS, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Name: name}
	}
	if err != nil {
		return nil, &CannotLoadError{Name: name, Path: s.Origin, Err: err}
	}
	return &Unit{Name: name, Origin: s.Origin, Path: name, Data: data}, nil
}

// Find implements Source over the module root.
func (r Root) Find(name string) (*Unit, error) {
	if !validName(name) {
		return nil, &NotFoundError{Name: name}
	}

	var (
		u   *Unit
		err error
	)
	if r.Archive {
		u, err = findInArchive(r.Dir, name)
	} else {
		u, err = findInDir(r.Dir, name)
	}
	for _, dir := range r.Extra {
		if !errors.Is(err, ErrNotFound) {
			break
		}
		u, err = findInDir(dir, name)
	}
	if err != nil {
		return nil, err
	}
	u.Origin = r.Module
	return u, nil
}

// Locate implements Wiring.
func (w *DirWiring) Locate(requester, name string) (*Unit, error) {
	roots := make([]Root, 0, len(w.Dirs))
	for _, d := range w.Dirs {
		roots = append(roots, Root{Module: d, Dir: d})
	}
	u, err := SearchRoots(roots, name)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Requester: requester, Name: name}
	}
	return u, err
}

// SearchRoots returns the unit from the first root that has it. An I/O error
// stops the search.
func SearchRoots(roots []Root, name string) (*Unit, error) {
	res, stopped := batch.FirstMatch(slices.Values(roots),
		func(r Root) batch.Result[*Unit] { return batch.Of(r.Find(name)) },
		func(res batch.Result[*Unit]) bool { return res.OK() || !errors.Is(res.Err(), ErrNotFound) },
	)
	if !stopped {
		return nil, &NotFoundError{Name: name}
	}
	return res.Get()
}

func findInDir(dir, name string) (*Unit, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &NotFoundError{Name: name}
	case err != nil:
		if isDirError(p) {
			return nil, &NotFoundError{Name: name}
		}
		return nil, &CannotLoadError{Name: name, Path: p, Err: err}
	}
	return &Unit{Name: name, Path: p, Data: data}, nil
}

func isDirError(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func findInArchive(archive, name string) (*Unit, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, &CannotLoadError{Name: name, Path: archive, Err: err}
	}
	defer zr.Close()

	data, err := fs.ReadFile(zr, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Name: name}
	}
	if err != nil {
		return nil, &CannotLoadError{Name: name, Path: archive, Err: err}
	}
	return &Unit{Name: name, Path: archive + descriptor.ArchiveMemberSep + name, Data: data}, nil
}

// validName rejects names that are not clean, relative, slash-separated paths.
func validName(name string) bool {
	return name != "" && name != "." && fs.ValidPath(name) && !strings.Contains(name, "\\") && path.Clean(name) == name
}

// emptyFS is the parent used when none is configured.
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
