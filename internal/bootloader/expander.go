// SPDX-License-Identifier: MPL-2.0

package bootloader

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

// completeMarker is written last, so a partially expanded directory is
// redone on the next request.
const completeMarker = ".expanded"

// Expander extracts nested archives of packaged modules into a cache
// directory, once per distinct nested archive content.
type Expander struct {
	cacheDir string
	group    singleflight.Group
}

// NewExpander creates an Expander rooted at cacheDir. When flush is set the
// existing cache is removed first.
func NewExpander(cacheDir string, flush bool) (*Expander, error) {
	if flush {
		if err := os.RemoveAll(cacheDir); err != nil {
			return nil, fmt.Errorf("flush loader cache: %w", err)
		}
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create loader cache: %w", err)
	}
	return &Expander{cacheDir: cacheDir}, nil
}

// Dir returns the cache directory.
func (e *Expander) Dir() string {
	return e.cacheDir
}

// Expand extracts each nested member of archive and returns the directories
// they were expanded into, in member order. archive may also be a packaged
// module directory, in which case members are files inside it.
func (e *Expander) Expand(module, archive string, members []string) ([]string, error) {
	if len(members) == 0 {
		return nil, nil
	}

	var src fs.FS
	if info, err := os.Stat(archive); err == nil && info.IsDir() {
		src = os.DirFS(archive)
	} else {
		zr, err := zip.OpenReader(archive)
		if err != nil {
			return nil, &CannotLoadError{Name: module, Path: archive, Err: err}
		}
		defer zr.Close()
		src = zr
	}

	dirs := make([]string, 0, len(members))
	for _, member := range members {
		data, err := fs.ReadFile(src, member)
		if err != nil {
			return nil, &CannotLoadError{Name: member, Path: archive, Err: err}
		}
		sum := sha256.Sum256(data)
		dir := filepath.Join(e.cacheDir, module, hex.EncodeToString(sum[:8]))

		_, err, _ = e.group.Do(dir, func() (any, error) {
			return nil, expandOnce(dir, data)
		})
		if err != nil {
			return nil, &CannotLoadError{Name: member, Path: archive, Err: err}
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

func expandOnce(dir string, data []byte) error {
	if _, err := os.Stat(filepath.Join(dir, completeMarker)); err == nil {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("nested archive: %w", err)
	}
	for _, f := range zr.File {
		if err := extract(dir, f); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, completeMarker), nil, 0o644)
}

func extract(dir string, f *zip.File) error {
	dst := filepath.Join(dir, filepath.FromSlash(f.Name))
	if rel, err := filepath.Rel(dir, dst); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("nested archive member %q escapes the cache directory", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dst, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
