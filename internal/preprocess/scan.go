// SPDX-License-Identifier: MPL-2.0

package preprocess

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/modkit/modkit/pkg/descriptor"

	"github.com/bmatcuk/doublestar/v4"
)

type (
	// Scanner discovers module descriptors below a container.
	Scanner struct {
		// Ignore holds doublestar patterns matched against slash-separated
		// paths relative to the container directory.
		Ignore []string
		Logger *slog.Logger
	}

	// ScanResult is the outcome of scanning one container.
	ScanResult struct {
		// Modules are every parsed module, in scan order.
		Modules []*descriptor.Module
		// Diagnostics are per-artifact failures; they never abort the scan.
		Diagnostics []Diagnostic
	}
)

// Scan walks the container's declared directories and explicit files.
// Directories holding their own container descriptor are skipped: they are
// processed as nested containers.
func (s *Scanner) Scan(c *descriptor.Container) *ScanResult {
	res := &ScanResult{}

	for _, d := range c.Directories {
		dir := resolvePath(c.Dir, d)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			if err == nil {
				err = fmt.Errorf("%s is not a directory", dir)
			}
			res.Diagnostics = append(res.Diagnostics, newDiagnostic(SeverityWarning, CodeDirectoryMissing, dir, err))
			continue
		}
		s.scanDir(c.Dir, dir, res)
	}

	for _, f := range c.Files {
		p := resolvePath(c.Dir, f)
		s.load(p, res)
	}
	return res
}

func (s *Scanner) scanDir(root, dir string, res *ScanResult) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, newDiagnostic(SeverityError, CodeScanFailed, dir, err))
		return
	}

	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		if s.ignored(root, p) {
			continue
		}

		class, err := descriptor.Classify(p)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, newDiagnostic(SeverityError, CodeScanFailed, p, err))
			continue
		}
		switch class {
		case descriptor.ClassDirectory:
			if descriptor.HasContainer(p) {
				s.logger().Debug("skipping nested container during scan", "dir", p)
				continue
			}
			s.scanDir(root, p, res)
		case descriptor.ClassIgnored:
			continue
		default:
			s.load(p, res)
		}
	}
}

func (s *Scanner) load(p string, res *ScanResult) {
	modules, err := descriptor.Load(p)
	if err != nil {
		d := newDiagnostic(SeverityError, CodeScanFailed, p, err)
		if errors.Is(err, fs.ErrNotExist) {
			d.Severity = SeverityWarning
		}
		res.Diagnostics = append(res.Diagnostics, d)
		return
	}
	for _, m := range modules {
		s.logger().Debug("discovered module", "module", m.Name, "source", m.Source, "kind", m.Kind)
	}
	res.Modules = append(res.Modules, modules...)
}

func (s *Scanner) ignored(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range s.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
