// SPDX-License-Identifier: MPL-2.0

package preprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/modkit/modkit/pkg/descriptor"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ErrOutsideTree is returned when an action path escapes the container tree.
var ErrOutsideTree = errors.New("path escapes the container tree")

// ActionRunner executes install actions for one container. Paths written by
// actions are confined to Root.
type ActionRunner struct {
	// Root is the container directory.
	Root string
	// Stdout and Stderr receive output of run actions.
	Stdout io.Writer
	Stderr io.Writer
	// Logger is the sink for log actions.
	Logger *slog.Logger
}

// Run executes a. base is the directory relative source paths and scripts
// start from; output paths are relative to Root.
func (r *ActionRunner) Run(ctx context.Context, a descriptor.Action, cc *CommandContext, base string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case a.Run != "":
		return r.runScript(ctx, a.Run, cc, base)
	case a.Mkdir != "":
		dir, err := r.target(cc, a.Mkdir)
		if err != nil {
			return err
		}
		return os.MkdirAll(dir, 0o755)
	case a.Delete != "":
		p, err := r.target(cc, a.Delete)
		if err != nil {
			return err
		}
		if p == filepath.Clean(r.Root) {
			return fmt.Errorf("delete %s: refusing to delete the container root", a.Delete)
		}
		return os.RemoveAll(p)
	case a.Copy != nil:
		return r.copy(cc, a.Copy, base)
	case a.Set != nil:
		v, err := cc.Expand(a.Set.Value)
		if err != nil {
			return fmt.Errorf("set %s: %w", a.Set.Key, err)
		}
		cc.Set(a.Set.Key, v)
		return nil
	default:
		msg, err := cc.Expand(a.Log)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		r.logger().Info(msg)
		return nil
	}
}

func (r *ActionRunner) runScript(ctx context.Context, script string, cc *CommandContext, dir string) error {
	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "install")
	if err != nil {
		return fmt.Errorf("failed to parse script: %w", err)
	}

	env := append(os.Environ(), cc.Environ()...)
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, writerOrDiscard(r.Stdout), writerOrDiscard(r.Stderr)),
	)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			return fmt.Errorf("script exited with status %d", int(exitStatus))
		}
		return fmt.Errorf("script execution failed: %w", err)
	}
	return nil
}

func (r *ActionRunner) copy(cc *CommandContext, spec *descriptor.CopySpec, base string) error {
	from, err := cc.Expand(spec.From)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if !filepath.IsAbs(from) {
		from = filepath.Join(base, from)
	}
	to, err := r.target(cc, spec.To)
	if err != nil {
		return err
	}

	info, err := os.Stat(from)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if !info.IsDir() {
		return copyFile(from, to, info.Mode())
	}
	return filepath.WalkDir(from, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, dst, fi.Mode())
	})
}

// target expands p and resolves it against Root, rejecting escapes.
func (r *ActionRunner) target(cc *CommandContext, p string) (string, error) {
	expanded, err := cc.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return confine(r.Root, expanded)
}

// confine resolves p against root and rejects paths outside root.
func confine(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideTree)
	}
	return p, nil
}

func (r *ActionRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
