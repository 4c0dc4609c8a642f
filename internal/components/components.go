// SPDX-License-Identifier: MPL-2.0

package components

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/modkit/modkit/internal/bootloader"
	"github.com/modkit/modkit/internal/lifecycle"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// TypeShell runs shell hooks on lifecycle events.
	TypeShell = "shell"
	// TypeResource holds loaded resource units.
	TypeResource = "resource"
)

// Hook names accepted in a shell component's config.
const (
	hookActivate   = "activate"
	hookDeactivate = "deactivate"
	hookStart      = "start"
	hookStop       = "stop"
)

type (
	// IO carries the streams hooks write to.
	IO struct {
		Stdout io.Writer
		Stderr io.Writer
	}

	// Shell runs configured scripts when its module is activated or
	// deactivated and when the system starts or stops.
	Shell struct {
		module string
		name   string
		dir    string
		env    []string
		hooks  map[string]*syntax.File
		io     IO
	}

	// Resource exposes the units named in the component's resources list.
	Resource struct {
		units []*bootloader.Unit
	}
)

var (
	_ lifecycle.Activator   = (*Shell)(nil)
	_ lifecycle.Deactivator = (*Shell)(nil)
	_ lifecycle.Starter     = (*Shell)(nil)
	_ lifecycle.Stopper     = (*Shell)(nil)
)

// Register adds the built-in component types to reg.
func Register(reg *lifecycle.ComponentRegistry, streams IO) error {
	if err := reg.Register(TypeShell, ShellFactory(streams)); err != nil {
		return err
	}
	return reg.Register(TypeResource, ResourceFactory)
}

// ShellFactory returns the factory for "shell" components. Config keys:
// activate, deactivate, start and stop hold scripts; dir sets the working
// directory; env is a map of extra variables. Scripts are parsed at bind
// time so syntax errors fail resolution.
func ShellFactory(streams IO) lifecycle.ComponentFactory {
	return func(_ context.Context, spec lifecycle.ComponentSpec) (any, error) {
		s := &Shell{
			module: spec.Module,
			name:   spec.Name,
			hooks:  make(map[string]*syntax.File),
			io:     streams,
		}
		for key, v := range spec.Config {
			switch key {
			case hookActivate, hookDeactivate, hookStart, hookStop:
				script, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("%s: want script string, got %T", key, v)
				}
				prog, err := syntax.NewParser().Parse(strings.NewReader(script), spec.Module+"/"+spec.Name+":"+key)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				s.hooks[key] = prog
			case "dir":
				dir, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("dir: want string, got %T", v)
				}
				s.dir = dir
			case "env":
				env, ok := v.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("env: want map, got %T", v)
				}
				for k, val := range env {
					s.env = append(s.env, fmt.Sprintf("%s=%v", k, val))
				}
			default:
				return nil, fmt.Errorf("unknown shell option %q", key)
			}
		}
		return s, nil
	}
}

// ResourceFactory builds "resource" components.
func ResourceFactory(_ context.Context, spec lifecycle.ComponentSpec) (any, error) {
	return &Resource{units: spec.Resources}, nil
}

// Activate runs the activate hook.
func (s *Shell) Activate(ctx context.Context) error { return s.run(ctx, hookActivate) }

// Deactivate runs the deactivate hook.
func (s *Shell) Deactivate(ctx context.Context) error { return s.run(ctx, hookDeactivate) }

// Start runs the start hook.
func (s *Shell) Start(ctx context.Context) error { return s.run(ctx, hookStart) }

// Stop runs the stop hook.
func (s *Shell) Stop(ctx context.Context) error { return s.run(ctx, hookStop) }

func (s *Shell) run(ctx context.Context, hook string) error {
	prog, ok := s.hooks[hook]
	if !ok {
		return nil
	}
	env := append(os.Environ(),
		"MODKIT_MODULE="+s.module,
		"MODKIT_COMPONENT="+s.name,
		"MODKIT_HOOK="+hook,
	)
	env = append(env, s.env...)

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, orDiscard(s.io.Stdout), orDiscard(s.io.Stderr)),
	}
	if s.dir != "" {
		opts = append(opts, interp.Dir(s.dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}
	if err := runner.Run(ctx, prog); err != nil {
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			return fmt.Errorf("%s hook of %s/%s exited with status %d", hook, s.module, s.name, int(exitStatus))
		}
		return fmt.Errorf("%s hook of %s/%s: %w", hook, s.module, s.name, err)
	}
	return nil
}

// Units returns the loaded units.
func (r *Resource) Units() []*bootloader.Unit {
	return r.units
}

// Lookup returns the unit called name.
func (r *Resource) Lookup(name string) (*bootloader.Unit, bool) {
	for _, u := range r.units {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
