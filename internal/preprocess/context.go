// SPDX-License-Identifier: MPL-2.0

package preprocess

import (
	"maps"
	"slices"

	"github.com/modkit/modkit/pkg/descriptor"

	"mvdan.cc/sh/v3/shell"
)

// Keys maintained by the pass in the command context.
const (
	KeyModuleName    = "MODULE_NAME"
	KeyModuleDir     = "MODULE_DIR"
	KeyModuleSource  = "MODULE_SOURCE"
	KeyContainerName = "CONTAINER_NAME"
	KeyContainerDir  = "CONTAINER_DIR"
)

// CommandContext is the mutable key/value state shared by the install actions
// of one pass. It is seeded from configuration and updated with the identity
// of the module whose actions are running.
type CommandContext struct {
	vars map[string]string
}

// NewCommandContext creates a context seeded with a copy of seed.
func NewCommandContext(seed map[string]string) *CommandContext {
	vars := maps.Clone(seed)
	if vars == nil {
		vars = make(map[string]string)
	}
	return &CommandContext{vars: vars}
}

// Get returns the value of key, or "" when unset.
func (c *CommandContext) Get(key string) string {
	return c.vars[key]
}

// Lookup returns the value of key and whether it is set.
func (c *CommandContext) Lookup(key string) (string, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Set stores value under key.
func (c *CommandContext) Set(key, value string) {
	c.vars[key] = value
}

// Clone returns an independent copy, used to scope nested containers.
func (c *CommandContext) Clone() *CommandContext {
	return &CommandContext{vars: maps.Clone(c.vars)}
}

// Environ returns the context as sorted KEY=value pairs.
func (c *CommandContext) Environ() []string {
	out := make([]string, 0, len(c.vars))
	for _, k := range slices.Sorted(maps.Keys(c.vars)) {
		out = append(out, k+"="+c.vars[k])
	}
	return out
}

// Expand performs ${var} expansion of s against the context. Command
// substitution is rejected.
func (c *CommandContext) Expand(s string) (string, error) {
	return shell.Expand(s, c.Get)
}

// EnterContainer records the container whose actions run next.
func (c *CommandContext) EnterContainer(cont *descriptor.Container) {
	c.Set(KeyContainerName, cont.Name)
	c.Set(KeyContainerDir, cont.Dir)
}

// EnterModule records the module whose actions run next.
func (c *CommandContext) EnterModule(m *descriptor.Module) {
	c.Set(KeyModuleName, m.Name)
	c.Set(KeyModuleDir, m.Dir)
	c.Set(KeyModuleSource, m.Source)
}
