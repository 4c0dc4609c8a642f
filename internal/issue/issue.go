// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a catalog entry.
//
//nolint:revive // Id matches the catalog naming used across the CLI.
type Id int

const (
	DescriptorNotFoundId Id = iota + 1
	DescriptorParseErrorId
	ConfigLoadFailedId
	DependencyCycleId
	RequirementsNotSatisfiedId
	TemplateRequiredId
	OutputNotWritableId
	UnitNotFoundId
	KernelManifestInvalidId
	ComponentTypeUnknownId
	AliasConflictId
	WatchFailedId
)

type (
	// MarkdownMsg is glamour-rendered guidance text.
	MarkdownMsg string

	//nolint:revive // HttpLink mirrors Id.
	HttpLink string

	// Issue is a catalog entry with longer, markdown-formatted guidance.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the guidance as terminal markdown using the glamour style
// at stylePath ("" selects the default dark style).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	if stylePath == "" {
		stylePath = "dark"
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	descriptorNotFoundIssue = &Issue{
		id: DescriptorNotFoundId,
		mdMsg: `
# No module descriptor found!

The path does not hold a module descriptor modkit can read.

## Recognized descriptors
- ` + "`module.cue`, `module.toml`, `module.yaml`" + ` in a module directory
- ` + "`<name>.module.{cue,toml,yaml}`" + ` files
- ` + "`<name>.fragments.{cue,toml,yaml}`" + ` files holding several modules
- ` + "`.zip`" + ` archives or package directories with ` + "`META-INF/module.*`" + `

## Things you can try
- List what modkit discovers under a directory:
~~~
$ modkit modules ./deploy
~~~`,
	}

	descriptorParseErrorIssue = &Issue{
		id: DescriptorParseErrorId,
		mdMsg: `
# Module descriptor is invalid!

The descriptor failed to parse or does not match the module schema.

## Things you can try
- Check the syntax of the file for its format (CUE, TOML or YAML)
- Make sure ` + "`name`" + ` is set and ` + "`version`" + ` is a semantic version such as ` + "`1.2.0`" + `
- Every ` + "`requires`" + ` entry must be a module name`,
		extLinks: []HttpLink{"https://cuelang.org/docs/"},
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

## Things you can try
- Print the effective configuration:
~~~
$ modkit config show
~~~
- Write a fresh default file:
~~~
$ modkit config init
~~~
- Unset MODKIT_* environment variables holding invalid values`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Modules require each other in a cycle!

Modules in a cycle can never be resolved and stay pending.

## Things you can try
- Move the shared parts into a new module both can require
- Drop one of the ` + "`requires`" + ` entries listed in the report`,
	}

	requirementsNotSatisfiedIssue = &Issue{
		id: RequirementsNotSatisfiedId,
		mdMsg: `
# Requirements not satisfied!

Some modules require modules that are not deployed. They were skipped.

## Things you can try
- Deploy the missing modules listed in the report
- Check the spelling of the ` + "`requires`" + ` entries`,
	}

	templateRequiredIssue = &Issue{
		id: TemplateRequiredId,
		mdMsg: `
# A required template received no contributions!

A template marked ` + "`required`" + ` is never installed empty.

## Things you can try
- Deploy a module that contributes to the template
- Remove the ` + "`required`" + ` flag if an empty result is acceptable`,
	}

	outputNotWritableIssue = &Issue{
		id: OutputNotWritableId,
		mdMsg: `
# Cannot write preprocessing output!

## Things you can try
- Check the permissions of the root container directory
- Make sure no template install path points outside the container`,
	}

	unitNotFoundIssue = &Issue{
		id: UnitNotFoundId,
		mdMsg: `
# Unit not found!

No boot path, module, or required module provides the unit.

## Things you can try
- Add the module providing the unit to ` + "`requires`" + `
- Check ` + "`loader.boot_prefixes`" + ` and ` + "`loader.delegation_prefixes`" + ` in the configuration`,
	}

	kernelManifestInvalidIssue = &Issue{
		id: KernelManifestInvalidId,
		mdMsg: `
# Kernel manifest is invalid!

The boot paths must hold exactly one ` + "`kernel.cue`" + ` naming a registered factory.

## Things you can try
- Check ` + "`loader.boot_paths`" + ` in the configuration
- Use the built-in factory ` + "`modkit.kernel`" + ``,
	}

	componentTypeUnknownIssue = &Issue{
		id: ComponentTypeUnknownId,
		mdMsg: `
# Unknown component type!

A module declares a component whose type has no registered factory.
The module stays installed until the type becomes available.`,
	}

	aliasConflictIssue = &Issue{
		id: AliasConflictId,
		mdMsg: `
# Component alias already claimed!

Two modules expose components under the same alias. The module resolved
second stays installed until the alias is released.`,
	}

	watchFailedIssue = &Issue{
		id: WatchFailedId,
		mdMsg: `
# Watching module directories failed!

## Things you can try
- On Linux, raise ` + "`fs.inotify.max_user_watches`" + `
- Add large unrelated trees to ` + "`modules.ignore`" + ``,
		extLinks: []HttpLink{"https://github.com/fsnotify/fsnotify"},
	}

	issues = map[Id]*Issue{
		descriptorNotFoundIssue.Id():       descriptorNotFoundIssue,
		descriptorParseErrorIssue.Id():     descriptorParseErrorIssue,
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		dependencyCycleIssue.Id():          dependencyCycleIssue,
		requirementsNotSatisfiedIssue.Id(): requirementsNotSatisfiedIssue,
		templateRequiredIssue.Id():         templateRequiredIssue,
		outputNotWritableIssue.Id():        outputNotWritableIssue,
		unitNotFoundIssue.Id():             unitNotFoundIssue,
		kernelManifestInvalidIssue.Id():    kernelManifestInvalidIssue,
		componentTypeUnknownIssue.Id():     componentTypeUnknownIssue,
		aliasConflictIssue.Id():            aliasConflictIssue,
		watchFailedIssue.Id():              watchFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return int(a.id) - int(b.id)
	})
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
