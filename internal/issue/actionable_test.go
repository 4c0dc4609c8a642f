// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{
			name: "operation only",
			err:  &ActionableError{Operation: "resolve modules"},
			want: "failed to resolve modules",
		},
		{
			name: "resource",
			err:  &ActionableError{Operation: "load container descriptor", Resource: "deploy"},
			want: "failed to load container descriptor: deploy",
		},
		{
			name: "cause without resource",
			err:  &ActionableError{Operation: "bootstrap kernel", Cause: errors.New("no manifest")},
			want: "failed to bootstrap kernel: no manifest",
		},
		{
			name: "resource and cause",
			err: &ActionableError{
				Operation: "write template",
				Resource:  "out/web.xml",
				Cause:     errors.New("permission denied"),
			},
			want: "failed to write template: out/web.xml: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableError_UnwrapChain(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("open kernel.cue: %w", fs.ErrNotExist)
	err := NewErrorContext().WithOperation("bootstrap kernel").Wrap(cause).BuildError()

	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is should see through the actionable error")
	}
	var ae *ActionableError
	if !errors.As(fmt.Errorf("run: %w", err), &ae) {
		t.Fatal("errors.As should find the actionable error when wrapped")
	}
	if ae.Operation != "bootstrap kernel" {
		t.Errorf("Operation = %q", ae.Operation)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithOperation("load configuration").
		WithResource("config.cue").
		WithSuggestion("Check the CUE syntax").
		WithSuggestion("Run 'modkit config show'").
		Wrap(fmt.Errorf("decode: %w", errors.New("unexpected token"))).
		Build()

	brief := err.Format(false)
	wantBrief := "failed to load configuration: config.cue: decode: unexpected token\n" +
		"\n  • Check the CUE syntax" +
		"\n  • Run 'modkit config show'"
	if brief != wantBrief {
		t.Errorf("Format(false) = %q, want %q", brief, wantBrief)
	}

	verbose := err.Format(true)
	if !strings.HasPrefix(verbose, wantBrief) {
		t.Errorf("Format(true) should start with the brief form, got %q", verbose)
	}
	for _, want := range []string{"Error chain:", "1. decode: unexpected token", "2. unexpected token"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Format(true) missing %q:\n%s", want, verbose)
		}
	}

	bare := (&ActionableError{Operation: "resolve modules"}).Format(true)
	if bare != "failed to resolve modules" {
		t.Errorf("Format(true) without suggestions or cause = %q", bare)
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without an operation should be nil")
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() without an operation = %v, want untyped nil", err)
	}

	ctx := NewErrorContext().WithOperation("write template").WithSuggestion("first")
	first := ctx.Wrap(errors.New("one")).Build()
	second := ctx.WithSuggestion("second").Wrap(errors.New("two")).Build()

	if first.Cause.Error() != "one" || second.Cause.Error() != "two" {
		t.Errorf("causes = %v, %v", first.Cause, second.Cause)
	}
	if len(first.Suggestions) != 1 {
		t.Errorf("earlier build changed after reuse: %v", first.Suggestions)
	}
	if len(second.Suggestions) != 2 {
		t.Errorf("second.Suggestions = %v", second.Suggestions)
	}
}

func TestErrorContext_WithIssue(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithOperation("resolve modules").
		WithIssue(DependencyCycleId).
		Wrap(errors.New("a -> b -> a")).
		Build()
	if err.Issue != DependencyCycleId {
		t.Fatalf("Issue = %d, want %d", err.Issue, DependencyCycleId)
	}
	if g := err.Guidance(); g == nil || g.Id() != DependencyCycleId {
		t.Errorf("Guidance() = %v, want catalog entry %d", g, DependencyCycleId)
	}

	plain := &ActionableError{Operation: "install module"}
	if plain.Guidance() != nil {
		t.Error("Guidance() without a linked issue should be nil")
	}
}
