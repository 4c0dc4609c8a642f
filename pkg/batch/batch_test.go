// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"errors"
	"fmt"
	"slices"
	"testing"
)

func TestCollectAll_AttemptsEveryItem(t *testing.T) {
	t.Parallel()

	errK := errors.New("module k failed")
	var attempted []int

	err := CollectAll("reconcile", slices.Values([]int{0, 1, 2, 3, 4}), func(i int) error {
		attempted = append(attempted, i)
		if i == 2 {
			return errK
		}
		return nil
	})

	if !slices.Equal(attempted, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("attempted = %v, want all five items", attempted)
	}

	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected *AggregateError, got %T (%v)", err, err)
	}
	if agg.Len() != 1 {
		t.Fatalf("aggregate holds %d failures, want 1: %v", agg.Len(), agg)
	}
	if !errors.Is(err, errK) {
		t.Errorf("errors.Is(err, errK) = false, want true")
	}
}

func TestCollectAll_NoFailures(t *testing.T) {
	t.Parallel()

	err := CollectAll("noop", slices.Values([]string{"a", "b"}), func(string) error { return nil })
	if err != nil {
		t.Fatalf("CollectAll() = %v, want nil", err)
	}
}

func TestCollectAll_RecoversPanics(t *testing.T) {
	t.Parallel()

	err := CollectAll("panicky", slices.Values([]int{1, 2}), func(i int) error {
		if i == 1 {
			panic("boom")
		}
		return nil
	})
	if got := len(Failures(err)); got != 1 {
		t.Fatalf("Failures() = %d, want 1 (err: %v)", got, err)
	}
}

func TestAggregateError_Message(t *testing.T) {
	t.Parallel()

	c := NewCollector("flush")
	c.Add(nil)
	c.Add(fmt.Errorf("a: %w", errors.New("first")))
	c.Add(errors.New("second"))

	err := c.Err()
	want := "flush: 2 failures:\n  - a: first\n  - second"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFirstMatch(t *testing.T) {
	t.Parallel()

	parse := func(s string) Result[int] {
		var n int
		_, err := fmt.Sscanf(s, "%d", &n)
		return Of(n, err)
	}

	res, stopped := FirstMatch(slices.Values([]string{"1", "2", "x", "4"}), parse, StopOnFailure[int])
	if !stopped || res.OK() {
		t.Fatalf("FirstMatch(StopOnFailure) = (%v, %v), want failure", res, stopped)
	}

	res, stopped = FirstMatch(slices.Values([]string{"x", "y", "7"}), parse, StopOnSuccess[int])
	if !stopped || res.Value() != 7 {
		t.Fatalf("FirstMatch(StopOnSuccess) = (%v, %v), want 7", res.Value(), stopped)
	}

	_, stopped = FirstMatch(slices.Values([]string{"x"}), parse, StopOnSuccess[int])
	if stopped {
		t.Fatalf("FirstMatch() stopped on exhausted sequence without a success")
	}
}

func TestResult(t *testing.T) {
	t.Parallel()

	ok := Ok(3)
	if !ok.OK() || ok.OrElse(9) != 3 {
		t.Errorf("Ok(3) misbehaves: %+v", ok)
	}
	failed := Fail[int](errors.New("nope"))
	if failed.OK() || failed.OrElse(9) != 9 {
		t.Errorf("Fail() misbehaves: %+v", failed)
	}
	if _, err := Try(func() (int, error) { panic("x") }).Get(); err == nil {
		t.Errorf("Try() did not capture panic")
	}
}
