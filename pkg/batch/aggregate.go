// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"errors"
	"iter"
	"strconv"
	"strings"
	"sync"
)

type (
	// AggregateError is raised once after a batch completes and wraps every
	// individual failure. errors.Is and errors.As inspect each wrapped failure.
	AggregateError struct {
		// Op names the batch operation (e.g. "flush deferred modules").
		Op string
		// Errs holds the individual failures in the order they occurred.
		Errs []error
	}

	// Collector accumulates failures incrementally. It is safe for concurrent use.
	Collector struct {
		op   string
		mu   sync.Mutex
		errs []error
	}
)

// Error implements the error interface.
func (e *AggregateError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(": ")
	if len(e.Errs) == 1 {
		sb.WriteString(e.Errs[0].Error())
		return sb.String()
	}
	sb.WriteString(strconv.Itoa(len(e.Errs)))
	sb.WriteString(" failures:")
	for _, err := range e.Errs {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap exposes the wrapped failures to errors.Is / errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errs
}

// Len returns the number of wrapped failures.
func (e *AggregateError) Len() int {
	return len(e.Errs)
}

// NewCollector creates a Collector for the named batch operation.
func NewCollector(op string) *Collector {
	return &Collector{op: op}
}

// Add records err; nil errors are ignored.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// Len returns the number of failures recorded so far.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// Err returns nil when nothing failed, otherwise an *AggregateError wrapping
// every recorded failure.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	errs := make([]error, len(c.errs))
	copy(errs, c.errs)
	return &AggregateError{Op: c.op, Errs: errs}
}

// CollectAll runs fn over every item, never stopping early, and returns a
// single *AggregateError wrapping all failures (nil when all succeed).
// A panic in fn is recovered and recorded as that item's failure.
func CollectAll[T any](op string, items iter.Seq[T], fn func(T) error) error {
	c := NewCollector(op)
	for item := range items {
		res := Try(func() (struct{}, error) { return struct{}{}, fn(item) })
		c.Add(res.Err())
	}
	return c.Err()
}

// FirstMatch runs fn over items in order and stops at the first Result for which
// stop returns true. It returns that Result and true, or the zero Result and
// false when the sequence is exhausted.
func FirstMatch[T, R any](items iter.Seq[T], fn func(T) Result[R], stop func(Result[R]) bool) (Result[R], bool) {
	for item := range items {
		res := fn(item)
		if stop(res) {
			return res, true
		}
	}
	var zero Result[R]
	return zero, false
}

// StopOnFailure is a predicate for [FirstMatch] that halts at the first failure.
func StopOnFailure[R any](r Result[R]) bool { return !r.OK() }

// StopOnSuccess is a predicate for [FirstMatch] that halts at the first success.
func StopOnSuccess[R any](r Result[R]) bool { return r.OK() }

// Failures flattens err into its individual failures. A nil err yields nil;
// an *AggregateError yields its wrapped failures; anything else yields itself.
func Failures(err error) []error {
	if err == nil {
		return nil
	}
	var agg *AggregateError
	if errors.As(err, &agg) {
		return agg.Errs
	}
	return []error{err}
}
