// SPDX-License-Identifier: MPL-2.0

package batch

import "fmt"

// Result wraps either a value or a recoverable failure.
type Result[T any] struct {
	value T
	err   error
}

// Ok returns a successful Result holding v.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail returns a failed Result holding err. A nil err yields a zero-valued
// successful Result.
func Fail[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Of builds a Result from a conventional (value, error) pair.
func Of[T any](v T, err error) Result[T] {
	if err != nil {
		return Result[T]{err: err}
	}
	return Result[T]{value: v}
}

// Try runs fn and captures its outcome. A panic inside fn is recovered and
// reported as a failure so one misbehaving item cannot take down a batch.
func Try[T any](fn func() (T, error)) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{err: fmt.Errorf("recovered panic: %v", r)}
		}
	}()
	return Of(fn())
}

// OK reports whether the Result holds a value.
func (r Result[T]) OK() bool { return r.err == nil }

// Err returns the failure, or nil.
func (r Result[T]) Err() error { return r.err }

// Value returns the held value (the zero value on failure).
func (r Result[T]) Value() T { return r.value }

// Get unpacks the Result into the conventional pair.
func (r Result[T]) Get() (T, error) { return r.value, r.err }

// OrElse returns the held value, or fallback on failure.
func (r Result[T]) OrElse(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}
