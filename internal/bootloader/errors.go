// SPDX-License-Identifier: MPL-2.0

package bootloader

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped in *NotFoundError) when no source can
// satisfy a request.
var ErrNotFound = errors.New("unit not found")

type (
	// NotFoundError reports an unresolvable request.
	NotFoundError struct {
		Requester string
		Name      string
	}

	// CannotLoadError reports an I/O failure reading a located unit. It is
	// distinct from NotFoundError: the unit exists but could not be read.
	CannotLoadError struct {
		Name string
		Path string
		Err  error
	}
)

func (e *NotFoundError) Error() string {
	if e.Requester == "" {
		return fmt.Sprintf("%s: %v", e.Name, ErrNotFound)
	}
	return fmt.Sprintf("%s (requested by %s): %v", e.Name, e.Requester, ErrNotFound)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func (e *CannotLoadError) Error() string {
	return fmt.Sprintf("cannot load %s from %s: %v", e.Name, e.Path, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *CannotLoadError) Unwrap() error {
	return e.Err
}
