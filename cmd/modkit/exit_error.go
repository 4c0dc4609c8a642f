// SPDX-License-Identifier: MPL-2.0

package cmd

import "strconv"

// ExitError ends a command with Code. A nil Err means the command already
// reported its outcome (for example a failing preprocess report) and nothing
// more is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }
