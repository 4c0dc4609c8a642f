// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"fmt"
	"syscall"
	"testing"
)

func TestIsFatalWatchError(t *testing.T) {
	t.Parallel()

	fatal := []error{syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE, fmt.Errorf("inotify: %w", syscall.ENOSPC)}
	for _, err := range fatal {
		if !isFatalWatchError(err) {
			t.Errorf("isFatalWatchError(%v) = false, want true", err)
		}
	}
	for _, err := range []error{syscall.EPERM, syscall.EACCES, fmt.Errorf("transient")} {
		if isFatalWatchError(err) {
			t.Errorf("isFatalWatchError(%v) = true, want false", err)
		}
	}
}
