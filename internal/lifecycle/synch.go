// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
)

const (
	// SynchOn applies updates immediately. Switching to it flushes.
	SynchOn SynchMode = "on"
	// SynchOff defers updates until the mode is switched back on.
	SynchOff SynchMode = "off"
	// SynchDefer is an alias of SynchOff.
	SynchDefer SynchMode = "defer"
	// SynchFlush reconciles pending contexts without changing the mode.
	SynchFlush SynchMode = "flush"
	// SynchForget drops pending contexts and applies updates immediately
	// from now on, without reconciling what was dropped.
	SynchForget SynchMode = "forget"
)

// SynchMode selects how module transitions are applied.
type SynchMode string

// ParseSynchMode validates s.
func ParseSynchMode(s string) (SynchMode, error) {
	switch m := SynchMode(s); m {
	case SynchOn, SynchOff, SynchDefer, SynchFlush, SynchForget:
		return m, nil
	default:
		return "", fmt.Errorf("unknown synch mode %q (want on, off, defer, flush or forget)", s)
	}
}

// SetSynchMode switches the update strategy. Switching on or flushing
// reconciles every pending context and returns the flush failures.
func (mgr *Manager) SetSynchMode(ctx context.Context, mode SynchMode) error {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()

	switch mode {
	case SynchOn:
		mgr.strategy = mgr.immediate
		mgr.mode = SynchOn
		return mgr.deferred.Flush(ctx)
	case SynchOff, SynchDefer:
		mgr.strategy = mgr.deferred
		mgr.mode = SynchOff
		return nil
	case SynchFlush:
		return mgr.deferred.Flush(ctx)
	case SynchForget:
		if n := mgr.deferred.Clear(); n > 0 {
			mgr.logger.Warn("dropped pending module updates", "count", n)
		}
		mgr.strategy = mgr.immediate
		mgr.mode = SynchOn
		return nil
	default:
		_, err := ParseSynchMode(string(mode))
		return err
	}
}

// SynchMode returns the current mode: SynchOn or SynchOff.
func (mgr *Manager) SynchMode() SynchMode {
	mgr.opMu.Lock()
	defer mgr.opMu.Unlock()
	return mgr.mode
}

// Flush reconciles every pending context without changing the mode.
func (mgr *Manager) Flush(ctx context.Context) error {
	return mgr.SetSynchMode(ctx, SynchFlush)
}

// Pending returns the names of modules with unapplied updates, in flush
// order.
func (mgr *Manager) Pending() []string {
	rcs := mgr.deferred.Pending()
	names := make([]string, 0, len(rcs))
	for _, rc := range rcs {
		names = append(names, rc.module.Name())
	}
	return names
}
