// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// StateInstalled is the initial state of a discovered module.
	StateInstalled State = iota + 1
	// StateResolved means every requirement is at least resolved and the
	// module's own configuration resolved.
	StateResolved
	// StateStarting is held while the module's components activate.
	StateStarting
	// StateActive means the module's components are active.
	StateActive
	// StateStopping is held while the module's components deactivate.
	StateStopping
	// StateUninstalled is terminal.
	StateUninstalled
)

const (
	// LevelNone means nothing of the context is applied.
	LevelNone Level = iota
	// LevelRegistered means the context is known to the component index.
	LevelRegistered
	// LevelBound means components are instantiated and indexed.
	LevelBound
	// LevelActive means components are activated.
	LevelActive
)

var (
	// ErrUnknownModule is returned for a ModuleID or name the manager does not hold.
	ErrUnknownModule = errors.New("unknown module")
	// ErrAlreadyInstalled is returned when installing a name that is installed.
	ErrAlreadyInstalled = errors.New("module already installed")
)

// transitions lists the legal successor states.
var transitions = map[State][]State{
	StateInstalled: {StateResolved, StateUninstalled},
	StateResolved:  {StateStarting, StateInstalled},
	StateStarting:  {StateActive, StateResolved},
	StateActive:    {StateStopping},
	StateStopping:  {StateResolved},
}

type (
	// State is a module lifecycle state.
	State int

	// Level is how much of a RuntimeContext is applied. It trails the module
	// state while the deferred strategy is in effect.
	Level int

	// ModuleID identifies an installed module. IDs are assigned in install
	// order and never reused by a Manager.
	ModuleID uint64

	// TransitionError reports an illegal state change.
	TransitionError struct {
		Module string
		From   State
		To     State
	}

	// ResolutionFailure reports that a module's own configuration did not
	// resolve. The module stays INSTALLED and is retried on the next pass.
	ResolutionFailure struct {
		Module string
		Err    error
	}
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "INSTALLED"
	case StateResolved:
		return "RESOLVED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateUninstalled:
		return "UNINSTALLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AtLeastResolved reports whether s is RESOLVED or a later running state.
func (s State) AtLeastResolved() bool {
	return s >= StateResolved && s <= StateStopping
}

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelRegistered:
		return "registered"
	case LevelBound:
		return "bound"
	case LevelActive:
		return "active"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// TargetLevel is the level a context must reach for a module in state s.
func TargetLevel(s State) Level {
	switch s {
	case StateInstalled:
		return LevelRegistered
	case StateResolved, StateStopping:
		return LevelBound
	case StateStarting, StateActive:
		return LevelActive
	default:
		return LevelNone
	}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("module %s: illegal transition %s -> %s", e.Module, e.From, e.To)
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("module %s did not resolve: %v", e.Module, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ResolutionFailure) Unwrap() error {
	return e.Err
}

func checkTransition(module string, from, to State) error {
	if slices.Contains(transitions[from], to) {
		return nil
	}
	return &TransitionError{Module: module, From: from, To: to}
}
