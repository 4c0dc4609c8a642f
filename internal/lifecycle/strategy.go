// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/modkit/modkit/pkg/batch"
)

const (
	opInstall    = "install"
	opDestroy    = "destroy"
	opResolve    = "resolve"
	opUnresolve  = "unresolve"
	opActivate   = "activate"
	opDeactivate = "deactivate"
)

type (
	// UpdateStrategy applies the side effects of module transitions to a
	// RuntimeContext.
	UpdateStrategy interface {
		Name() string
		Install(ctx context.Context, rc *RuntimeContext) error
		Destroy(ctx context.Context, rc *RuntimeContext) error
		Resolve(ctx context.Context, rc *RuntimeContext) error
		Unresolve(ctx context.Context, rc *RuntimeContext) error
		Activate(ctx context.Context, rc *RuntimeContext) error
		Deactivate(ctx context.Context, rc *RuntimeContext) error
	}

	// Immediate applies every operation synchronously.
	Immediate struct {
		metrics MetricsCollector
	}

	// Deferred records the affected contexts and applies nothing until
	// Flush.
	Deferred struct {
		metrics MetricsCollector

		mu      sync.Mutex
		pending map[*RuntimeContext]struct{}
		// rank, when set, maps contexts to their flush position. Contexts
		// it omits go last.
		rank func() map[*RuntimeContext]int
		// activationFailed, when set, is called for each context whose
		// flush toward LevelActive failed.
		activationFailed func(rc *RuntimeContext)
	}
)

// NewImmediate creates the immediate strategy. A nil collector is a no-op.
func NewImmediate(metrics MetricsCollector) *Immediate {
	if metrics == nil {
		metrics = NewNoopMetricsCollector()
	}
	return &Immediate{metrics: metrics}
}

// Name implements UpdateStrategy.
func (s *Immediate) Name() string { return "immediate" }

// Install registers the context.
func (s *Immediate) Install(ctx context.Context, rc *RuntimeContext) error {
	return s.apply(ctx, opInstall, rc, LevelRegistered)
}

// Destroy removes every trace of the context.
func (s *Immediate) Destroy(ctx context.Context, rc *RuntimeContext) error {
	return s.apply(ctx, opDestroy, rc, LevelNone)
}

// Resolve binds the context's components.
func (s *Immediate) Resolve(ctx context.Context, rc *RuntimeContext) error {
	return s.apply(ctx, opResolve, rc, LevelBound)
}

// Unresolve drops the context's components.
func (s *Immediate) Unresolve(ctx context.Context, rc *RuntimeContext) error {
	return s.apply(ctx, opUnresolve, rc, LevelRegistered)
}

// Activate activates the context's components.
func (s *Immediate) Activate(ctx context.Context, rc *RuntimeContext) error {
	return s.apply(ctx, opActivate, rc, LevelActive)
}

// Deactivate deactivates the context's components.
func (s *Immediate) Deactivate(ctx context.Context, rc *RuntimeContext) error {
	return s.apply(ctx, opDeactivate, rc, LevelBound)
}

func (s *Immediate) apply(ctx context.Context, op string, rc *RuntimeContext, target Level) error {
	err := rc.reconcile(ctx, target)
	s.metrics.StrategyOperation(s.Name(), op, err)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, rc.module.Name(), err)
	}
	return nil
}

// NewDeferred creates the deferred strategy. A nil collector is a no-op.
func NewDeferred(metrics MetricsCollector) *Deferred {
	if metrics == nil {
		metrics = NewNoopMetricsCollector()
	}
	return &Deferred{metrics: metrics, pending: make(map[*RuntimeContext]struct{})}
}

// Name implements UpdateStrategy.
func (s *Deferred) Name() string { return "deferred" }

// Install records rc.
func (s *Deferred) Install(_ context.Context, rc *RuntimeContext) error {
	return s.record(opInstall, rc)
}

// Destroy records rc.
func (s *Deferred) Destroy(_ context.Context, rc *RuntimeContext) error {
	return s.record(opDestroy, rc)
}

// Resolve records rc.
func (s *Deferred) Resolve(_ context.Context, rc *RuntimeContext) error {
	return s.record(opResolve, rc)
}

// Unresolve records rc.
func (s *Deferred) Unresolve(_ context.Context, rc *RuntimeContext) error {
	return s.record(opUnresolve, rc)
}

// Activate records rc.
func (s *Deferred) Activate(_ context.Context, rc *RuntimeContext) error {
	return s.record(opActivate, rc)
}

// Deactivate records rc.
func (s *Deferred) Deactivate(_ context.Context, rc *RuntimeContext) error {
	return s.record(opDeactivate, rc)
}

func (s *Deferred) record(op string, rc *RuntimeContext) error {
	s.mu.Lock()
	s.pending[rc] = struct{}{}
	s.mu.Unlock()
	s.metrics.StrategyOperation(s.Name(), op, nil)
	return nil
}

// Len returns the number of pending contexts.
func (s *Deferred) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Pending returns the pending contexts in flush order.
func (s *Deferred) Pending() []*RuntimeContext {
	s.mu.Lock()
	rcs := slices.Collect(maps.Keys(s.pending))
	s.mu.Unlock()
	return s.sorted(rcs)
}

// Clear drops the pending set without applying it.
func (s *Deferred) Clear() int {
	return len(s.drain())
}

// Flush drains the pending set and reconciles each context to the level
// implied by its module's current state. Contexts moving down are handled
// first, in reverse order, then contexts moving up. Every context is
// attempted; the failures come back as one *batch.AggregateError. A module
// whose activation failed goes back to RESOLVED. Flushing an empty set is a
// no-op.
func (s *Deferred) Flush(ctx context.Context) error {
	pending := s.drain()
	if len(pending) == 0 {
		return nil
	}
	var down, up []*RuntimeContext
	for _, rc := range pending {
		if TargetLevel(rc.module.State()) < rc.Level() {
			down = append(down, rc)
		} else {
			up = append(up, rc)
		}
	}
	slices.Reverse(down)

	start := time.Now()
	c := batch.NewCollector("flush deferred modules")
	for _, rc := range slices.Concat(down, up) {
		target := TargetLevel(rc.module.State())
		res := batch.Try(func() (struct{}, error) {
			return struct{}{}, rc.reconcile(ctx, target)
		})
		if err := res.Err(); err != nil {
			c.Add(fmt.Errorf("module %s: %w", rc.module.Name(), err))
			if target == LevelActive && s.activationFailed != nil {
				s.activationFailed(rc)
			}
		}
	}
	s.metrics.Flush(len(pending), c.Len(), time.Since(start))
	return c.Err()
}

func (s *Deferred) drain() []*RuntimeContext {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[*RuntimeContext]struct{})
	s.mu.Unlock()
	return s.sorted(slices.Collect(maps.Keys(pending)))
}

// sorted orders rcs by rank, falling back to module ID.
func (s *Deferred) sorted(rcs []*RuntimeContext) []*RuntimeContext {
	var rank map[*RuntimeContext]int
	if s.rank != nil {
		rank = s.rank()
	}
	pos := func(rc *RuntimeContext) int {
		if r, ok := rank[rc]; ok {
			return r
		}
		return len(rank)
	}
	slices.SortFunc(rcs, func(a, b *RuntimeContext) int {
		return cmp.Or(cmp.Compare(pos(a), pos(b)), cmp.Compare(a.module.id, b.module.id))
	})
	return rcs
}
