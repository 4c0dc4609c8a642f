// SPDX-License-Identifier: MPL-2.0

package lifecycle

import "time"

type (
	// MetricsCollector receives lifecycle events.
	MetricsCollector interface {
		// StateTransition records a module state change.
		StateTransition(module string, from, to State)
		// StrategyOperation records one update-strategy operation.
		StrategyOperation(strategy, op string, err error)
		// Flush records a drained pending set and how many contexts failed.
		Flush(size, failures int, duration time.Duration)
		// ResolutionFailure records a module that did not resolve.
		ResolutionFailure(module string)
		// Modules records the number of installed modules.
		Modules(n int)
	}

	noopMetricsCollector struct{}
)

func (noopMetricsCollector) StateTransition(string, State, State)    {}
func (noopMetricsCollector) StrategyOperation(string, string, error) {}
func (noopMetricsCollector) Flush(int, int, time.Duration)           {}
func (noopMetricsCollector) ResolutionFailure(string)                {}
func (noopMetricsCollector) Modules(int)                             {}

// NewNoopMetricsCollector returns a MetricsCollector that discards everything.
func NewNoopMetricsCollector() MetricsCollector {
	return noopMetricsCollector{}
}
