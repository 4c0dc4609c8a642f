// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modkit/modkit/pkg/descriptor"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_StateTransitions(t *testing.T) {
	pc := NewPrometheusCollector("test")

	pc.StateTransition("a", StateInstalled, StateResolved)
	pc.StateTransition("a", StateResolved, StateStarting)
	pc.StateTransition("b", StateInstalled, StateResolved)

	count, err := testutil.GatherAndCount(pc.Registry(), "test_module_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	expected := `
		# HELP test_module_state_transitions_total Total number of module state transitions
		# TYPE test_module_state_transitions_total counter
		test_module_state_transitions_total{from_state="INSTALLED",module="a",to_state="RESOLVED"} 1
		test_module_state_transitions_total{from_state="RESOLVED",module="a",to_state="STARTING"} 1
		test_module_state_transitions_total{from_state="INSTALLED",module="b",to_state="RESOLVED"} 1
	`
	err = testutil.GatherAndCompare(pc.Registry(), strings.NewReader(expected), "test_module_state_transitions_total")
	assert.NoError(t, err)
}

func TestPrometheusCollector_StrategyOperations(t *testing.T) {
	pc := NewPrometheusCollector("test")

	pc.StrategyOperation("immediate", opActivate, nil)
	pc.StrategyOperation("immediate", opActivate, errors.New("boom"))
	pc.StrategyOperation("deferred", opResolve, nil)

	expected := `
		# HELP test_strategy_operations_total Total number of update strategy operations
		# TYPE test_strategy_operations_total counter
		test_strategy_operations_total{operation="activate",status="error",strategy="immediate"} 1
		test_strategy_operations_total{operation="activate",status="success",strategy="immediate"} 1
		test_strategy_operations_total{operation="resolve",status="success",strategy="deferred"} 1
	`
	err := testutil.GatherAndCompare(pc.Registry(), strings.NewReader(expected), "test_strategy_operations_total")
	assert.NoError(t, err)
}

func TestPrometheusCollector_Flush(t *testing.T) {
	pc := NewPrometheusCollector("")

	pc.Flush(4, 1, 20*time.Millisecond)
	pc.Flush(0, 0, time.Millisecond)
	pc.Modules(3)

	assert.InDelta(t, 1, testutil.ToFloat64(pc.flushFailures), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(pc.modules), 0)

	count, err := testutil.GatherAndCount(pc.Registry(), "modkit_flush_contexts", "modkit_flush_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheusCollector_WiredIntoManager(t *testing.T) {
	pc := NewPrometheusCollector("test")
	reg := NewComponentRegistry()
	mgr, _ := newTestManager(t, Options{Components: reg, Metrics: pc})

	install(t, mgr, mod("a"))
	install(t, mgr, &descriptor.Module{
		Name:       "broken",
		Components: []descriptor.Component{{Name: "x", Type: "unknown"}},
	})
	require.NoError(t, mgr.Start(context.Background()))

	// a: INSTALLED -> RESOLVED -> STARTING -> ACTIVE
	assert.Equal(t, 3, testutil.CollectAndCount(pc.transitions))
	// Once on install, once more on the start pass.
	assert.InDelta(t, 2, testutil.ToFloat64(pc.resolutionFailures.WithLabelValues("broken")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(pc.modules), 0)

	path := filepath.Join(t.TempDir(), "modkit.prom")
	require.NoError(t, pc.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "test_module_state_transitions_total")
}
