package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylebending/win-event-engine/internal/bus"
	"github.com/stylebending/win-event-engine/internal/config"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
	"github.com/stylebending/win-event-engine/internal/metrics"
)

func testLogger() *logging.Logger {
	return logging.New("engine", "debug", "text")
}

func TestBuildMatcherRecognizesEveryTriggerType(t *testing.T) {
	cases := []config.TriggerConfig{
		{Type: "file_created", Pattern: "*.txt"},
		{Type: "file_modified"},
		{Type: "file_deleted"},
		{Type: "window_focused"},
		{Type: "window_unfocused"},
		{Type: "window_created"},
		{Type: "process_started"},
		{Type: "process_stopped"},
		{Type: "registry_changed"},
		{Type: "timer"},
	}
	for _, tc := range cases {
		m, err := buildMatcher(tc)
		require.NoError(t, err, tc.Type)
		assert.NotNil(t, m, tc.Type)
	}
}

func TestBuildMatcherRejectsUnknownType(t *testing.T) {
	_, err := buildMatcher(config.TriggerConfig{Type: "teleport"})
	assert.Error(t, err)
}

func TestBuildActionDispatchesByType(t *testing.T) {
	logger := testLogger()
	cases := []config.ActionConfig{
		{Type: "log", Message: "hi"},
		{Type: "notify", Title: "t", Message: "m"},
		{Type: "http_request", URL: "http://127.0.0.1:0"},
	}
	for _, tc := range cases {
		a, err := buildAction(tc, logger)
		require.NoError(t, err, tc.Type)
		assert.NotNil(t, a, tc.Type)
	}
}

func TestBuildActionCompositeRecursesAndBuildsChildren(t *testing.T) {
	logger := testLogger()
	a, err := buildAction(config.ActionConfig{
		Type:   "composite",
		Policy: "continue",
		Actions: []config.ActionConfig{
			{Type: "log", Message: "one"},
			{Type: "log", Message: "two"},
		},
	}, logger)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestBuildActionCompositeSurfacesChildBuildError(t *testing.T) {
	_, err := buildAction(config.ActionConfig{
		Type:    "composite",
		Actions: []config.ActionConfig{{Type: "teleport"}},
	}, testLogger())
	assert.Error(t, err)
}

func TestBuildActionRejectsUnknownType(t *testing.T) {
	_, err := buildAction(config.ActionConfig{Type: "teleport"}, testLogger())
	assert.Error(t, err)
}

func TestBuildPluginDispatchesByType(t *testing.T) {
	logger := testLogger()
	p, err := buildPlugin(config.SourceConfig{Name: "t1", Type: "timer", Enabled: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, "t1", p.Name())
}

func TestBuildPluginRejectsUnknownType(t *testing.T) {
	_, err := buildPlugin(config.SourceConfig{Name: "s1", Type: "teleport"}, testLogger())
	assert.Error(t, err)
}

func TestBusEmitterRecordsDropOnFullBus(t *testing.T) {
	collector := metrics.New()
	defer collector.Stop()

	b := bus.New(1)
	emitter := &busEmitter{bus: b, collector: collector}

	evt1 := event.New(event.KindTimerTick, "t1")
	evt2 := event.New(event.KindTimerTick, "t1")
	assert.True(t, emitter.Emit(evt1))
	assert.False(t, emitter.Emit(evt2))
	assert.Equal(t, int64(1), collector.CounterValue("events_dropped_total", metrics.Labels{"plugin": "t1"}))
}

func TestSupervisorEndToEndDispatchesMatchingRule(t *testing.T) {
	cfg := &config.Config{
		Engine: config.EngineConfig{EventBufferSize: 10},
		Sources: []config.SourceConfig{
			{Name: "t1", Type: "timer", Enabled: true, IntervalSeconds: 1},
		},
		Rules: []config.RuleConfig{
			{
				Name:    "r1",
				Enabled: true,
				Trigger: config.TriggerConfig{Type: "timer"},
				Action:  config.ActionConfig{Type: "log", Message: "ticked"},
			},
		},
	}

	collector := metrics.New()
	defer collector.Stop()

	sup, err := New(cfg, testLogger(), collector)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	}()

	require.Eventually(t, func() bool {
		status := sup.Status()
		return status.ActivePlugins == 1 && status.ActiveRules == 1
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return collector.CounterValue("rules_matched_total", metrics.Labels{"rule": "r1"}) >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSupervisorShutdownStopsDispatchLoop(t *testing.T) {
	cfg := &config.Config{
		Engine: config.EngineConfig{EventBufferSize: 10},
	}
	collector := metrics.New()
	defer collector.Stop()

	sup, err := New(cfg, testLogger(), collector)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))

	select {
	case <-sup.dispatchDone:
	default:
		t.Fatal("expected dispatch loop to have exited")
	}
}
