package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	c := New()
	t.Cleanup(c.Stop)
	return c
}

func TestKeyCanonicalization(t *testing.T) {
	assert.Equal(t, "events_total", key("events_total", nil))
	assert.Equal(t, "events_total:{a=1,b=2}", key("events_total", Labels{"b": "2", "a": "1"}))
}

func TestIncrementIsMonotonic(t *testing.T) {
	c := newTestCollector(t)
	c.Increment("events_total", Labels{"plugin": "fw"}, 0)
	c.Increment("events_total", Labels{"plugin": "fw"}, 0)
	assert.Equal(t, int64(2), c.CounterValue("events_total", Labels{"plugin": "fw"}))
}

func TestSetGaugeOverwrites(t *testing.T) {
	c := newTestCollector(t)
	c.SetGauge("queue_depth", nil, 3.5)
	c.SetGauge("queue_depth", nil, 7)
	assert.Equal(t, 7.0, c.GaugeValue("queue_depth", nil))
}

func TestRecordHistogramAccumulatesSamples(t *testing.T) {
	c := newTestCollector(t)
	c.RecordHistogram("action_duration_seconds", Labels{"action": "a"}, 0.1)
	c.RecordHistogram("action_duration_seconds", Labels{"action": "a"}, 0.2)
	samples := c.HistogramSamples("action_duration_seconds", Labels{"action": "a"})
	require.Len(t, samples, 2)
	assert.Equal(t, 0.1, samples[0].Value)
}

func TestSnapshotReflectsRecordedMetrics(t *testing.T) {
	c := newTestCollector(t)
	c.Increment("events_total", nil, 5)
	c.SetGauge("g", nil, 1.5)
	c.RecordHistogram("h", nil, 2.0)

	snap := c.Snapshot()
	assert.Equal(t, int64(5), snap.Counters["events_total"])
	assert.Equal(t, 1.5, snap.Gauges["g"])
	assert.Equal(t, []float64{2.0}, snap.Histograms["h"])
	assert.False(t, snap.Timestamp.IsZero())
}

func TestEncodeTextProducesPrometheusShape(t *testing.T) {
	c := newTestCollector(t)
	c.Increment("events_total", Labels{"plugin": "p"}, 1)
	c.Increment("events_total", Labels{"plugin": "p"}, 1)

	text := c.EncodeText()
	assert.Contains(t, text, "# TYPE events_total counter")
	assert.Contains(t, text, `events_total{plugin="p"} 2`)
}

func TestEncodeTextHistogramSummary(t *testing.T) {
	c := newTestCollector(t)
	c.RecordHistogram("action_duration_seconds", Labels{"action": "a"}, 1)
	c.RecordHistogram("action_duration_seconds", Labels{"action": "a"}, 3)

	text := c.EncodeText()
	assert.True(t, strings.Contains(text, `action_duration_seconds_sum{action="a"} 4`))
	assert.True(t, strings.Contains(text, `action_duration_seconds_count{action="a"} 2`))
}

func TestRetentionForUsesErrorFlag(t *testing.T) {
	c := newTestCollector(t)
	assert.Equal(t, ErrorRetention, c.retentionFor("events_dropped_total"))
	assert.Equal(t, RegularRetention, c.retentionFor("events_total"))
}

func TestWrapperMethodsRecordAndBroadcast(t *testing.T) {
	c := newTestCollector(t)
	updates, unsubscribe := c.Broadcaster().Subscribe()
	defer unsubscribe()

	c.RecordEventReceived("fw", "file_created")
	c.RecordRuleEvaluated("r1", true)
	c.RecordRuleMatched("r1", "rule_0_action")
	c.RecordActionExecuted("rule_0_action", true, "", 0.01)
	c.RecordDroppedEvent("fw")

	assert.Equal(t, int64(1), c.CounterValue("events_total", Labels{"plugin": "fw", "type": "file_created"}))
	assert.Equal(t, int64(1), c.CounterValue("events_dropped_total", Labels{"plugin": "fw"}))

	seen := map[UpdateType]bool{}
	for i := 0; i < 4; i++ {
		u := <-updates
		seen[u.Type] = true
	}
	assert.True(t, seen[UpdateEventReceived])
	assert.True(t, seen[UpdateRuleEvaluated])
	assert.True(t, seen[UpdateRuleMatched])
	assert.True(t, seen[UpdateActionExecuted])
}
