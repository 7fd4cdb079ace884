// Package metrics implements the sliding-window counter/gauge/histogram
// collector, its Prometheus-compatible text encoding, JSON snapshot, and
// the broadcast bus that feeds the WebSocket streaming layer.
//
// Retention is tracked per sample (a regular 1h history window, a 24h
// window for error-flagged metrics) rather than per current-value
// collector, so eviction happens here directly over plain maps and
// atomics instead of through a general-purpose metrics library.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Regular and error-metric retention horizons.
const (
	RegularRetention = 1 * time.Hour
	ErrorRetention    = 24 * time.Hour
	sweepInterval     = 300 * time.Second
)

// Sample is a single timestamped observation, recorded for histograms and
// evicted once older than its metric's retention horizon. Gauges keep no
// samples, only their current value.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Labels is a set of key-value pairs attached to a metric observation.
type Labels map[string]string

// key canonicalizes name+labels: "name" if labels are empty, else
// "name:{k1=v1,k2=v2,...}" with labels sorted by key.
func key(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(":{")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

type counterState struct {
	value int64 // atomic
}

type gaugeState struct {
	bits int64 // atomic, math.Float64bits
}

type histogramState struct {
	mu      sync.Mutex
	samples []Sample
}

type metaEntry struct {
	Type        string
	Description string
	ErrorFlag   bool
}

// Collector holds all registered counters, gauges, and histograms plus
// their metadata, and fans out MetricUpdate messages to subscribers.
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]*counterState
	gauges     map[string]*gaugeState
	histograms map[string]*histogramState
	meta       map[string]*metaEntry

	broadcast *Broadcaster

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Collector and starts its background retention sweep.
func New() *Collector {
	c := &Collector{
		counters:   make(map[string]*counterState),
		gauges:     make(map[string]*gaugeState),
		histograms: make(map[string]*histogramState),
		meta:       make(map[string]*metaEntry),
		broadcast:  NewBroadcaster(1024),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	c.registerDefaultMetadata()
	go c.sweepLoop()
	return c
}

// registerDefaultMetadata describes the metrics the engine itself emits,
// in particular flagging events_dropped_total for the extended error
// retention horizon.
func (c *Collector) registerDefaultMetadata() {
	c.Describe("events_total", "counter", "Total events received from source plugins", false)
	c.Describe("events_dropped_total", "counter", "Total events dropped due to bus overflow", true)
	c.Describe("rules_evaluated_total", "counter", "Total rule evaluations", false)
	c.Describe("rules_matched_total", "counter", "Total rule matches", false)
	c.Describe("actions_executed_total", "counter", "Total action executions", false)
	c.Describe("action_duration_seconds", "summary", "Action execution duration in seconds", false)
}

// Stop halts the background retention sweep and drains it cleanly. It is
// safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

func (c *Collector) sweepLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evict()
		}
	}
}

func (c *Collector) evict() {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, h := range c.histograms {
		horizon := c.retentionFor(name)
		h.mu.Lock()
		cutoff := now.Add(-horizon)
		kept := h.samples[:0]
		for _, s := range h.samples {
			if s.Timestamp.After(cutoff) {
				kept = append(kept, s)
			}
		}
		h.samples = kept
		h.mu.Unlock()
	}
}

func (c *Collector) retentionFor(name string) time.Duration {
	if m, ok := c.meta[baseName(name)]; ok && m.ErrorFlag {
		return ErrorRetention
	}
	return RegularRetention
}

// baseName strips the canonicalized label suffix off a collector key so it
// can be looked up in the metadata registry, which is keyed by bare name.
func baseName(k string) string {
	if i := strings.Index(k, ":{"); i >= 0 {
		return k[:i]
	}
	return k
}

// Describe registers (or updates) a metric's metadata. ErrorFlag extends
// its retention horizon to ErrorRetention.
func (c *Collector) Describe(name, metricType, description string, errorFlag bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[name] = &metaEntry{Type: metricType, Description: description, ErrorFlag: errorFlag}
}

// Increment adds n (default 1 when n==0) to the named counter. Counters
// are monotonically non-decreasing; n must be >= 0.
func (c *Collector) Increment(name string, labels Labels, n int64) {
	if n == 0 {
		n = 1
	}
	k := key(name, labels)
	c.mu.Lock()
	st, ok := c.counters[k]
	if !ok {
		st = &counterState{}
		c.counters[k] = st
	}
	c.mu.Unlock()
	atomic.AddInt64(&st.value, n)
}

// CounterValue returns the current value of a counter, or 0 if unset.
func (c *Collector) CounterValue(name string, labels Labels) int64 {
	k := key(name, labels)
	c.mu.RLock()
	st, ok := c.counters[k]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&st.value)
}

// SetGauge sets the current value of a gauge. Only the latest value is
// stored; no timestamped sample history is kept for gauges.
func (c *Collector) SetGauge(name string, labels Labels, value float64) {
	k := key(name, labels)
	c.mu.Lock()
	st, ok := c.gauges[k]
	if !ok {
		st = &gaugeState{}
		c.gauges[k] = st
	}
	c.mu.Unlock()
	atomic.StoreInt64(&st.bits, int64(math.Float64bits(value)))
}

// GaugeValue returns the current value of a gauge, or 0 if unset.
func (c *Collector) GaugeValue(name string, labels Labels) float64 {
	k := key(name, labels)
	c.mu.RLock()
	st, ok := c.gauges[k]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return math.Float64frombits(uint64(atomic.LoadInt64(&st.bits)))
}

// RecordHistogram appends a timestamped sample (value is in seconds, per
// the action/latency convention used throughout the engine).
func (c *Collector) RecordHistogram(name string, labels Labels, seconds float64) {
	k := key(name, labels)
	c.mu.Lock()
	st, ok := c.histograms[k]
	if !ok {
		st = &histogramState{}
		c.histograms[k] = st
	}
	c.mu.Unlock()

	st.mu.Lock()
	st.samples = append(st.samples, Sample{Timestamp: time.Now(), Value: seconds})
	st.mu.Unlock()
}

// HistogramSamples returns a copy of the currently retained samples for a
// histogram key.
func (c *Collector) HistogramSamples(name string, labels Labels) []Sample {
	k := key(name, labels)
	c.mu.RLock()
	st, ok := c.histograms[k]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Sample, len(st.samples))
	copy(out, st.samples)
	return out
}

// Broadcaster returns the collector's broadcast bus for subscribers such
// as the WebSocket handler.
func (c *Collector) Broadcaster() *Broadcaster {
	return c.broadcast
}

// Snapshot is the whole-state view exposed via /api/snapshot and pushed to
// WebSocket subscribers.
type Snapshot struct {
	Timestamp  time.Time              `json:"timestamp"`
	Counters   map[string]int64       `json:"counters"`
	Gauges     map[string]float64     `json:"gauges"`
	Histograms map[string][]float64   `json:"histograms"`
}

// Snapshot captures the current state of every registered metric.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Timestamp:  time.Now(),
		Counters:   make(map[string]int64, len(c.counters)),
		Gauges:     make(map[string]float64, len(c.gauges)),
		Histograms: make(map[string][]float64, len(c.histograms)),
	}
	for k, st := range c.counters {
		snap.Counters[k] = atomic.LoadInt64(&st.value)
	}
	for k, st := range c.gauges {
		snap.Gauges[k] = math.Float64frombits(uint64(atomic.LoadInt64(&st.bits)))
	}
	for k, st := range c.histograms {
		st.mu.Lock()
		values := make([]float64, len(st.samples))
		for i, s := range st.samples {
			values[i] = s.Value
		}
		st.mu.Unlock()
		snap.Histograms[k] = values
	}
	return snap
}

// EncodeText renders the Prometheus-compatible text exposition format:
// counters and gauges as their type, histograms as a summary with _sum
// and _count over the retained window.
func (c *Collector) EncodeText() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	emitted := make(map[string]bool)

	writeHeader := func(name, typ string) {
		if emitted[name] {
			return
		}
		emitted[name] = true
		desc := name
		if m, ok := c.meta[name]; ok && m.Description != "" {
			desc = m.Description
		}
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, desc, name, typ)
	}

	counterKeys := sortedKeys(c.counters)
	for _, k := range counterKeys {
		name, labels := textLabels(k)
		writeHeader(name, "counter")
		fmt.Fprintf(&b, "%s%s %d\n", name, labels, atomic.LoadInt64(&c.counters[k].value))
	}

	gaugeKeys := sortedKeysGauge(c.gauges)
	for _, k := range gaugeKeys {
		name, labels := textLabels(k)
		writeHeader(name, "gauge")
		v := math.Float64frombits(uint64(atomic.LoadInt64(&c.gauges[k].bits)))
		fmt.Fprintf(&b, "%s%s %s\n", name, labels, formatFloat(v))
	}

	histKeys := sortedKeysHist(c.histograms)
	for _, k := range histKeys {
		name, labels := textLabels(k)
		writeHeader(name, "summary")
		st := c.histograms[k]
		st.mu.Lock()
		var sum float64
		count := len(st.samples)
		for _, s := range st.samples {
			sum += s.Value
		}
		st.mu.Unlock()
		fmt.Fprintf(&b, "%s_sum%s %s\n", name, labels, formatFloat(sum))
		fmt.Fprintf(&b, "%s_count%s %d\n", name, labels, count)
	}

	return b.String()
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// textLabels splits a canonicalized collector key into its bare metric
// name and a Prometheus-style label suffix with quoted values (e.g.
// `{plugin="fw"}`), independent of the unquoted k=v form key() uses for
// map storage.
func textLabels(k string) (name, labelSuffix string) {
	i := strings.Index(k, ":{")
	if i < 0 {
		return k, ""
	}
	name = k[:i]
	inner := k[i+2 : len(k)-1]
	if inner == "" {
		return name, "{}"
	}
	pairs := strings.Split(inner, ",")
	quoted := make([]string, len(pairs))
	for idx, pair := range pairs {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			quoted[idx] = pair
			continue
		}
		quoted[idx] = fmt.Sprintf("%s=%q", pair[:eq], pair[eq+1:])
	}
	return name, "{" + strings.Join(quoted, ",") + "}"
}

func sortedKeys(m map[string]*counterState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysGauge(m map[string]*gaugeState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysHist(m map[string]*histogramState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
