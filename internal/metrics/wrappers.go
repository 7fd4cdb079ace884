package metrics

// The wrappers below are the only entry points engine code should use to
// record dispatch-path metrics. RecordEventReceived, RecordRuleEvaluated,
// RecordRuleMatched and RecordActionExecuted each record the underlying
// counter and publish the matching broadcast update in one call, so the two never drift apart;
// RecordDroppedEvent only records its counter, and the Publish* methods only
// publish.

// EventReceivedPayload is published on every event the dispatch loop reads
// off the bus.
type EventReceivedPayload struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
}

func (c *Collector) RecordEventReceived(source, kind string) {
	c.Increment("events_total", Labels{"plugin": source, "type": kind}, 1)
	c.broadcast.Publish(Update{Type: UpdateEventReceived, Data: EventReceivedPayload{Source: source, Kind: kind}})
}

// RuleEvaluatedPayload is published for every rule considered against an
// event, whether or not it matched.
type RuleEvaluatedPayload struct {
	Rule    string `json:"rule"`
	Matched bool   `json:"matched"`
}

func (c *Collector) RecordRuleEvaluated(rule string, matched bool) {
	c.Increment("rules_evaluated_total", Labels{"rule": rule}, 1)
	c.broadcast.Publish(Update{Type: UpdateRuleEvaluated, Data: RuleEvaluatedPayload{Rule: rule, Matched: matched}})
}

// RuleMatchedPayload is published when a rule's matcher returns true.
type RuleMatchedPayload struct {
	Rule   string `json:"rule"`
	Action string `json:"action"`
}

func (c *Collector) RecordRuleMatched(rule, action string) {
	c.Increment("rules_matched_total", Labels{"rule": rule}, 1)
	c.broadcast.Publish(Update{Type: UpdateRuleMatched, Data: RuleMatchedPayload{Rule: rule, Action: action}})
}

// ActionExecutedPayload is published after an action runs to completion.
type ActionExecutedPayload struct {
	Action      string  `json:"action"`
	Success     bool    `json:"success"`
	Error       string  `json:"error,omitempty"`
	DurationSec float64 `json:"duration_seconds"`
}

func (c *Collector) RecordActionExecuted(name string, success bool, errMsg string, duration float64) {
	status := "success"
	if !success {
		status = "error"
	}
	c.Increment("actions_executed_total", Labels{"action": name, "status": status}, 1)
	c.RecordHistogram("action_duration_seconds", Labels{"action": name}, duration)
	c.broadcast.Publish(Update{
		Type: UpdateActionExecuted,
		Data: ActionExecutedPayload{Action: name, Success: success, Error: errMsg, DurationSec: duration},
	})
}

// RecordDroppedEvent increments the error-flagged events_dropped_total
// counter used to observe event-bus overflow.
func (c *Collector) RecordDroppedEvent(source string) {
	c.Increment("events_dropped_total", Labels{"plugin": source}, 1)
}

// PublishSnapshot publishes the current Snapshot to all subscribers. The
// WebSocket handler does not use it: it writes its connect-time and
// periodic snapshots to each connection directly.
func (c *Collector) PublishSnapshot() {
	c.broadcast.Publish(Update{Type: UpdateSnapshot, Data: c.Snapshot()})
}

// HealthPayload is published alongside /health-style status changes.
type HealthPayload struct {
	Status string `json:"status"`
}

func (c *Collector) PublishHealth(status string) {
	c.broadcast.Publish(Update{Type: UpdateHealth, Data: HealthPayload{Status: status}})
}
