// Package engine wires the configured source plugins, rule list, and
// action registry together into the dispatch loop described by the
// supervisor, and owns the hot-reload controller that rebuilds all three
// on a config-file change.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/stylebending/win-event-engine/internal/action"
	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/bus"
	"github.com/stylebending/win-event-engine/internal/config"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
	"github.com/stylebending/win-event-engine/internal/metrics"
	"github.com/stylebending/win-event-engine/internal/rule"
	"github.com/stylebending/win-event-engine/internal/script"
	"github.com/stylebending/win-event-engine/internal/source"
)

// Status reports the supervisor's current activity level.
type Status struct {
	ActivePlugins int
	ActiveRules   int
}

// Supervisor owns one epoch of running plugins, rules, and actions. A hot
// reload discards a Supervisor wholesale and builds a fresh one rather
// than mutating this one in place.
type Supervisor struct {
	logger    *logging.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	evtBus  *bus.Bus
	plugins []source.Plugin
	rules   []*rule.Rule
	actions *action.Registry

	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}
}

// New constructs the bus, starts every enabled source plugin, builds the
// rule list and action registry, and spawns the dispatch task. Plugins
// that fail to start are logged and skipped; the engine continues with
// whatever did start.
func New(cfg *config.Config, logger *logging.Logger, collector *metrics.Collector) (*Supervisor, error) {
	s := &Supervisor{
		logger:    logger,
		collector: collector,
		evtBus:    bus.New(cfg.Engine.EventBufferSize),
	}

	actions := make(map[string]action.Action)
	rules := make([]*rule.Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		if !rc.Enabled {
			continue
		}
		matcher, err := buildMatcher(rc.Trigger)
		if err != nil {
			logger.WithError(err).Warnf("engine: skipping rule %q", rc.Name)
			continue
		}
		actionKey := rule.ActionKey(len(rules))
		act, err := buildAction(rc.Action, logger.Sub("action"))
		if err != nil {
			logger.WithError(err).Warnf("engine: skipping rule %q (action build failed)", rc.Name)
			continue
		}
		actions[actionKey] = act
		rules = append(rules, &rule.Rule{
			Name:        rc.Name,
			Description: rc.Description,
			Matcher:     matcher,
			Enabled:     rc.Enabled,
			ActionName:  actionKey,
		})
	}
	s.rules = rules
	s.actions = action.NewRegistry(actions)

	emitter := &busEmitter{bus: s.evtBus, collector: collector}
	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		plugin, err := buildPlugin(sc, logger.Sub(sc.Name))
		if err != nil {
			logger.WithError(err).Warnf("engine: skipping source %q (build failed)", sc.Name)
			continue
		}
		if err := plugin.Start(emitter); err != nil {
			logger.WithError(err).Warnf("engine: source %q failed to start", sc.Name)
			continue
		}
		s.plugins = append(s.plugins, plugin)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.dispatchCancel = cancel
	s.dispatchDone = make(chan struct{})
	go s.dispatch(ctx)

	return s, nil
}

// busEmitter adapts the bus plus collector into the source.Emitter
// contract every plugin's Start call receives.
type busEmitter struct {
	bus       *bus.Bus
	collector *metrics.Collector
}

func (e *busEmitter) Emit(evt *event.Event) bool {
	if e.bus.TrySend(evt) {
		return true
	}
	e.collector.RecordDroppedEvent(evt.Source)
	return false
}

// dispatch is the single consumer of the bus: receive an event, evaluate
// every enabled rule in order, and execute the action of every matching
// rule (a single event may trigger more than one rule).
func (s *Supervisor) dispatch(ctx context.Context) {
	defer close(s.dispatchDone)
	for {
		evt, ok := s.evtBus.Receive(ctx)
		if !ok {
			return
		}
		s.collector.RecordEventReceived(evt.Source, string(evt.Kind))

		for _, r := range s.rules {
			if !r.Enabled {
				continue
			}
			matched := r.Matcher.Match(evt)
			s.collector.RecordRuleEvaluated(r.Name, matched)
			if !matched {
				continue
			}
			s.collector.RecordRuleMatched(r.Name, r.ActionName)
			s.runAction(ctx, r, evt)
		}
	}
}

func (s *Supervisor) runAction(ctx context.Context, r *rule.Rule, evt *event.Event) {
	start := time.Now()
	_, err := s.actions.Execute(ctx, r.ActionName, evt)
	duration := time.Since(start).Seconds()
	if err != nil {
		s.collector.RecordActionExecuted(r.ActionName, false, err.Error(), duration)
		s.logger.WithError(err).Warnf("engine: action %q for rule %q failed", r.ActionName, r.Name)
		return
	}
	s.collector.RecordActionExecuted(r.ActionName, true, "", duration)
}

// Status reports the active plugin and rule counts.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, p := range s.plugins {
		if p.IsRunning() {
			active++
		}
	}
	return Status{ActivePlugins: active, ActiveRules: len(s.rules)}
}

// Shutdown stops every plugin (order unspecified), terminates the dispatch
// task, and closes the bus. It blocks until the dispatch task has
// observed the close.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	plugins := s.plugins
	s.mu.Unlock()

	for _, p := range plugins {
		if err := p.Stop(); err != nil {
			s.logger.WithError(err).Warnf("engine: %s failed to stop cleanly", p.Name())
		}
	}

	s.evtBus.Close()

	select {
	case <-s.dispatchDone:
	case <-ctx.Done():
		s.dispatchCancel()
		<-s.dispatchDone
	}
	return nil
}

func buildMatcher(t config.TriggerConfig) (rule.Matcher, error) {
	switch t.Type {
	case "file_created", "file_modified", "file_deleted":
		eventType := rule.FileEventCreated
		switch t.Type {
		case "file_modified":
			eventType = rule.FileEventModified
		case "file_deleted":
			eventType = rule.FileEventDeleted
		}
		return &rule.FilePatternMatcher{EventType: eventType, FilenameGlob: t.Pattern}, nil

	case "window_focused", "window_unfocused", "window_created":
		eventType := rule.WindowEventFocused
		switch t.Type {
		case "window_unfocused":
			eventType = rule.WindowEventUnfocused
		case "window_created":
			eventType = rule.WindowEventCreated
		}
		return &rule.WindowMatcher{EventType: eventType, TitleContains: t.TitleContains, ProcessName: t.ProcessName}, nil

	case "process_started", "process_stopped":
		eventType := rule.ProcessEventStarted
		if t.Type == "process_stopped" {
			eventType = rule.ProcessEventStopped
		}
		return &rule.ProcessMatcher{EventType: eventType, NameContains: t.ProcessName}, nil

	case "registry_changed":
		return &rule.RegistryMatcher{ValueName: t.ValueName}, nil

	case "timer":
		return &rule.EventKindMatcher{Kind: event.KindTimerTick}, nil

	default:
		return nil, apperrors.Configuration("unrecognized trigger type %q", t.Type)
	}
}

func buildAction(a config.ActionConfig, logger *logging.Logger) (action.Action, error) {
	switch a.Type {
	case "execute":
		return &action.ExecuteAction{Program: a.Command, Argv: a.Args, Cwd: a.WorkingDir, Logger: logger}, nil

	case "power_shell":
		return &action.ShellAction{Script: a.Script, Cwd: a.WorkingDir}, nil

	case "log":
		return &action.LogAction{Message: a.Message, Level: action.LogLevel(a.Level), Logger: logger}, nil

	case "notify":
		return &action.NotifyAction{Title: a.Title, Message: a.Message, Logger: logger}, nil

	case "http_request":
		return &action.HttpRequestAction{URL: a.URL, Method: a.Method, Headers: a.Headers, Body: a.Body, Client: http.DefaultClient}, nil

	case "media":
		return &action.MediaAction{Command: action.MediaCommand(a.Command), Send: action.SendMediaKey}, nil

	case "script":
		return script.New(a.ScriptPath, a.FunctionName, a.TimeoutMs, script.OnError(a.OnError), logger)

	case "composite":
		children := make([]action.Action, 0, len(a.Actions))
		for _, childCfg := range a.Actions {
			child, err := buildAction(childCfg, logger)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		policy := action.OnErrorStop
		switch a.Policy {
		case "continue":
			policy = action.OnErrorContinue
		case "skip_remaining":
			policy = action.OnErrorSkipRemaining
		}
		return &action.CompositeAction{Children: children, OnError: policy}, nil

	default:
		return nil, apperrors.Configuration("unrecognized action type %q", a.Type)
	}
}

func buildPlugin(sc config.SourceConfig, logger *logging.Logger) (source.Plugin, error) {
	switch sc.Type {
	case "file_watcher":
		recursive := true
		if sc.Recursive != nil {
			recursive = *sc.Recursive
		}
		return source.NewFileWatcher(source.FileWatcherConfig{
			Name: sc.Name, Paths: sc.Paths, FilenameGlob: sc.Pattern, Recursive: recursive, Logger: logger,
		})

	case "window_watcher":
		var titleFilter, processFilter *regexp.Regexp
		if sc.TitleContains != "" {
			titleFilter = regexp.MustCompile(sc.TitleContains)
		}
		if sc.ProcessName != "" {
			processFilter = regexp.MustCompile(sc.ProcessName)
		}
		return source.NewWindowObserver(source.WindowObserverConfig{
			Name: sc.Name, TitleFilter: titleFilter, ProcessFilter: processFilter, Logger: logger,
		})

	case "process_monitor":
		return source.NewProcessMonitor(source.ProcessMonitorConfig{
			Name: sc.Name, PollInterval: time.Duration(sc.PollIntervalSeconds) * time.Second, NameFilter: sc.ProcessName, Logger: logger,
		}), nil

	case "registry_monitor":
		keys := make([]source.RegistryKeyTarget, 0, len(sc.Keys))
		for _, k := range sc.Keys {
			keys = append(keys, source.RegistryKeyTarget{
				Root: source.RegistryRoot(k.Root), Path: k.Path, WatchTree: k.WatchTree,
			})
		}
		return source.NewRegistryWatcher(source.RegistryWatcherConfig{Name: sc.Name, Keys: keys, Logger: logger})

	case "kernel_trace":
		return source.NewKernelTraceMonitor(source.KernelTraceConfig{
			Name: sc.Name, SessionPrefix: sc.SessionPrefix, Thread: sc.Thread, File: sc.File, Network: sc.Network, Logger: logger,
		})

	case "timer":
		return source.NewTimer(source.TimerConfig{Name: sc.Name, IntervalSeconds: sc.IntervalSeconds, Logger: logger}), nil

	default:
		return nil, fmt.Errorf("unrecognized source type %q", sc.Type)
	}
}
