// Package config parses and validates the TOML configuration file that
// describes the engine's buffer size, source plugins, and rule set.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pelletier/go-toml/v2"

	"github.com/stylebending/win-event-engine/internal/apperrors"
)

// DefaultEventBufferSize matches bus.DefaultCapacity; duplicated here (not
// imported) so config stays independent of the bus package.
const DefaultEventBufferSize = 1000

// DefaultMetricsPort is used when EngineConfig.MetricsPort is zero.
const DefaultMetricsPort = 9090

// EngineConfig is the top-level [engine] table.
type EngineConfig struct {
	EventBufferSize int    `toml:"event_buffer_size"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	MetricsPort     int    `toml:"metrics_port"`
}

// SourceConfig is one [[sources]] entry. Only the fields relevant to Type
// are read; the rest are ignored. Source types recognized: file_watcher,
// window_watcher, process_monitor, registry_monitor, kernel_trace, timer.
type SourceConfig struct {
	Name    string `toml:"name"`
	Type    string `toml:"type"`
	Enabled bool   `toml:"enabled"`

	// file_watcher
	Paths     []string `toml:"paths"`
	Pattern   string   `toml:"pattern"`
	Recursive *bool    `toml:"recursive"`

	// window_watcher
	TitleContains string `toml:"title_contains"`
	ProcessName   string `toml:"process_name"`

	// process_monitor
	PollIntervalSeconds int `toml:"poll_interval_seconds"`

	// registry_monitor
	Keys []RegistryKeyConfig `toml:"keys"`

	// timer
	IntervalSeconds int `toml:"interval_seconds"`

	// kernel_trace
	SessionPrefix string `toml:"session_prefix"`
	Thread        bool   `toml:"thread"`
	File          bool   `toml:"file"`
	Network       bool   `toml:"network"`
}

// RegistryKeyConfig is one entry in a registry_monitor source's key list.
type RegistryKeyConfig struct {
	Root      string `toml:"root"`
	Path      string `toml:"path"`
	WatchTree bool   `toml:"watch_tree"`
}

// TriggerConfig is a [[rules]].trigger table.
type TriggerConfig struct {
	Type            string `toml:"type"`
	Pattern         string `toml:"pattern"`
	TitleContains   string `toml:"title_contains"`
	ProcessName     string `toml:"process_name"`
	ValueName       string `toml:"value_name"`
	IntervalSeconds int    `toml:"interval_seconds"`
}

// ActionConfig is a [[rules]].action table. Fields are shared across
// variants where the TOML key is the same across them (e.g. command).
type ActionConfig struct {
	Type string `toml:"type"`

	// execute
	Command    string   `toml:"command"`
	Args       []string `toml:"args"`
	WorkingDir string   `toml:"working_dir"`

	// power_shell
	Script string `toml:"script"`

	// log
	Message string `toml:"message"`
	Level   string `toml:"level"`

	// notify
	Title string `toml:"title"`

	// http_request
	URL     string            `toml:"url"`
	Method  string            `toml:"method"`
	Headers map[string]string `toml:"headers"`
	Body    string            `toml:"body"`

	// script
	ScriptPath   string `toml:"script_path"`
	FunctionName string `toml:"function_name"`
	TimeoutMs    int    `toml:"timeout_ms"`
	OnError      string `toml:"on_error"`

	// composite, a supplemented action variant composing named children
	Actions []ActionConfig `toml:"actions"`
	Policy  string         `toml:"policy"` // "continue"|"stop"|"skip_remaining"
}

// RuleConfig is one [[rules]] entry.
type RuleConfig struct {
	Name        string        `toml:"name"`
	Description string        `toml:"description"`
	Enabled     bool          `toml:"enabled"`
	Trigger     TriggerConfig `toml:"trigger"`
	Action      ActionConfig  `toml:"action"`
}

// Config is the fully parsed configuration file.
type Config struct {
	Engine  EngineConfig   `toml:"engine"`
	Sources []SourceConfig `toml:"sources"`
	Rules   []RuleConfig   `toml:"rules"`
}

var validRegistryRoots = map[string]bool{"HKLM": true, "HKCU": true, "HKU": true, "HKCC": true}

// Load reads, parses and validates the TOML file at path. Unknown keys at
// any level are rejected by go-toml's strict decode mode, which rejects
// unknown fields throughout the document rather than only at the top
// level.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfiguration, fmt.Sprintf("config: read %s", path), err)
	}
	return Parse(data)
}

// Parse parses and validates raw TOML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfiguration, "config: parse", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.EventBufferSize <= 0 {
		cfg.Engine.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.Engine.LogLevel == "" {
		cfg.Engine.LogLevel = "info"
	}
	if cfg.Engine.LogFormat == "" {
		cfg.Engine.LogFormat = "text"
	}
	if cfg.Engine.MetricsPort == 0 {
		cfg.Engine.MetricsPort = DefaultMetricsPort
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Type == "timer" && cfg.Sources[i].IntervalSeconds <= 0 {
			cfg.Sources[i].IntervalSeconds = 60
		}
	}
}

// Validate checks rule-name non-emptiness, source-name uniqueness, glob
// and regex well-formedness, and registry root membership. It returns a
// CategoryConfiguration error describing the first violation found.
func Validate(cfg *Config) error {
	seenSources := make(map[string]bool, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Name == "" {
			return apperrors.Configuration("config: source entry missing name")
		}
		if seenSources[src.Name] {
			return apperrors.Configuration("config: duplicate source name %q", src.Name)
		}
		seenSources[src.Name] = true

		if err := validateSource(src); err != nil {
			return err
		}
	}

	for _, rule := range cfg.Rules {
		if rule.Name == "" {
			return apperrors.Configuration("config: rule entry missing name")
		}
		if err := validateTrigger(rule.Name, rule.Trigger); err != nil {
			return err
		}
		if err := validateAction(rule.Name, rule.Action); err != nil {
			return err
		}
	}

	return nil
}

func validateSource(src SourceConfig) error {
	switch src.Type {
	case "file_watcher":
		if src.Pattern != "" {
			if _, err := filepath.Match(src.Pattern, "probe.txt"); err != nil {
				return apperrors.Configuration("config: source %q: invalid pattern %q: %v", src.Name, src.Pattern, err)
			}
		}
	case "window_watcher":
		if src.TitleContains != "" {
			if _, err := regexp.Compile(src.TitleContains); err != nil {
				return apperrors.Configuration("config: source %q: invalid title_contains regex: %v", src.Name, err)
			}
		}
		if src.ProcessName != "" {
			if _, err := regexp.Compile(src.ProcessName); err != nil {
				return apperrors.Configuration("config: source %q: invalid process_name regex: %v", src.Name, err)
			}
		}
	case "registry_monitor":
		for _, k := range src.Keys {
			if !validRegistryRoots[k.Root] {
				return apperrors.Configuration("config: source %q: unrecognized registry root %q", src.Name, k.Root)
			}
			if k.Path == "" {
				return apperrors.Configuration("config: source %q: empty registry key path", src.Name)
			}
		}
	case "process_monitor", "kernel_trace", "timer":
		// no format-validated fields beyond what applyDefaults fills in.
	case "":
		return apperrors.Configuration("config: source %q missing type", src.Name)
	default:
		return apperrors.Configuration("config: source %q: unrecognized type %q", src.Name, src.Type)
	}
	return nil
}

func validateTrigger(ruleName string, t TriggerConfig) error {
	switch t.Type {
	case "file_created", "file_modified", "file_deleted",
		"window_focused", "window_unfocused", "window_created",
		"process_started", "process_stopped",
		"registry_changed", "timer":
		if t.Type == "window_focused" || t.Type == "window_unfocused" {
			if t.TitleContains != "" {
				if _, err := regexp.Compile(t.TitleContains); err != nil {
					return apperrors.Configuration("config: rule %q: invalid title_contains regex: %v", ruleName, err)
				}
			}
		}
		if t.Pattern != "" {
			if _, err := filepath.Match(t.Pattern, "probe.txt"); err != nil {
				return apperrors.Configuration("config: rule %q: invalid pattern %q: %v", ruleName, t.Pattern, err)
			}
		}
		return nil
	case "":
		return apperrors.Configuration("config: rule %q missing trigger type", ruleName)
	default:
		return apperrors.Configuration("config: rule %q: unrecognized trigger type %q", ruleName, t.Type)
	}
}

func validateAction(ruleName string, a ActionConfig) error {
	switch a.Type {
	case "execute":
		if a.Command == "" {
			return apperrors.Configuration("config: rule %q: execute action missing command", ruleName)
		}
	case "power_shell":
		if a.Script == "" {
			return apperrors.Configuration("config: rule %q: power_shell action missing script", ruleName)
		}
	case "log":
		if a.Message == "" {
			return apperrors.Configuration("config: rule %q: log action missing message", ruleName)
		}
	case "notify":
		if a.Message == "" {
			return apperrors.Configuration("config: rule %q: notify action missing message", ruleName)
		}
	case "http_request":
		if a.URL == "" {
			return apperrors.Configuration("config: rule %q: http_request action missing url", ruleName)
		}
	case "media":
		if a.Command == "" {
			return apperrors.Configuration("config: rule %q: media action missing command", ruleName)
		}
	case "script":
		if a.ScriptPath == "" || a.FunctionName == "" {
			return apperrors.Configuration("config: rule %q: script action requires script_path and function_name", ruleName)
		}
	case "composite":
		if len(a.Actions) == 0 {
			return apperrors.Configuration("config: rule %q: composite action has no children", ruleName)
		}
		for _, child := range a.Actions {
			if err := validateAction(ruleName, child); err != nil {
				return err
			}
		}
	case "":
		return apperrors.Configuration("config: rule %q missing action type", ruleName)
	default:
		return apperrors.Configuration("config: rule %q: unrecognized action type %q", ruleName, a.Type)
	}
	return nil
}
