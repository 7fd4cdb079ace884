// Package rule implements the polymorphic matcher model evaluated against
// each event by the dispatch loop, and the Rule type that pairs a matcher
// with a named action.
package rule

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/stylebending/win-event-engine/internal/event"
)

// Matcher is a pure predicate over an Event. Implementations must not
// perform I/O or mutate shared state; the dispatch loop assumes matcher
// evaluation never fails and never blocks.
type Matcher interface {
	Match(evt *event.Event) bool
	// Clone returns an independent deep copy, since rules are copied into
	// the dispatch task's immutable per-epoch snapshot.
	Clone() Matcher
}

// FileEventType restricts a FilePatternMatcher to one file-system
// transition, or Any to match every file kind (created, modified,
// deleted and renamed).
type FileEventType string

const (
	FileEventCreated  FileEventType = "created"
	FileEventModified FileEventType = "modified"
	FileEventDeleted  FileEventType = "deleted"
	FileEventAny      FileEventType = "any"
)

// EventKindMatcher matches events whose Kind equals the configured
// discriminant. Only the kind is compared; event content (such as a path)
// is not examined.
type EventKindMatcher struct {
	Kind event.Kind
}

func (m *EventKindMatcher) Match(evt *event.Event) bool {
	return evt.Kind == m.Kind
}

func (m *EventKindMatcher) Clone() Matcher {
	c := *m
	return &c
}

// FilePatternMatcher matches file-system events by transition type and an
// optional filename or path glob. FilenameGlob is matched against the
// final path component; PathGlob against the full string form. A path
// component that is not valid UTF-8 is treated as a non-match rather than
// raising an error, per the glob-matching contract.
type FilePatternMatcher struct {
	EventType    FileEventType
	PathGlob     string
	FilenameGlob string
}

func (m *FilePatternMatcher) Match(evt *event.Event) bool {
	if !fileEventTypeMatches(m.EventType, evt.Kind) {
		return false
	}
	if evt.File == nil {
		return false
	}
	if !utf8.ValidString(evt.File.Path) {
		return false
	}
	if m.PathGlob != "" {
		ok, err := path.Match(m.PathGlob, evt.File.Path)
		if err != nil || !ok {
			return false
		}
	}
	if m.FilenameGlob != "" {
		filename := evt.File.Filename
		if filename == "" {
			filename = path.Base(evt.File.Path)
		}
		if !utf8.ValidString(filename) {
			return false
		}
		ok, err := path.Match(m.FilenameGlob, filename)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (m *FilePatternMatcher) Clone() Matcher {
	c := *m
	return &c
}

func fileEventTypeMatches(want FileEventType, kind event.Kind) bool {
	switch want {
	case FileEventAny, "":
		switch kind {
		case event.KindFileCreated, event.KindFileModified, event.KindFileDeleted, event.KindFileRenamed:
			return true
		}
		return false
	case FileEventCreated:
		return kind == event.KindFileCreated
	case FileEventModified:
		return kind == event.KindFileModified
	case FileEventDeleted:
		return kind == event.KindFileDeleted
	default:
		return false
	}
}

// WindowEventType restricts a WindowMatcher to one window transition.
type WindowEventType string

const (
	WindowEventFocused   WindowEventType = "focused"
	WindowEventUnfocused WindowEventType = "unfocused"
	WindowEventCreated   WindowEventType = "created"
	WindowEventDestroyed WindowEventType = "destroyed"
)

// WindowMatcher matches window events by transition type with optional
// case-insensitive substring filters on title and owning process name.
// These rule-level filters are independent of the regex filters the
// window-observer source plugin applies before emission.
type WindowMatcher struct {
	EventType     WindowEventType
	TitleContains string
	ProcessName   string
}

func (m *WindowMatcher) Match(evt *event.Event) bool {
	if !windowEventTypeMatches(m.EventType, evt.Kind) {
		return false
	}
	if m.TitleContains != "" {
		if evt.Window == nil || !containsFold(evt.Window.Title, m.TitleContains) {
			return false
		}
	}
	if m.ProcessName != "" {
		name := processNameOf(evt)
		if !containsFold(name, m.ProcessName) {
			return false
		}
	}
	return true
}

func (m *WindowMatcher) Clone() Matcher {
	c := *m
	return &c
}

func windowEventTypeMatches(want WindowEventType, kind event.Kind) bool {
	switch want {
	case WindowEventFocused:
		return kind == event.KindWindowFocused
	case WindowEventUnfocused:
		return kind == event.KindWindowUnfocused
	case WindowEventCreated:
		return kind == event.KindWindowCreated
	case WindowEventDestroyed:
		return kind == event.KindWindowDestroyed
	default:
		return false
	}
}

func processNameOf(evt *event.Event) string {
	if evt.Process != nil {
		return evt.Process.Name
	}
	if evt.Metadata != nil {
		return evt.Metadata["process_name"]
	}
	return ""
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// ProcessEventType restricts a ProcessMatcher to one lifecycle transition.
type ProcessEventType string

const (
	ProcessEventStarted ProcessEventType = "started"
	ProcessEventStopped ProcessEventType = "stopped"
)

// ProcessMatcher matches process lifecycle events by transition type with
// an optional case-insensitive substring filter on the process name.
type ProcessMatcher struct {
	EventType   ProcessEventType
	NameContains string
}

func (m *ProcessMatcher) Match(evt *event.Event) bool {
	switch m.EventType {
	case ProcessEventStarted:
		if evt.Kind != event.KindProcessStarted {
			return false
		}
	case ProcessEventStopped:
		if evt.Kind != event.KindProcessStopped {
			return false
		}
	default:
		return false
	}
	if m.NameContains == "" {
		return true
	}
	if evt.Process == nil {
		return false
	}
	return containsFold(evt.Process.Name, m.NameContains)
}

func (m *ProcessMatcher) Clone() Matcher {
	c := *m
	return &c
}

// RegistryMatcher matches RegistryChanged events with an optional exact
// value-name filter.
type RegistryMatcher struct {
	ValueName string
}

func (m *RegistryMatcher) Match(evt *event.Event) bool {
	if evt.Kind != event.KindRegistryChanged {
		return false
	}
	if m.ValueName == "" {
		return true
	}
	return evt.Registry != nil && evt.Registry.ValueName == m.ValueName
}

func (m *RegistryMatcher) Clone() Matcher {
	c := *m
	return &c
}

// BoolOp is the combinator a CompositeMatcher applies to its children.
type BoolOp string

const (
	OpAnd BoolOp = "and"
	OpOr  BoolOp = "or"
)

// CompositeMatcher combines child matchers with short-circuit AND/OR
// semantics: And stops on the first false child, Or stops on the first
// true child.
type CompositeMatcher struct {
	Op       BoolOp
	Children []Matcher
}

func (m *CompositeMatcher) Match(evt *event.Event) bool {
	switch m.Op {
	case OpOr:
		for _, c := range m.Children {
			if c.Match(evt) {
				return true
			}
		}
		return false
	default: // OpAnd
		for _, c := range m.Children {
			if !c.Match(evt) {
				return false
			}
		}
		return true
	}
}

func (m *CompositeMatcher) Clone() Matcher {
	children := make([]Matcher, len(m.Children))
	for i, c := range m.Children {
		children[i] = c.Clone()
	}
	return &CompositeMatcher{Op: m.Op, Children: children}
}
