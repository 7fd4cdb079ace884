package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stylebending/win-event-engine/internal/event"
)

func TestFilePatternMatcherCreatedTxt(t *testing.T) {
	m := &FilePatternMatcher{EventType: FileEventCreated, FilenameGlob: "*.txt"}

	match := event.New(event.KindFileCreated, "fw")
	match.File = &event.FileData{Path: "/tmp/a.txt", Filename: "a.txt"}
	assert.True(t, m.Match(match))

	wrongExt := event.New(event.KindFileCreated, "fw")
	wrongExt.File = &event.FileData{Path: "/tmp/a.bin", Filename: "a.bin"}
	assert.False(t, m.Match(wrongExt))

	wrongKind := event.New(event.KindFileModified, "fw")
	wrongKind.File = &event.FileData{Path: "/tmp/a.txt", Filename: "a.txt"}
	assert.False(t, m.Match(wrongKind))
}

func TestFilePatternMatcherNoFileData(t *testing.T) {
	m := &FilePatternMatcher{EventType: FileEventAny}
	evt := event.New(event.KindFileCreated, "fw")
	assert.False(t, m.Match(evt))
}

func TestWindowMatcherFocusedTitleFilter(t *testing.T) {
	m := &WindowMatcher{EventType: WindowEventFocused, TitleContains: "code"}

	focused := event.New(event.KindWindowFocused, "w")
	focused.Window = &event.WindowData{Title: "Visual Studio Code"}
	assert.True(t, m.Match(focused))

	other := event.New(event.KindWindowFocused, "w")
	other.Window = &event.WindowData{Title: "Notepad"}
	assert.False(t, m.Match(other))
}

func TestProcessMatcherStartedNameFilter(t *testing.T) {
	m := &ProcessMatcher{EventType: ProcessEventStarted, NameContains: "chrome"}

	started := event.New(event.KindProcessStarted, "p")
	started.Process = &event.ProcessData{Name: "chrome.exe"}
	assert.True(t, m.Match(started))

	stopped := event.New(event.KindProcessStopped, "p")
	stopped.Process = &event.ProcessData{Name: "chrome.exe"}
	assert.False(t, m.Match(stopped))

	noMatch := event.New(event.KindProcessStarted, "p")
	noMatch.Process = &event.ProcessData{Name: "firefox.exe"}
	assert.False(t, m.Match(noMatch))
}

func TestRegistryMatcherValueName(t *testing.T) {
	m := &RegistryMatcher{ValueName: "Run"}

	match := event.New(event.KindRegistryChanged, "r")
	match.Registry = &event.RegistryData{ValueName: "Run"}
	assert.True(t, m.Match(match))

	noMatch := event.New(event.KindRegistryChanged, "r")
	noMatch.Registry = &event.RegistryData{ValueName: "Other"}
	assert.False(t, m.Match(noMatch))

	wrongKind := event.New(event.KindTimerTick, "r")
	assert.False(t, m.Match(wrongKind))
}

func TestCompositeMatcherAndOr(t *testing.T) {
	always := &EventKindMatcher{Kind: event.KindTimerTick}
	never := &EventKindMatcher{Kind: event.KindFileCreated}
	evt := event.New(event.KindTimerTick, "t")

	and := &CompositeMatcher{Op: OpAnd, Children: []Matcher{always, never}}
	assert.False(t, and.Match(evt))

	or := &CompositeMatcher{Op: OpOr, Children: []Matcher{never, always}}
	assert.True(t, or.Match(evt))
}

func TestCompositeMatcherCloneIsDeep(t *testing.T) {
	orig := &CompositeMatcher{Op: OpAnd, Children: []Matcher{
		&WindowMatcher{EventType: WindowEventFocused, TitleContains: "a"},
	}}
	clone := orig.Clone().(*CompositeMatcher)
	clone.Children[0].(*WindowMatcher).TitleContains = "b"
	assert.Equal(t, "a", orig.Children[0].(*WindowMatcher).TitleContains)
}
