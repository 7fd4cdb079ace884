package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stylebending/win-event-engine/internal/event"
)

func TestActionKeyFormat(t *testing.T) {
	assert.Equal(t, "rule_0_action", ActionKey(0))
	assert.Equal(t, "rule_12_action", ActionKey(12))
}

func TestRuleCloneDeepCopiesMatcher(t *testing.T) {
	r := &Rule{
		Name:       "r1",
		Enabled:    true,
		ActionName: ActionKey(0),
		Matcher:    &WindowMatcher{EventType: WindowEventFocused, TitleContains: "a"},
	}
	clone := r.Clone()
	clone.Matcher.(*WindowMatcher).TitleContains = "b"

	assert.Equal(t, "a", r.Matcher.(*WindowMatcher).TitleContains)
	assert.Equal(t, r.Name, clone.Name)
	assert.Equal(t, r.ActionName, clone.ActionName)
}

func TestRuleCloneIndependentFromOriginalMatch(t *testing.T) {
	r := &Rule{Matcher: &EventKindMatcher{Kind: event.KindTimerTick}}
	clone := r.Clone()
	assert.True(t, clone.Matcher.Match(event.New(event.KindTimerTick, "t")))
}
