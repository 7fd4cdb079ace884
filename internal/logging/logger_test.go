package logging

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l := New("engine", "not-a-level", "text")
	assert.Equal(t, logrus.InfoLevel, l.Level)
}

func TestNewSelectsJSONFormatter(t *testing.T) {
	l := New("engine", "debug", "json")
	_, ok := l.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestSubNestsComponentName(t *testing.T) {
	l := New("engine", "info", "text")
	child := l.Sub("filewatcher")
	assert.Equal(t, "engine.filewatcher", child.component)
}

func TestWithErrorAttachesErrorField(t *testing.T) {
	l := New("engine", "info", "text")
	entry := l.WithError(errors.New("boom"))
	assert.Equal(t, "boom", entry.Data["error"])
	assert.Equal(t, "engine", entry.Data["component"])
}
