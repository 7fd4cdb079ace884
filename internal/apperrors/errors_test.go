package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsSetCategory(t *testing.T) {
	assert.Equal(t, CategoryConfiguration, Configuration("bad glob %q", "[").Category)
	assert.Equal(t, CategoryInitialization, Initialization("no privilege").Category)
	assert.Equal(t, CategoryRuntime, Runtime("parse failed").Category)
	assert.Equal(t, CategoryExecution, Execution("exit 1").Category)
	assert.Equal(t, CategoryTimeout, Timeout("exceeded budget").Category)
}

func TestErrorMessageIncludesWrappedCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CategoryRuntime, "file_watcher: create watcher", cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "file_watcher: create watcher")
	assert.Equal(t, cause, err.Unwrap())
}

func TestCategoryOfUnwrapsThroughPlainWrap(t *testing.T) {
	base := Configuration("duplicate source name %q", "fw1")
	wrapped := fmt.Errorf("engine: skipping source: %w", base)
	assert.Equal(t, CategoryConfiguration, CategoryOf(wrapped))
}

func TestCategoryOfDefaultsToRuntime(t *testing.T) {
	assert.Equal(t, CategoryRuntime, CategoryOf(errors.New("unclassified")))
}
