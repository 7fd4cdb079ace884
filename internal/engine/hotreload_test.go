package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylebending/win-event-engine/internal/metrics"
)

const minimalConfig = `
[engine]
event_buffer_size = 10
`

func TestRelevantReloadEventFiltersByNameAndExtension(t *testing.T) {
	cfgPath := "/etc/win-event-engine/engine.toml"
	assert.True(t, relevantReloadEvent(fsnotify.Event{Name: cfgPath, Op: fsnotify.Write}, cfgPath))
	assert.True(t, relevantReloadEvent(fsnotify.Event{Name: cfgPath, Op: fsnotify.Create}, cfgPath))
	assert.False(t, relevantReloadEvent(fsnotify.Event{Name: cfgPath, Op: fsnotify.Chmod}, cfgPath))
	assert.False(t, relevantReloadEvent(fsnotify.Event{Name: "/etc/win-event-engine/other.toml", Op: fsnotify.Write}, cfgPath))
	assert.False(t, relevantReloadEvent(fsnotify.Event{Name: "/etc/win-event-engine/engine.toml.bak", Op: fsnotify.Write}, cfgPath))
}

func TestNewControllerLoadsInitialEpoch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o644))

	collector := metrics.New()
	defer collector.Stop()

	ctrl, err := NewController(path, false, testLogger(), collector)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	}()

	status := ctrl.Status()
	assert.Equal(t, 0, status.ActivePlugins)
}

func TestControllerReloadSwapsEpochOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o644))

	collector := metrics.New()
	defer collector.Stop()

	ctrl, err := NewController(path, true, testLogger(), collector)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	}()

	firstEpoch := ctrl.current

	updated := minimalConfig + `
[[sources]]
name = "t1"
type = "timer"
enabled = true
interval_seconds = 1
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		cur := ctrl.current
		ctrl.mu.Unlock()
		return cur != firstEpoch
	}, 3*time.Second, 50*time.Millisecond, "expected the config-file write to trigger an epoch swap")

	status := ctrl.Status()
	assert.Equal(t, 1, status.ActivePlugins)
}

func TestControllerReloadKeepsCurrentEpochOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o644))

	collector := metrics.New()
	defer collector.Stop()

	ctrl, err := NewController(path, false, testLogger(), collector)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	}()

	before := ctrl.current
	require.NoError(t, os.WriteFile(path, []byte(`not valid toml [[[`), 0o644))
	ctrl.reload()
	assert.Same(t, before, ctrl.current)
}
