package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

func waitForEvents(t *testing.T, e *fakeEmitter, min int) []*event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := e.snapshot(); len(got) >= min {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", min, len(e.snapshot()))
	return nil
}

func TestFileWatcherEmitsCreatedForMatchingGlob(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWatcher(FileWatcherConfig{
		Name:         "fw1",
		Paths:        []string{dir},
		FilenameGlob: "*.txt",
		Logger:       logging.New("source", "debug", "text"),
	})
	require.NoError(t, err)

	emitter := &fakeEmitter{}
	require.NoError(t, w.Start(emitter))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.log"), []byte("hi"), 0o644))

	events := waitForEvents(t, emitter, 1)
	found := false
	for _, e := range events {
		if e.Kind == event.KindFileCreated && e.File.Filename == "note.txt" {
			found = true
		}
		assert.NotEqual(t, "ignored.log", e.File.Filename)
	}
	assert.True(t, found, "expected a FileCreated event for note.txt")
}

func TestFileWatcherInvalidGlobIsConfigurationError(t *testing.T) {
	_, err := NewFileWatcher(FileWatcherConfig{Name: "bad", FilenameGlob: "["})
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryConfiguration, apperrors.CategoryOf(err))
}

func TestFileWatcherSkipsMissingPathWithoutError(t *testing.T) {
	w, err := NewFileWatcher(FileWatcherConfig{
		Name:   "fw2",
		Paths:  []string{filepath.Join(t.TempDir(), "does-not-exist")},
		Logger: logging.New("source", "debug", "text"),
	})
	require.NoError(t, err)

	emitter := &fakeEmitter{}
	require.NoError(t, w.Start(emitter))
	defer w.Stop()
	assert.True(t, w.IsRunning())
}

func TestFileWatcherStartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWatcher(FileWatcherConfig{Name: "fw3", Paths: []string{dir}, Logger: logging.New("source", "debug", "text")})
	require.NoError(t, err)

	emitter := &fakeEmitter{}
	require.NoError(t, w.Start(emitter))
	require.NoError(t, w.Start(emitter))
	w.Stop()
	assert.False(t, w.IsRunning())
}
