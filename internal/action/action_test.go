package action

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New("test", "debug", "text")
}

type stubAction struct {
	result Result
	err    error
}

func (s *stubAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	return s.result, s.err
}

func TestRegistryExecuteNotFound(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Execute(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryConfiguration, apperrors.CategoryOf(err))
}

func TestRegistryExecuteDispatchesByName(t *testing.T) {
	r := NewRegistry(map[string]Action{
		"rule_0_action": &stubAction{result: Result{Status: StatusSuccess, Message: "ok"}},
	})
	res, err := r.Execute(context.Background(), "rule_0_action", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Message)
}

func TestExecuteActionSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell builtin")
	}
	a := &ExecuteAction{Program: "/bin/echo", Argv: []string{"hello"}, Logger: testLogger()}
	res, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "hello", res.Message)
}

func TestExecuteActionNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell builtin")
	}
	a := &ExecuteAction{Program: "/bin/sh", Argv: []string{"-c", "exit 3"}, Logger: testLogger()}
	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryExecution, apperrors.CategoryOf(err))
}

func TestExecuteActionTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell builtin")
	}
	a := &ExecuteAction{Program: "/bin/sleep", Argv: []string{"5"}, Timeout: 20 * time.Millisecond, Logger: testLogger()}
	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryTimeout, apperrors.CategoryOf(err))
}

func TestLogActionAlwaysSucceeds(t *testing.T) {
	a := &LogAction{Message: "hit", Level: LogLevelInfo, Logger: testLogger()}
	res, err := a.Execute(context.Background(), event.New(event.KindFileCreated, "fw"))
	require.NoError(t, err)
	assert.Equal(t, "hit", res.Message)
}

func TestHttpRequestActionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &HttpRequestAction{URL: srv.URL, Method: http.MethodGet, Client: srv.Client()}
	res, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "200")
}

func TestHttpRequestActionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := &HttpRequestAction{URL: srv.URL, Client: srv.Client()}
	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryExecution, apperrors.CategoryOf(err))
}

func TestHttpRequestActionRespectsOwnLimiter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &HttpRequestAction{URL: srv.URL, Client: srv.Client(), Limiter: rate.NewLimiter(rate.Limit(1), 1)}
	_, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Execute(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryTimeout, apperrors.CategoryOf(err))
	assert.Equal(t, 1, calls)
}

func TestMediaActionUnsupportedWithoutSend(t *testing.T) {
	a := &MediaAction{Command: MediaPlayPause}
	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
}

func TestCompositeActionStopPolicy(t *testing.T) {
	first := &stubAction{err: errors.New("boom")}
	secondSpy := &recordingAction{inner: &stubAction{}}

	c := &CompositeAction{Children: []Action{first, secondSpy}, OnError: OnErrorStop}
	_, err := c.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, secondSpy.called)
}

func TestCompositeActionContinuePolicy(t *testing.T) {
	first := &stubAction{err: errors.New("boom")}
	second := &recordingAction{inner: &stubAction{result: Result{Status: StatusSuccess}}}

	c := &CompositeAction{Children: []Action{first, second}, OnError: OnErrorContinue}
	res, err := c.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, second.called)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestCompositeActionSkipRemaining(t *testing.T) {
	first := &stubAction{err: errors.New("boom")}
	second := &recordingAction{inner: &stubAction{}}

	c := &CompositeAction{Children: []Action{first, second}, OnError: OnErrorSkipRemaining}
	res, err := c.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, second.called)
	assert.Contains(t, res.Message, "0/2")
}

type recordingAction struct {
	inner  Action
	called bool
}

func (r *recordingAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	r.called = true
	return r.inner.Execute(ctx, evt)
}
