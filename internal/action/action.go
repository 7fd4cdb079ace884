// Package action implements the named action registry and executor that
// the dispatch loop invokes when a rule matches.
package action

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// DefaultExecuteTimeout is applied to Execute actions that omit Timeout.
const DefaultExecuteTimeout = 30 * time.Second

// ResultStatus classifies the outcome of Execute.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusSkipped ResultStatus = "skipped"
)

// Result is the outcome of a successful or skipped action invocation.
type Result struct {
	Status  ResultStatus
	Message string
}

// Action is a named, side-effecting operation triggered by a matched rule.
type Action interface {
	// Execute runs the action against the triggering event. A nil error
	// paired with Result reports success or an intentional skip; a
	// non-nil error is always an *apperrors.Error.
	Execute(ctx context.Context, evt *event.Event) (Result, error)
}

// OnError is the error policy a Composite action applies to its children.
type OnError string

const (
	OnErrorContinue      OnError = "continue"
	OnErrorStop          OnError = "stop"
	OnErrorSkipRemaining OnError = "skip_remaining"
)

// Registry maps action names to their Action instance. It is owned by the
// engine supervisor and handed to the dispatch task as part of the
// immutable per-epoch snapshot; it is never mutated after construction.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds a Registry from a name->Action map.
func NewRegistry(actions map[string]Action) *Registry {
	if actions == nil {
		actions = map[string]Action{}
	}
	return &Registry{actions: actions}
}

// Execute dispatches to the named action. A missing name is reported as a
// CategoryConfiguration error, since it indicates a rule/action wiring
// mistake rather than a runtime failure of the action itself.
func (r *Registry) Execute(ctx context.Context, name string, evt *event.Event) (Result, error) {
	act, ok := r.actions[name]
	if !ok {
		return Result{}, apperrors.Configuration("action %q not found", name)
	}
	return act.Execute(ctx, evt)
}

// Len reports the number of registered actions, for status reporting.
func (r *Registry) Len() int {
	return len(r.actions)
}

// ExecuteAction spawns a subprocess with piped stdout/stderr and waits for
// completion. A non-zero exit is reported as a CategoryExecution error
// carrying the captured stderr.
type ExecuteAction struct {
	Program string
	Argv    []string
	Cwd     string
	Timeout time.Duration
	Logger  *logging.Logger
}

func (a *ExecuteAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.Program, a.Argv...)
	if a.Cwd != "" {
		cmd.Dir = a.Cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{}, apperrors.Timeout(fmt.Sprintf("execute %s exceeded %s", a.Program, timeout))
	}
	if err != nil {
		return Result{}, apperrors.Execution("execute %s: %v: %s", a.Program, err, strings.TrimSpace(stderr.String()))
	}
	return Result{Status: StatusSuccess, Message: strings.TrimSpace(stdout.String())}, nil
}

// ShellAction runs an inline script through the platform shell.
type ShellAction struct {
	Script string
	Cwd    string
	// ShellPath and ShellFlag let tests and non-Windows builds override the
	// interpreter; production config defaults to "powershell.exe" "-Command".
	ShellPath string
	ShellFlag string
	Timeout   time.Duration
}

func (a *ShellAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shellPath := a.ShellPath
	if shellPath == "" {
		shellPath = "powershell.exe"
	}
	shellFlag := a.ShellFlag
	if shellFlag == "" {
		shellFlag = "-Command"
	}

	cmd := exec.CommandContext(runCtx, shellPath, shellFlag, a.Script)
	if a.Cwd != "" {
		cmd.Dir = a.Cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{}, apperrors.Timeout(fmt.Sprintf("shell script exceeded %s", timeout))
	}
	if err != nil {
		return Result{}, apperrors.Execution("shell: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return Result{Status: StatusSuccess, Message: strings.TrimSpace(stdout.String())}, nil
}

// LogLevel selects the structured log level a LogAction writes at.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogAction writes a structured log line.
type LogAction struct {
	Message string
	Level   LogLevel
	Logger  *logging.Logger
}

func (a *LogAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	entry := a.Logger.With(nil)
	if evt != nil {
		entry = a.Logger.WithEvent(ctx, evt.ID)
	}
	switch a.Level {
	case LogLevelDebug:
		entry.Debug(a.Message)
	case LogLevelWarn:
		entry.Warn(a.Message)
	case LogLevelError:
		entry.Error(a.Message)
	default:
		entry.Info(a.Message)
	}
	return Result{Status: StatusSuccess, Message: a.Message}, nil
}

// NotifyAction surfaces a toast-style notification by logging it through
// the structured logger at info level.
type NotifyAction struct {
	Title   string
	Message string
	Logger  *logging.Logger
}

func (a *NotifyAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	a.Logger.With(nil).Infof("notify: %s: %s", a.Title, a.Message)
	return Result{Status: StatusSuccess, Message: a.Message}, nil
}

// defaultHTTPRequestLimiter caps the aggregate outbound rate of every
// HttpRequestAction that doesn't carry its own Limiter, so a rule that
// re-fires rapidly (e.g. on a noisy file-change source) can't turn into an
// unbounded hammering of the target endpoint.
var defaultHTTPRequestLimiter = rate.NewLimiter(rate.Limit(10), 20)

// HttpRequestAction issues an HTTP request as the action's side effect.
type HttpRequestAction struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Client  *http.Client
	Timeout time.Duration
	// Limiter overrides the shared default rate limiter; nil uses the
	// default.
	Limiter *rate.Limiter
}

func (a *HttpRequestAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := a.Limiter
	if limiter == nil {
		limiter = defaultHTTPRequestLimiter
	}
	if err := limiter.Wait(runCtx); err != nil {
		return Result{}, apperrors.Timeout(fmt.Sprintf("http_request %s: rate limit wait: %v", a.URL, err))
	}

	method := a.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if a.Body != "" {
		body = strings.NewReader(a.Body)
	}
	req, err := http.NewRequestWithContext(runCtx, method, a.URL, body)
	if err != nil {
		return Result{}, apperrors.Configuration("http_request: %v", err)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{}, apperrors.Timeout(fmt.Sprintf("http_request %s exceeded %s", a.URL, timeout))
	}
	if err != nil {
		return Result{}, apperrors.Execution("http_request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Result{}, apperrors.Execution("http_request: status %d", resp.StatusCode)
	}
	return Result{Status: StatusSuccess, Message: fmt.Sprintf("status %d", resp.StatusCode)}, nil
}

// MediaCommand enumerates the supported media-key style actions.
type MediaCommand string

const (
	MediaPlayPause MediaCommand = "play_pause"
	MediaNext      MediaCommand = "next"
	MediaPrevious  MediaCommand = "previous"
	MediaMute      MediaCommand = "mute"
	MediaVolumeUp  MediaCommand = "volume_up"
	MediaVolumeDown MediaCommand = "volume_down"
)

// MediaAction drives an OS media-key style command. The actual key
// injection is platform-specific (see media_windows.go); on unsupported
// platforms it reports a CategoryExecution error rather than panicking.
type MediaAction struct {
	Command MediaCommand
	Send    func(MediaCommand) error
}

func (a *MediaAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	if a.Send == nil {
		return Result{}, apperrors.Execution("media action unsupported on this platform")
	}
	if err := a.Send(a.Command); err != nil {
		return Result{}, apperrors.Execution("media %s: %v", a.Command, err)
	}
	return Result{Status: StatusSuccess}, nil
}

// CompositeAction runs child actions in order, applying OnError to decide
// whether a child failure aborts, is ignored, or truncates the remaining
// children while still reporting overall success.
type CompositeAction struct {
	Children []Action
	OnError  OnError
}

func (a *CompositeAction) Execute(ctx context.Context, evt *event.Event) (Result, error) {
	completed := 0
	for _, child := range a.Children {
		_, err := child.Execute(ctx, evt)
		if err == nil {
			completed++
			continue
		}
		switch a.OnError {
		case OnErrorContinue:
			completed++
			continue
		case OnErrorSkipRemaining:
			return Result{
				Status:  StatusSuccess,
				Message: fmt.Sprintf("completed %d/%d children before skip", completed, len(a.Children)),
			}, nil
		default: // OnErrorStop
			return Result{}, err
		}
	}
	return Result{Status: StatusSuccess, Message: fmt.Sprintf("completed %d/%d children", completed, len(a.Children))}, nil
}
