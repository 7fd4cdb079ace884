// Package script implements the embedded scripting sandbox: a per-execution
// goja VM with a restricted global environment and a small set of
// host-exposed capability tables, wired into the action system as an
// Action implementation.
package script

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/blake2b"

	"github.com/stylebending/win-event-engine/internal/action"
	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// OnError selects how a script's reported failure (either a returned
// {success:false} table or a VM runtime error) is surfaced to the
// dispatch loop.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
	OnErrorLog      OnError = "log"
)

// DefaultTimeout is used when a Script action config omits TimeoutMs.
const DefaultTimeout = 30 * time.Second

// execSoftTimeout bounds the exec() host call; it is a warning, not a hard
// cancellation.
const execSoftTimeout = 60 * time.Second

// httpCallTimeout bounds http.get/http.post host calls.
const httpCallTimeout = 10 * time.Second

// allowedRoots enumerates the filesystem roots fs.move/fs.delete may
// operate under. Paths outside these roots report false without touching
// the filesystem.
func allowedRoots() []string {
	roots := []string{}
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}
	roots = append(roots, os.TempDir())
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, "Documents"))
	}
	return roots
}

// Action adapts a cached script source into an action.Action. A fresh VM
// is created for every Execute call, since goja runtimes are not safe to
// share across goroutines; the cost is acceptable because scripts are
// event-scoped.
type Action struct {
	SourcePath    string
	EntryFunction string
	Timeout       time.Duration
	OnError       OnError
	Logger        *logging.Logger

	mu         sync.Mutex
	source     string
	sourceMod  time.Time
}

// New validates that path parses as JavaScript and that EntryFunction is
// defined as a callable, caching the source for subsequent executions.
// Any failure here is a CategoryConfiguration error.
func New(path, entryFunction string, timeoutMs int, onError OnError, logger *logging.Logger) (*Action, error) {
	src, mod, err := readSource(path)
	if err != nil {
		return nil, apperrors.Configuration("script %s: %v", path, err)
	}
	if _, err := goja.Compile(path, src, false); err != nil {
		return nil, apperrors.Configuration("script %s: syntax error: %v", path, err)
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	a := &Action{
		SourcePath:    path,
		EntryFunction: entryFunction,
		Timeout:       timeout,
		OnError:       onError,
		Logger:        logger,
		source:        src,
		sourceMod:     mod,
	}

	vm := goja.New()
	installSandbox(vm, logger)
	if _, err := vm.RunString(src); err != nil {
		return nil, apperrors.Configuration("script %s: %v", path, err)
	}
	if _, ok := goja.AssertFunction(vm.Get(entryFunction)); !ok {
		return nil, apperrors.Configuration("script %s: entry function %q not defined", path, entryFunction)
	}

	return a, nil
}

func readSource(path string) (string, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, err
	}
	return string(data), info.ModTime(), nil
}

// Execute builds a fresh VM, loads the cached source, calls the entry
// function with an event table, and interprets the return table.
func (a *Action) Execute(ctx context.Context, evt *event.Event) (action.Result, error) {
	a.mu.Lock()
	src := a.source
	cachedMod := a.sourceMod
	path := a.SourcePath
	a.mu.Unlock()

	if info, err := os.Stat(path); err == nil && info.ModTime().After(cachedMod) {
		a.Logger.With(nil).Warnf("script %s changed on disk; reload pending until next engine reload", path)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	resultCh := make(chan execOutcome, 1)
	go a.run(src, evt, resultCh)

	select {
	case <-runCtx.Done():
		return action.Result{}, apperrors.Timeout(fmt.Sprintf("script %s exceeded %s", path, a.Timeout))
	case outcome := <-resultCh:
		return a.interpret(outcome)
	}
}

type execOutcome struct {
	success bool
	message string
	err     error
}

func (a *Action) run(src string, evt *event.Event, out chan<- execOutcome) {
	vm := goja.New()
	installSandbox(vm, a.Logger)
	vm.Set("event", eventTable(vm, evt))

	if _, err := vm.RunString(src); err != nil {
		out <- execOutcome{err: err}
		return
	}

	entry, ok := goja.AssertFunction(vm.Get(a.EntryFunction))
	if !ok {
		out <- execOutcome{err: fmt.Errorf("entry function %q not defined", a.EntryFunction)}
		return
	}

	ret, err := entry(goja.Undefined(), vm.Get("event"))
	if err != nil {
		out <- execOutcome{err: err}
		return
	}

	success, message := parseReturn(ret)
	out <- execOutcome{success: success, message: message}
}

func (a *Action) interpret(outcome execOutcome) (action.Result, error) {
	if outcome.err != nil {
		switch a.OnError {
		case OnErrorContinue:
			return action.Result{Status: action.StatusSuccess, Message: outcome.err.Error()}, nil
		case OnErrorLog:
			a.Logger.WithError(outcome.err).Error("script execution error")
			return action.Result{Status: action.StatusSkipped, Message: outcome.err.Error()}, nil
		default: // OnErrorFail
			return action.Result{}, apperrors.Execution("script %s: %v", a.SourcePath, outcome.err)
		}
	}

	if outcome.success {
		return action.Result{Status: action.StatusSuccess, Message: outcome.message}, nil
	}

	switch a.OnError {
	case OnErrorContinue:
		return action.Result{Status: action.StatusSuccess, Message: outcome.message}, nil
	case OnErrorLog:
		a.Logger.With(nil).Warnf("script %s reported failure: %s", a.SourcePath, outcome.message)
		return action.Result{Status: action.StatusSkipped, Message: outcome.message}, nil
	default: // OnErrorFail
		return action.Result{}, apperrors.Execution("script %s reported failure: %s", a.SourcePath, outcome.message)
	}
}

func parseReturn(v goja.Value) (success bool, message string) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false, "script returned no result"
	}
	exported := v.Export()
	m, ok := exported.(map[string]interface{})
	if !ok {
		return false, "script did not return a result table"
	}
	if s, ok := m["success"].(bool); ok {
		success = s
	}
	if msg, ok := m["message"].(string); ok {
		message = msg
	}
	return success, message
}

func eventTable(vm *goja.Runtime, evt *event.Event) *goja.Object {
	obj := vm.NewObject()
	if evt == nil {
		return obj
	}
	_ = obj.Set("kind", string(evt.Kind))
	_ = obj.Set("source", evt.Source)
	_ = obj.Set("timestamp", evt.Timestamp.Local().Format("2006-01-02T15:04:05-07:00"))
	_ = obj.Set("id", evt.ID)
	md := vm.NewObject()
	for k, v := range evt.Metadata {
		_ = md.Set(k, v)
	}
	_ = obj.Set("metadata", md)
	return obj
}

// installSandbox nulls out dangerous globals and installs the host
// capability tables. It must run before any user script text is evaluated
// in vm.
func installSandbox(vm *goja.Runtime, logger *logging.Logger) {
	// goja never exposes require/process/file-loading globals by default,
	// but we still bind the Lua-style dangerous names explicitly to null
	// so a script that probes for them observes the same deny-by-default
	// contract regardless of host runtime.
	for _, name := range []string{"require", "process", "Function", "load", "loadfile", "dofile", "os_raw", "debug"} {
		_ = vm.Set(name, goja.Null())
	}

	installLog(vm, logger)
	installExec(vm, logger)
	installHTTP(vm)
	installJSON(vm)
	installFS(vm)
	installOS(vm)
	installCrypto(vm)
}

func installLog(vm *goja.Runtime, logger *logging.Logger) {
	obj := vm.NewObject()
	level := func(fn func(args ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := ""
			if len(call.Arguments) > 0 {
				msg = call.Arguments[0].String()
			}
			fn(msg)
			return goja.Undefined()
		}
	}
	entry := logger.With(nil)
	_ = obj.Set("debug", level(func(a ...interface{}) { entry.Debug(a...) }))
	_ = obj.Set("info", level(func(a ...interface{}) { entry.Info(a...) }))
	_ = obj.Set("warn", level(func(a ...interface{}) { entry.Warn(a...) }))
	_ = obj.Set("error", level(func(a ...interface{}) { entry.Error(a...) }))
	_ = vm.Set("log", obj)
}

func installExec(vm *goja.Runtime, logger *logging.Logger) {
	_ = vm.Set("exec", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.ToValue("exec: command required"))
		}
		cmdName := call.Arguments[0].String()
		var argv []string
		if len(call.Arguments) > 1 {
			if arr, ok := call.Arguments[1].Export().([]interface{}); ok {
				for _, a := range arr {
					argv = append(argv, fmt.Sprint(a))
				}
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), execSoftTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, cmdName, argv...)
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		if ctx.Err() == context.DeadlineExceeded {
			logger.With(nil).Warnf("exec %s exceeded soft timeout of %s", cmdName, execSoftTimeout)
		}
		exitCode := 0
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				exitCode = ee.ExitCode()
			} else {
				exitCode = -1
			}
		}

		result := vm.NewObject()
		_ = result.Set("exit_code", exitCode)
		_ = result.Set("stdout", stdout.String())
		_ = result.Set("stderr", stderr.String())
		return result
	})
}

func installHTTP(vm *goja.Runtime) {
	obj := vm.NewObject()

	do := func(method, url string, opts goja.Value) (int, string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), httpCallTimeout)
		defer cancel()

		var bodyReader io.Reader
		var headers map[string]interface{}
		if opts != nil && !goja.IsUndefined(opts) && !goja.IsNull(opts) {
			if m, ok := opts.Export().(map[string]interface{}); ok {
				if h, ok := m["headers"].(map[string]interface{}); ok {
					headers = h
				}
				if b, ok := m["body"].(string); ok {
					bodyReader = strings.NewReader(b)
				}
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return 0, "", err
		}
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return 0, "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, "", err
		}
		return resp.StatusCode, string(body), nil
	}

	wrap := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				panic(vm.ToValue("http: url required"))
			}
			url := call.Arguments[0].String()
			var opts goja.Value
			if len(call.Arguments) > 1 {
				opts = call.Arguments[1]
			}
			status, body, err := do(method, url, opts)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			result := vm.NewObject()
			_ = result.Set("status", status)
			_ = result.Set("body", body)
			return result
		}
	}

	_ = obj.Set("get", wrap(http.MethodGet))
	_ = obj.Set("post", wrap(http.MethodPost))
	_ = vm.Set("http", obj)
}

func installJSON(vm *goja.Runtime) {
	obj := vm.NewObject()
	_ = obj.Set("encode", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("null")
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			panic(vm.ToValue("json.encode: " + err.Error()))
		}
		return vm.ToValue(string(data))
	})
	_ = obj.Set("decode", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		var v interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &v); err != nil {
			panic(vm.ToValue("json.decode: " + err.Error()))
		}
		return vm.ToValue(v)
	})
	// query extracts a single value from a raw JSON string via a gjson dot
	// path (e.g. "user.addresses.0.city") without fully decoding it into a
	// JS object first.
	_ = obj.Set("query", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.ToValue("json.query: text and path required"))
		}
		res := gjson.Get(call.Arguments[0].String(), call.Arguments[1].String())
		if !res.Exists() {
			return goja.Undefined()
		}
		return vm.ToValue(res.Value())
	})
	// path evaluates a full JSONPath expression (e.g. "$.users[?(@.age>30)].name")
	// against a decoded JSON document, for selections gjson's dot-path syntax
	// can't express.
	_ = obj.Set("path", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.ToValue("json.path: text and expression required"))
		}
		var doc interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &doc); err != nil {
			panic(vm.ToValue("json.path: " + err.Error()))
		}
		result, err := jsonpath.Get(call.Arguments[1].String(), doc)
		if err != nil {
			panic(vm.ToValue("json.path: " + err.Error()))
		}
		return vm.ToValue(result)
	})
	_ = vm.Set("json", obj)
}

func installFS(vm *goja.Runtime) {
	obj := vm.NewObject()
	_ = obj.Set("file_size", func(call goja.FunctionCall) goja.Value {
		info, err := os.Stat(argString(call, 0))
		if err != nil {
			return vm.ToValue(int64(-1))
		}
		return vm.ToValue(info.Size())
	})
	_ = obj.Set("exists", func(call goja.FunctionCall) goja.Value {
		_, err := os.Stat(argString(call, 0))
		return vm.ToValue(err == nil)
	})
	_ = obj.Set("basename", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Base(argString(call, 0)))
	})
	_ = obj.Set("move", func(call goja.FunctionCall) goja.Value {
		src, dst := argString(call, 0), argString(call, 1)
		if !underAllowedRoot(src) || !underAllowedRoot(dst) {
			return vm.ToValue(false)
		}
		if err := os.Rename(src, dst); err != nil {
			return vm.ToValue(false)
		}
		return vm.ToValue(true)
	})
	_ = obj.Set("delete", func(call goja.FunctionCall) goja.Value {
		target := argString(call, 0)
		if !underAllowedRoot(target) {
			return vm.ToValue(false)
		}
		if err := os.Remove(target); err != nil {
			return vm.ToValue(false)
		}
		return vm.ToValue(true)
	})
	_ = vm.Set("fs", obj)
}

// installCrypto exposes a content-fingerprinting capability, handy for a
// script that wants to dedupe repeated events over the same payload (e.g.
// a file watcher firing twice for one logical write) without round-tripping
// through an external process.
func installCrypto(vm *goja.Runtime) {
	obj := vm.NewObject()
	_ = obj.Set("fingerprint", func(call goja.FunctionCall) goja.Value {
		sum := blake2b.Sum256([]byte(argString(call, 0)))
		return vm.ToValue(hex.EncodeToString(sum[:]))
	})
	_ = vm.Set("crypto", obj)
}

func argString(call goja.FunctionCall, i int) string {
	if i >= len(call.Arguments) {
		return ""
	}
	return call.Arguments[i].String()
}

func underAllowedRoot(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range allowedRoots() {
		rel, err := filepath.Rel(root, abs)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func installOS(vm *goja.Runtime) {
	obj := vm.NewObject()
	_ = obj.Set("date", func(call goja.FunctionCall) goja.Value {
		layout := "2006-01-02 15:04:05"
		if len(call.Arguments) > 0 {
			layout = call.Arguments[0].String()
		}
		return vm.ToValue(time.Now().Format(layout))
	})
	_ = obj.Set("time", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(time.Now().Unix())
	})
	_ = vm.Set("os", obj)
}
