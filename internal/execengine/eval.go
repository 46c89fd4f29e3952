package execengine

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"

	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/parser"
)

func (e *Engine) atomicAdd(addr *int32, delta int32) {
	atomic.AddInt32(addr, delta)
}

func setLocalOptions() env.SetOptions {
	return env.SetOptions{Scope: env.ScopeLocal}
}

// runCaptured parses and evaluates cmd with stdout rerouted into a pipe,
// returning everything the nested job list wrote. A goroutine drains the
// read end while the jobs run, since an external stage can fill the pipe
// buffer long before its job list returns.
func (e *Engine) runCaptured(ctx context.Context, cmd string) (string, int, error) {
	arena, root, errs := parser.Parse(cmd)
	if len(errs) > 0 {
		return "", 121, pkgerrors.Errorf("execengine: %s", errs[0].Msg)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return "", 1, pkgerrors.Wrap(err, "execengine: capture pipe")
	}

	done := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(r)
		r.Close()
		done <- string(b)
	}()

	prev := e.captureOut
	e.captureOut = w
	status := e.RunJobList(ctx, arena, root)
	e.captureOut = prev

	w.Close()
	return <-done, status, nil
}

// callFunctionCaptured calls def with its stdout rerouted into a pipe and
// returns everything the body wrote, the same capture mechanism command
// substitution uses.
func (e *Engine) callFunctionCaptured(ctx context.Context, def *functionDef, args []string) (string, int, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return "", 1, pkgerrors.Wrap(err, "execengine: capture pipe")
	}

	done := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(r)
		r.Close()
		done <- string(b)
	}()

	prev := e.captureOut
	e.captureOut = w
	status := e.callFunction(ctx, def, args)
	e.captureOut = prev

	w.Close()
	return <-done, status, nil
}

// abbrExpander adapts the abbreviation store for the expander: when a
// matched replacement names a registered function, the function is
// invoked (with the original token as its argument) and its captured
// output becomes the replacement text.
type abbrExpander struct{ e *Engine }

func (a abbrExpander) Expand(token string, commandPosition bool) (string, int, bool) {
	repl, off, ok := a.e.Abbrevs.Expand(token, commandPosition)
	if !ok {
		return "", 0, false
	}
	if def, isFunc := a.e.lookupFunction(strings.TrimSpace(repl)); isFunc {
		out, _, err := a.e.callFunctionCaptured(context.Background(), def, []string{token})
		if err != nil {
			logger.Errorf("abbr %q: %v", token, err)
			return repl, off, true
		}
		repl = strings.TrimRight(out, "\n")
		off = len(repl)
	}
	return repl, off, true
}

// callFunction pushes a shadowing env frame, binds $argv (and any declared
// parameter names positionally), and evaluates the function body. A
// `return` inside the body unwinds to here, not past it.
func (e *Engine) callFunction(ctx context.Context, def *functionDef, args []string) int {
	e.EnvStack.PushFrame(true)
	defer e.EnvStack.PopFrame()

	e.EnvStack.Set("argv", args, env.SetOptions{Scope: env.ScopeLocal})
	i := 0
	for _, name := range def.Params {
		if strings.HasPrefix(name, "-") {
			continue // function options, not parameter names
		}
		if i < len(args) {
			e.EnvStack.Set(name, []string{args[i]}, env.SetOptions{Scope: env.ScopeLocal})
		} else {
			e.EnvStack.Set(name, nil, env.SetOptions{Scope: env.ScopeLocal})
		}
		i++
	}

	status := e.RunJobList(ctx, def.Arena, def.Body)
	if e.returnRequested {
		e.returnRequested = false
		status = e.returnCode
	}
	return status
}

// runSourceInline evaluates src in the current scope with $argv rebound,
// the way `source file.fish arg...` behaves: definitions and variable
// changes land in the caller's scopes, only $argv is scoped to the sourced
// file.
func (e *Engine) runSourceInline(src string, args []string) int {
	arena, root, errs := parser.Parse(src)
	if len(errs) > 0 {
		for _, pe := range errs {
			logger.Errorf("source: %s", pe.Msg)
		}
		return 2
	}

	e.EnvStack.PushFrame(false)
	defer e.EnvStack.PopFrame()
	e.EnvStack.Set("argv", args, env.SetOptions{Scope: env.ScopeLocal})

	status := e.RunJobList(context.Background(), arena, root)
	if e.returnRequested {
		e.returnRequested = false
		status = e.returnCode
	}
	return status
}
