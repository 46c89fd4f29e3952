package execengine

import (
	"context"
	"path"

	"github.com/fish-shell/fish-shell-sub008/internal/ast"
	"github.com/fish-shell/fish-shell-sub008/internal/event"
)

// evalControl runs one control-structure node (If/Switch/Block) inline on
// the calling goroutine, pushing/popping an env block frame around it.
func (e *Engine) evalControl(ctx context.Context, arena *ast.Arena, id ast.NodeID) int {
	n := arena.Node(id)
	switch n.Kind {
	case ast.KindIfStatement:
		return e.evalIf(ctx, arena, n)
	case ast.KindSwitchStatement:
		return e.evalSwitch(ctx, arena, n)
	case ast.KindBlockStatement:
		return e.evalBlock(ctx, arena, n)
	default:
		return 1
	}
}

func (e *Engine) evalIf(ctx context.Context, arena *ast.Arena, n *ast.Node) int {
	for _, br := range n.Branches {
		status := e.runJob(ctx, arena, br.Cond)
		if status == 0 {
			return e.runBlockBody(ctx, arena, br.Body)
		}
	}
	if n.ElseBody != 0 {
		return e.runBlockBody(ctx, arena, n.ElseBody)
	}
	return 0
}

func (e *Engine) evalSwitch(ctx context.Context, arena *ast.Arena, n *ast.Node) int {
	subjWords, err := e.expandWords(ctx, arena, []ast.NodeID{n.Subject}, false)
	if err != nil || len(subjWords) == 0 {
		return 1
	}
	subject := subjWords[0]

	for _, c := range n.Cases {
		patterns, err := e.expandWords(ctx, arena, c.Patterns, false)
		if err != nil {
			continue
		}
		for _, pat := range patterns {
			if ok, _ := path.Match(pat, subject); ok {
				return e.runBlockBody(ctx, arena, c.Body)
			}
		}
	}
	return 0
}

func (e *Engine) evalBlock(ctx context.Context, arena *ast.Arena, n *ast.Node) int {
	switch n.HeaderKind {
	case ast.HeaderFunction:
		return e.evalFunctionDef(arena, n)
	case ast.HeaderWhile:
		return e.evalWhile(ctx, arena, n)
	case ast.HeaderFor:
		return e.evalFor(ctx, arena, n)
	default: // HeaderBegin
		return e.runBlockBody(ctx, arena, n.Body)
	}
}

// evalFunctionDef registers the block rather than running it. Event
// options (`--on-process-exit PID`, `--on-variable NAME`, ...) are split
// off the parameter list and become bus registrations that call the
// function when a matching event fires.
func (e *Engine) evalFunctionDef(arena *ast.Arena, n *ast.Node) int {
	nameNode := arena.Node(n.FuncName)
	raw := make([]string, 0, len(n.FuncArgs))
	for _, id := range n.FuncArgs {
		raw = append(raw, arena.Node(id).Text)
	}

	name := nameNode.Text
	var params []string
	for i := 0; i < len(raw); i++ {
		kind, isEvent := eventOptionKind(raw[i])
		if !isEvent {
			params = append(params, raw[i])
			continue
		}
		pattern := ""
		if i+1 < len(raw) {
			pattern = raw[i+1]
			i++
		}
		if kind == event.KindVariable && pattern != "" {
			e.EnvStack.Observe(pattern)
		}
		e.Bus.Register(kind, pattern, func(ev event.Event) error {
			def, ok := e.lookupFunction(name)
			if !ok {
				return nil
			}
			e.callFunction(context.Background(), def, append([]string{ev.Arg}, ev.Argv...))
			return nil
		})
	}

	e.RegisterFunction(name, params, n.Body, arena)
	return 0
}

func eventOptionKind(opt string) (event.Kind, bool) {
	switch opt {
	case "--on-process-exit":
		return event.KindProcessExit, true
	case "--on-job-exit":
		return event.KindJobExit, true
	case "--on-variable":
		return event.KindVariable, true
	case "--on-signal":
		return event.KindSignal, true
	case "--on-event":
		return event.KindGeneric, true
	default:
		return event.Kind(0), false
	}
}

func (e *Engine) evalWhile(ctx context.Context, arena *ast.Arena, n *ast.Node) int {
	status := 0
	for {
		if e.exitRequested || e.returnRequested {
			break
		}
		cond := e.runJob(ctx, arena, n.WhileCond)
		if cond != 0 {
			break
		}
		status = e.runBlockBody(ctx, arena, n.Body)
	}
	return status
}

func (e *Engine) evalFor(ctx context.Context, arena *ast.Arena, n *ast.Node) int {
	items, err := e.expandWords(ctx, arena, n.ForItems, false)
	if err != nil {
		return 1
	}
	varName := arena.Node(n.ForVar).Text
	e.EnvStack.PushFrame(false)
	defer e.EnvStack.PopFrame()
	status := 0
	for _, item := range items {
		if e.exitRequested || e.returnRequested {
			break
		}
		e.EnvStack.Set(varName, []string{item}, setLocalOptions())
		status = e.runBlockBody(ctx, arena, n.Body)
	}
	return status
}

// runBlockBody evaluates a JobList node as a block body inside its own
// non-shadowing env frame, tracking block depth for `status is-block`.
func (e *Engine) runBlockBody(ctx context.Context, arena *ast.Arena, body ast.NodeID) int {
	e.pushBlock()
	defer e.popBlock()
	e.EnvStack.PushFrame(false)
	defer e.EnvStack.PopFrame()
	return e.RunJobList(ctx, arena, body)
}

func (e *Engine) pushBlock() { e.atomicAdd(&e.blockDepth, 1) }
func (e *Engine) popBlock()  { e.atomicAdd(&e.blockDepth, -1) }
