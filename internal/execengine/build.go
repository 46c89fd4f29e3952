package execengine

import (
	"context"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/fish-shell/fish-shell-sub008/internal/ast"
	"github.com/fish-shell/fish-shell-sub008/internal/builtin"
	"github.com/fish-shell/fish-shell-sub008/internal/expand"
	"github.com/fish-shell/fish-shell-sub008/internal/proc"
	"github.com/fish-shell/fish-shell-sub008/internal/redirect"
	"github.com/fish-shell/fish-shell-sub008/internal/token"
)

// mapStyle converts a token.Style (the AST's leading-quote record) into
// the expand.QuoteStyle the expander's entry point wants.
func mapStyle(s token.Style) expand.QuoteStyle {
	switch s {
	case token.StyleSingleQuoted:
		return expand.SingleQuoted
	case token.StyleDoubleQuoted:
		return expand.DoubleQuoted
	default:
		return expand.Unquoted
	}
}

// errExpansion marks a job abandoned because one of its arguments failed
// to expand; the job exits with status 121 instead of running.
var errExpansion = pkgerrors.New("expansion failed")

// expandWords runs every Argument node in ids through the six-phase
// expander, flattening the resulting CompletionReceiver entries into a
// plain word list (glob/brace expansion can turn one Argument into many
// words). A glob that matches nothing keeps its literal text.
func (e *Engine) expandWords(ctx context.Context, arena *ast.Arena, ids []ast.NodeID, commandPosition bool) ([]string, error) {
	exp := e.newExpander()
	var words []string
	for i, id := range ids {
		n := arena.Node(id)
		recv := expand.NewCompletionReceiver(0)
		code, err := exp.Expand(ctx, n.Text, mapStyle(n.Style), commandPosition && i == 0, recv)
		if err != nil {
			return nil, pkgerrors.Wrapf(errExpansion, "execengine: %q: %v", n.Text, err)
		}
		switch code {
		case expand.WildcardNoMatch:
			words = append(words, expand.Dequote(n.Text))
		case expand.Error, expand.Overflow:
			return nil, pkgerrors.Wrapf(errExpansion, "execengine: %q", n.Text)
		default:
			words = append(words, recv.Items()...)
		}
	}
	return words, nil
}

// buildJob walks one KindJob node into a proc.Job: one proc.Process per
// pipeline stage, with pipe plumbing and per-process redirections planned
// but not yet applied.
func (e *Engine) buildJob(ctx context.Context, arena *ast.Arena, jobID ast.NodeID) (*proc.Job, error) {
	jn := arena.Node(jobID)

	stmtIDs := make([]ast.NodeID, 0, len(jn.Pipeline))
	for i, pid := range jn.Pipeline {
		if i == 0 {
			stmtIDs = append(stmtIDs, pid)
			continue
		}
		cont := arena.Node(pid)
		stmtIDs = append(stmtIDs, cont.Inner)
	}

	processes := make([]*proc.Process, 0, len(stmtIDs))
	var cmdText []string
	for _, stID := range stmtIDs {
		p, text, err := e.buildProcess(ctx, arena, stID)
		if err != nil {
			return nil, err
		}
		processes = append(processes, p)
		cmdText = append(cmdText, text)
	}

	for _, p := range processes {
		if p.Type == proc.TypeExec && len(processes) > 1 {
			return nil, pkgerrors.New("execengine: exec: cannot be used in a pipeline")
		}
	}

	jobControl := e.decideJobControl()
	group := proc.NewJobGroup(strings.Join(cmdText, " | "), jobControl, jobControl && e.interactive)
	job := &proc.Job{
		Processes: processes,
		Group:     group,
		Flags:     proc.Flags{Negate: jn.Negate, IsGroupRoot: true},
		Properties: proc.Properties{
			InitialBackground: jn.Background,
		},
		Command: group.Command,
	}
	return job, nil
}

// buildProcess resolves the real branch a KindStatement points at
// (DecoratedStatement / BlockStatement / IfStatement / SwitchStatement)
// into one proc.Process, expanding its argv and redirections.
func (e *Engine) buildProcess(ctx context.Context, arena *ast.Arena, stmtID ast.NodeID) (*proc.Process, string, error) {
	st := arena.Node(stmtID)
	real := arena.Node(st.Inner)

	if isControlKind(real.Kind) {
		p := &proc.Process{Type: proc.TypeBlockNode}
		e.mu.Lock()
		e.blockRefs[p] = blockRef{arena: arena, id: st.Inner}
		e.mu.Unlock()
		return p, blockLabel(real.Kind), nil
	}

	if real.Kind != ast.KindDecoratedStatement {
		return nil, "", pkgerrors.Errorf("execengine: unexpected statement kind %v", real.Kind)
	}

	argv, err := e.expandWords(ctx, arena, real.Args, true)
	if err != nil {
		return nil, "", err
	}

	assigns, err := e.buildAssignments(ctx, arena, real.StmtAssigns)
	if err != nil {
		return nil, "", err
	}

	redirs, err := e.buildRedirections(ctx, arena, real.Redirections)
	if err != nil {
		return nil, "", err
	}

	if len(argv) == 0 {
		if len(assigns) == 0 {
			return nil, "", pkgerrors.New("execengine: empty command")
		}
		// A bare `NAME=value` stage: no command to run, status stays empty
		// so $pipestatus copies the neighboring slot.
		p := &proc.Process{Type: proc.TypeBuiltin, VariableAssignments: assigns, Redirections: redirs}
		return p, assigns[0].Name + "=...", nil
	}

	p := &proc.Process{
		Argv:                argv,
		VariableAssignments: assigns,
		Redirections:        redirs,
	}

	switch real.Decorator {
	case "exec":
		p.Type = proc.TypeExec
	case "builtin":
		p.Type = proc.TypeBuiltin
	case "command":
		p.Type = proc.TypeExternal
	default:
		if _, ok := e.lookupFunction(argv[0]); ok {
			p.Type = proc.TypeFunction
		} else if _, ok := builtin.Lookup(argv[0]); ok {
			p.Type = proc.TypeBuiltin
		} else {
			p.Type = proc.TypeExternal
		}
	}

	return p, strings.Join(argv, " "), nil
}

func blockLabel(k ast.Kind) string {
	switch k {
	case ast.KindIfStatement:
		return "if ..."
	case ast.KindSwitchStatement:
		return "switch ..."
	default:
		return "begin ..."
	}
}

func (e *Engine) buildAssignments(ctx context.Context, arena *ast.Arena, ids []ast.NodeID) ([]proc.VariableAssignment, error) {
	var out []proc.VariableAssignment
	for _, id := range ids {
		n := arena.Node(id)
		exp := e.newExpander()
		recv := expand.NewCompletionReceiver(0)
		if _, err := exp.Expand(ctx, n.Value(), expand.Unquoted, false, recv); err != nil {
			return nil, err
		}
		out = append(out, proc.VariableAssignment{Name: n.Name(), Values: recv.Items()})
	}
	return out, nil
}

func (e *Engine) buildRedirections(ctx context.Context, arena *ast.Arena, ids []ast.NodeID) ([]proc.RedirectionSpec, error) {
	var out []proc.RedirectionSpec
	for _, id := range ids {
		n := arena.Node(id)
		spec := proc.RedirectionSpec{SourceFD: int(n.SourceFD), Mode: int(n.Mode), DupFD: n.DupFD}
		if n.Mode != token.RedirDupFd {
			targetNode := arena.Node(n.Target)
			exp := e.newExpander()
			recv := expand.NewCompletionReceiver(2)
			if _, err := exp.Expand(ctx, targetNode.Text, mapStyle(targetNode.Style), false, recv); err != nil {
				return nil, err
			}
			words := recv.Items()
			if len(words) != 1 {
				return nil, pkgerrors.Errorf("execengine: redirection target must expand to one word, got %d", len(words))
			}
			spec.Target = words[0]
		}
		out = append(out, spec)
	}
	return out, nil
}

// toRedirectSpecs converts a Process's already-expanded redirections into
// internal/redirect.Spec values.
func toRedirectSpecs(specs []proc.RedirectionSpec) []redirect.Spec {
	out := make([]redirect.Spec, len(specs))
	for i, s := range specs {
		out[i] = redirect.Spec{
			SourceFD: s.SourceFD,
			Mode:     token.RedirMode(s.Mode),
			DupFD:    s.DupFD,
			Target:   s.Target,
		}
	}
	return out
}
