// Package redirect turns one process's ordered redirection specs into a
// primitive (action, src, dst) sequence: Dup2, CloseFd, OpenAt. Paths
// are pre-opened here, in the parent, so a bad redirection surfaces as
// an error before any process is spawned; the caller (internal/execengine)
// replays the resulting Action list in the parent against a virtual fd
// table, which becomes the child's initial set of fds.
package redirect

import (
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/fish-shell/fish-shell-sub008/internal/log"
	"github.com/fish-shell/fish-shell-sub008/internal/token"
)

var logger = log.New(os.Stderr, "[redirect] ")

// ActionKind tags which of the three wire primitives an Action is.
type ActionKind int

const (
	// ActionDup2 duplicates Src onto Dst (`dup2(src, dst)`).
	ActionDup2 ActionKind = iota
	// ActionClose closes FD.
	ActionClose
	// ActionOpenAt associates an already-opened File (opened here, in the
	// parent, to surface errors early) with target fd Dst.
	ActionOpenAt
)

// Action is one step of the plan, applied in order.
type Action struct {
	Kind ActionKind
	Src  int // ActionDup2
	Dst  int // ActionDup2, ActionOpenAt: the resulting target fd
	FD   int // ActionClose

	// File is set for ActionOpenAt: the parent-opened handle that must end
	// up at Dst in the child (by dup2'ing its post-fork fd number, or by
	// extra-file plumbing, depending on how the caller spawns the process).
	File *os.File
	Path string // informational: the path File was opened from
}

// Spec is one parsed-and-expanded redirection (the expanded counterpart of
// an ast.Redirection node: Target has already been through internal/expand
// and resolved to exactly one path).
type Spec struct {
	SourceFD int
	Mode     token.RedirMode
	DupFD    int32 // valid when Mode == token.RedirDupFd; -1 means close
	Target   string
}

// PipeDup is an automatic pipe-wiring duplication placed ahead of any user
// redirection, so pipe fds dominate any user-supplied `>&1`.
// internal/execengine passes none to Build: it wires pipes into its fd
// table before replaying the plan.
type PipeDup struct {
	Src, Dst int
}

// Plan is the ordered action sequence plus every file this call opened,
// which the caller owns and must eventually close (after the child
// process has them, or immediately on a planning error for those already
// opened).
type Plan struct {
	Actions []Action
	Opened  []*os.File
}

// Build plans redirections for one process: pipeDups first, then specs in
// source order.
func Build(pipeDups []PipeDup, specs []Spec) (Plan, error) {
	var plan Plan

	for _, d := range pipeDups {
		plan.Actions = append(plan.Actions, Action{Kind: ActionDup2, Src: d.Src, Dst: d.Dst})
	}

	for _, spec := range specs {
		if err := plan.apply(spec); err != nil {
			closeAll(plan.Opened)
			wrapped := pkgerrors.Wrapf(err, "redirect: plan fd %d", spec.SourceFD)
			logger.Errorf("%v", wrapped)
			return Plan{}, wrapped
		}
	}
	return plan, nil
}

func (p *Plan) apply(spec Spec) error {
	if spec.Mode == token.RedirDupFd {
		if spec.DupFD < 0 {
			p.Actions = append(p.Actions, Action{Kind: ActionClose, FD: spec.SourceFD})
			return nil
		}
		p.Actions = append(p.Actions, Action{Kind: ActionDup2, Src: int(spec.DupFD), Dst: spec.SourceFD})
		return nil
	}

	flags, mode := openFlags(spec.Mode)
	f, err := os.OpenFile(spec.Target, flags, mode)
	if err != nil {
		return err
	}
	p.Opened = append(p.Opened, f)
	p.Actions = append(p.Actions, Action{
		Kind: ActionOpenAt,
		Dst:  spec.SourceFD,
		File: f,
		Path: spec.Target,
	})
	return nil
}

func openFlags(mode token.RedirMode) (int, os.FileMode) {
	switch mode {
	case token.RedirInput:
		return os.O_RDONLY, 0
	case token.RedirOverwrite:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, 0o644
	case token.RedirAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, 0o644
	case token.RedirNoClobber:
		return os.O_WRONLY | os.O_CREATE | os.O_EXCL, 0o644
	case token.RedirInputOutput:
		return os.O_RDWR | os.O_CREATE, 0o644
	default:
		return os.O_RDONLY, 0
	}
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
