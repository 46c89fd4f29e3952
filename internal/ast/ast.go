// Package ast defines the shell's typed syntax tree. Nodes live in a
// per-parse Arena and are referred to by index (NodeID) rather than
// pointer: ownership stays with the arena, so there are no cycles.
// Visitors take (arena, id) rather than owning nodes.
package ast

import (
	"github.com/fish-shell/fish-shell-sub008/internal/sourcerange"
	"github.com/fish-shell/fish-shell-sub008/internal/token"
)

// NodeID indexes into an Arena. The zero value is invalid; a valid ID is
// always >= 1.
type NodeID int32

// Valid reports whether id refers to a real node.
func (id NodeID) Valid() bool { return id != 0 }

// Kind tags the branch or leaf kind of a Node.
type Kind int

const (
	KindInvalid Kind = iota
	KindJobList
	KindJob
	KindJobContinuation
	KindStatement
	KindDecoratedStatement
	KindBlockStatement
	KindIfStatement
	KindSwitchStatement
	KindArgument
	KindVariableAssignment
	KindKeyword
	KindRedirection
)

func (k Kind) String() string {
	switch k {
	case KindJobList:
		return "job_list"
	case KindJob:
		return "job"
	case KindJobContinuation:
		return "job_continuation"
	case KindStatement:
		return "statement"
	case KindDecoratedStatement:
		return "decorated_statement"
	case KindBlockStatement:
		return "block_statement"
	case KindIfStatement:
		return "if_statement"
	case KindSwitchStatement:
		return "switch_statement"
	case KindArgument:
		return "argument"
	case KindVariableAssignment:
		return "variable_assignment"
	case KindKeyword:
		return "keyword"
	case KindRedirection:
		return "redirection"
	default:
		return "invalid"
	}
}

// BlockHeaderKind identifies which of the four block-statement headers a
// KindBlockStatement node carries.
type BlockHeaderKind int

const (
	HeaderFor BlockHeaderKind = iota
	HeaderWhile
	HeaderFunction
	HeaderBegin
)

// Conjunction records whether a Job runs unconditionally, only after its
// predecessor in the same JobList succeeded (`&&`/`and`), or only after it
// failed (`||`/`or`).
type Conjunction int

const (
	ConjunctionNone Conjunction = iota
	ConjunctionAnd
	ConjunctionOr
)

// IfBranch is one `if`/`else if` arm: run Cond, and if it is truthy (exit
// status zero) with Cond.Negate honored at evaluation time, run Body.
type IfBranch struct {
	Cond NodeID // Job
	Body NodeID // JobList
}

// SwitchCase is one `case` arm of a switch statement.
type SwitchCase struct {
	Patterns []NodeID // Argument
	Body     NodeID   // JobList
}

// Node is a tagged union over every AST branch/leaf kind. Only the fields
// relevant to Kind are populated; see the per-kind comments. This mirrors
// keeps the AST a tagged union per branch kind rather than an interface
// hierarchy.
type Node struct {
	Kind  Kind
	Range sourcerange.SourceRange

	// KindJobList: ordered Job ids.
	Jobs []NodeID

	// KindJob.
	Negate      bool
	Pipeline    []NodeID // first element: Statement; rest: JobContinuation
	Background  bool
	Conjunction Conjunction // how this job relates to the previous job in its JobList

	// KindJobContinuation: the Statement following a `|`.
	Inner NodeID // also used by KindStatement to point at the real branch

	// KindStatement.Inner points at one of BlockStatement / IfStatement /
	// SwitchStatement / DecoratedStatement.

	// KindDecoratedStatement.
	Decorator    string // "", "command", "builtin", "exec"
	StmtAssigns  []NodeID // VariableAssignment, process-local (`FOO=bar cmd`)
	Args         []NodeID // Argument, in source order; Args[0] is the command word if len > 0
	Redirections []NodeID // Redirection, in source order

	// KindBlockStatement.
	HeaderKind   BlockHeaderKind
	ForVar       NodeID   // Argument (HeaderFor)
	ForItems     []NodeID // Argument (HeaderFor)
	WhileCond    NodeID   // Job (HeaderWhile)
	FuncName     NodeID   // Argument (HeaderFunction)
	FuncArgs     []NodeID // Argument: parameter names/options (HeaderFunction)
	Body         NodeID   // JobList (all header kinds)

	// KindIfStatement.
	Branches []IfBranch
	ElseBody NodeID // JobList, 0 if absent

	// KindSwitchStatement.
	Subject NodeID // Argument
	Cases   []SwitchCase

	// KindArgument: raw, unexpanded source text (may itself mix quote
	// styles, e.g. `'a'$b"c"`); Style records the *leading* style only and
	// is informational, expansion re-walks Text.
	Text  string
	Style token.Style

	// KindVariableAssignment: Raw is the full "NAME=value" text.
	Raw string

	// KindKeyword.
	Keyword string

	// KindRedirection.
	SourceFD int32
	Mode     token.RedirMode
	DupFD    int32
	Target   NodeID // Argument, the unexpanded redirection target
}

// Arena owns every node produced by one parse. Node 0 is reserved/invalid.
type Arena struct {
	nodes []Node
}

// NewArena creates an empty Arena.
func NewArena() *Arena {
	return &Arena{nodes: make([]Node, 1)} // index 0 reserved
}

// Add appends n to the arena and returns its id.
func (a *Arena) Add(n Node) NodeID {
	a.nodes = append(a.nodes, n)
	return NodeID(len(a.nodes) - 1)
}

// Node returns the node for id. Calling with an invalid id panics, since
// every NodeID the parser hands out is expected to be valid by
// construction.
func (a *Arena) Node(id NodeID) *Node {
	return &a.nodes[id]
}

// Len reports how many nodes (excluding the reserved zero slot) are in the
// arena.
func (a *Arena) Len() int {
	return len(a.nodes) - 1
}

// Name returns the assignment's variable name, parsed from Raw.
func (n Node) Name() string {
	for i := 0; i < len(n.Raw); i++ {
		if n.Raw[i] == '=' {
			return n.Raw[:i]
		}
	}
	return n.Raw
}

// Value returns the assignment's raw (unexpanded) value text.
func (n Node) Value() string {
	for i := 0; i < len(n.Raw); i++ {
		if n.Raw[i] == '=' {
			return n.Raw[i+1:]
		}
	}
	return ""
}
