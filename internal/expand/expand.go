// Package expand turns one raw argument token into zero or more
// completed strings by running the six expansion phases in order:
// abbreviation, tilde, brace, variable, command substitution, glob. The
// command substitution and abbreviation phases are supplied by the caller
// as interfaces so this package has no dependency on the execution
// engine.
package expand

import (
	"context"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/fish-shell/fish-shell-sub008/internal/log"
)

var logger = log.New(os.Stderr, "[expand] ")

// ResultCode is the outcome of expanding one token.
type ResultCode int

const (
	// OK means every produced string was accepted.
	OK ResultCode = iota
	// Error means a substitution failed (bad command substitution, bad
	// variable index, ...).
	Error
	// WildcardNoMatch means a glob pattern matched nothing; the caller may
	// keep the literal pattern text depending on context.
	WildcardNoMatch
	// Overflow means the CompletionReceiver's cap was reached.
	Overflow
)

// Default caps
const (
	DefaultCap    = 512 * 1024
	BackgroundCap = 512
)

// Environment is the read side of the variable scope stack the variable
// expansion phase needs. A nil []string (ok == true) is a defined-but-empty
// variable; ok == false means undefined.
type Environment interface {
	Get(name string) (value []string, isPathVar bool, ok bool)
	Home() (string, bool)
	UserHome(user string) (string, bool)
}

// AbbreviationExpander is phase 1. It is only consulted in command
// position; implementations own cycle detection.
type AbbreviationExpander interface {
	Expand(token string, commandPosition bool) (replacement string, cursorOffset int, ok bool)
}

// CommandSubstituter runs one parenthesized command and returns its
// captured stdout, exit status, and any execution error.
type CommandSubstituter interface {
	Substitute(ctx context.Context, cmd string) (output string, status int, err error)
}

// Config wires the phases that need collaborators. Abbreviations and
// CommandSubst may be nil; Env must not be.
type Config struct {
	Abbreviations AbbreviationExpander
	CommandSubst  CommandSubstituter
	Env           Environment
	Cap           int // 0 means DefaultCap
}

// Expander runs the six-phase pipeline over one token at a time.
type Expander struct {
	cfg Config
}

// New creates an Expander. cfg.Env must be non-nil.
func New(cfg Config) *Expander {
	if cfg.Cap == 0 {
		cfg.Cap = DefaultCap
	}
	return &Expander{cfg: cfg}
}

// QuoteStyle mirrors internal/token.Style for the leading quoting of an
// argument. Expand takes it directly rather than importing internal/token,
// so callers that already parsed an internal/ast.Argument can pass its
// Style field without this package pulling in the tokenizer.
type QuoteStyle int

const (
	Unquoted QuoteStyle = iota
	SingleQuoted
	DoubleQuoted
)

// Expand expands one raw argument token (as it appeared in source,
// including any embedded quote characters) into out. commandPosition
// selects whether phase 1 (abbreviation) applies.
func (e *Expander) Expand(ctx context.Context, token string, style QuoteStyle, commandPosition bool, out *CompletionReceiver) (ResultCode, error) {
	text := token

	if style != SingleQuoted && commandPosition && e.cfg.Abbreviations != nil {
		if repl, _, ok := e.cfg.Abbreviations.Expand(text, commandPosition); ok {
			text = repl
		}
	}

	if style == SingleQuoted {
		if !out.Add(dequote(text)) {
			return Overflow, nil
		}
		return OK, nil
	}

	text, err := e.expandTilde(text, style)
	if err != nil {
		return Error, err
	}

	braceResults, err := expandBrace(text, style)
	if err != nil {
		return Error, err
	}

	for _, b := range braceResults {
		varResults, code, err := e.expandVariable(ctx, b, style)
		if err != nil {
			return Error, err
		}
		if code != OK {
			return code, nil
		}

		for _, v := range varResults {
			subResults, err := e.expandCommandSubst(ctx, v, style)
			if err != nil {
				return Error, err
			}

			for _, s := range subResults {
				if style == DoubleQuoted || !unquotedGlobChars(s) {
					if !out.Add(dequote(s)) {
						return Overflow, nil
					}
					continue
				}
				matches, err := expandGlob(dequote(s))
				if err != nil {
					return Error, err
				}
				if len(matches) == 0 {
					return WildcardNoMatch, nil
				}
				for _, m := range matches {
					if !out.Add(m) {
						return Overflow, nil
					}
				}
			}
		}
	}

	return OK, nil
}

// CompletionReceiver is a bounded sink for expansion results; Add
// refuses further strings once the cap is hit.
type CompletionReceiver struct {
	cap        int
	items      []string
	overflowed bool
}

// NewCompletionReceiver creates a receiver that accepts at most cap items.
// cap <= 0 means DefaultCap.
func NewCompletionReceiver(cap int) *CompletionReceiver {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &CompletionReceiver{cap: cap}
}

// Add appends s, returning false (and marking the receiver overflowed) once
// the cap is reached.
func (r *CompletionReceiver) Add(s string) bool {
	if len(r.items) >= r.cap {
		r.overflowed = true
		return false
	}
	r.items = append(r.items, s)
	return true
}

// Items returns every string accepted so far.
func (r *CompletionReceiver) Items() []string { return r.items }

// Overflowed reports whether Add has ever refused an item.
func (r *CompletionReceiver) Overflowed() bool { return r.overflowed }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := pkgerrors.Wrapf(err, "expand: %s", op)
	logger.Errorf("%v", wrapped)
	return wrapped
}
