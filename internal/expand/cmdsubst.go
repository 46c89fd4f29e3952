package expand

import (
	"context"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// expandCommandSubst runs the command-substitution phase. `(cmd)` and `$(cmd)`
// are both recognized; the command runs via e.cfg.CommandSubst, which owns
// actually parsing and executing it (this package only locates the
// substring and splices the captured output back in).
func (e *Expander) expandCommandSubst(ctx context.Context, text string, style QuoteStyle) ([]string, error) {
	start, end, inDouble, ok := findCommandSubst(text)
	if !ok {
		return []string{text}, nil
	}

	cmdStart := start + 1
	if text[start] == '$' {
		cmdStart = start + 2
	}
	cmd := text[cmdStart:end]
	prefix, suffix := text[:start], text[end+1:]

	if e.cfg.CommandSubst == nil {
		return nil, wrapErr("command substitution", errNoSubstituter)
	}

	output, _, err := e.cfg.CommandSubst.Substitute(ctx, cmd)
	if err != nil {
		return nil, wrapErr("command substitution", err)
	}

	if inDouble || style == DoubleQuoted {
		joined := strings.ReplaceAll(strings.TrimRight(output, "\n"), "\n", " ")
		return e.expandCommandSubst(ctx, prefix+joined+suffix, style)
	}

	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if output == "" {
		lines = nil
	}

	var results []string
	for _, line := range lines {
		rest, err := e.expandCommandSubst(ctx, prefix+line+suffix, style)
		if err != nil {
			return nil, err
		}
		results = append(results, rest...)
	}
	return results, nil
}

// findCommandSubst locates the first active (non-single-quoted) `(...)` or
// `$(...)` span, returning the index of the opening paren (or the `$`
// before it) and the index of the matching close paren.
func findCommandSubst(s string) (start, end int, inDouble bool, ok bool) {
	var quote byte
	depth := 0
	start = -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote == '\'' {
			if c == '\\' && i+1 < len(s) && (s[i+1] == '\'' || s[i+1] == '\\') {
				i++
				continue
			}
			if c == '\'' {
				quote = 0
			}
			continue
		}
		if quote == '"' {
			if c == '\\' && i+1 < len(s) {
				i++
				continue
			}
			if c == '"' {
				quote = 0
				continue
			}
		}

		switch c {
		case '\'':
			if quote == 0 {
				quote = '\''
			}
		case '"':
			if quote == 0 {
				quote = '"'
			}
		case '(':
			if start == -1 {
				st := i
				if i > 0 && s[i-1] == '$' {
					st = i - 1
				}
				start = st
				inDouble = quote == '"'
			}
			if start != -1 {
				depth++
			}
		case ')':
			if start != -1 {
				depth--
				if depth == 0 {
					return start, i, inDouble, true
				}
			}
		}
	}
	return 0, 0, false, false
}

var errNoSubstituter = pkgerrors.New("no command substituter configured")
