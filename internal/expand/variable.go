package expand

import (
	"context"
	"strconv"
	"strings"
)

// expandVariable runs the variable phase. It scans text for `$name`
// or `$name[index]` references that are not inside a single-quoted run,
// cross-producting the result against any multi-element list value exactly
// like the brace phase does for `{a,b}` groups.
func (e *Expander) expandVariable(ctx context.Context, text string, style QuoteStyle) ([]string, ResultCode, error) {
	idx, inDouble, ok := scanQuoteAwareDollar(text)
	if !ok {
		return []string{text}, OK, nil
	}

	name, indexSpec, end, ok := scanVarRef(text, idx)
	if !ok {
		return nil, Error, nil
	}

	prefix, suffix := text[:idx], text[end:]
	values, isPath, defined := e.cfg.Env.Get(name)
	if !defined {
		values = nil
	}

	if indexSpec != "" {
		selected, err := selectIndices(values, indexSpec)
		if err != nil {
			return nil, Error, nil
		}
		values = selected
	}

	if inDouble {
		sep := " "
		if isPath {
			sep = ":"
		}
		joined := strings.Join(values, sep)
		rest, code, err := e.expandVariable(ctx, prefix+joined+suffix, style)
		return rest, code, err
	}

	if len(values) == 0 {
		// An unquoted empty/undefined list produces zero arguments,
		// killing this whole branch.
		return nil, OK, nil
	}

	var results []string
	for _, v := range values {
		rest, code, err := e.expandVariable(ctx, prefix+v+suffix, style)
		if err != nil || code != OK {
			return nil, code, err
		}
		results = append(results, rest...)
	}
	return results, OK, nil
}

// scanQuoteAwareDollar returns the index of the next `$` that is active
// (not inside a single-quoted run), and whether it sits inside a
// double-quoted run. A `$(` is skipped: it opens a command substitution,
// which the command-substitution phase handles.
func scanQuoteAwareDollar(s string) (idx int, inDouble bool, ok bool) {
	var quote byte
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
			if c == '$' && !(i+1 < len(s) && s[i+1] == '(') {
				return i, true, true
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '\\':
			if i+1 < len(s) {
				i++
			}
		case '$':
			if i+1 < len(s) && s[i+1] == '(' {
				continue
			}
			return i, false, true
		}
	}
	return 0, false, false
}

// scanVarRef parses a `$name` or `$name[spec]` reference starting at s[at].
func scanVarRef(s string, at int) (name, indexSpec string, end int, ok bool) {
	i := at + 1
	start := i
	for i < len(s) && isVarNameByte(s[i]) {
		i++
	}
	if i == start {
		return "", "", 0, false
	}
	name = s[start:i]

	if i < len(s) && s[i] == '[' {
		depth := 1
		j := i + 1
		specStart := j
		for j < len(s) && depth > 0 {
			switch s[j] {
			case '[':
				depth++
			case ']':
				depth--
			}
			j++
		}
		if depth != 0 {
			return "", "", 0, false
		}
		indexSpec = s[specStart : j-1]
		i = j
	}
	return name, indexSpec, i, true
}

func isVarNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// selectIndices resolves a `n` or `n..m` index spec (1-based, negative
// counts from the end) against values.
func selectIndices(values []string, spec string) ([]string, error) {
	n := len(values)
	parseOne := func(tok string) (int, error) {
		v, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return 0, err
		}
		if v < 0 {
			v = n + v + 1
		}
		return v, nil
	}

	if lo, hi, ok := strings.Cut(spec, ".."); ok {
		loN, err := parseOne(lo)
		if err != nil {
			return nil, err
		}
		hiN, err := parseOne(hi)
		if err != nil {
			return nil, err
		}
		step := 1
		if loN > hiN {
			step = -1
		}
		var out []string
		for i := loN; ; i += step {
			if i >= 1 && i <= n {
				out = append(out, values[i-1])
			}
			if i == hiN {
				break
			}
		}
		return out, nil
	}

	v, err := parseOne(spec)
	if err != nil {
		return nil, err
	}
	if v < 1 || v > n {
		return nil, nil
	}
	return []string{values[v-1]}, nil
}
