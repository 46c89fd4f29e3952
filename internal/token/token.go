// Package token implements the shell's streaming tokenizer: a lexer over
// a command-line string that emits one typed, source-ranged token at a
// time. State is just an index plus a few option flags.
package token

import (
	"strings"
	"unicode/utf8"

	"github.com/fish-shell/fish-shell-sub008/internal/sourcerange"
)

// Kind identifies the lexical category of a Token.
type Kind int

const (
	// KindString is an unquoted, single-quoted, or double-quoted argument.
	KindString Kind = iota
	// KindPipe is the `|` pipe operator.
	KindPipe
	// KindRedirection is a redirection operator (`<`, `>`, `>>`, `<&`, `>&`,
	// `&>`, `2>`, `N<`, ...).
	KindRedirection
	// KindBackground is the `&` backgrounding operator.
	KindBackground
	// KindAndAnd is the `&&` conjunction.
	KindAndAnd
	// KindOrOr is the `||` conjunction.
	KindOrOr
	// KindEnd is a statement terminator: `;` or `\n`.
	KindEnd
	// KindComment is a `#...` comment, up to but excluding the newline.
	KindComment
	// KindError is a malformed token; Range covers the offending text and
	// Error names the failure.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindPipe:
		return "pipe"
	case KindRedirection:
		return "redirection"
	case KindBackground:
		return "background"
	case KindAndAnd:
		return "andand"
	case KindOrOr:
		return "oror"
	case KindEnd:
		return "end"
	case KindComment:
		return "comment"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Style records how a KindString token was quoted, since expansion behaves
// differently inside single vs. double quotes.
type Style int

const (
	// StyleUnquoted is an argument with no surrounding quotes (may still
	// contain quoted sub-runs).
	StyleUnquoted Style = iota
	// StyleSingleQuoted is a `'...'` literal: no expansion except `\'` and
	// `\\`.
	StyleSingleQuoted
	// StyleDoubleQuoted is a `"..."` string: `$`, `\`, and backtick retain
	// meaning.
	StyleDoubleQuoted
)

// ErrorCode identifies why a KindError token was produced.
type ErrorCode int

const (
	// ErrUnterminatedQuote indicates a quote was opened but never closed.
	ErrUnterminatedQuote ErrorCode = iota + 1
	// ErrUnterminatedEscape indicates a trailing unescaped backslash at EOF.
	ErrUnterminatedEscape
	// ErrInvalidRedirection indicates a redirection operator with a
	// malformed fd prefix (e.g. a fd number too large to represent).
	ErrInvalidRedirection
)

// RedirMode is the redirection disposition carried by a KindRedirection
// token.
type RedirMode int

const (
	RedirInput RedirMode = iota
	RedirOverwrite
	RedirAppend
	RedirNoClobber
	RedirInputOutput
	RedirDupFd
)

// Token is one lexical unit of source text.
type Token struct {
	Kind  Kind
	Range sourcerange.SourceRange

	// Style is meaningful only for KindString.
	Style Style
	// MayBeVariableAssignment is set on KindString tokens whose unquoted
	// prefix looks like `IDENT=`.
	MayBeVariableAssignment bool

	// SourceFD, Mode, and DupFD are meaningful only for KindRedirection.
	SourceFD int32
	Mode     RedirMode
	DupFD    int32 // valid when Mode == RedirDupFd

	// Error is meaningful only for KindError.
	Error ErrorCode
}

// Text returns the token's source text.
func (t Token) Text(src string) string {
	return t.Range.Slice(src)
}

// metachars that terminate an unquoted argument run.
const metachars = "|&;\n<>#"

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r'
}

// Tokenizer is a streaming lexer over a single command-line string.
type Tokenizer struct {
	src    string
	pos    int
	len    int
	accept struct {
		comments bool
	}
	continueOnError bool
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithComments enables emission of KindComment tokens; by default comments
// are skipped silently.
func WithComments() Option {
	return func(t *Tokenizer) { t.accept.comments = true }
}

// WithErrorRecovery causes the Tokenizer to resume scanning after an error
// token instead of stopping.
func WithErrorRecovery() Option {
	return func(t *Tokenizer) { t.continueOnError = true }
}

// New creates a Tokenizer over src.
func New(src string, opts ...Option) *Tokenizer {
	t := &Tokenizer{src: src, len: len(src)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tokenize runs a Tokenizer to completion and returns every token. No
// trailing KindEnd is synthesized at end of input.
func Tokenize(src string, opts ...Option) []Token {
	t := New(src, opts...)
	var out []Token
	for {
		tok, ok := t.Next()
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}

// Next returns the next token, or ok=false at end of input.
func (t *Tokenizer) Next() (Token, bool) {
	for {
		t.skipInsignificantSpace()
		if t.pos >= t.len {
			return Token{}, false
		}

		start := t.pos
		c := t.src[t.pos]

		switch {
		case c == '\n' || c == ';':
			t.pos++
			return Token{Kind: KindEnd, Range: t.rangeFrom(start)}, true

		case c == '#':
			t.skipComment()
			if t.accept.comments {
				return Token{Kind: KindComment, Range: t.rangeFrom(start)}, true
			}
			continue

		case c == '|':
			if t.peekByte(1) == '|' {
				t.pos += 2
				return Token{Kind: KindOrOr, Range: t.rangeFrom(start)}, true
			}
			t.pos++
			return Token{Kind: KindPipe, Range: t.rangeFrom(start)}, true

		case c == '&':
			if t.peekByte(1) == '&' {
				t.pos += 2
				return Token{Kind: KindAndAnd, Range: t.rangeFrom(start)}, true
			}
			if t.peekByte(1) == '>' {
				return t.lexRedirection()
			}
			t.pos++
			return Token{Kind: KindBackground, Range: t.rangeFrom(start)}, true

		case c >= '0' && c <= '9' && t.looksLikeFDRedirection():
			return t.lexRedirection()

		case c == '<' || c == '>':
			return t.lexRedirection()

		case c == '\'' || c == '"':
			return t.lexQuoted(c)

		default:
			return t.lexArgument()
		}
	}
}

func (t *Tokenizer) rangeFrom(start int) sourcerange.SourceRange {
	return sourcerange.New(uint32(start), uint32(t.pos-start))
}

func (t *Tokenizer) peekByte(n int) byte {
	if t.pos+n >= t.len {
		return 0
	}
	return t.src[t.pos+n]
}

// skipInsignificantSpace consumes spaces/tabs and backslash-newline line
// continuations, but leaves `\n` itself (a terminator) and `#` (a comment
// start) alone.
func (t *Tokenizer) skipInsignificantSpace() {
	for t.pos < t.len {
		c := t.src[t.pos]
		if isSpace(rune(c)) {
			t.pos++
			continue
		}
		if c == '\\' && t.peekByte(1) == '\n' {
			t.pos += 2
			continue
		}
		break
	}
}

func (t *Tokenizer) skipComment() {
	for t.pos < t.len && t.src[t.pos] != '\n' {
		t.pos++
	}
}

// looksLikeFDRedirection reports whether the digits starting at t.pos are
// immediately followed by `<` or `>`, i.e. they're a source-fd prefix
// ("2>") rather than an ordinary argument ("123").
func (t *Tokenizer) looksLikeFDRedirection() bool {
	i := t.pos
	for i < t.len && t.src[i] >= '0' && t.src[i] <= '9' {
		i++
	}
	return i < t.len && (t.src[i] == '<' || t.src[i] == '>')
}

func (t *Tokenizer) lexRedirection() (Token, bool) {
	start := t.pos
	sourceFD := int32(-1)

	if t.src[t.pos] == '&' {
		// &> means "redirect both stdout and stderr"; SourceFD defaults to
		// 1 below and the token is marked with DupFD -2.
		t.pos++ // consume '&'
	} else {
		digitsStart := t.pos
		for t.pos < t.len && t.src[t.pos] >= '0' && t.src[t.pos] <= '9' {
			t.pos++
		}
		if t.pos > digitsStart {
			n := int32(0)
			for _, d := range t.src[digitsStart:t.pos] {
				n = n*10 + int32(d-'0')
			}
			sourceFD = n
		}
	}

	if t.pos >= t.len || (t.src[t.pos] != '<' && t.src[t.pos] != '>') {
		t.pos = start + 1
		return Token{Kind: KindError, Range: t.rangeFrom(start), Error: ErrInvalidRedirection}, true
	}

	dir := t.src[t.pos]
	t.pos++

	mode := RedirOverwrite
	dupFD := int32(-1)

	switch {
	case dir == '<' && t.peekByte(0) == '&':
		t.pos++
		mode = RedirDupFd
		dupFD = t.lexFDTarget()
	case dir == '>' && t.peekByte(0) == '&':
		t.pos++
		mode = RedirDupFd
		dupFD = t.lexFDTarget()
	case dir == '<':
		mode = RedirInput
	case dir == '>' && t.peekByte(0) == '>':
		t.pos++
		mode = RedirAppend
	case dir == '>' && t.peekByte(0) == '?':
		t.pos++
		mode = RedirNoClobber
	default:
		mode = RedirOverwrite
	}

	if sourceFD == -1 {
		if dir == '<' {
			sourceFD = 0
		} else {
			sourceFD = 1
		}
	}

	tok := Token{
		Kind:     KindRedirection,
		Range:    t.rangeFrom(start),
		SourceFD: sourceFD,
		Mode:     mode,
		DupFD:    dupFD,
	}
	if start < t.len && t.src[start] == '&' {
		// &> / &>> applies to both stdout(1) and stderr(2); callers expand
		// this into two redirections. Mark via DupFD sentinel -2.
		tok.DupFD = -2
	}
	return tok, true
}

// lexFDTarget reads a trailing fd number (possibly `-` for "close") after
// `<&`/`>&`.
func (t *Tokenizer) lexFDTarget() int32 {
	if t.pos < t.len && t.src[t.pos] == '-' {
		t.pos++
		return -1
	}
	start := t.pos
	for t.pos < t.len && t.src[t.pos] >= '0' && t.src[t.pos] <= '9' {
		t.pos++
	}
	if t.pos == start {
		return -1
	}
	n := int32(0)
	for _, d := range t.src[start:t.pos] {
		n = n*10 + int32(d-'0')
	}
	return n
}

func (t *Tokenizer) lexQuoted(quote byte) (Token, bool) {
	start := t.pos
	t.pos++ // opening quote
	style := StyleSingleQuoted
	if quote == '"' {
		style = StyleDoubleQuoted
	}

	for t.pos < t.len {
		c := t.src[t.pos]
		if c == '\\' && t.pos+1 < t.len {
			t.pos += 2
			continue
		}
		if c == quote {
			t.pos++
			return t.finishArgument(start, style)
		}
		t.pos++
	}

	return Token{Kind: KindError, Range: t.rangeFrom(start), Error: ErrUnterminatedQuote}, true
}

// finishArgument continues lexing an argument after a quoted run, allowing
// forms like `'a'b"c"` to combine into one token, and records
// MayBeVariableAssignment based on the unquoted prefix.
func (t *Tokenizer) finishArgument(start int, firstStyle Style) (Token, bool) {
	for t.pos < t.len {
		c := t.src[t.pos]
		if isSpace(rune(c)) || c == '\n' || strings.IndexByte(metachars, c) >= 0 {
			break
		}
		switch c {
		case '\'', '"':
			q := c
			t.pos++
			for t.pos < t.len {
				if t.src[t.pos] == '\\' && t.pos+1 < t.len {
					t.pos += 2
					continue
				}
				if t.src[t.pos] == q {
					t.pos++
					break
				}
				t.pos++
			}
		case '\\':
			if t.pos+1 < t.len {
				t.pos += 2
			} else {
				t.pos++
			}
		default:
			_, size := utf8.DecodeRuneInString(t.src[t.pos:])
			t.pos += size
		}
	}

	rng := t.rangeFrom(start)
	text := rng.Slice(t.src)
	return Token{
		Kind:                    KindString,
		Range:                   rng,
		Style:                   firstStyle,
		MayBeVariableAssignment: looksLikeAssignment(text),
	}, true
}

func (t *Tokenizer) lexArgument() (Token, bool) {
	start := t.pos
	return t.finishArgument(start, StyleUnquoted)
}

// looksLikeAssignment reports whether text's unquoted prefix matches
// `IDENT=`.
func looksLikeAssignment(text string) bool {
	i := 0
	if i >= len(text) || !isIdentStart(text[i]) {
		return false
	}
	i++
	for i < len(text) && isIdentCont(text[i]) {
		i++
	}
	return i < len(text) && text[i] == '='
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
