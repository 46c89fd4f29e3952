// Package parser implements the fish core's recursive-descent parser:
// source text, already split into tokens by internal/token, becomes a
// typed internal/ast tree, recovering at job-list boundaries so one bad
// job never discards the rest of the input.
package parser

import (
	"fmt"

	"github.com/fish-shell/fish-shell-sub008/internal/ast"
	"github.com/fish-shell/fish-shell-sub008/internal/sourcerange"
	"github.com/fish-shell/fish-shell-sub008/internal/token"
)

// Parse tokenizes and parses src, returning the arena, the root JobList id,
// and any parse errors encountered. Parsing never aborts on the first
// error: it records the error and resumes at the next job-list boundary,
// Downstream execution must refuse to run an AST that
// contains any ParseError.
func Parse(src string) (*ast.Arena, ast.NodeID, []ParseError) {
	p := &parser{
		src:   src,
		toks:  token.Tokenize(src, token.WithErrorRecovery()),
		arena: ast.NewArena(),
	}
	root := p.parseJobList()
	return p.arena, root, p.errs
}

type parser struct {
	src   string
	toks  []token.Token
	pos   int
	arena *ast.Arena
	errs  []ParseError
}

func (p *parser) atEOF() bool { return p.pos >= len(p.toks) }

func (p *parser) cur() (token.Token, bool) {
	if p.atEOF() {
		return token.Token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) kind() token.Kind {
	tok, ok := p.cur()
	if !ok {
		return token.KindEnd // EOF behaves like an implicit terminator
	}
	return tok.Kind
}

func (p *parser) advance() token.Token {
	tok, ok := p.cur()
	if ok {
		p.pos++
	}
	return tok
}

func (p *parser) text(tok token.Token) string {
	return tok.Text(p.src)
}

// isKeyword reports whether the current token is an unquoted string token
// equal to kw; quoting a reserved word (e.g. `"if"`) makes it an ordinary
// argument, never a keyword, matching how real shells disambiguate.
func (p *parser) isKeyword(kw string) bool {
	tok, ok := p.cur()
	if !ok || tok.Kind != token.KindString || tok.Style != token.StyleUnquoted {
		return false
	}
	return p.text(tok) == kw
}

func (p *parser) isKeywordIn(kws ...string) bool {
	for _, kw := range kws {
		if p.isKeyword(kw) {
			return true
		}
	}
	return false
}

func (p *parser) curRange() sourcerange.SourceRange {
	if tok, ok := p.cur(); ok {
		return tok.Range
	}
	return sourcerange.New(uint32(len(p.src)), 0)
}

func (p *parser) pushErr(code ErrorCode, rng sourcerange.SourceRange, format string, args ...interface{}) {
	p.errs = append(p.errs, ParseError{Code: code, Range: rng, Msg: fmt.Sprintf(format, args...)})
}

// skipToBoundary consumes tokens until a KindEnd, EOF, or one of stop's
// keywords is reached, implementing the "unwinds to the nearest job_list
// item boundary" recovery policy.
func (p *parser) skipToBoundary(stop []string) {
	for {
		if p.atEOF() || p.kind() == token.KindEnd || p.atStopKeyword(stop) {
			return
		}
		p.advance()
	}
}

func (p *parser) atStopKeyword(stop []string) bool {
	if len(stop) == 0 {
		return false
	}
	return p.isKeywordIn(stop...)
}

// parseJobList implements `job_list := (job (end job_list)?)?`, extended
// with `&&`/`||` chaining between jobs.
func (p *parser) parseJobList(stop ...string) ast.NodeID {
	start := p.curRange().Start
	var jobs []ast.NodeID

	for {
		for !p.atEOF() && p.kind() == token.KindEnd {
			p.advance()
		}
		if p.atEOF() || p.atStopKeyword(stop) {
			break
		}

		job, ok := p.parseJob(ast.ConjunctionNone)
		if !ok {
			p.skipToBoundary(stop)
			continue
		}
		jobs = append(jobs, job)

		for p.kind() == token.KindAndAnd || p.kind() == token.KindOrOr {
			conj := ast.ConjunctionAnd
			if p.kind() == token.KindOrOr {
				conj = ast.ConjunctionOr
			}
			p.advance()
			nextJob, ok := p.parseJob(conj)
			if !ok {
				p.skipToBoundary(stop)
				break
			}
			jobs = append(jobs, nextJob)
		}
	}

	end := start
	if len(jobs) > 0 {
		end = p.arena.Node(jobs[len(jobs)-1]).Range.End()
	}
	return p.arena.Add(ast.Node{
		Kind: ast.KindJobList,
		Jobs: jobs,
		Range: sourcerange.New(start, end-start),
	})
}

// parseJob implements:
//
//	job := ("not"|"!")* statement (pipe statement)* background?
//
// Variable-assignment prefixes (`FOO=bar cmd`) are process-local, not
// job-level: they're parsed inside parseDecoratedStatement, since only the
// first process of a pipeline can carry them and they must not leak across
// `|`.
func (p *parser) parseJob(conj ast.Conjunction) (ast.NodeID, bool) {
	start := p.curRange().Start
	negate := false

	for p.isKeywordIn("not", "!") {
		negate = true
		p.advance()
	}

	stmt, ok := p.parseStatement()
	if !ok {
		return 0, false
	}

	pipeline := []ast.NodeID{stmt}
	for p.kind() == token.KindPipe {
		p.advance()
		next, ok := p.parseStatement()
		if !ok {
			return 0, false
		}
		cont := p.arena.Add(ast.Node{
			Kind:  ast.KindJobContinuation,
			Inner: next,
			Range: p.arena.Node(next).Range,
		})
		pipeline = append(pipeline, cont)
	}

	background := false
	if p.kind() == token.KindBackground {
		p.advance()
		background = true
	}

	end := p.arena.Node(pipeline[len(pipeline)-1]).Range.End()
	id := p.arena.Add(ast.Node{
		Kind:        ast.KindJob,
		Negate:      negate,
		Pipeline:    pipeline,
		Background:  background,
		Conjunction: conj,
		Range:       sourcerange.New(start, end-start),
	})
	return id, true
}

// parseStatement implements:
//
//	statement := block_statement | if_statement | switch_statement | decorated_statement
func (p *parser) parseStatement() (ast.NodeID, bool) {
	switch {
	case p.isKeyword("if"):
		return p.parseIfStatement()
	case p.isKeyword("switch"):
		return p.parseSwitchStatement()
	case p.isKeywordIn("for", "while", "function", "begin"):
		return p.parseBlockStatement()
	case p.isKeywordIn("else", "end", "case"):
		rng := p.curRange()
		p.pushErr(ErrMisplacedKeyword, rng, "unexpected keyword %q", p.text(p.toks[p.pos]))
		return 0, false
	default:
		return p.parseDecoratedStatement()
	}
}

func (p *parser) wrapStatement(inner ast.NodeID) ast.NodeID {
	return p.arena.Add(ast.Node{Kind: ast.KindStatement, Inner: inner, Range: p.arena.Node(inner).Range})
}

// parseDecoratedStatement implements:
//
//	decorated_statement := ("builtin"|"command"|"exec")? argument+ (argument|redirection)*
//
// A statement consisting only of variable_assignments and zero arguments is
// also accepted: a variable-only process carries an "empty" status and
// never contributes a $pipestatus slot of its own.
func (p *parser) parseDecoratedStatement() (ast.NodeID, bool) {
	start := p.curRange().Start
	decorator := ""
	if p.isKeywordIn("command", "builtin", "exec") {
		tok, _ := p.cur()
		decorator = p.text(tok)
		p.advance()
	}

	var assigns []ast.NodeID
	for {
		tok, ok := p.cur()
		if !ok || tok.Kind != token.KindString || tok.Style != token.StyleUnquoted || !tok.MayBeVariableAssignment {
			break
		}
		assigns = append(assigns, p.parseVariableAssignment())
	}

	var args, redirs []ast.NodeID
loop:
	for {
		switch p.kind() {
		case token.KindString:
			args = append(args, p.parseArgument())
		case token.KindRedirection:
			redirs = p.appendRedirection(redirs)
		default:
			break loop
		}
	}

	if len(args) == 0 && len(assigns) == 0 && len(redirs) == 0 {
		p.pushErr(ErrExpectedCommand, p.curRange(), "expected a command")
		return 0, false
	}

	end := start
	if n := len(redirs); n > 0 {
		if e := p.arena.Node(redirs[n-1]).Range.End(); e > end {
			end = e
		}
	}
	if n := len(args); n > 0 {
		if e := p.arena.Node(args[n-1]).Range.End(); e > end {
			end = e
		}
	}
	if end == start {
		end = p.arena.Node(assigns[len(assigns)-1]).Range.End()
	}

	id := p.arena.Add(ast.Node{
		Kind:         ast.KindDecoratedStatement,
		Decorator:    decorator,
		StmtAssigns:  assigns,
		Args:         args,
		Redirections: redirs,
		Range:        sourcerange.New(start, end-start),
	})
	return p.wrapStatement(id), true
}

func (p *parser) parseArgument() ast.NodeID {
	tok := p.advance()
	return p.arena.Add(ast.Node{
		Kind:  ast.KindArgument,
		Text:  p.text(tok),
		Style: tok.Style,
		Range: tok.Range,
	})
}

func (p *parser) parseVariableAssignment() ast.NodeID {
	tok := p.advance()
	return p.arena.Add(ast.Node{
		Kind:  ast.KindVariableAssignment,
		Raw:   p.text(tok),
		Range: tok.Range,
	})
}

// appendRedirection consumes one redirection token plus its target
// argument and appends the resulting node(s) to redirs. `&>`/`&>>` expand
// into two redirections (fd 1 and fd 2 both retargeted), matching how the
// tokenizer flags them with DupFD == -2.
func (p *parser) appendRedirection(redirs []ast.NodeID) []ast.NodeID {
	tok := p.advance()
	var target ast.NodeID
	if p.kind() == token.KindString {
		target = p.parseArgument()
	} else {
		p.pushErr(ErrUnexpectedToken, p.curRange(), "expected redirection target")
	}

	if tok.DupFD == -2 {
		for _, fd := range [2]int32{1, 2} {
			redirs = append(redirs, p.arena.Add(ast.Node{
				Kind:     ast.KindRedirection,
				SourceFD: fd,
				Mode:     tok.Mode,
				DupFD:    -1,
				Target:   target,
				Range:    tok.Range.Union(p.nodeRangeOrZero(target)),
			}))
		}
		return redirs
	}

	return append(redirs, p.arena.Add(ast.Node{
		Kind:     ast.KindRedirection,
		SourceFD: tok.SourceFD,
		Mode:     tok.Mode,
		DupFD:    tok.DupFD,
		Target:   target,
		Range:    tok.Range.Union(p.nodeRangeOrZero(target)),
	}))
}

func (p *parser) nodeRangeOrZero(id ast.NodeID) sourcerange.SourceRange {
	if !id.Valid() {
		return sourcerange.SourceRange{}
	}
	return p.arena.Node(id).Range
}

// parseBlockStatement implements:
//
//	block_statement := (for|while|function|begin) header job_list "end"
func (p *parser) parseBlockStatement() (ast.NodeID, bool) {
	start := p.curRange().Start
	kwTok := p.advance()
	kw := p.text(kwTok)

	var node ast.Node
	node.Kind = ast.KindBlockStatement

	switch kw {
	case "for":
		node.HeaderKind = ast.HeaderFor
		if p.kind() != token.KindString {
			p.pushErr(ErrUnexpectedToken, p.curRange(), "expected loop variable name")
			return 0, false
		}
		node.ForVar = p.parseArgument()
		if !p.expectKeyword("in") {
			return 0, false
		}
		for p.kind() == token.KindString {
			node.ForItems = append(node.ForItems, p.parseArgument())
		}
		node.Body = p.parseJobList("end")
	case "while":
		node.HeaderKind = ast.HeaderWhile
		cond, ok := p.parseJob(ast.ConjunctionNone)
		if !ok {
			return 0, false
		}
		node.WhileCond = cond
		node.Body = p.parseJobList("end")
	case "function":
		node.HeaderKind = ast.HeaderFunction
		if p.kind() != token.KindString {
			p.pushErr(ErrUnexpectedToken, p.curRange(), "expected function name")
			return 0, false
		}
		node.FuncName = p.parseArgument()
		for p.kind() == token.KindString {
			node.FuncArgs = append(node.FuncArgs, p.parseArgument())
		}
		node.Body = p.parseJobList("end")
	case "begin":
		node.HeaderKind = ast.HeaderBegin
		node.Body = p.parseJobList("end")
	}

	if !p.expectKeyword("end") {
		p.pushErr(ErrUnterminatedBlock, sourcerange.New(start, p.curRange().Start-start), "unterminated %q block", kw)
		return 0, false
	}

	node.Range = sourcerange.New(start, p.lastConsumedEnd()-start)
	id := p.arena.Add(node)
	return p.wrapStatement(id), true
}

// parseIfStatement implements:
//
//	if_statement := "if" job job_list (("else" "if" job job_list) | ("else" job_list))? "end"
func (p *parser) parseIfStatement() (ast.NodeID, bool) {
	start := p.curRange().Start
	p.advance() // "if"

	cond, ok := p.parseJob(ast.ConjunctionNone)
	if !ok {
		return 0, false
	}
	body := p.parseJobList("else", "end")
	branches := []ast.IfBranch{{Cond: cond, Body: body}}
	var elseBody ast.NodeID

	for p.isKeyword("else") {
		p.advance()
		if p.isKeyword("if") {
			p.advance()
			c, ok := p.parseJob(ast.ConjunctionNone)
			if !ok {
				return 0, false
			}
			b := p.parseJobList("else", "end")
			branches = append(branches, ast.IfBranch{Cond: c, Body: b})
			continue
		}
		elseBody = p.parseJobList("end")
		break
	}

	if !p.expectKeyword("end") {
		p.pushErr(ErrUnterminatedBlock, sourcerange.New(start, p.curRange().Start-start), "unterminated if statement")
		return 0, false
	}

	id := p.arena.Add(ast.Node{
		Kind:     ast.KindIfStatement,
		Branches: branches,
		ElseBody: elseBody,
		Range:    sourcerange.New(start, p.lastConsumedEnd()-start),
	})
	return p.wrapStatement(id), true
}

// parseSwitchStatement implements:
//
//	switch_statement := "switch" argument job_list ("case" argument+ job_list)* "end"
func (p *parser) parseSwitchStatement() (ast.NodeID, bool) {
	start := p.curRange().Start
	p.advance() // "switch"

	if p.kind() != token.KindString {
		p.pushErr(ErrUnexpectedToken, p.curRange(), "expected switch subject")
		return 0, false
	}
	subject := p.parseArgument()

	var cases []ast.SwitchCase
	for {
		for !p.atEOF() && p.kind() == token.KindEnd {
			p.advance()
		}
		if !p.isKeyword("case") {
			break
		}
		p.advance()
		var patterns []ast.NodeID
		for p.kind() == token.KindString {
			patterns = append(patterns, p.parseArgument())
		}
		if len(patterns) == 0 {
			p.pushErr(ErrEmptySwitchCase, p.curRange(), "case requires at least one pattern")
			return 0, false
		}
		body := p.parseJobList("case", "end")
		cases = append(cases, ast.SwitchCase{Patterns: patterns, Body: body})
	}

	if !p.expectKeyword("end") {
		p.pushErr(ErrUnterminatedBlock, sourcerange.New(start, p.curRange().Start-start), "unterminated switch statement")
		return 0, false
	}

	id := p.arena.Add(ast.Node{
		Kind:    ast.KindSwitchStatement,
		Subject: subject,
		Cases:   cases,
		Range:   sourcerange.New(start, p.lastConsumedEnd()-start),
	})
	return p.wrapStatement(id), true
}

func (p *parser) expectKeyword(kw string) bool {
	if !p.isKeyword(kw) {
		return false
	}
	p.advance()
	return true
}

func (p *parser) lastConsumedEnd() uint32 {
	if p.pos == 0 {
		return 0
	}
	return p.toks[p.pos-1].Range.End()
}
