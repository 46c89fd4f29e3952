package parser

import "github.com/fish-shell/fish-shell-sub008/internal/sourcerange"

// ErrorCode identifies the kind of grammar failure a ParseError records.
type ErrorCode int

const (
	ErrUnexpectedToken ErrorCode = iota + 1
	ErrExpectedCommand
	ErrUnterminatedBlock
	ErrUnterminatedQuote
	ErrMisplacedKeyword
	ErrEmptySwitchCase
	ErrExecNotAlone
)

// ParseError is a source-localized grammar failure. The parser always
// recovers to the next job-list boundary after recording one; it never
// discards the whole input while any job remains salvageable.
type ParseError struct {
	Code  ErrorCode
	Range sourcerange.SourceRange
	Msg   string
}

func (e ParseError) Error() string {
	return e.Msg
}
