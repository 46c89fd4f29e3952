package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenize_Basic(t *testing.T) {
	tests := map[string]struct {
		src      string
		expected []Kind
	}{
		"simple pipeline": {
			src:      "echo hello | string upper",
			expected: []Kind{KindString, KindString, KindPipe, KindString, KindString},
		},
		"conjunctions": {
			src:      "true && false || true",
			expected: []Kind{KindString, KindAndAnd, KindString, KindOrOr, KindString},
		},
		"terminators": {
			src:      "a; b\nc",
			expected: []Kind{KindString, KindEnd, KindString, KindEnd, KindString},
		},
		"background": {
			src:      "sleep 5 &",
			expected: []Kind{KindString, KindString, KindBackground},
		},
		"redirection": {
			src:      "cmd > out.txt",
			expected: []Kind{KindString, KindRedirection, KindString},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			toks := Tokenize(test.src)
			kinds := make([]Kind, len(toks))
			for i, tok := range toks {
				kinds[i] = tok.Kind
			}
			require.Equal(t, test.expected, kinds)
		})
	}
}

func TestTokenize_QuoteConcatenation(t *testing.T) {
	src := `'a'b"c"`
	toks := Tokenize(src)
	require.Len(t, toks, 1)
	require.Equal(t, KindString, toks[0].Kind)
	require.Equal(t, src, toks[0].Text(src))
}

func TestTokenize_VariableAssignmentFlag(t *testing.T) {
	src := "FOO=bar"
	toks := Tokenize(src)
	require.Len(t, toks, 1)
	require.True(t, toks[0].MayBeVariableAssignment)

	src2 := "123abc"
	toks2 := Tokenize(src2)
	require.Len(t, toks2, 1)
	require.False(t, toks2[0].MayBeVariableAssignment)
}

func TestTokenize_UnterminatedQuoteProducesError(t *testing.T) {
	src := `echo "unterminated`
	toks := Tokenize(src)
	require.Len(t, toks, 2)
	require.Equal(t, KindError, toks[1].Kind)
	require.Equal(t, ErrUnterminatedQuote, toks[1].Error)
}

func TestTokenize_RedirectionVariants(t *testing.T) {
	tests := map[string]struct {
		src      string
		fd       int32
		mode     RedirMode
		dup      int32
	}{
		"overwrite":     {src: ">out", fd: 1, mode: RedirOverwrite, dup: -1},
		"append":        {src: ">>out", fd: 1, mode: RedirAppend, dup: -1},
		"input":         {src: "<in", fd: 0, mode: RedirInput, dup: -1},
		"fd prefix":     {src: "2>err", fd: 2, mode: RedirOverwrite, dup: -1},
		"dup output":    {src: ">&2", fd: 1, mode: RedirDupFd, dup: 2},
		"dup input":     {src: "<&3", fd: 0, mode: RedirDupFd, dup: 3},
		"noclobber":     {src: ">?out", fd: 1, mode: RedirNoClobber, dup: -1},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			toks := Tokenize(test.src)
			require.NotEmpty(t, toks)
			require.Equal(t, KindRedirection, toks[0].Kind)
			require.Equal(t, test.fd, toks[0].SourceFD)
			require.Equal(t, test.mode, toks[0].Mode)
			require.Equal(t, test.dup, toks[0].DupFD)
		})
	}
}

func TestTokenize_CommentsSkippedByDefault(t *testing.T) {
	src := "echo hi # a comment\necho bye"
	toks := Tokenize(src)
	for _, tok := range toks {
		require.NotEqual(t, KindComment, tok.Kind)
	}
}

func TestTokenize_CommentsWithOption(t *testing.T) {
	src := "echo hi # comment"
	toks := Tokenize(src, WithComments())
	require.Equal(t, KindComment, toks[len(toks)-1].Kind)
}

func TestTokenize_LineContinuation(t *testing.T) {
	src := "echo hi \\\nthere"
	toks := Tokenize(src)
	kinds := make([]Kind, len(toks))
	for i, tok := range toks {
		kinds[i] = tok.Kind
	}
	require.Equal(t, []Kind{KindString, KindString, KindString}, kinds)
}
