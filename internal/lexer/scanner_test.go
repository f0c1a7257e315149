package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(src string) []Token {
	l := New(src)
	var toks []Token
	for {
		tk := l.Next()
		toks = append(toks, tk)
		if tk.Type == TokenEOF {
			return toks
		}
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	toks := collect("class Foo is Bar {}")
	require.Len(t, toks, 7)
	assert.Equal(t, TokenClass, toks[0].Type)
	assert.Equal(t, TokenIdent, toks[1].Type)
	assert.Equal(t, "Foo", toks[1].Lexeme)
	assert.Equal(t, TokenIs, toks[2].Type)
}

func TestNestedBlockComment(t *testing.T) {
	toks := collect("/* outer /* inner */ still comment */ var x")
	assert.Equal(t, TokenVar, toks[0].Type)
	assert.Equal(t, TokenIdent, toks[1].Type)
}

func TestShebangIgnored(t *testing.T) {
	toks := collect("#!/usr/bin/env cardinal\nvar x")
	assert.Equal(t, TokenVar, toks[0].Type)
}

func TestStringEscapes(t *testing.T) {
	toks := collect(`"a\nbAc"`)
	require.Equal(t, TokenString, toks[0].Type)
	assert.Equal(t, "a\nbAc", toks[0].Lexeme)
}

func TestHexNumber(t *testing.T) {
	toks := collect("0xFF")
	require.Equal(t, TokenNumber, toks[0].Type)
	n, err := ParseNumber(toks[0].Lexeme)
	require.NoError(t, err)
	assert.Equal(t, float64(255), n)
}

func TestLineTokenOnNewline(t *testing.T) {
	toks := collect("var x\nvar y")
	var kinds []TokenType
	for _, tk := range toks {
		kinds = append(kinds, tk.Type)
	}
	assert.Contains(t, kinds, TokenLine)
}

func TestLexErrorsDoNotStop(t *testing.T) {
	l := New("var @ x $ y")
	for {
		tk := l.Next()
		if tk.Type == TokenEOF {
			break
		}
	}
	assert.Len(t, l.Errors(), 2)
}
