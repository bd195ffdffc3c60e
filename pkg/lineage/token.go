package lineage

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	// TOKEN_EOF represents end of input.
	TOKEN_EOF TokenType = iota
	// TOKEN_ILLEGAL represents a byte that starts no known token.
	TOKEN_ILLEGAL

	TOKEN_IDENT        // amount, SUM
	TOKEN_QUOTED_IDENT // `order date`
	TOKEN_MARKER       // @newpk, :param, {{ var }}
	TOKEN_NUMBER       // 123, 45.67, 1e10
	TOKEN_STRING       // 'hello', "hello"

	TOKEN_OPERATOR // + - * / % || = != <> < > <= >= ::
	TOKEN_DOT      // .
	TOKEN_COMMA    // ,
	TOKEN_LPAREN   // (
	TOKEN_RPAREN   // )
	TOKEN_LBRACKET // [
	TOKEN_RBRACKET // ]
)

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// Position represents a location in an expression.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// IsWord reports whether the token can name a column.
func (t Token) IsWord() bool {
	return t.Type == TOKEN_IDENT || t.Type == TOKEN_QUOTED_IDENT
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

var tokenNames = map[TokenType]string{
	TOKEN_EOF:          "EOF",
	TOKEN_ILLEGAL:      "ILLEGAL",
	TOKEN_IDENT:        "IDENT",
	TOKEN_QUOTED_IDENT: "QUOTED_IDENT",
	TOKEN_MARKER:       "MARKER",
	TOKEN_NUMBER:       "NUMBER",
	TOKEN_STRING:       "STRING",
	TOKEN_OPERATOR:     "OPERATOR",
	TOKEN_DOT:          ".",
	TOKEN_COMMA:        ",",
	TOKEN_LPAREN:       "(",
	TOKEN_RPAREN:       ")",
	TOKEN_LBRACKET:     "[",
	TOKEN_RBRACKET:     "]",
}
