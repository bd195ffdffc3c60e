package lineage

import (
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes transformation expressions. It is deliberately forgiving:
// unterminated strings, comments and quoted identifiers run to end of input
// and unknown bytes become TOKEN_ILLEGAL, so lexing never fails.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()
	if l.atEOF() {
		return Token{Type: TOKEN_EOF, Pos: pos}
	}

	switch l.ch {
	case '\'', '"':
		return Token{Type: TOKEN_STRING, Literal: l.readString(l.ch), Pos: pos}
	case '`':
		return Token{Type: TOKEN_QUOTED_IDENT, Literal: l.readQuotedIdentifier(), Pos: pos}
	case '@', '$':
		return Token{Type: TOKEN_MARKER, Literal: l.readMarker(), Pos: pos}
	case '{':
		if l.peekChar() == '{' {
			return Token{Type: TOKEN_MARKER, Literal: l.readTemplate(), Pos: pos}
		}
	case ':':
		if l.peekChar() == ':' {
			l.readChar()
			l.readChar()
			return Token{Type: TOKEN_OPERATOR, Literal: "::", Pos: pos}
		}
		if isLetter(l.peekChar()) {
			return Token{Type: TOKEN_MARKER, Literal: l.readMarker(), Pos: pos}
		}
	case '.':
		if isDigit(l.peekChar()) {
			return Token{Type: TOKEN_NUMBER, Literal: l.readNumber(), Pos: pos}
		}
		return l.single(TOKEN_DOT, pos)
	case ',':
		return l.single(TOKEN_COMMA, pos)
	case '(':
		return l.single(TOKEN_LPAREN, pos)
	case ')':
		return l.single(TOKEN_RPAREN, pos)
	case '[':
		return l.single(TOKEN_LBRACKET, pos)
	case ']':
		return l.single(TOKEN_RBRACKET, pos)
	case '+', '-', '*', '/', '%', '=', '^', '&', '~':
		return l.single(TOKEN_OPERATOR, pos)
	case '<':
		if p := l.peekChar(); p == '=' || p == '>' {
			return l.double(pos)
		}
		return l.single(TOKEN_OPERATOR, pos)
	case '>', '!':
		if l.peekChar() == '=' {
			return l.double(pos)
		}
		if l.ch == '>' {
			return l.single(TOKEN_OPERATOR, pos)
		}
	case '|':
		if l.peekChar() == '|' {
			return l.double(pos)
		}
		return l.single(TOKEN_OPERATOR, pos)
	}

	if isLetter(l.ch) || l.ch == '_' {
		return Token{Type: TOKEN_IDENT, Literal: l.readIdentifier(), Pos: pos}
	}
	if isDigit(l.ch) {
		return Token{Type: TOKEN_NUMBER, Literal: l.readNumber(), Pos: pos}
	}
	return l.illegal(pos)
}

func (l *Lexer) single(tt TokenType, pos Position) Token {
	tok := Token{Type: tt, Literal: string(l.ch), Pos: pos}
	l.readChar()
	return tok
}

func (l *Lexer) double(pos Position) Token {
	lit := string([]byte{l.ch, l.peekChar()})
	l.readChar()
	l.readChar()
	return Token{Type: TOKEN_OPERATOR, Literal: lit, Pos: pos}
}

// illegal consumes one whole UTF-8 sequence so multi-byte runes do not
// produce a token per byte.
func (l *Lexer) illegal(pos Position) Token {
	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	start := l.pos
	for i := 0; i < size; i++ {
		l.readChar()
	}
	return Token{Type: TOKEN_ILLEGAL, Literal: l.input[start : start+size], Pos: pos}
}

// skipWhitespaceAndComments skips whitespace and comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		if l.ch == '-' && l.peekChar() == '-' {
			l.skipLineComment()
			continue
		}

		if l.ch == '/' && l.peekChar() == '*' {
			l.skipBlockComment()
			continue
		}

		break
	}
}

func (l *Lexer) skipLineComment() {
	for l.ch != '\n' && !l.atEOF() {
		l.readChar()
	}
}

func (l *Lexer) skipBlockComment() {
	l.readChar() // skip '/'
	l.readChar() // skip '*'

	for {
		if l.atEOF() {
			return // Unterminated block comment
		}
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			return
		}
		l.readChar()
	}
}

// readString reads a string literal delimited by quote. A doubled quote is
// an escaped quote: 'it''s' -> it's
func (l *Lexer) readString(quote byte) string {
	return l.readDelimited(quote)
}

// readQuotedIdentifier reads a backtick-quoted identifier.
func (l *Lexer) readQuotedIdentifier() string {
	return l.readDelimited('`')
}

func (l *Lexer) readDelimited(quote byte) string {
	l.readChar() // skip opening quote

	buf := make([]byte, 0, 16)
	for !l.atEOF() {
		if l.ch == quote {
			if l.peekChar() == quote {
				buf = append(buf, quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			break
		}
		buf = append(buf, l.ch)
		l.readChar()
	}
	return string(buf)
}

// readMarker reads @name, $name, ${name} and :name placeholders.
func (l *Lexer) readMarker() string {
	start := l.pos
	l.readChar() // skip sigil
	if l.ch == '{' {
		for !l.atEOF() && l.ch != '}' {
			l.readChar()
		}
		if l.ch == '}' {
			l.readChar()
		}
		return l.input[start:l.pos]
	}
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readTemplate reads a {{ ... }} template placeholder.
func (l *Lexer) readTemplate() string {
	start := l.pos
	l.readChar()
	l.readChar()
	for !l.atEOF() {
		if l.ch == '}' && l.peekChar() == '}' {
			l.readChar()
			l.readChar()
			break
		}
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readIdentifier reads an unquoted identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	// 10d, 3L and similar typed literal suffixes belong to the number
	for isLetter(l.ch) {
		l.readChar()
	}

	return l.input[start:l.pos]
}

// isLetter returns true if ch is an ASCII letter. Non-ASCII bytes are never
// identifier characters.
func isLetter(ch byte) bool {
	return ch < utf8.RuneSelf && unicode.IsLetter(rune(ch))
}

// isDigit returns true if ch is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens from the input, ending with TOKEN_EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TOKEN_EOF {
			break
		}
	}
	return tokens
}
