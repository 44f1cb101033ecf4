package st

import (
	"strconv"
	"strings"

	"github.com/pandaura/pandaura/internal/errors"
)

// timeUnitMs maps time-literal unit suffixes to milliseconds.
var timeUnitMs = map[string]int64{
	"ms": 1,
	"s":  1000,
	"m":  60_000,
	"h":  3_600_000,
	"d":  86_400_000,
}

// Lexer tokenizes ST source code.
type Lexer struct {
	input  string
	pos    int
	line   int
	column int

	startLn int
	startCl int
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		line:   1,
		column: 1,
	}
}

// Tokenize returns all tokens from the input, ending with EOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenError {
			return nil, errors.Newf(errors.KindLex, "line %d, column %d: %s", tok.Line, tok.Column, tok.Value)
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens, nil
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Line: l.line, Column: l.column}
	}

	l.startLn = l.line
	l.startCl = l.column

	ch := l.input[l.pos]

	// String literals, single or double quoted
	if ch == '\'' || ch == '"' {
		return l.scanString(ch)
	}

	// Numbers
	if isDigit(ch) {
		return l.scanNumber()
	}

	// Identifiers, keywords, and time literals (T#…, TIME#…)
	if isLetter(ch) || ch == '_' {
		return l.scanIdentifier()
	}

	// Two-character operators
	if l.pos+1 < len(l.input) {
		two := l.input[l.pos : l.pos+2]
		switch two {
		case ":=":
			l.advance()
			l.advance()
			return l.tok(TokenAssign, two)
		case "<=":
			l.advance()
			l.advance()
			return l.tok(TokenLe, two)
		case ">=":
			l.advance()
			l.advance()
			return l.tok(TokenGe, two)
		case "<>", "!=":
			l.advance()
			l.advance()
			return l.tok(TokenNe, two)
		case "..":
			l.advance()
			l.advance()
			return l.tok(TokenRange, two)
		}
	}

	// Single-character tokens
	l.advance()
	switch ch {
	case '+':
		return l.tok(TokenPlus, "+")
	case '-':
		return l.tok(TokenMinus, "-")
	case '*':
		return l.tok(TokenStar, "*")
	case '/':
		return l.tok(TokenSlash, "/")
	case '%':
		return l.tok(TokenPercent, "%")
	case '=':
		return l.tok(TokenEq, "=")
	case '(':
		return l.tok(TokenLParen, "(")
	case ')':
		return l.tok(TokenRParen, ")")
	case '[':
		return l.tok(TokenLBracket, "[")
	case ']':
		return l.tok(TokenRBracket, "]")
	case ';':
		return l.tok(TokenSemicolon, ";")
	case ',':
		return l.tok(TokenComma, ",")
	case '.':
		return l.tok(TokenDot, ".")
	case ':':
		return l.tok(TokenColon, ":")
	case '<':
		return l.tok(TokenLt, "<")
	case '>':
		return l.tok(TokenGt, ">")
	}

	return Token{
		Type:   TokenError,
		Value:  "unexpected character: " + string(ch),
		Line:   l.startLn,
		Column: l.startCl,
	}
}

func (l *Lexer) tok(t TokenType, v string) Token {
	return Token{Type: t, Value: v, Line: l.startLn, Column: l.startCl}
}

func (l *Lexer) advance() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	ch := l.input[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return ch
}

func (l *Lexer) peek() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

// skipWhitespaceAndComments skips whitespace, // line comments, and
// (* … *) block comments. Block comments do not nest.
func (l *Lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			l.advance()
		case ch == '/' && l.peek() == '/':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance()
			}
		case ch == '(' && l.peek() == '*':
			l.advance()
			l.advance()
			for l.pos < len(l.input) {
				if l.input[l.pos] == '*' && l.peek() == ')' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return
		}
	}
}

func (l *Lexer) scanString(quote byte) Token {
	l.advance() // opening quote
	var sb strings.Builder

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == quote {
			l.advance()
			return Token{
				Type:    TokenString,
				Value:   sb.String(),
				Line:    l.startLn,
				Column:  l.startCl,
				Literal: sb.String(),
			}
		}
		if ch == '\\' && l.pos+1 < len(l.input) {
			l.advance()
			next := l.advance()
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\'', '"', '\\':
				sb.WriteByte(next)
			default:
				sb.WriteByte('\\')
				sb.WriteByte(next)
			}
			continue
		}
		sb.WriteByte(l.advance())
	}

	return Token{
		Type:   TokenError,
		Value:  "unterminated string",
		Line:   l.startLn,
		Column: l.startCl,
	}
}

func (l *Lexer) scanNumber() Token {
	start := l.pos
	hasDecimal := false

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isDigit(ch) {
			l.advance()
		} else if ch == '.' && !hasDecimal && isDigit(l.peek()) {
			hasDecimal = true
			l.advance()
		} else {
			break
		}
	}

	value := l.input[start:l.pos]
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Token{
			Type:   TokenError,
			Value:  "invalid number: " + value,
			Line:   l.startLn,
			Column: l.startCl,
		}
	}

	return Token{
		Type:    TokenNumber,
		Value:   value,
		Line:    l.startLn,
		Column:  l.startCl,
		Literal: f,
	}
}

func (l *Lexer) scanIdentifier() Token {
	start := l.pos

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isLetter(ch) || isDigit(ch) || ch == '_' {
			l.advance()
		} else {
			break
		}
	}

	value := l.input[start:l.pos]

	// T#… and TIME#… time literals
	if l.pos < len(l.input) && l.input[l.pos] == '#' {
		upper := strings.ToUpper(value)
		if upper == "T" || upper == "TIME" {
			return l.scanTimeLiteral()
		}
	}

	if canonical, ok := LookupKeyword(value); ok {
		lit := any(nil)
		if canonical == "TRUE" {
			lit = true
		} else if canonical == "FALSE" {
			lit = false
		}
		return Token{
			Type:    TokenKeyword,
			Value:   canonical,
			Line:    l.startLn,
			Column:  l.startCl,
			Literal: lit,
		}
	}

	return Token{
		Type:   TokenIdent,
		Value:  value,
		Line:   l.startLn,
		Column: l.startCl,
	}
}

// scanTimeLiteral consumes "#<number><unit>" after a T/TIME prefix and
// converts the duration to milliseconds.
func (l *Lexer) scanTimeLiteral() Token {
	l.advance() // '#'

	numStart := l.pos
	hasDecimal := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isDigit(ch) {
			l.advance()
		} else if ch == '.' && !hasDecimal && isDigit(l.peek()) {
			hasDecimal = true
			l.advance()
		} else {
			break
		}
	}
	numStr := l.input[numStart:l.pos]
	if numStr == "" {
		return Token{Type: TokenError, Value: "malformed time literal", Line: l.startLn, Column: l.startCl}
	}

	unitStart := l.pos
	for l.pos < len(l.input) && isLetter(l.input[l.pos]) {
		l.advance()
	}
	unit := strings.ToLower(l.input[unitStart:l.pos])

	scale, ok := timeUnitMs[unit]
	if !ok {
		return Token{Type: TokenError, Value: "unknown time unit: " + unit, Line: l.startLn, Column: l.startCl}
	}

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return Token{Type: TokenError, Value: "malformed time literal", Line: l.startLn, Column: l.startCl}
	}

	ms := int64(num * float64(scale))
	return Token{
		Type:    TokenTime,
		Value:   numStr + unit,
		Line:    l.startLn,
		Column:  l.startCl,
		Literal: ms,
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
