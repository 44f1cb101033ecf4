// Package st provides the compiler front-end for IEC 61131-3 Structured Text:
// a lexer producing a position-tagged token stream and a recursive-descent
// parser producing a typed AST.
//
// The dialect covers the subset used by shadow-runtime programs:
//
//	PROGRAM Main
//	VAR
//	  T1    : TON;
//	  Start : BOOL := FALSE;
//	END_VAR
//	T1(IN := Start, PT := T#100ms);
//	IF T1.Q THEN
//	  Motor_Output := 1;
//	END_IF;
//	END_PROGRAM
package st

import "strings"

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenIdent  // identifiers and member paths
	TokenNumber // 123, 0.5
	TokenString // 'quoted' or "quoted"
	TokenTime   // T#100ms, TIME#5s (value carried in milliseconds)

	// Keywords
	TokenKeyword

	// Operators and delimiters
	TokenAssign    // :=
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenSlash     // /
	TokenPercent   // %
	TokenEq        // =
	TokenNe        // <> or !=
	TokenLt        // <
	TokenGt        // >
	TokenLe        // <=
	TokenGe        // >=
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenSemicolon // ;
	TokenComma     // ,
	TokenDot       // .
	TokenColon     // :
	TokenRange     // ..
)

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Value   string
	Line    int
	Column  int
	Literal any // parsed literal value (float64 for numbers, int64 ms for time)
}

// String returns the token type name.
func (t TokenType) String() string {
	names := map[TokenType]string{
		TokenEOF:       "EOF",
		TokenError:     "ERROR",
		TokenIdent:     "IDENT",
		TokenNumber:    "NUMBER",
		TokenString:    "STRING",
		TokenTime:      "TIME",
		TokenKeyword:   "KEYWORD",
		TokenAssign:    ":=",
		TokenPlus:      "+",
		TokenMinus:     "-",
		TokenStar:      "*",
		TokenSlash:     "/",
		TokenPercent:   "%",
		TokenEq:        "=",
		TokenNe:        "<>",
		TokenLt:        "<",
		TokenGt:        ">",
		TokenLe:        "<=",
		TokenGe:        ">=",
		TokenLParen:    "(",
		TokenRParen:    ")",
		TokenLBracket:  "[",
		TokenRBracket:  "]",
		TokenSemicolon: ";",
		TokenComma:     ",",
		TokenDot:       ".",
		TokenColon:     ":",
		TokenRange:     "..",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsKeyword reports whether the token is the given keyword (case-insensitive
// match was already applied by the lexer; keywords are stored upper-case).
func (t Token) IsKeyword(kw string) bool {
	return t.Type == TokenKeyword && t.Value == kw
}

// keywords is the ST keyword set. Identifiers matching case-insensitively are
// promoted to keyword tokens with the canonical upper-case spelling.
var keywords = map[string]struct{}{
	"PROGRAM": {}, "END_PROGRAM": {},
	"VAR": {}, "END_VAR": {},
	"IF": {}, "THEN": {}, "ELSIF": {}, "ELSE": {}, "END_IF": {},
	"WHILE": {}, "DO": {}, "END_WHILE": {},
	"FOR": {}, "TO": {}, "BY": {}, "END_FOR": {},
	"AND": {}, "OR": {}, "NOT": {}, "MOD": {}, "DIV": {},
	"TRUE": {}, "FALSE": {},
	"ARRAY": {}, "OF": {},
	"BOOL": {}, "INT": {}, "DINT": {}, "REAL": {}, "LREAL": {},
	"STRING": {}, "TIME": {},
	"TON": {}, "TOF": {}, "TP": {}, "R_TRIG": {}, "F_TRIG": {},
}

// LookupKeyword reports whether ident is a keyword and returns its canonical
// upper-case spelling.
func LookupKeyword(ident string) (string, bool) {
	upper := strings.ToUpper(ident)
	_, ok := keywords[upper]
	return upper, ok
}
