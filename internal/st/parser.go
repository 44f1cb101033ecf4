package st

import (
	"strings"

	"github.com/pandaura/pandaura/internal/errors"
)

// Parser parses ST tokens into an AST.
type Parser struct {
	tokens  []Token
	pos     int
	current Token
}

// NewParser creates a new parser for the given tokens.
func NewParser(tokens []Token) *Parser {
	p := &Parser{tokens: tokens}
	if len(tokens) > 0 {
		p.current = tokens[0]
	}
	return p
}

// Compile tokenizes and parses source in one step.
func Compile(source string) (*Program, error) {
	tokens, err := NewLexer(source).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).Parse()
}

// Parse parses the token stream and returns a Program AST.
func (p *Parser) Parse() (*Program, error) {
	prog := &Program{}

	// Optional PROGRAM name wrapper
	if p.current.IsKeyword("PROGRAM") {
		p.advance()
		if p.current.Type != TokenIdent {
			return nil, p.errorf("program name", p.current)
		}
		prog.Name = p.current.Value
		p.advance()
	}

	for p.current.Type != TokenEOF {
		if p.current.IsKeyword("END_PROGRAM") {
			p.advance()
			continue
		}
		if p.current.IsKeyword("VAR") {
			decls, err := p.parseVarBlock()
			if err != nil {
				return nil, err
			}
			prog.Decls = append(prog.Decls, decls...)
			continue
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.Body = append(prog.Body, stmt)
	}

	return prog, nil
}

// parseVarBlock parses VAR … END_VAR and returns the declarations.
func (p *Parser) parseVarBlock() ([]*VarDecl, error) {
	p.advance() // VAR

	var decls []*VarDecl
	for !p.current.IsKeyword("END_VAR") {
		if p.current.Type == TokenEOF {
			return nil, p.errorf("END_VAR", p.current)
		}
		decl, err := p.parseVarDecl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	p.advance() // END_VAR
	return decls, nil
}

// parseVarDecl parses "name : type [:= init] ;".
func (p *Parser) parseVarDecl() (*VarDecl, error) {
	if p.current.Type != TokenIdent {
		return nil, p.errorf("variable name", p.current)
	}
	decl := &VarDecl{
		position: position{Line: p.current.Line, Column: p.current.Column},
		Name:     p.current.Value,
	}
	p.advance()

	if err := p.expect(TokenColon); err != nil {
		return nil, err
	}

	switch {
	case p.current.IsKeyword("ARRAY"):
		bounds, base, err := p.parseArrayType()
		if err != nil {
			return nil, err
		}
		decl.Array = bounds
		decl.Type = base
	case p.current.Type == TokenKeyword || p.current.Type == TokenIdent:
		decl.Type = p.current.Value
		p.advance()
	default:
		return nil, p.errorf("type name", p.current)
	}

	if p.current.Type == TokenAssign {
		p.advance()
		init, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		decl.Init = init
	}

	if err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return decl, nil
}

// parseArrayType parses "ARRAY [lo..hi] OF base".
func (p *Parser) parseArrayType() (*ArrayBounds, string, error) {
	p.advance() // ARRAY
	if err := p.expect(TokenLBracket); err != nil {
		return nil, "", err
	}

	lo, err := p.parseIntLiteral()
	if err != nil {
		return nil, "", err
	}
	if err := p.expect(TokenRange); err != nil {
		return nil, "", err
	}
	hi, err := p.parseIntLiteral()
	if err != nil {
		return nil, "", err
	}
	if err := p.expect(TokenRBracket); err != nil {
		return nil, "", err
	}
	if !p.current.IsKeyword("OF") {
		return nil, "", p.errorf("OF", p.current)
	}
	p.advance()

	if p.current.Type != TokenKeyword && p.current.Type != TokenIdent {
		return nil, "", p.errorf("array base type", p.current)
	}
	base := p.current.Value
	p.advance()

	return &ArrayBounds{Low: lo, High: hi}, base, nil
}

func (p *Parser) parseIntLiteral() (int, error) {
	neg := false
	if p.current.Type == TokenMinus {
		neg = true
		p.advance()
	}
	if p.current.Type != TokenNumber {
		return 0, p.errorf("integer literal", p.current)
	}
	v := int(p.current.Literal.(float64))
	if neg {
		v = -v
	}
	p.advance()
	return v, nil
}

// parseStatement parses a single statement, consuming its trailing semicolon.
func (p *Parser) parseStatement() (Stmt, error) {
	switch {
	case p.current.Type == TokenSemicolon:
		nop := &Nop{position{Line: p.current.Line, Column: p.current.Column}}
		p.advance()
		return nop, nil
	case p.current.IsKeyword("IF"):
		return p.parseIf()
	case p.current.IsKeyword("WHILE"):
		return p.parseWhile()
	case p.current.IsKeyword("FOR"):
		return p.parseFor()
	case p.current.Type == TokenIdent:
		return p.parseAssignOrCall()
	}
	return nil, p.errorf("statement", p.current)
}

// parseAssignOrCall disambiguates "x := …", "x[i] := …", "x.y := …" and
// "x(…)" by the token after the identifier.
func (p *Parser) parseAssignOrCall() (Stmt, error) {
	pos := position{Line: p.current.Line, Column: p.current.Column}
	name := p.current.Value
	p.advance()

	switch p.current.Type {
	case TokenLParen:
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		return &Call{position: pos, Name: name, Args: args}, nil

	case TokenLBracket:
		p.advance()
		idx, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRBracket); err != nil {
			return nil, err
		}
		target := &ArrayRef{position: pos, Name: name, Index: idx}
		return p.finishAssign(pos, target)

	case TokenDot:
		var target Expr = &Var{position: pos, Name: name}
		for p.current.Type == TokenDot {
			p.advance()
			if p.current.Type != TokenIdent && p.current.Type != TokenKeyword {
				return nil, p.errorf("member name", p.current)
			}
			target = &MemberAccess{position: pos, Base: target, Member: p.current.Value}
			p.advance()
		}
		return p.finishAssign(pos, target)

	default:
		return p.finishAssign(pos, &Var{position: pos, Name: name})
	}
}

func (p *Parser) finishAssign(pos position, target Expr) (Stmt, error) {
	if err := p.expect(TokenAssign); err != nil {
		return nil, err
	}
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return &Assign{position: pos, Target: target, Value: value}, nil
}

// parseArgs parses "( [arg {, arg}] )" with positional or keyword arguments.
func (p *Parser) parseArgs() ([]Arg, error) {
	p.advance() // (

	var args []Arg
	for p.current.Type != TokenRParen {
		if p.current.Type == TokenEOF {
			return nil, p.errorf(")", p.current)
		}

		var arg Arg
		// keyword argument: IDENT := expr
		if p.current.Type == TokenIdent && p.peekType() == TokenAssign {
			arg.Name = p.current.Value
			p.advance()
			p.advance()
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arg.Value = value
		args = append(args, arg)

		if p.current.Type == TokenComma {
			p.advance()
		} else if p.current.Type != TokenRParen {
			return nil, p.errorf(", or )", p.current)
		}
	}
	p.advance() // )
	return args, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	stmt := &If{position: position{Line: p.current.Line, Column: p.current.Column}}
	p.advance() // IF

	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt.Cond = cond

	if !p.current.IsKeyword("THEN") {
		return nil, p.errorf("THEN", p.current)
	}
	p.advance()

	stmt.Then, err = p.parseBlockUntil("ELSIF", "ELSE", "END_IF")
	if err != nil {
		return nil, err
	}

	for p.current.IsKeyword("ELSIF") {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !p.current.IsKeyword("THEN") {
			return nil, p.errorf("THEN", p.current)
		}
		p.advance()
		body, err := p.parseBlockUntil("ELSIF", "ELSE", "END_IF")
		if err != nil {
			return nil, err
		}
		stmt.Elsif = append(stmt.Elsif, ElsifBranch{Cond: cond, Body: body})
	}

	if p.current.IsKeyword("ELSE") {
		p.advance()
		stmt.Else, err = p.parseBlockUntil("END_IF")
		if err != nil {
			return nil, err
		}
	}

	if !p.current.IsKeyword("END_IF") {
		return nil, p.errorf("END_IF", p.current)
	}
	p.advance()
	p.optionalSemicolon()
	return stmt, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	stmt := &While{position: position{Line: p.current.Line, Column: p.current.Column}}
	p.advance() // WHILE

	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt.Cond = cond

	if !p.current.IsKeyword("DO") {
		return nil, p.errorf("DO", p.current)
	}
	p.advance()

	stmt.Body, err = p.parseBlockUntil("END_WHILE")
	if err != nil {
		return nil, err
	}

	p.advance() // END_WHILE
	p.optionalSemicolon()
	return stmt, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	stmt := &For{position: position{Line: p.current.Line, Column: p.current.Column}}
	p.advance() // FOR

	if p.current.Type != TokenIdent {
		return nil, p.errorf("loop variable", p.current)
	}
	stmt.Var = p.current.Value
	p.advance()

	if err := p.expect(TokenAssign); err != nil {
		return nil, err
	}
	start, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt.Start = start

	if !p.current.IsKeyword("TO") {
		return nil, p.errorf("TO", p.current)
	}
	p.advance()
	end, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt.End = end

	if p.current.IsKeyword("BY") {
		p.advance()
		step, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Step = step
	}

	if !p.current.IsKeyword("DO") {
		return nil, p.errorf("DO", p.current)
	}
	p.advance()

	stmt.Body, err = p.parseBlockUntil("END_FOR")
	if err != nil {
		return nil, err
	}

	p.advance() // END_FOR
	p.optionalSemicolon()
	return stmt, nil
}

// parseBlockUntil parses statements until one of the given keywords is the
// current token. The terminator is left unconsumed.
func (p *Parser) parseBlockUntil(terminators ...string) ([]Stmt, error) {
	var body []Stmt
	for {
		if p.current.Type == TokenEOF {
			return nil, p.errorf(strings.Join(terminators, " or "), p.current)
		}
		for _, t := range terminators {
			if p.current.IsKeyword(t) {
				return body, nil
			}
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
	}
}

// Expression parsing, precedence low to high:
// OR, AND, NOT, comparison, additive, multiplicative, unary sign, primary.

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.IsKeyword("OR") {
		pos := position{Line: p.current.Line, Column: p.current.Column}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{position: pos, Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.current.IsKeyword("AND") {
		pos := position{Line: p.current.Line, Column: p.current.Column}
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{position: pos, Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.current.IsKeyword("NOT") {
		pos := position{Line: p.current.Line, Column: p.current.Column}
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{position: pos, Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.current.Type {
		case TokenEq:
			op = "="
		case TokenNe:
			op = "<>"
		case TokenLt:
			op = "<"
		case TokenGt:
			op = ">"
		case TokenLe:
			op = "<="
		case TokenGe:
			op = ">="
		default:
			return left, nil
		}
		pos := position{Line: p.current.Line, Column: p.current.Column}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{position: pos, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := p.current.Value
		pos := position{Line: p.current.Line, Column: p.current.Column}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{position: pos, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.current.Type == TokenStar:
			op = "*"
		case p.current.Type == TokenSlash:
			op = "/"
		case p.current.Type == TokenPercent:
			op = "%"
		case p.current.IsKeyword("MOD"):
			op = "MOD"
		case p.current.IsKeyword("DIV"):
			op = "DIV"
		default:
			return left, nil
		}
		pos := position{Line: p.current.Line, Column: p.current.Column}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{position: pos, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.current.Type == TokenMinus || p.current.Type == TokenPlus {
		op := p.current.Value
		pos := position{Line: p.current.Line, Column: p.current.Column}
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{position: pos, Op: op, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	pos := position{Line: p.current.Line, Column: p.current.Column}

	switch p.current.Type {
	case TokenNumber:
		v := p.current.Literal.(float64)
		p.advance()
		return &Number{position: pos, Value: v}, nil

	case TokenTime:
		ms := p.current.Literal.(int64)
		p.advance()
		return &Number{position: pos, Value: float64(ms)}, nil

	case TokenString:
		v := p.current.Value
		p.advance()
		return &String{position: pos, Value: v}, nil

	case TokenKeyword:
		switch p.current.Value {
		case "TRUE":
			p.advance()
			return &Bool{position: pos, Value: true}, nil
		case "FALSE":
			p.advance()
			return &Bool{position: pos, Value: false}, nil
		}
		return nil, p.errorf("expression", p.current)

	case TokenLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case TokenIdent:
		name := p.current.Value
		p.advance()

		var result Expr
		switch p.current.Type {
		case TokenLParen:
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			result = &CallExpr{position: pos, Name: name, Args: args}
		case TokenLBracket:
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			result = &ArrayRef{position: pos, Name: name, Index: idx}
		default:
			result = &Var{position: pos, Name: name}
		}

		for p.current.Type == TokenDot {
			p.advance()
			if p.current.Type != TokenIdent && p.current.Type != TokenKeyword {
				return nil, p.errorf("member name", p.current)
			}
			result = &MemberAccess{position: pos, Base: result, Member: p.current.Value}
			p.advance()
		}
		return result, nil
	}

	return nil, p.errorf("expression", p.current)
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
		p.current = p.tokens[p.pos]
	} else if len(p.tokens) > 0 {
		p.current = p.tokens[len(p.tokens)-1]
	}
}

func (p *Parser) peekType() TokenType {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1].Type
	}
	return TokenEOF
}

func (p *Parser) expect(t TokenType) error {
	if p.current.Type != t {
		return p.errorf(t.String(), p.current)
	}
	p.advance()
	return nil
}

func (p *Parser) optionalSemicolon() {
	if p.current.Type == TokenSemicolon {
		p.advance()
	}
}

func (p *Parser) errorf(expected string, got Token) error {
	gotDesc := got.Type.String()
	if got.Value != "" {
		gotDesc = "'" + got.Value + "'"
	}
	return errors.Newf(errors.KindParse, "line %d, column %d: expected %s, got %s", got.Line, got.Column, expected, gotDesc)
}
