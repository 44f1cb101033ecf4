package st

// Node is the base interface for all AST nodes.
type Node interface {
	node()
	Pos() (line, column int)
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt()
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr()
}

type position struct {
	Line   int
	Column int
}

func (p position) Pos() (int, int) { return p.Line, p.Column }

// Program is the root node: an optional program name, the declarations from
// all VAR blocks in source order, and the top-level statement list.
type Program struct {
	position
	Name  string
	Decls []*VarDecl
	Body  []Stmt
}

func (*Program) node() {}

// VarDecl declares a single variable inside a VAR block.
type VarDecl struct {
	position
	Name string
	// Type is the declared type name, upper-cased for keywords
	// (BOOL, INT, DINT, REAL, LREAL, STRING, TIME) and verbatim for
	// identifiers (function-block and UDT types).
	Type string
	// Array holds the bounds when the declaration is ARRAY[lo..hi] OF base;
	// Type then carries the base type.
	Array *ArrayBounds
	// Init is the optional initialiser expression.
	Init Expr
}

func (*VarDecl) node() {}
func (*VarDecl) stmt() {}

// ArrayBounds holds inclusive array bounds.
type ArrayBounds struct {
	Low  int
	High int
}

// Assign assigns the value of Value to Target.
// Target is a *Var, *MemberAccess, or *ArrayRef.
type Assign struct {
	position
	Target Expr
	Value  Expr
}

func (*Assign) node() {}
func (*Assign) stmt() {}

// Call is a statement-position invocation, typically of a function-block
// instance: T1(IN := Start, PT := T#100ms);
type Call struct {
	position
	Name string
	Args []Arg
}

func (*Call) node() {}
func (*Call) stmt() {}

// CallExpr is an expression-position invocation: TO_INT(x), NOW_MS().
type CallExpr struct {
	position
	Name string
	Args []Arg
}

func (*CallExpr) node() {}
func (*CallExpr) expr() {}

// Arg is a call argument, positional (Name == "") or keyword (name := expr).
type Arg struct {
	Name  string
	Value Expr
}

// If executes Then when Cond is true, otherwise tries each Elsif branch in
// order and falls through to Else.
type If struct {
	position
	Cond  Expr
	Then  []Stmt
	Elsif []ElsifBranch
	Else  []Stmt
}

func (*If) node() {}
func (*If) stmt() {}

// ElsifBranch is one ELSIF arm of an If.
type ElsifBranch struct {
	Cond Expr
	Body []Stmt
}

// While re-evaluates Cond before every iteration.
type While struct {
	position
	Cond Expr
	Body []Stmt
}

func (*While) node() {}
func (*While) stmt() {}

// For iterates Var from Start to End inclusive, advancing by Step
// (default 1) after each iteration.
type For struct {
	position
	Var   string
	Start Expr
	End   Expr
	Step  Expr
	Body  []Stmt
}

func (*For) node() {}
func (*For) stmt() {}

// Nop is an empty statement (a bare semicolon).
type Nop struct {
	position
}

func (*Nop) node() {}
func (*Nop) stmt() {}

// Number is a numeric literal. Time literals also lower to Number with the
// value in milliseconds.
type Number struct {
	position
	Value float64
}

func (*Number) node() {}
func (*Number) expr() {}

// String is a string literal.
type String struct {
	position
	Value string
}

func (*String) node() {}
func (*String) expr() {}

// Bool is a TRUE/FALSE literal.
type Bool struct {
	position
	Value bool
}

func (*Bool) node() {}
func (*Bool) expr() {}

// Var references a variable by name.
type Var struct {
	position
	Name string
}

func (*Var) node() {}
func (*Var) expr() {}

// MemberAccess references a member of a record value: T1.Q, T1.ET.
type MemberAccess struct {
	position
	Base   Expr
	Member string
}

func (*MemberAccess) node() {}
func (*MemberAccess) expr() {}

// ArrayRef references an array element: Levels[3].
type ArrayRef struct {
	position
	Name  string
	Index Expr
}

func (*ArrayRef) node() {}
func (*ArrayRef) expr() {}

// Binary is a binary operation. Op is one of
// OR AND = <> < > <= >= + - * / MOD DIV %.
type Binary struct {
	position
	Op    string
	Left  Expr
	Right Expr
}

func (*Binary) node() {}
func (*Binary) expr() {}

// Unary is a unary operation. Op is one of NOT, -, +.
type Unary struct {
	position
	Op      string
	Operand Expr
}

func (*Unary) node() {}
func (*Unary) expr() {}
