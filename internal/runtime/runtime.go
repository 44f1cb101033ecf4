package runtime

import (
	"strings"
	"time"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/st"
)

// loopGuardLimit aborts WHILE loops after this many iterations to protect
// the scan scheduler.
const loopGuardLimit = 100_000

// Runtime executes one compiled program against a variable table. It is not
// safe for concurrent use; the scan loop owns it.
type Runtime struct {
	prog  *st.Program
	cells map[string]*Cell
	now   func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the wall clock, used by timer blocks and NOW_MS.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		r.now = now
	}
}

// New allocates a runtime for prog and evaluates all declaration
// initialisers.
func New(prog *st.Program, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		prog: prog,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset tears down all variable cells, clears function-block instances, and
// re-evaluates declaration initialisers. The compiled program is retained.
func (r *Runtime) Reset() error {
	r.cells = make(map[string]*Cell)

	for _, decl := range r.prog.Decls {
		cell := &Cell{Type: declaredTypeName(decl.Type)}
		if decl.Array != nil {
			cell.Array = &ArrayInfo{
				Low:  decl.Array.Low,
				High: decl.Array.High,
				Base: declaredTypeName(decl.Type),
			}
			cell.Type = "ARRAY"
		}

		if decl.Init != nil && decl.Array == nil {
			init, err := r.eval(decl.Init)
			if err != nil {
				return err
			}
			cell.Value = cell.Coerce(init)
		} else {
			cell.Value = defaultForType(decl.Type, cell.Array)
		}
		r.cells[decl.Name] = cell
	}
	return nil
}

// Step executes the top-level statement list once.
func (r *Runtime) Step() error {
	for _, stmt := range r.prog.Body {
		if err := r.exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Cells returns the live variable table. Callers must be on the scan loop.
func (r *Runtime) Cells() map[string]*Cell {
	return r.cells
}

// ReadVariable returns the current value of a variable. Function-block
// instances are flattened to their state record.
func (r *Runtime) ReadVariable(name string) (any, bool) {
	cell, ok := r.cells[name]
	if !ok {
		return nil, false
	}
	if inst, ok := cell.Value.(*FBInstance); ok {
		return inst.Snapshot(), true
	}
	return cell.Value, true
}

// WriteVariable coerces value into an existing cell, or allocates an
// untyped cell when the variable is new (external tags arrive this way).
func (r *Runtime) WriteVariable(name string, value any) error {
	cell, ok := r.cells[name]
	if !ok {
		r.cells[name] = &Cell{Type: inferType(value), Value: value}
		return nil
	}
	if _, isFB := cell.Value.(*FBInstance); isFB {
		return errors.Newf(errors.KindRuntime, "cannot overwrite function block instance %q", name)
	}
	cell.Value = cell.Coerce(value)
	return nil
}

// SnapshotVariables returns a copy of the variable table with function-block
// instances flattened to plain records.
func (r *Runtime) SnapshotVariables() map[string]any {
	snap := make(map[string]any, len(r.cells))
	for name, cell := range r.cells {
		switch v := cell.Value.(type) {
		case *FBInstance:
			snap[name] = v.Snapshot()
		case []any:
			arr := make([]any, len(v))
			copy(arr, v)
			snap[name] = arr
		default:
			snap[name] = v
		}
	}
	return snap
}

// Snapshot returns a copy of the instance state record.
func (f *FBInstance) Snapshot() map[string]any {
	out := make(map[string]any, len(f.State))
	for k, v := range f.State {
		out[k] = v
	}
	return out
}

// declaredTypeName canonicalises keyword types to upper case and keeps
// identifier types (function blocks, UDTs) verbatim.
func declaredTypeName(typ string) string {
	if canonical, ok := st.LookupKeyword(typ); ok {
		return canonical
	}
	return typ
}

func inferType(value any) string {
	switch value.(type) {
	case bool:
		return "BOOL"
	case int64, int:
		return "DINT"
	case float64:
		return "REAL"
	case string:
		return "STRING"
	default:
		return ""
	}
}

// exec executes one statement.
func (r *Runtime) exec(stmt st.Stmt) error {
	switch s := stmt.(type) {
	case *st.Nop, *st.VarDecl:
		return nil

	case *st.Assign:
		value, err := r.eval(s.Value)
		if err != nil {
			return err
		}
		return r.assign(s.Target, value)

	case *st.Call:
		return r.execCall(s)

	case *st.If:
		cond, err := r.eval(s.Cond)
		if err != nil {
			return err
		}
		if Truthy(cond) {
			return r.execBlock(s.Then)
		}
		for _, branch := range s.Elsif {
			cond, err := r.eval(branch.Cond)
			if err != nil {
				return err
			}
			if Truthy(cond) {
				return r.execBlock(branch.Body)
			}
		}
		return r.execBlock(s.Else)

	case *st.While:
		iterations := 0
		for {
			cond, err := r.eval(s.Cond)
			if err != nil {
				return err
			}
			if !Truthy(cond) {
				return nil
			}
			if iterations >= loopGuardLimit {
				return errors.New(errors.KindRuntime, "possible infinite loop")
			}
			iterations++
			if err := r.execBlock(s.Body); err != nil {
				return err
			}
		}

	case *st.For:
		return r.execFor(s)
	}
	return errors.Newf(errors.KindRuntime, "unsupported statement %T", stmt)
}

func (r *Runtime) execBlock(body []st.Stmt) error {
	for _, stmt := range body {
		if err := r.exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) execFor(s *st.For) error {
	start, err := r.eval(s.Start)
	if err != nil {
		return err
	}
	end, err := r.eval(s.End)
	if err != nil {
		return err
	}
	step := 1.0
	if s.Step != nil {
		v, err := r.eval(s.Step)
		if err != nil {
			return err
		}
		step = toFloat(v)
	}
	if step == 0 {
		return errors.New(errors.KindRuntime, "FOR step must be non-zero")
	}

	if _, ok := r.cells[s.Var]; !ok {
		r.cells[s.Var] = &Cell{Type: "INT", Value: int64(0)}
	}

	iterations := 0
	for value := toFloat(start); ; value += step {
		if step > 0 && value > toFloat(end) {
			return nil
		}
		if step < 0 && value < toFloat(end) {
			return nil
		}
		if iterations >= loopGuardLimit {
			return errors.New(errors.KindRuntime, "possible infinite loop")
		}
		iterations++

		cell := r.cells[s.Var]
		cell.Value = cell.Coerce(value)
		if err := r.execBlock(s.Body); err != nil {
			return err
		}
	}
}

// execCall dispatches a statement-position call to a function-block
// instance.
func (r *Runtime) execCall(s *st.Call) error {
	cell, ok := r.cells[s.Name]
	if !ok {
		return errors.Newf(errors.KindRuntime, "unknown function block %q", s.Name)
	}
	inst, ok := cell.Value.(*FBInstance)
	if !ok {
		return errors.Newf(errors.KindRuntime, "%q is not a function block instance", s.Name)
	}

	inputs := make(Inputs, len(s.Args))
	for _, arg := range s.Args {
		if arg.Name == "" {
			return errors.Newf(errors.KindRuntime, "function block %q requires keyword arguments", s.Name)
		}
		value, err := r.eval(arg.Value)
		if err != nil {
			return err
		}
		inputs[strings.ToUpper(arg.Name)] = value
	}

	return StepFB(inst, inputs, r.now().UnixMilli())
}

// assign stores value into the cell, array slot, or instance member the
// target references.
func (r *Runtime) assign(target st.Expr, value any) error {
	switch t := target.(type) {
	case *st.Var:
		cell, ok := r.cells[t.Name]
		if !ok {
			r.cells[t.Name] = &Cell{Type: inferType(value), Value: value}
			return nil
		}
		if _, isFB := cell.Value.(*FBInstance); isFB {
			return errors.Newf(errors.KindRuntime, "cannot assign to function block instance %q", t.Name)
		}
		cell.Value = cell.Coerce(value)
		return nil

	case *st.ArrayRef:
		cell, ok := r.cells[t.Name]
		if !ok {
			return errors.Newf(errors.KindRuntime, "unknown variable %q", t.Name)
		}
		arr, ok := cell.Value.([]any)
		if !ok || cell.Array == nil {
			return errors.Newf(errors.KindRuntime, "%q is not an array", t.Name)
		}
		idxVal, err := r.eval(t.Index)
		if err != nil {
			return err
		}
		idx := int(toFloat(idxVal)) - cell.Array.Low
		if idx < 0 || idx >= len(arr) {
			return errors.Newf(errors.KindRuntime, "index out of range for %q", t.Name)
		}
		arr[idx] = value
		return nil

	case *st.MemberAccess:
		base, ok := t.Base.(*st.Var)
		if !ok {
			return errors.New(errors.KindRuntime, "unsupported assignment target")
		}
		cell, ok := r.cells[base.Name]
		if !ok {
			return errors.Newf(errors.KindRuntime, "unknown variable %q", base.Name)
		}
		if inst, ok := cell.Value.(*FBInstance); ok {
			inst.State[t.Member] = value
			return nil
		}
		if record, ok := cell.Value.(map[string]any); ok {
			record[t.Member] = value
			return nil
		}
		return errors.Newf(errors.KindRuntime, "%q has no members", base.Name)
	}
	return errors.New(errors.KindRuntime, "unsupported assignment target")
}

// eval evaluates an expression.
func (r *Runtime) eval(expr st.Expr) (any, error) {
	switch e := expr.(type) {
	case *st.Number:
		if e.Value == float64(int64(e.Value)) {
			return int64(e.Value), nil
		}
		return e.Value, nil

	case *st.String:
		return e.Value, nil

	case *st.Bool:
		return e.Value, nil

	case *st.Var:
		cell, ok := r.cells[e.Name]
		if !ok {
			return nil, errors.Newf(errors.KindRuntime, "unknown variable %q", e.Name)
		}
		return cell.Value, nil

	case *st.ArrayRef:
		cell, ok := r.cells[e.Name]
		if !ok {
			return nil, errors.Newf(errors.KindRuntime, "unknown variable %q", e.Name)
		}
		arr, ok := cell.Value.([]any)
		if !ok || cell.Array == nil {
			return nil, errors.Newf(errors.KindRuntime, "%q is not an array", e.Name)
		}
		idxVal, err := r.eval(e.Index)
		if err != nil {
			return nil, err
		}
		idx := int(toFloat(idxVal)) - cell.Array.Low
		if idx < 0 || idx >= len(arr) {
			return nil, errors.Newf(errors.KindRuntime, "index out of range for %q", e.Name)
		}
		return arr[idx], nil

	case *st.MemberAccess:
		base, err := r.eval(e.Base)
		if err != nil {
			return nil, err
		}
		switch b := base.(type) {
		case *FBInstance:
			return b.State[e.Member], nil
		case map[string]any:
			return b[e.Member], nil
		}
		return nil, errors.Newf(errors.KindRuntime, "value has no member %q", e.Member)

	case *st.Unary:
		return r.evalUnary(e)

	case *st.Binary:
		return r.evalBinary(e)

	case *st.CallExpr:
		return r.evalCallExpr(e)
	}
	return nil, errors.Newf(errors.KindRuntime, "unsupported expression %T", expr)
}

func (r *Runtime) evalUnary(e *st.Unary) (any, error) {
	operand, err := r.eval(e.Operand)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "NOT":
		return !Truthy(operand), nil
	case "-":
		if v, ok := asInt(operand); ok {
			return -v, nil
		}
		return -toFloat(operand), nil
	case "+":
		return operand, nil
	}
	return nil, errors.Newf(errors.KindRuntime, "unknown unary operator %q", e.Op)
}

func (r *Runtime) evalBinary(e *st.Binary) (any, error) {
	// AND/OR short-circuit.
	switch e.Op {
	case "AND":
		left, err := r.eval(e.Left)
		if err != nil {
			return nil, err
		}
		if !Truthy(left) {
			return false, nil
		}
		right, err := r.eval(e.Right)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "OR":
		left, err := r.eval(e.Left)
		if err != nil {
			return nil, err
		}
		if Truthy(left) {
			return true, nil
		}
		right, err := r.eval(e.Right)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	left, err := r.eval(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := r.eval(e.Right)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "=":
		return valuesEqual(left, right), nil
	case "<>":
		return !valuesEqual(left, right), nil
	case "<", ">", "<=", ">=":
		return compare(e.Op, left, right)
	default:
		return numericOp(e.Op, left, right)
	}
}

func compare(op string, left, right any) (any, error) {
	ls, lStr := left.(string)
	rs, rStr := right.(string)
	if lStr && rStr {
		switch op {
		case "<":
			return ls < rs, nil
		case ">":
			return ls > rs, nil
		case "<=":
			return ls <= rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	lf, rf := toFloat(left), toFloat(right)
	switch op {
	case "<":
		return lf < rf, nil
	case ">":
		return lf > rf, nil
	case "<=":
		return lf <= rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, errors.Newf(errors.KindRuntime, "unknown comparison %q", op)
}

// evalCallExpr evaluates a built-in function in expression position.
func (r *Runtime) evalCallExpr(e *st.CallExpr) (any, error) {
	args := make([]any, len(e.Args))
	for i, arg := range e.Args {
		value, err := r.eval(arg.Value)
		if err != nil {
			return nil, err
		}
		args[i] = value
	}

	switch strings.ToUpper(e.Name) {
	case "TO_BOOL":
		if len(args) != 1 {
			return nil, errors.New(errors.KindRuntime, "TO_BOOL expects one argument")
		}
		return Truthy(args[0]), nil
	case "TO_INT":
		if len(args) != 1 {
			return nil, errors.New(errors.KindRuntime, "TO_INT expects one argument")
		}
		return int64(toFloat(args[0])), nil
	case "TO_REAL":
		if len(args) != 1 {
			return nil, errors.New(errors.KindRuntime, "TO_REAL expects one argument")
		}
		return toFloat(args[0]), nil
	case "NOW_MS":
		return r.now().UnixMilli(), nil
	}
	return nil, errors.Newf(errors.KindRuntime, "unknown function %q", e.Name)
}
