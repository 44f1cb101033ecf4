// Package runtime executes compiled ST programs: it allocates typed variable
// cells from declarations, evaluates expressions, executes statements, and
// owns function-block instance state across scan cycles.
package runtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pandaura/pandaura/internal/errors"
)

// ArrayInfo carries the bounds of an ARRAY cell.
type ArrayInfo struct {
	Low  int
	High int
	Base string
}

// Cell is one allocated variable: a declared type plus the current value.
// Values are bool, int64, float64, string, []any (arrays), or *FBInstance.
type Cell struct {
	Type  string
	Array *ArrayInfo
	Value any
}

// FBInstance is the persistent record of a function-block instance.
type FBInstance struct {
	// Type is the dispatch key (TON, TOF, TP, R_TRIG, F_TRIG, or a user
	// block name).
	Type string
	// State holds the block outputs and private state. Q and ET are always
	// present for timer-shaped blocks.
	State map[string]any
}

// NewFBInstance creates an instance record with the standard output fields.
func NewFBInstance(fbType string) *FBInstance {
	return &FBInstance{
		Type: fbType,
		State: map[string]any{
			"Q":  false,
			"ET": int64(0),
		},
	}
}

// integerTypes are the cell types subject to truncating coercion.
var integerTypes = map[string]struct{}{
	"INT": {}, "DINT": {},
}

// realTypes are the cell types subject to float coercion.
var realTypes = map[string]struct{}{
	"REAL": {}, "LREAL": {},
}

// defaultForType returns the zero value for a declared type. Unknown string
// types are assumed to be function-block instances.
func defaultForType(typ string, arr *ArrayInfo) any {
	if arr != nil {
		n := arr.High - arr.Low + 1
		if n < 0 {
			n = 0
		}
		values := make([]any, n)
		for i := range values {
			values[i] = defaultForType(arr.Base, nil)
		}
		return values
	}

	upper := strings.ToUpper(typ)
	switch upper {
	case "BOOL":
		return false
	case "INT", "DINT", "TIME":
		return int64(0)
	case "REAL", "LREAL":
		return 0.0
	case "STRING":
		return ""
	default:
		return NewFBInstance(upper)
	}
}

// Coerce converts value into the cell's declared type. BOOL uses truthiness,
// integers truncate, reals cast, strings stringify; other types pass through.
func (c *Cell) Coerce(value any) any {
	upper := strings.ToUpper(c.Type)
	if c.Array != nil {
		return value
	}
	switch {
	case upper == "BOOL":
		return Truthy(value)
	case isIntegerType(upper) || upper == "TIME":
		return int64(toFloat(value))
	case isRealType(upper):
		return toFloat(value)
	case upper == "STRING":
		return toString(value)
	default:
		return value
	}
}

func isIntegerType(typ string) bool {
	_, ok := integerTypes[typ]
	return ok
}

func isRealType(typ string) bool {
	_, ok := realTypes[typ]
	return ok
}

// Truthy converts any runtime value to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}

// IsNumeric reports whether value is a runtime number.
func IsNumeric(value any) bool {
	switch value.(type) {
	case int64, int, float64:
		return true
	}
	return false
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// numericOp applies a binary arithmetic operator with int/float promotion.
// Integer operands stay integral except for "/", which always divides as
// floating point.
func numericOp(op string, left, right any) (any, error) {
	li, lInt := asInt(left)
	ri, rInt := asInt(right)

	if lInt && rInt && op != "/" {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "MOD", "%":
			if ri == 0 {
				return nil, errors.New(errors.KindRuntime, "division by zero")
			}
			return li % ri, nil
		case "DIV":
			if ri == 0 {
				return nil, errors.New(errors.KindRuntime, "division by zero")
			}
			return li / ri, nil
		}
	}

	lf, rf := toFloat(left), toFloat(right)
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, errors.New(errors.KindRuntime, "division by zero")
		}
		return lf / rf, nil
	case "DIV":
		if rf == 0 {
			return nil, errors.New(errors.KindRuntime, "division by zero")
		}
		return int64(lf / rf), nil
	case "MOD", "%":
		if rf == 0 {
			return nil, errors.New(errors.KindRuntime, "division by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, errors.Newf(errors.KindRuntime, "unknown operator %q", op)
}

func asInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// valuesEqual compares by value with numeric cross-type equality.
func valuesEqual(left, right any) bool {
	if IsNumeric(left) && IsNumeric(right) {
		return toFloat(left) == toFloat(right)
	}
	if lb, ok := left.(bool); ok {
		return lb == Truthy(right)
	}
	if rb, ok := right.(bool); ok {
		return Truthy(left) == rb
	}
	return left == right
}
