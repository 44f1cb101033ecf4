package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/st"
)

// fakeClock is a manually advanced wall clock for timer tests.
type fakeClock struct {
	ms int64
}

func (c *fakeClock) now() time.Time {
	return time.UnixMilli(c.ms)
}

func newRuntime(t *testing.T, src string, opts ...Option) *Runtime {
	t.Helper()
	prog, err := st.Compile(src)
	require.NoError(t, err)
	rt, err := New(prog, opts...)
	require.NoError(t, err)
	return rt
}

func TestRuntime_Defaults(t *testing.T) {
	rt := newRuntime(t, `
VAR
  b : BOOL;
  i : INT;
  r : REAL;
  s : STRING;
  a : ARRAY[1..3] OF INT;
  t1 : TON;
END_VAR
`)
	v, _ := rt.ReadVariable("b")
	assert.Equal(t, false, v)
	v, _ = rt.ReadVariable("i")
	assert.Equal(t, int64(0), v)
	v, _ = rt.ReadVariable("r")
	assert.Equal(t, 0.0, v)
	v, _ = rt.ReadVariable("s")
	assert.Equal(t, "", v)
	v, _ = rt.ReadVariable("a")
	assert.Equal(t, []any{int64(0), int64(0), int64(0)}, v)

	fb, _ := rt.ReadVariable("t1")
	record, ok := fb.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, record["Q"])
	assert.Equal(t, int64(0), record["ET"])
}

func TestRuntime_Initialisers(t *testing.T) {
	rt := newRuntime(t, `
VAR
  x : INT := 2 + 3;
  y : REAL := x * 2;
  f : BOOL := TRUE;
END_VAR
`)
	v, _ := rt.ReadVariable("x")
	assert.Equal(t, int64(5), v)
	v, _ = rt.ReadVariable("y")
	assert.Equal(t, 10.0, v)
	v, _ = rt.ReadVariable("f")
	assert.Equal(t, true, v)
}

func TestRuntime_AssignmentCoercion(t *testing.T) {
	rt := newRuntime(t, `
VAR
  b : BOOL;
  i : INT;
  r : REAL;
  s : STRING;
END_VAR
`)
	require.NoError(t, rt.WriteVariable("b", 2))
	require.NoError(t, rt.WriteVariable("i", 3.9))
	require.NoError(t, rt.WriteVariable("r", 4))
	require.NoError(t, rt.WriteVariable("s", 42))

	v, _ := rt.ReadVariable("b")
	assert.Equal(t, true, v)
	v, _ = rt.ReadVariable("i")
	assert.Equal(t, int64(3), v)
	v, _ = rt.ReadVariable("r")
	assert.Equal(t, 4.0, v)
	v, _ = rt.ReadVariable("s")
	assert.Equal(t, "42", v)
}

func TestRuntime_ArithmeticSemantics(t *testing.T) {
	rt := newRuntime(t, `
VAR
  a : INT := 7;
  b : INT := 2;
  q : REAL;
  d : INT;
  m : INT;
END_VAR
q := a / b;
d := a DIV b;
m := a MOD b;
`)
	require.NoError(t, rt.Step())

	v, _ := rt.ReadVariable("q")
	assert.Equal(t, 3.5, v)
	v, _ = rt.ReadVariable("d")
	assert.Equal(t, int64(3), v)
	v, _ = rt.ReadVariable("m")
	assert.Equal(t, int64(1), v)
}

func TestRuntime_DivisionByZero(t *testing.T) {
	rt := newRuntime(t, "VAR a : INT := 1; END_VAR x := a / 0;")
	err := rt.Step()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRuntime))
	assert.Contains(t, err.Error(), "division by zero")
}

func TestRuntime_UnknownVariable(t *testing.T) {
	rt := newRuntime(t, "x := missing + 1;")
	err := rt.Step()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRuntime))
	assert.Contains(t, err.Error(), "unknown variable")
}

func TestRuntime_IfElsifElse(t *testing.T) {
	rt := newRuntime(t, `
VAR a : INT := 5; x : INT; END_VAR
IF a > 10 THEN
  x := 1;
ELSIF a > 3 THEN
  x := 2;
ELSE
  x := 3;
END_IF;
`)
	require.NoError(t, rt.Step())
	v, _ := rt.ReadVariable("x")
	assert.Equal(t, int64(2), v)
}

func TestRuntime_WhileGuard(t *testing.T) {
	rt := newRuntime(t, "VAR x : INT; END_VAR WHILE TRUE DO x := x + 1; END_WHILE;")
	err := rt.Step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "possible infinite loop")
}

func TestRuntime_ForLoop(t *testing.T) {
	rt := newRuntime(t, `
VAR total : INT; last : INT; END_VAR
FOR i := 1 TO 5 DO
  total := total + i;
  last := i;
END_FOR;
`)
	require.NoError(t, rt.Step())
	v, _ := rt.ReadVariable("total")
	assert.Equal(t, int64(15), v)
	v, _ = rt.ReadVariable("last")
	assert.Equal(t, int64(5), v)
}

func TestRuntime_ForLoopStep(t *testing.T) {
	rt := newRuntime(t, `
VAR total : INT; END_VAR
FOR i := 10 TO 1 BY -3 DO
  total := total + i;
END_FOR;
`)
	require.NoError(t, rt.Step())
	v, _ := rt.ReadVariable("total")
	assert.Equal(t, int64(10+7+4+1), v)
}

func TestRuntime_ArrayReadWrite(t *testing.T) {
	rt := newRuntime(t, `
VAR a : ARRAY[1..3] OF INT; x : INT; END_VAR
a[1] := 10;
a[2] := a[1] * 2;
x := a[2];
`)
	require.NoError(t, rt.Step())
	v, _ := rt.ReadVariable("x")
	assert.Equal(t, int64(20), v)
}

func TestRuntime_ArrayOutOfRange(t *testing.T) {
	rt := newRuntime(t, "VAR a : ARRAY[1..3] OF INT; END_VAR a[4] := 1;")
	err := rt.Step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index out of range")
}

func TestRuntime_TONTimer(t *testing.T) {
	clock := &fakeClock{ms: 1_000_000}
	rt := newRuntime(t, `
VAR
  T1    : TON;
  Start : BOOL := FALSE;
END_VAR
T1(IN := Start, PT := T#100ms);
`, WithClock(clock.now))

	// 20 cycles with Start=false: Q stays false, ET stays 0.
	for i := 0; i < 20; i++ {
		clock.ms += 10
		require.NoError(t, rt.Step())
		fb, _ := rt.ReadVariable("T1")
		record := fb.(map[string]any)
		assert.Equal(t, false, record["Q"])
		assert.Equal(t, int64(0), record["ET"])
	}

	// Set Start=true and run 15 cycles at 10 ms; Q must appear between
	// cycle 10 and cycle 11.
	require.NoError(t, rt.WriteVariable("Start", true))
	firstQ := -1
	for i := 1; i <= 15; i++ {
		clock.ms += 10
		require.NoError(t, rt.Step())
		fb, _ := rt.ReadVariable("T1")
		record := fb.(map[string]any)
		if Truthy(record["Q"]) && firstQ < 0 {
			firstQ = i
		}
	}
	require.GreaterOrEqual(t, firstQ, 10)
	require.LessOrEqual(t, firstQ, 11)
}

func TestRuntime_TOFTimer(t *testing.T) {
	clock := &fakeClock{ms: 500_000}
	rt := newRuntime(t, `
VAR T1 : TOF; Run : BOOL := TRUE; END_VAR
T1(IN := Run, PT := T#50ms);
`, WithClock(clock.now))

	require.NoError(t, rt.Step())
	fb, _ := rt.ReadVariable("T1")
	assert.Equal(t, true, fb.(map[string]any)["Q"])

	// Drop the input; Q holds for PT then falls.
	require.NoError(t, rt.WriteVariable("Run", false))
	for i := 0; i < 4; i++ {
		clock.ms += 10
		require.NoError(t, rt.Step())
		fb, _ = rt.ReadVariable("T1")
		assert.Equal(t, true, fb.(map[string]any)["Q"], "cycle %d", i)
	}
	clock.ms += 20
	require.NoError(t, rt.Step())
	fb, _ = rt.ReadVariable("T1")
	assert.Equal(t, false, fb.(map[string]any)["Q"])
}

func TestRuntime_TPTimer(t *testing.T) {
	clock := &fakeClock{ms: 10_000}
	rt := newRuntime(t, `
VAR P : TP; Trigger : BOOL := TRUE; END_VAR
P(IN := Trigger, PT := T#30ms);
`, WithClock(clock.now))

	require.NoError(t, rt.Step())
	fb, _ := rt.ReadVariable("P")
	assert.Equal(t, true, fb.(map[string]any)["Q"])

	// Holding IN true past PT does not extend the pulse.
	clock.ms += 50
	require.NoError(t, rt.Step())
	fb, _ = rt.ReadVariable("P")
	assert.Equal(t, false, fb.(map[string]any)["Q"])
}

func TestRuntime_EdgeTriggers(t *testing.T) {
	rt := newRuntime(t, `
VAR R : R_TRIG; F : F_TRIG; Clk : BOOL := FALSE; END_VAR
R(CLK := Clk);
F(CLK := Clk);
`)
	step := func() (bool, bool) {
		require.NoError(t, rt.Step())
		r, _ := rt.ReadVariable("R")
		f, _ := rt.ReadVariable("F")
		return Truthy(r.(map[string]any)["Q"]), Truthy(f.(map[string]any)["Q"])
	}

	rq, fq := step()
	assert.False(t, rq)
	assert.False(t, fq)

	require.NoError(t, rt.WriteVariable("Clk", true))
	rq, fq = step()
	assert.True(t, rq, "rising edge")
	assert.False(t, fq)

	rq, fq = step()
	assert.False(t, rq, "held high is not an edge")
	assert.False(t, fq)

	require.NoError(t, rt.WriteVariable("Clk", false))
	rq, fq = step()
	assert.False(t, rq)
	assert.True(t, fq, "falling edge")
}

func TestRuntime_UnknownFunctionBlock(t *testing.T) {
	rt := newRuntime(t, "VAR u : SomeUserBlock; END_VAR u(IN := TRUE);")
	err := rt.Step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown function block type")
}

func TestRuntime_Builtins(t *testing.T) {
	clock := &fakeClock{ms: 777}
	rt := newRuntime(t, `
VAR b : BOOL; i : INT; r : REAL; n : DINT; END_VAR
b := TO_BOOL(3);
i := TO_INT(9.7);
r := TO_REAL(4);
n := NOW_MS();
`, WithClock(clock.now))
	require.NoError(t, rt.Step())

	v, _ := rt.ReadVariable("b")
	assert.Equal(t, true, v)
	v, _ = rt.ReadVariable("i")
	assert.Equal(t, int64(9), v)
	v, _ = rt.ReadVariable("r")
	assert.Equal(t, 4.0, v)
	v, _ = rt.ReadVariable("n")
	assert.Equal(t, int64(777), v)
}

func TestRuntime_Reset(t *testing.T) {
	rt := newRuntime(t, "VAR x : INT := 7; END_VAR x := x + 1;")
	require.NoError(t, rt.Step())
	v, _ := rt.ReadVariable("x")
	assert.Equal(t, int64(8), v)

	require.NoError(t, rt.Reset())
	v, _ = rt.ReadVariable("x")
	assert.Equal(t, int64(7), v)
}

func TestRuntime_SnapshotIsCopy(t *testing.T) {
	rt := newRuntime(t, "VAR x : INT := 1; END_VAR")
	snap := rt.SnapshotVariables()
	snap["x"] = int64(99)
	v, _ := rt.ReadVariable("x")
	assert.Equal(t, int64(1), v)
}

func TestRuntime_StringComparisonAndEquality(t *testing.T) {
	rt := newRuntime(t, `
VAR a : STRING := 'abc'; lt : BOOL; eq : BOOL; ne : BOOL; END_VAR
lt := a < 'abd';
eq := a = 'abc';
ne := a <> 'abc';
`)
	require.NoError(t, rt.Step())
	v, _ := rt.ReadVariable("lt")
	assert.Equal(t, true, v)
	v, _ = rt.ReadVariable("eq")
	assert.Equal(t, true, v)
	v, _ = rt.ReadVariable("ne")
	assert.Equal(t, false, v)
}
