package runtime

import (
	"strings"

	"github.com/pandaura/pandaura/internal/errors"
)

// Inputs is the input record supplied to a function-block invocation.
// Keys are upper-cased argument names.
type Inputs map[string]any

// Bool reads a truthy input.
func (in Inputs) Bool(key string) bool {
	return Truthy(in[key])
}

// Ms reads a numeric input as integer milliseconds.
func (in Inputs) Ms(key string) int64 {
	return int64(toFloat(in[key]))
}

// fbHandler advances one function-block instance by one invocation.
// nowMs is the current wall clock in epoch milliseconds.
type fbHandler func(inst *FBInstance, in Inputs, nowMs int64)

// fbHandlers dispatches built-in blocks by type.
var fbHandlers = map[string]fbHandler{
	"TON":    stepTON,
	"TOF":    stepTOF,
	"TP":     stepTP,
	"R_TRIG": stepRTrig,
	"F_TRIG": stepFTrig,
}

// StepFB advances a function-block instance. Unknown block types are a
// runtime error.
func StepFB(inst *FBInstance, in Inputs, nowMs int64) error {
	handler, ok := fbHandlers[strings.ToUpper(inst.Type)]
	if !ok {
		return errors.Newf(errors.KindRuntime, "unknown function block type %q", inst.Type)
	}
	handler(inst, in, nowMs)
	return nil
}

// IsBuiltinFB reports whether fbType has a built-in handler.
func IsBuiltinFB(fbType string) bool {
	_, ok := fbHandlers[strings.ToUpper(fbType)]
	return ok
}

// stepTON implements the on-delay timer: Q becomes true once IN has been
// held true for PT milliseconds; ET tracks elapsed time capped at PT.
func stepTON(inst *FBInstance, in Inputs, nowMs int64) {
	input := in.Bool("IN")
	pt := in.Ms("PT")

	if !input {
		inst.State["start"] = int64(0)
		inst.State["Q"] = false
		inst.State["ET"] = int64(0)
		return
	}

	start, _ := inst.State["start"].(int64)
	if start == 0 {
		start = nowMs
		inst.State["start"] = start
	}
	et := nowMs - start
	if et > pt {
		et = pt
	}
	inst.State["ET"] = et
	inst.State["Q"] = et >= pt
}

// stepTOF implements the off-delay timer: Q follows IN immediately on rise
// and stays true for PT milliseconds after IN falls.
func stepTOF(inst *FBInstance, in Inputs, nowMs int64) {
	input := in.Bool("IN")
	pt := in.Ms("PT")
	prev, _ := inst.State["prevIn"].(bool)
	inst.State["prevIn"] = input

	if input {
		inst.State["start"] = int64(0)
		inst.State["Q"] = true
		inst.State["ET"] = int64(0)
		return
	}

	if prev {
		// Falling edge starts the off delay.
		inst.State["start"] = nowMs
	}

	start, _ := inst.State["start"].(int64)
	if start == 0 {
		// Never ran or delay already expired.
		inst.State["Q"] = false
		inst.State["ET"] = int64(0)
		return
	}

	et := nowMs - start
	if et >= pt {
		inst.State["start"] = int64(0)
		inst.State["Q"] = false
		inst.State["ET"] = pt
		return
	}
	inst.State["ET"] = et
	inst.State["Q"] = true
}

// stepTP implements the pulse timer: a rising edge on IN emits a pulse of
// exactly PT milliseconds regardless of IN afterwards.
func stepTP(inst *FBInstance, in Inputs, nowMs int64) {
	input := in.Bool("IN")
	pt := in.Ms("PT")
	prev, _ := inst.State["prevIn"].(bool)
	inst.State["prevIn"] = input

	start, _ := inst.State["start"].(int64)

	if input && !prev && start == 0 {
		start = nowMs
		inst.State["start"] = start
	}

	if start == 0 {
		inst.State["Q"] = false
		inst.State["ET"] = int64(0)
		return
	}

	et := nowMs - start
	if et >= pt {
		inst.State["ET"] = pt
		inst.State["Q"] = false
		if !input {
			inst.State["start"] = int64(0)
			inst.State["ET"] = int64(0)
		}
		return
	}
	inst.State["ET"] = et
	inst.State["Q"] = true
}

// stepRTrig detects a rising transition of CLK since the previous invocation.
func stepRTrig(inst *FBInstance, in Inputs, _ int64) {
	clk := in.Bool("CLK")
	if _, ok := in["CLK"]; !ok {
		clk = in.Bool("IN")
	}
	prev, _ := inst.State["prevClk"].(bool)
	inst.State["prevClk"] = clk
	inst.State["Q"] = clk && !prev
}

// stepFTrig detects a falling transition of CLK since the previous invocation.
func stepFTrig(inst *FBInstance, in Inputs, _ int64) {
	clk := in.Bool("CLK")
	if _, ok := in["CLK"]; !ok {
		clk = in.Bool("IN")
	}
	prev, _ := inst.State["prevClk"].(bool)
	inst.State["prevClk"] = clk
	inst.State["Q"] = !clk && prev
}
