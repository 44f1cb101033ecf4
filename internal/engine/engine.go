// Package engine drives a compiled ST program on a deterministic scan
// cycle: system variable publication, I/O latency queues, fault injection,
// program execution under a compute-quota watchdog, integer overflow wrap,
// output queueing, and a physics post-pass, in that fixed order every tick.
package engine

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pandaura/pandaura/internal/engine/fault"
	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/observability"
	"github.com/pandaura/pandaura/internal/runtime"
	"github.com/pandaura/pandaura/internal/st"
)

// Config holds the scan-cycle parameters.
type Config struct {
	// ScanTimeMs is the cycle period (default 10, legacy mode 100).
	ScanTimeMs int
	// WatchdogLimitMs is the per-cycle compute quota (default 50).
	WatchdogLimitMs int
	// LatencyBaseMs and LatencyJitterMs shape the I/O latency queues
	// (defaults 2 and 0.5).
	LatencyBaseMs   float64
	LatencyJitterMs float64
	// WideIntegers switches the overflow wrap range from signed 16-bit to
	// the DINT (signed 32-bit) range.
	WideIntegers bool
	// StopOnError stops the scheduler on runtime errors instead of marking
	// the cycle faulted and continuing.
	StopOnError bool
	// PhysicsPairs overrides the shipped pairing table. Nil keeps defaults;
	// an empty non-nil slice disables the post-pass.
	PhysicsPairs []PhysicsPair
	// Seed fixes the latency jitter RNG for reproducible runs. Zero seeds
	// from the clock.
	Seed int64
}

// DefaultConfig returns the standard scan parameters.
func DefaultConfig() Config {
	return Config{
		ScanTimeMs:      10,
		WatchdogLimitMs: 50,
		LatencyBaseMs:   2,
		LatencyJitterMs: 0.5,
	}
}

func (c *Config) applyDefaults() {
	if c.ScanTimeMs <= 0 {
		c.ScanTimeMs = 10
	}
	if c.WatchdogLimitMs <= 0 {
		c.WatchdogLimitMs = 50
	}
	if c.LatencyBaseMs <= 0 {
		c.LatencyBaseMs = 2
	}
	if c.LatencyJitterMs < 0 {
		c.LatencyJitterMs = 0.5
	}
	if c.PhysicsPairs == nil {
		c.PhysicsPairs = DefaultPhysicsPairs()
	}
}

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// OverflowException records one integer wrap.
type OverflowException struct {
	Tag     string `json:"tag"`
	Value   int64  `json:"value"`
	Wrapped int64  `json:"wrapped"`
	Cycle   int64  `json:"cycle"`
	Ts      int64  `json:"ts"`
}

// Status is an externally sampled engine summary.
type Status struct {
	State        State   `json:"state"`
	ScanCount    int64   `json:"scanCount"`
	ScanTimeMs   int     `json:"scanTimeMs"`
	ActiveFaults int     `json:"activeFaults"`
	PendingIO    int     `json:"pendingIO"`
	Exceptions   int     `json:"exceptions"`
	LastCycleMs  float64 `json:"lastCycleMs"`
	LastError    string  `json:"lastError,omitempty"`
}

// systemVariables are engine-owned and exempt from the overflow pass.
var systemVariables = map[string]struct{}{
	"ScanTime_ms": {},
	"ScanCount":   {},
}

// Engine owns the scan loop. All mutation is serialised through its mutex:
// the loop holds it for a whole tick, so a tick is atomic as seen by the
// command surface and the event stream.
type Engine struct {
	mu sync.Mutex

	cfg    Config
	logger *log.Logger
	rt     *runtime.Runtime
	inj    *fault.Injector

	inbox  *latencyQueue
	outbox *latencyQueue
	// ioImage holds the most recently delivered value per output tag.
	ioImage map[string]any

	state       State
	scanCount   int64
	exceptions  []OverflowException
	lastCycleMs float64
	lastError   string
	lastSnap    map[string]any

	notify EventSink
	now    func() time.Time
	stop   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock for the engine, its runtime, and its
// fault injector.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotify sets the event sink.
func WithNotify(sink EventSink) Option {
	return func(e *Engine) { e.notify = sink }
}

// New compiles nothing: it takes an already parsed program and builds the
// runtime, injector, and latency queues around it.
func New(prog *st.Program, cfg Config, logger *log.Logger, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		state:   StateIdle,
		ioImage: make(map[string]any),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = e.now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	e.inbox = newLatencyQueue(cfg.LatencyBaseMs, cfg.LatencyJitterMs, rng)
	e.outbox = newLatencyQueue(cfg.LatencyBaseMs, cfg.LatencyJitterMs, rng)
	e.inj = fault.NewInjector(fault.WithClock(e.now))

	rt, err := runtime.New(prog, runtime.WithClock(e.now))
	if err != nil {
		return nil, err
	}
	e.rt = rt
	e.lastSnap = rt.SnapshotVariables()
	return e, nil
}

// Run drives the scan loop until ctx is done or Stop is called. The timer
// tick is skipped, never overlapped, when a cycle overruns the period.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return errors.Conflict("engine.Run", "already running")
	}
	e.state = StateRunning
	e.mu.Unlock()
	e.emit(Event{Type: EventSystemStatus, Ts: e.now().UnixMilli(), Data: map[string]any{"state": StateRunning}})

	ticker := time.NewTicker(time.Duration(e.cfg.ScanTimeMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.setState(StateStopped)
			return ctx.Err()
		case <-e.stop:
			e.setState(StateStopped)
			return nil
		case <-ticker.C:
			e.mu.Lock()
			if e.state == StateRunning {
				e.cycle()
				stopping := e.cfg.StopOnError && e.lastError != ""
				e.mu.Unlock()
				if stopping {
					e.setState(StateStopped)
					return errors.New(errors.KindRuntime, e.lastErrorLocked())
				}
				continue
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) lastErrorLocked() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.emit(Event{Type: EventSystemStatus, Ts: e.now().UnixMilli(), Data: map[string]any{"state": s}})
}

// Stop requests loop exit at the next tick boundary.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Pause suspends scheduling without tearing the loop down.
func (e *Engine) Pause() {
	e.setState(StatePaused)
}

// Resume restarts scheduling from the next period.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state == StatePaused {
		e.state = StateRunning
	}
	e.mu.Unlock()
}

// StepOnce runs exactly one cycle and returns. It works in any state, which
// is how step-mode debugging executes against a paused engine.
func (e *Engine) StepOnce() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycle()
	if e.lastError != "" {
		return errors.New(errors.KindRuntime, e.lastError)
	}
	return nil
}

// Reset tears down all variable cells and function-block instances and
// re-evaluates declaration initialisers. The compiled program is retained.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scanCount = 0
	e.exceptions = nil
	e.lastError = ""
	e.ioImage = make(map[string]any)
	if err := e.rt.Reset(); err != nil {
		return err
	}
	e.lastSnap = e.rt.SnapshotVariables()
	return nil
}

// SetProgram replaces the executing program at a cycle boundary. Variable
// cells are rebuilt from the new declarations.
func (e *Engine) SetProgram(prog *st.Program) error {
	rt, err := runtime.New(prog, runtime.WithClock(e.now))
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt = rt
	e.lastSnap = rt.SnapshotVariables()
	e.lastError = ""
	return nil
}

// WriteVariable queues an external write through the I/O latency queue so
// producers and the runtime observe a consistent ordering.
func (e *Engine) WriteVariable(tag string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbox.Push(tag, value, e.now().UnixMilli())
}

// ReadVariable samples one variable.
func (e *Engine) ReadVariable(tag string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rt.ReadVariable(tag)
}

// Snapshot returns a copy of the whole variable table.
func (e *Engine) Snapshot() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rt.SnapshotVariables()
}

// IOImage returns a copy of the delivered output image.
func (e *Engine) IOImage() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.ioImage))
	for k, v := range e.ioImage {
		out[k] = v
	}
	return out
}

// InjectFault schedules a fault injection for the next cycle.
func (e *Engine) InjectFault(cfg fault.Config) (*fault.Fault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, err := e.inj.Inject(cfg)
	if err != nil {
		return nil, err
	}
	observability.Global().RecordFaultInjected(string(f.Type))
	observability.Global().SetActiveFaults(int64(len(e.inj.Active())))
	e.emit(Event{
		Type: EventFaultStatus,
		Tag:  f.Target,
		Ts:   e.now().UnixMilli(),
		Data: map[string]any{"faultId": f.ID, "faultType": f.Type, "status": "injected"},
	})
	return f, nil
}

// RemoveFault clears all faults on a target.
func (e *Engine) RemoveFault(target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := e.inj.Remove(target, e.rt)
	if removed {
		observability.Global().SetActiveFaults(int64(len(e.inj.Active())))
		e.emit(Event{
			Type: EventFaultStatus,
			Tag:  target,
			Ts:   e.now().UnixMilli(),
			Data: map[string]any{"status": "removed"},
		})
	}
	return removed
}

// ActiveFaults returns a snapshot of active faults.
func (e *Engine) ActiveFaults() []*fault.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inj.Active()
}

// Exceptions returns the recorded overflow exceptions.
func (e *Engine) Exceptions() []OverflowException {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]OverflowException, len(e.exceptions))
	copy(out, e.exceptions)
	return out
}

// Status samples the engine summary.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:        e.state,
		ScanCount:    e.scanCount,
		ScanTimeMs:   e.cfg.ScanTimeMs,
		ActiveFaults: len(e.inj.Active()),
		PendingIO:    e.inbox.Len() + e.outbox.Len(),
		Exceptions:   len(e.exceptions),
		LastCycleMs:  e.lastCycleMs,
		LastError:    e.lastError,
	}
}

// emit forwards an event to the sink, if any. Sinks must not block.
func (e *Engine) emit(ev Event) {
	if e.notify != nil {
		e.notify(ev)
	}
}

// roundedTable adapts the runtime for fault and physics writes, rounding
// numeric values to two decimals to suppress accumulated FP drift.
type roundedTable struct {
	rt *runtime.Runtime
}

func (t roundedTable) ReadVariable(name string) (any, bool) {
	return t.rt.ReadVariable(name)
}

func (t roundedTable) WriteVariable(name string, value any) error {
	return t.rt.WriteVariable(name, round2(value))
}

func round2(value any) any {
	if f, ok := value.(float64); ok {
		return math.Round(f*100) / 100
	}
	return value
}

// cycle runs one scan. Callers hold the mutex.
func (e *Engine) cycle() {
	nowMs := e.now().UnixMilli()
	e.scanCount++
	table := roundedTable{e.rt}

	// 1. System variables.
	_ = table.WriteVariable("ScanTime_ms", int64(e.cfg.ScanTimeMs))
	_ = table.WriteVariable("ScanCount", e.scanCount)

	// 2. Mature inbound I/O, oldest first; the most recent mature value per
	// tag lands last and wins.
	for _, entry := range e.inbox.PopMature(nowMs) {
		if err := table.WriteVariable(entry.Tag, entry.Value); err != nil {
			e.logger.Warn("inbound write rejected", "tag", entry.Tag, "err", err)
		}
	}
	// Deliver matured outputs to the I/O image.
	for _, entry := range e.outbox.PopMature(nowMs) {
		e.ioImage[entry.Tag] = entry.Value
	}

	// 3. Fault injections.
	for _, f := range e.inj.Apply(table) {
		e.emit(Event{
			Type: EventFaultStatus,
			Tag:  f.Target,
			Ts:   nowMs,
			Data: map[string]any{"faultId": f.ID, "faultType": f.Type, "status": "expired"},
		})
	}

	// 4. Execute the program under the watchdog.
	started := time.Now()
	err := e.rt.Step()
	elapsed := time.Since(started)
	e.lastCycleMs = float64(elapsed.Microseconds()) / 1000

	observability.Global().RecordScanCycle(err != nil, elapsed)

	if err != nil {
		e.lastError = err.Error()
		e.logger.Error("scan cycle faulted", "cycle", e.scanCount, "err", err)
		e.emit(Event{Type: EventError, Ts: nowMs, Data: map[string]any{"message": err.Error(), "cycle": e.scanCount}})
	} else {
		e.lastError = ""
	}

	if elapsed > time.Duration(e.cfg.WatchdogLimitMs)*time.Millisecond {
		observability.Global().RecordWatchdogTrip()
		e.logger.Warn("watchdog limit exceeded", "cycle", e.scanCount, "elapsedMs", e.lastCycleMs)
		e.emit(Event{
			Type: EventFaultStatus,
			Ts:   nowMs,
			Data: map[string]any{"faultType": "WATCHDOG_TIMEOUT", "cycle": e.scanCount, "elapsedMs": e.lastCycleMs},
		})
	}

	// 5. Integer overflow wrap.
	e.wrapIntegers(nowMs)

	// 6. Queue outputs for delivery.
	for name, cell := range e.rt.Cells() {
		if !isOutputName(name) {
			continue
		}
		if _, isFB := cell.Value.(*runtime.FBInstance); isFB {
			continue
		}
		e.outbox.Push(name, cell.Value, nowMs)
	}

	// 7. Physics post-pass.
	applyPhysics(e.cfg.PhysicsPairs, table.ReadVariable, func(name string, value any) {
		_ = table.WriteVariable(name, value)
	})

	e.publishDeltas(nowMs)
}

// wrapIntegers wraps integer cells that escaped the configured range and
// records one exception per offending cell per cycle.
func (e *Engine) wrapIntegers(nowMs int64) {
	min, max := int64(math.MinInt16), int64(math.MaxInt16)
	if e.cfg.WideIntegers {
		min, max = int64(math.MinInt32), int64(math.MaxInt32)
	}
	span := max - min + 1

	for name, cell := range e.rt.Cells() {
		if _, system := systemVariables[name]; system {
			continue
		}
		v, ok := cell.Value.(int64)
		if !ok || (v >= min && v <= max) {
			continue
		}
		wrapped := ((v-min)%span+span)%span + min
		cell.Value = wrapped
		e.exceptions = append(e.exceptions, OverflowException{
			Tag:     name,
			Value:   v,
			Wrapped: wrapped,
			Cycle:   e.scanCount,
			Ts:      nowMs,
		})
		e.emit(Event{
			Type: EventFaultStatus,
			Tag:  name,
			Ts:   nowMs,
			Data: map[string]any{"faultType": "INT_OVERFLOW", "value": v, "wrapped": wrapped, "cycle": e.scanCount},
		})
	}
}

// publishDeltas emits variableUpdate events for every tag whose value
// changed during this tick, in deterministic name order.
func (e *Engine) publishDeltas(nowMs int64) {
	snap := e.rt.SnapshotVariables()

	var changed []string
	for name, value := range snap {
		if !snapshotEqual(e.lastSnap[name], value) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)

	for _, name := range changed {
		e.emit(Event{Type: EventVariableUpdate, Tag: name, Value: snap[name], Ts: nowMs})
	}
	e.lastSnap = snap
}

func snapshotEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !snapshotEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !snapshotEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// isOutputName matches the output naming convention: prefix "Output",
// suffix "_OUT", or the substring "OUTPUT".
func isOutputName(name string) bool {
	if strings.HasPrefix(name, "Output") || strings.HasSuffix(name, "_OUT") {
		return true
	}
	return strings.Contains(strings.ToUpper(name), "OUTPUT")
}
