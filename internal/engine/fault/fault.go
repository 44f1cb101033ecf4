// Package fault manages fault injections against the shadow runtime:
// value drift, value locking, and forced I/O errors with deadlines and
// per-target state.
package fault

import (
	"time"

	"github.com/google/uuid"

	"github.com/pandaura/pandaura/internal/errors"
)

// Kind is the fault type.
type Kind string

const (
	ValueDrift   Kind = "VALUE_DRIFT"
	LockValue    Kind = "LOCK_VALUE"
	ForceIOError Kind = "FORCE_IO_ERROR"
)

// Config describes an injection request.
type Config struct {
	Target string `json:"target" validate:"required"`
	Type   Kind   `json:"type" validate:"required,oneof=VALUE_DRIFT LOCK_VALUE FORCE_IO_ERROR"`
	// Parameter is the drift rate in units per second for VALUE_DRIFT;
	// unused by the other kinds.
	Parameter  float64 `json:"parameter"`
	DurationMs int64   `json:"durationMs" validate:"gt=0"`
	// DelayMs defers activation relative to the injection request.
	DelayMs int64 `json:"delayMs" validate:"gte=0"`
}

// Fault is one active (or historical) injection.
type Fault struct {
	ID        string  `json:"id"`
	Target    string  `json:"target"`
	Type      Kind    `json:"type"`
	Parameter float64 `json:"parameter"`
	StartTs   int64   `json:"startTs"`
	EndTs     int64   `json:"endTs"`

	// activateAt defers the first application.
	activateAt int64
	// activated is set on first application.
	activated bool

	// drift state
	lastUpdate int64
	// locked holds the value captured at activation for LOCK_VALUE.
	locked any
}

// Active reports whether the fault has been applied at least once.
func (f *Fault) Active() bool { return f.activated }

// Table is the runtime view the injector needs: read and write one tag.
type Table interface {
	ReadVariable(name string) (any, bool)
	WriteVariable(name string, value any) error
}

// Injector owns the active fault set. It is driven from the scan loop and
// is not safe for concurrent use.
type Injector struct {
	active  map[string]map[Kind]*Fault
	history []*Fault
	now     func() time.Time
}

// Option configures an Injector.
type Option func(*Injector)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(i *Injector) { i.now = now }
}

// NewInjector creates an empty injector.
func NewInjector(opts ...Option) *Injector {
	inj := &Injector{
		active: make(map[string]map[Kind]*Fault),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(inj)
	}
	return inj
}

// Inject schedules a fault. A fault of the same kind already active on the
// target is replaced.
func (i *Injector) Inject(cfg Config) (*Fault, error) {
	if cfg.Target == "" {
		return nil, errors.Validation("fault.Inject", "target is required")
	}
	switch cfg.Type {
	case ValueDrift, LockValue, ForceIOError:
	default:
		return nil, errors.Newf(errors.KindValidation, "unknown fault type %q", cfg.Type)
	}
	if cfg.DurationMs <= 0 {
		return nil, errors.Validation("fault.Inject", "durationMs must be positive")
	}

	nowMs := i.now().UnixMilli()
	start := nowMs + cfg.DelayMs
	f := &Fault{
		ID:         uuid.NewString(),
		Target:     cfg.Target,
		Type:       cfg.Type,
		Parameter:  cfg.Parameter,
		StartTs:    start,
		EndTs:      start + cfg.DurationMs,
		activateAt: start,
	}

	byKind, ok := i.active[cfg.Target]
	if !ok {
		byKind = make(map[Kind]*Fault)
		i.active[cfg.Target] = byKind
	}
	byKind[cfg.Type] = f
	return f, nil
}

// Remove clears all faults on a target. Forced I/O errors release their
// companion tag immediately.
func (i *Injector) Remove(target string, table Table) bool {
	byKind, ok := i.active[target]
	if !ok {
		return false
	}
	for _, f := range byKind {
		i.expire(f, table)
	}
	delete(i.active, target)
	return true
}

// Apply advances all faults by one scan cycle and returns the faults that
// expired during this cycle.
func (i *Injector) Apply(table Table) []*Fault {
	nowMs := i.now().UnixMilli()
	var expired []*Fault

	for target, byKind := range i.active {
		for kind, f := range byKind {
			if nowMs < f.activateAt {
				continue
			}
			if nowMs >= f.EndTs {
				i.expire(f, table)
				expired = append(expired, f)
				delete(byKind, kind)
				continue
			}
			i.applyOne(f, table, nowMs)
		}
		if len(byKind) == 0 {
			delete(i.active, target)
		}
	}
	return expired
}

func (i *Injector) applyOne(f *Fault, table Table, nowMs int64) {
	switch f.Type {
	case ValueDrift:
		if !f.activated {
			f.activated = true
			f.lastUpdate = nowMs
			return
		}
		current, ok := table.ReadVariable(f.Target)
		if !ok {
			return
		}
		drifted := toFloat(current) + f.Parameter*float64(nowMs-f.lastUpdate)/1000.0
		f.lastUpdate = nowMs
		_ = table.WriteVariable(f.Target, drifted)

	case LockValue:
		if !f.activated {
			f.activated = true
			if v, ok := table.ReadVariable(f.Target); ok {
				f.locked = v
			}
			return
		}
		_ = table.WriteVariable(f.Target, f.locked)

	case ForceIOError:
		f.activated = true
		companion := f.Target + "_ERROR"
		if _, ok := table.ReadVariable(companion); ok {
			_ = table.WriteVariable(companion, true)
		}
	}
}

// expire finalises a fault and appends it to history.
func (i *Injector) expire(f *Fault, table Table) {
	if f.Type == ForceIOError && f.activated {
		companion := f.Target + "_ERROR"
		if _, ok := table.ReadVariable(companion); ok {
			_ = table.WriteVariable(companion, false)
		}
	}
	i.history = append(i.history, f)
}

// Active returns a snapshot of the active faults.
func (i *Injector) Active() []*Fault {
	var out []*Fault
	for _, byKind := range i.active {
		for _, f := range byKind {
			out = append(out, f)
		}
	}
	return out
}

// History returns expired and removed faults in expiry order.
func (i *Injector) History() []*Fault {
	return i.history
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}
