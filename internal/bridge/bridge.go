package bridge

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"

	"github.com/pandaura/pandaura/internal/engine"
	"github.com/pandaura/pandaura/internal/engine/fault"
	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/st"
)

// Target selects which engine a command addresses.
type Target string

const (
	TargetShadow Target = "shadow"
	TargetLive   Target = "live"
)

// Commands is the transport-agnostic command surface over the engines.
type Commands struct {
	shadow   *engine.Engine
	live     *engine.Engine
	hub      *Hub
	logger   *log.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Option configures the command surface.
type Option func(*Commands)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Commands) { c.now = now }
}

// New wires the command surface. The live engine is optional; commands
// addressed to it fail with a precondition error when absent.
func New(shadow, live *engine.Engine, hub *Hub, logger *log.Logger, opts ...Option) *Commands {
	c := &Commands{
		shadow:   shadow,
		live:     live,
		hub:      hub,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Commands) engineFor(target Target) (*engine.Engine, error) {
	const op = "bridge.engineFor"

	switch target {
	case TargetShadow, "":
		return c.shadow, nil
	case TargetLive:
		if c.live == nil {
			return nil, errors.Precondition(op, "no live runtime is attached").
				WithHint("connect a live runtime or address the shadow engine")
		}
		return c.live, nil
	default:
		return nil, errors.Validation(op, "target must be shadow or live").
			WithDetail("target", string(target))
	}
}

func (c *Commands) invalid(op string, err error) error {
	return errors.Wrap(err, errors.KindValidation, op, "invalid command payload")
}

// SetVariableCmd writes one tag.
type SetVariableCmd struct {
	Tag    string `json:"tag" validate:"required"`
	Value  any    `json:"value"`
	Target Target `json:"target,omitempty" validate:"omitempty,oneof=shadow live"`
}

// SetVariable queues a write through the engine's latency queue. Writes to
// outputs are therefore delayed and ordered exactly like program-driven
// output traffic.
func (c *Commands) SetVariable(cmd SetVariableCmd) error {
	const op = "bridge.SetVariable"

	if err := c.validate.Struct(cmd); err != nil {
		return c.invalid(op, err)
	}
	eng, err := c.engineFor(cmd.Target)
	if err != nil {
		return err
	}
	if _, ok := eng.ReadVariable(cmd.Tag); !ok {
		return errors.NotFoundf(op, "unknown variable %q", cmd.Tag)
	}
	eng.WriteVariable(cmd.Tag, cmd.Value)
	return nil
}

// ReadVariable samples one tag.
func (c *Commands) ReadVariable(target Target, tag string) (any, error) {
	const op = "bridge.ReadVariable"

	eng, err := c.engineFor(target)
	if err != nil {
		return nil, err
	}
	v, ok := eng.ReadVariable(tag)
	if !ok {
		return nil, errors.NotFoundf(op, "unknown variable %q", tag)
	}
	return v, nil
}

// InjectFaultCmd schedules a fault injection.
type InjectFaultCmd struct {
	Target     string     `json:"target" validate:"required"`
	Type       fault.Kind `json:"type" validate:"required,oneof=VALUE_DRIFT LOCK_VALUE FORCE_IO_ERROR"`
	Parameter  float64    `json:"parameter"`
	DurationMs int64      `json:"durationMs" validate:"gt=0"`
	DelayMs    int64      `json:"delayMs" validate:"gte=0"`
	Engine     Target     `json:"engine,omitempty" validate:"omitempty,oneof=shadow live"`
}

// InjectFault applies a fault config to the addressed engine.
func (c *Commands) InjectFault(cmd InjectFaultCmd) (*fault.Fault, error) {
	const op = "bridge.InjectFault"

	if err := c.validate.Struct(cmd); err != nil {
		return nil, c.invalid(op, err)
	}
	eng, err := c.engineFor(cmd.Engine)
	if err != nil {
		return nil, err
	}
	return eng.InjectFault(fault.Config{
		Target:     cmd.Target,
		Type:       cmd.Type,
		Parameter:  cmd.Parameter,
		DurationMs: cmd.DurationMs,
		DelayMs:    cmd.DelayMs,
	})
}

// RemoveFault clears all faults on a target tag.
func (c *Commands) RemoveFault(target Target, tag string) (bool, error) {
	eng, err := c.engineFor(target)
	if err != nil {
		return false, err
	}
	return eng.RemoveFault(tag), nil
}

// PushLogicCmd replaces an engine's active program.
type PushLogicCmd struct {
	LogicID string `json:"logicId" validate:"required"`
	Content string `json:"content" validate:"required"`
	Target  Target `json:"target" validate:"required,oneof=shadow live"`
}

// PushResult reports a completed logic push. Warnings carry the advisory
// findings attached to live pushes.
type PushResult struct {
	LogicID  string     `json:"logicId"`
	Target   Target     `json:"target"`
	Warnings []st.Issue `json:"warnings,omitempty"`
}

// PushLogic validates the source, compiles it, and swaps it in as the
// target engine's program at the next cycle boundary. A live push also
// returns the advisory warnings for the content.
func (c *Commands) PushLogic(cmd PushLogicCmd) (*PushResult, error) {
	const op = "bridge.PushLogic"

	if err := c.validate.Struct(cmd); err != nil {
		return nil, c.invalid(op, err)
	}
	result := st.Validate(cmd.Content, "")
	if !result.IsValid {
		err := errors.Validation(op, "logic does not compile").
			WithHint("fix the reported issues and push again")
		for i, issue := range result.Issues {
			err = err.WithDetail(fmt.Sprintf("issue%d", i+1),
				fmt.Sprintf("%d:%d %s", issue.Line, issue.Column, issue.Message))
		}
		return nil, err
	}

	eng, err := c.engineFor(cmd.Target)
	if err != nil {
		return nil, err
	}
	prog, err := st.Compile(cmd.Content)
	if err != nil {
		return nil, err
	}
	if err := eng.SetProgram(prog); err != nil {
		return nil, err
	}

	push := &PushResult{LogicID: cmd.LogicID, Target: cmd.Target}
	if cmd.Target == TargetLive {
		push.Warnings = st.Advisories(cmd.Content)
	}
	c.hub.Publish(engine.Event{
		Type: engine.EventSystemStatus,
		Ts:   c.now().UnixMilli(),
		Data: map[string]any{
			"status":   "logicPushed",
			"logicId":  cmd.LogicID,
			"target":   string(cmd.Target),
			"warnings": len(push.Warnings),
		},
	})
	c.logger.Info("logic pushed", "logicId", cmd.LogicID, "target", cmd.Target, "warnings", len(push.Warnings))
	return push, nil
}

// StreamTags registers an event subscriber, optionally narrowed to tags.
func (c *Commands) StreamTags(tags ...string) *Subscriber {
	return c.hub.Subscribe(tags...)
}

// Status samples both engines.
func (c *Commands) Status() map[string]engine.Status {
	out := map[string]engine.Status{"shadow": c.shadow.Status()}
	if c.live != nil {
		out["live"] = c.live.Status()
	}
	return out
}
