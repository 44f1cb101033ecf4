package bridge

import (
	"context"
	"time"

	"github.com/pandaura/pandaura/internal/engine"
	"github.com/pandaura/pandaura/internal/engine/fault"
	"github.com/pandaura/pandaura/internal/errors"
)

// ScenarioStep is one scripted action batch: variable writes, fault
// injections, and fault removals applied together.
type ScenarioStep struct {
	Name         string             `json:"name" validate:"required"`
	Writes       map[string]any     `json:"writes,omitempty"`
	InjectFaults []fault.Config     `json:"injectFaults,omitempty"`
	RemoveFaults []string           `json:"removeFaults,omitempty"`
	HoldMs       int64              `json:"holdMs,omitempty" validate:"gte=0"`
}

// Scenario is a named ordered step script executed against one engine.
type Scenario struct {
	Name   string         `json:"name" validate:"required"`
	Target Target         `json:"target,omitempty" validate:"omitempty,oneof=shadow live"`
	Steps  []ScenarioStep `json:"steps" validate:"required,min=1,dive"`
}

// RunScenario executes the steps in order, emitting one scenarioStep event
// per step. HoldMs pauses between steps so injected behaviour has cycles to
// develop.
func (c *Commands) RunScenario(ctx context.Context, sc Scenario) error {
	const op = "bridge.RunScenario"

	if err := c.validate.Struct(sc); err != nil {
		return c.invalid(op, err)
	}
	eng, err := c.engineFor(sc.Target)
	if err != nil {
		return err
	}

	total := len(sc.Steps)
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.KindCanceled, op, "scenario canceled")
		}

		for tag, value := range step.Writes {
			eng.WriteVariable(tag, value)
		}
		for _, cfg := range step.InjectFaults {
			if _, err := eng.InjectFault(cfg); err != nil {
				return errors.Wrapf(err, errors.KindValidation, op, "step %q fault injection failed", step.Name)
			}
		}
		for _, target := range step.RemoveFaults {
			eng.RemoveFault(target)
		}

		c.hub.Publish(engine.Event{
			Type: engine.EventScenarioStep,
			Ts:   c.now().UnixMilli(),
			Data: map[string]any{
				"scenario": sc.Name,
				"step":     step.Name,
				"index":    i + 1,
				"total":    total,
			},
		})
		c.logger.Info("scenario step applied", "scenario", sc.Name, "step", step.Name, "index", i+1, "total", total)

		if step.HoldMs > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), errors.KindCanceled, op, "scenario canceled")
			case <-time.After(time.Duration(step.HoldMs) * time.Millisecond):
			}
		}
	}
	return nil
}
