package engine

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pandaura/pandaura/internal/errors"
)

// PhysicsPair couples an actuator tag to the process variable it drives.
// Per cycle the process variable changes by Gain*actuator − Loss, clamped
// to [Min, Max]. Boolean actuators count as 0 or 1.
type PhysicsPair struct {
	Process  string  `yaml:"process" json:"process"`
	Actuator string  `yaml:"actuator" json:"actuator"`
	Gain     float64 `yaml:"gain" json:"gain"`
	Loss     float64 `yaml:"loss" json:"loss"`
	Min      float64 `yaml:"min" json:"min"`
	Max      float64 `yaml:"max" json:"max"`
}

// DefaultPhysicsPairs returns the shipped pairing table: heater-driven
// temperature and pump-driven tank level.
func DefaultPhysicsPairs() []PhysicsPair {
	return []PhysicsPair{
		{
			Process:  "Temperature_PV",
			Actuator: "Heater_Output",
			// (Heater_Output/100)*0.3 per cycle
			Gain: 0.3 / 100,
			Loss: 0.05,
			Min:  0,
			Max:  150,
		},
		{
			Process:  "Tank_Level",
			Actuator: "Pump_Run",
			Gain:     0.5,
			Loss:     0.15,
			Min:      0,
			Max:      100,
		},
	}
}

// physicsFile is the YAML document shape for a custom pairing table.
type physicsFile struct {
	Pairs []PhysicsPair `yaml:"pairs"`
}

// LoadPhysicsPairs reads a pairing table from a YAML file.
func LoadPhysicsPairs(path string) ([]PhysicsPair, error) {
	const op = "engine.LoadPhysicsPairs"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOWrap(err, op, "failed to read physics table")
	}
	var file physicsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.ConfigWrap(err, op, "invalid physics table")
	}
	for _, p := range file.Pairs {
		if p.Process == "" || p.Actuator == "" {
			return nil, errors.Config(op, "physics pair requires process and actuator")
		}
		if p.Max < p.Min {
			return nil, errors.Config(op, "physics pair max must be >= min")
		}
	}
	return file.Pairs, nil
}

// applyPhysics runs the post-pass over the variable table.
func applyPhysics(pairs []PhysicsPair, read func(string) (any, bool), write func(string, any)) {
	for _, p := range pairs {
		current, ok := read(p.Process)
		if !ok {
			continue
		}
		actuator, ok := read(p.Actuator)
		if !ok {
			continue
		}

		next := toFloat(current) + p.Gain*toFloat(actuator) - p.Loss
		if next < p.Min {
			next = p.Min
		}
		if next > p.Max {
			next = p.Max
		}
		write(p.Process, next)
	}
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
