package sweep

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/servosweep/pkg/servo"
)

// Target is the angle one actuator is driven to within a step.
type Target struct {
	Name  string
	Angle float64
}

// Step applies its targets in order, then holds for Hold.
type Step struct {
	Targets []Target
	Hold    time.Duration
}

// Sequence is an ordered list of steps.
type Sequence struct {
	Name  string
	Steps []Step
}

// Validate checks angles and hold durations without touching hardware.
// Actuator names are checked by Sequencer.Check.
func (s Sequence) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if step.Hold < 0 {
			return &StepError{Step: i, Err: fmt.Errorf("negative hold %s", step.Hold)}
		}
		seen := make(map[string]bool, len(step.Targets))
		for _, t := range step.Targets {
			if seen[t.Name] {
				return &StepError{Step: i, Actuator: t.Name, Err: fmt.Errorf("actuator %s targeted twice", t.Name)}
			}
			seen[t.Name] = true
			if err := servo.CheckAngle(t.Angle); err != nil {
				return &StepError{Step: i, Actuator: t.Name, Err: err}
			}
		}
	}
	return nil
}

// Demo moves every named actuator together through 0, 90, 180 and back to
// 90 degrees, holding each position for one second.
func Demo(names ...string) Sequence {
	seq := Sequence{Name: "demo"}
	for _, angle := range []float64{0, 90, 180, 90} {
		step := Step{Hold: time.Second}
		for _, n := range names {
			step.Targets = append(step.Targets, Target{Name: n, Angle: angle})
		}
		seq.Steps = append(seq.Steps, step)
	}
	return seq
}

type sequenceFile struct {
	Name  string     `yaml:"name"`
	Steps []stepFile `yaml:"steps"`
}

type stepFile struct {
	Hold   time.Duration `yaml:"hold"`
	Angles yaml.Node     `yaml:"angles"`
}

// LoadSequence reads a YAML sequence file.
func LoadSequence(path string) (Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sequence{}, err
	}
	seq, err := ParseSequence(data)
	if err != nil {
		return Sequence{}, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}

// ParseSequence decodes a YAML sequence. Targets keep the key order of each
// angles mapping, which is also the write order.
//
//	name: nod
//	steps:
//	  - hold: 500ms
//	    angles: {pan: 0, tilt: 180}
func ParseSequence(data []byte) (Sequence, error) {
	var f sequenceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Sequence{}, err
	}
	seq := Sequence{Name: f.Name, Steps: make([]Step, 0, len(f.Steps))}
	for i, sf := range f.Steps {
		targets, err := decodeTargets(&sf.Angles)
		if err != nil {
			return Sequence{}, fmt.Errorf("step %d: %w", i, err)
		}
		seq.Steps = append(seq.Steps, Step{Targets: targets, Hold: sf.Hold})
	}
	return seq, nil
}

func decodeTargets(n *yaml.Node) ([]Target, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: angles must be a mapping", n.Line)
	}
	targets := make([]Target, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		var angle float64
		if err := val.Decode(&angle); err != nil {
			return nil, fmt.Errorf("line %d: angle for %s: %w", val.Line, key.Value, err)
		}
		targets = append(targets, Target{Name: key.Value, Angle: angle})
	}
	return targets, nil
}
