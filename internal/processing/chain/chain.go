package chain

import (
	"fmt"

	"procam-calibration/internal/opencv/safe"
)

type ProcessingStep interface {
	Apply(input *safe.Mat) (*safe.Mat, error)
	Name() string
}

// ProcessingChain runs steps in order. Intermediate Mats are closed; the
// input is never closed and the result is owned by the caller.
type ProcessingChain struct {
	steps []ProcessingStep
}

func NewProcessingChain(steps ...ProcessingStep) *ProcessingChain {
	return &ProcessingChain{
		steps: steps,
	}
}

func (pc *ProcessingChain) Execute(input *safe.Mat) (*safe.Mat, error) {
	if len(pc.steps) == 0 {
		return input.Clone()
	}

	current := input
	for _, step := range pc.steps {
		result, err := step.Apply(current)
		if current != input {
			current.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
		current = result
	}

	return current, nil
}

func (pc *ProcessingChain) AddStep(step ProcessingStep) {
	pc.steps = append(pc.steps, step)
}

func (pc *ProcessingChain) StepCount() int {
	return len(pc.steps)
}

func (pc *ProcessingChain) GetStepNames() []string {
	names := make([]string, len(pc.steps))
	for i, step := range pc.steps {
		names[i] = step.Name()
	}
	return names
}
