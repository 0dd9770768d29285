package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"consolerelay.dev/cli/internal/core/ports"
)

// ErrStepNotFound is returned when no build step has the requested ID
var ErrStepNotFound = errors.New("build step not found")

// StepRegistry holds the build steps a host offers. Steps are registered
// once at startup and looked up by ID.
type StepRegistry struct {
	mu    sync.RWMutex
	steps map[string]ports.BuildStep
}

// NewStepRegistry creates an empty registry
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{steps: make(map[string]ports.BuildStep)}
}

// Register adds a step. IDs must be unique and non-empty.
func (r *StepRegistry) Register(step ports.BuildStep) error {
	if step == nil {
		return fmt.Errorf("cannot register nil build step")
	}
	id := step.Descriptor().ID
	if id == "" {
		return fmt.Errorf("build step has no ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[id]; exists {
		return fmt.Errorf("build step %s already registered", id)
	}
	r.steps[id] = step
	return nil
}

// Lookup returns the step with the given ID
func (r *StepRegistry) Lookup(id string) (ports.BuildStep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	step, ok := r.steps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}
	return step, nil
}

// List returns all steps ordered by display name
func (r *StepRegistry) List() []ports.BuildStep {
	r.mu.RLock()
	defer r.mu.RUnlock()
	steps := make([]ports.BuildStep, 0, len(r.steps))
	for _, step := range r.steps {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Descriptor().DisplayName < steps[j].Descriptor().DisplayName
	})
	return steps
}

// Applicable returns the steps that can be attached to kind
func (r *StepRegistry) Applicable(kind ports.ProjectKind) []ports.BuildStep {
	var steps []ports.BuildStep
	for _, step := range r.List() {
		if step.Descriptor().IsApplicable(kind) {
			steps = append(steps, step)
		}
	}
	return steps
}
