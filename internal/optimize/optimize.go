// Package optimize mutates a relaxed lattice toward a lower
// energy-times-length objective. Three strategies cooperate: bulk removal
// of low-stress springs, bracing of high-stress springs by bisection, and
// localized mass displacement with tile or replica acceptance testing.
package optimize

import (
	"fmt"
	"math"
	"sort"

	"github.com/strukt-lab/trussopt/internal/phys"
)

// Optimizer is the capability the simulation driver dispatches on.
type Optimizer interface {
	Optimize() error
}

// Rule is one optimization rule from the design file.
type Rule struct {
	Method    string
	Threshold float64
	Frequency int
}

// Rule methods.
const (
	MethodRemoveLowStress = "remove_low_stress"
	MethodMassDisplace    = "mass_displace"
	MethodNone            = "none"
)

// springCandidate reports whether a spring may be touched by an
// optimizer: pairs that are entirely fixed or entirely under external
// load stay out of reach.
func springCandidate(s *phys.Spring) bool {
	loaded := s.Left.Loaded() && s.Right.Loaded()
	fixed := s.Left.Fixed && s.Right.Fixed
	return !loaded && !fixed
}

// minSpringByStress returns the index of the candidate spring with the
// lowest recorded max stress, or -1 if there is none.
func minSpringByStress(sim *phys.Simulation) int {
	msi := -1
	minStress := math.MaxFloat64
	for i, s := range sim.Springs {
		if !springCandidate(s) {
			continue
		}
		if s.MaxStress < minStress {
			minStress = s.MaxStress
			msi = i
		}
	}
	return msi
}

// sortSpringsByStress returns candidate indices into sim.Springs in
// ascending max-stress order.
func sortSpringsByStress(sim *phys.Simulation) []int {
	indices := make([]int, 0, len(sim.Springs))
	for i, s := range sim.Springs {
		if springCandidate(s) {
			indices = append(indices, i)
		}
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return sim.Springs[indices[a]].MaxStress < sim.Springs[indices[b]].MaxStress
	})
	return indices
}

// Constructor builds an optimizer for one rule.
type Constructor func(sim *phys.Simulation, r Rule) (Optimizer, error)

// Registry maps rule method tags to optimizer constructors.
type Registry struct {
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.constructors[MethodRemoveLowStress] = func(sim *phys.Simulation, rule Rule) (Optimizer, error) {
		return NewSpringRemover(sim, rule.Threshold, DefaultStopRatio), nil
	}
	r.constructors[MethodMassDisplace] = func(sim *phys.Simulation, rule Rule) (Optimizer, error) {
		minRest := math.MaxFloat64
		for _, s := range sim.Springs {
			minRest = math.Min(minRest, s.Rest)
		}
		if minRest == math.MaxFloat64 {
			return nil, fmt.Errorf("mass_displace: simulation has no springs")
		}
		md := NewMassDisplacer(sim, minRest*0.2, rule.Threshold)
		md.MaxLocalization = minRest + 1e-4
		return md, nil
	}
	r.constructors[MethodNone] = func(sim *phys.Simulation, rule Rule) (Optimizer, error) {
		return nil, nil
	}
	return r
}

// Register overrides or adds a constructor for a method tag.
func (r *Registry) Register(method string, c Constructor) {
	r.constructors[method] = c
}

// Build constructs the optimizer for a rule.
func (r *Registry) Build(sim *phys.Simulation, rule Rule) (Optimizer, error) {
	c, ok := r.constructors[rule.Method]
	if !ok {
		return nil, fmt.Errorf("unknown optimization method: %s", rule.Method)
	}
	return c(sim, rule)
}
