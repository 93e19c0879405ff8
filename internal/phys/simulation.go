package phys

import (
	"fmt"
	"io"
	"math"

	"github.com/strukt-lab/trussopt/internal/r3"
)

const (
	DefaultDt      = 0.0001
	DefaultDamping = 0.99
	DefaultMass    = 0.1
)

// Simulation owns the masses, springs, and containers of one lattice and
// fronts the integrator backend. All other components hold non-owning
// references into its arenas.
type Simulation struct {
	Masses     []*Mass
	Springs    []*Spring
	Containers []*Container

	Gravity r3.Vec
	Damping float64

	backend Backend
	dt      float64
	time    float64
}

func NewSimulation() *Simulation {
	return &Simulation{
		Damping: DefaultDamping,
		backend: NewCPUBackend(),
		dt:      DefaultDt,
	}
}

func (s *Simulation) SetBackend(b Backend) { s.backend = b }
func (s *Simulation) SetDt(dt float64) {
	s.dt = dt
	for _, m := range s.Masses {
		m.DT = dt
	}
}

func (s *Simulation) Dt() float64   { return s.dt }
func (s *Simulation) Time() float64 { return s.time }

// CreateMass adds a mass at pos with default inertia. The original
// position is pinned to pos.
func (s *Simulation) CreateMass(pos r3.Vec) *Mass {
	m := &Mass{
		Pos:     pos,
		OrigPos: pos,
		M:       DefaultMass,
		DT:      s.dt,
		Index:   len(s.Masses),
		valid:   true,
	}
	s.Masses = append(s.Masses, m)
	return m
}

// CreateSpring registers a spring whose endpoints have already been set.
func (s *Simulation) CreateSpring(sp *Spring) *Spring {
	sp.valid = true
	s.Springs = append(s.Springs, sp)
	return sp
}

// DeleteSpring removes a spring from the simulation and every container,
// and drops endpoint masses that end up with no incident springs.
// The spring must not be dereferenced afterwards.
func (s *Simulation) DeleteSpring(sp *Spring) {
	for i, t := range s.Springs {
		if t == sp {
			s.Springs = append(s.Springs[:i], s.Springs[i+1:]...)
			break
		}
	}
	for _, c := range s.Containers {
		c.removeSpring(sp)
	}
	l, r := sp.Left, sp.Right
	sp.SetLeft(nil)
	sp.SetRight(nil)
	sp.valid = false
	for _, m := range []*Mass{l, r} {
		if m != nil && m.SpringCount == 0 {
			s.deleteMass(m)
		}
	}
}

func (s *Simulation) deleteMass(m *Mass) {
	for i, t := range s.Masses {
		if t == m {
			s.Masses = append(s.Masses[:i], s.Masses[i+1:]...)
			break
		}
	}
	for _, c := range s.Containers {
		c.removeMass(m)
	}
	m.valid = false
}

func (s *Simulation) CreateContainer() *Container {
	c := &Container{}
	s.Containers = append(s.Containers, c)
	return c
}

// DeleteContainer removes the container and every mass and spring it
// holds from the simulation.
func (s *Simulation) DeleteContainer(c *Container) {
	springs := append([]*Spring(nil), c.Springs...)
	for _, sp := range springs {
		if sp.valid {
			s.DeleteSpring(sp)
		}
	}
	masses := append([]*Mass(nil), c.Masses...)
	for _, m := range masses {
		if m.valid {
			s.deleteMass(m)
		}
	}
	for i, t := range s.Containers {
		if t == c {
			s.Containers = append(s.Containers[:i], s.Containers[i+1:]...)
			return
		}
	}
}

// Step advances the integrator by duration, in substeps of the
// simulation dt.
func (s *Simulation) Step(duration float64) {
	n := int(math.Round(duration / s.dt))
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.backend.Step(s, s.dt)
		s.time += s.dt
	}
}

// SetAll pushes host-side mutations to the integrator. Between SetAll and
// the next host mutation, device state equals host state.
func (s *Simulation) SetAll() { s.backend.Set(s) }

// GetAll pulls current positions, velocities, accelerations, and spring
// forces back to the host.
func (s *Simulation) GetAll() { s.backend.Get(s) }

// DumpState writes the full mass and spring state. Used when a metric
// turns non-finite, which is treated as a programmer error.
func (s *Simulation) DumpState(w io.Writer) {
	for i, m := range s.Masses {
		fmt.Fprintf(w, "Mass %d m %g pos %g,%g,%g\n", i, m.M, m.Pos.X, m.Pos.Y, m.Pos.Z)
	}
	for _, sp := range s.Springs {
		fmt.Fprintf(w, "Spring %d,%d rest %g k %g\n", sp.Left.Index, sp.Right.Index, sp.Rest, sp.K)
	}
}
