package phys

import (
	"math"

	"github.com/strukt-lab/trussopt/internal/r3"
)

// Mass is a point mass in the lattice graph.
type Mass struct {
	Pos     r3.Vec
	OrigPos r3.Vec
	Vel     r3.Vec
	Acc     r3.Vec

	ExtForce    r3.Vec
	ExtDuration float64

	M           float64
	Fixed       bool
	SpringCount int
	DT          float64
	Index       int

	force r3.Vec
	valid bool
}

func (m *Mass) Fix()   { m.Fixed = true }
func (m *Mass) Unfix() { m.Fixed = false }

// Valid reports whether the mass is still owned by a simulation.
func (m *Mass) Valid() bool { return m.valid }

// Loaded reports whether the mass carries a non-negligible external force.
func (m *Mass) Loaded() bool { return r3.Norm(m.ExtForce) > 1e-6 }

// Spring is an undirected elastic edge between two masses.
type Spring struct {
	Left  *Mass
	Right *Mass

	Rest       float64
	K          float64
	Force      float64
	MaxStress  float64
	Diam       float64
	BreakForce float64
	Compute    bool

	valid bool
}

// NewSpringFrom copies the material constants of a template spring. The
// endpoints are left unset; callers follow up with SetMasses.
func NewSpringFrom(tpl *Spring) *Spring {
	return &Spring{
		Rest:       tpl.Rest,
		K:          tpl.K,
		Diam:       tpl.Diam,
		BreakForce: tpl.BreakForce,
		Compute:    tpl.Compute,
	}
}

func (s *Spring) Valid() bool { return s.valid }

// SetMasses rewires both endpoints, keeping incidence counts on the
// affected masses consistent. Rest and K are not touched.
func (s *Spring) SetMasses(l, r *Mass) {
	s.SetLeft(l)
	s.SetRight(r)
}

func (s *Spring) SetLeft(m *Mass) {
	if s.Left != nil {
		s.Left.SpringCount--
	}
	s.Left = m
	if m != nil {
		m.SpringCount++
	}
}

func (s *Spring) SetRight(m *Mass) {
	if s.Right != nil {
		s.Right.SpringCount--
	}
	s.Right = m
	if m != nil {
		m.SpringCount++
	}
}

// Axis returns the vector from the left to the right endpoint.
func (s *Spring) Axis() r3.Vec { return s.Right.Pos.Sub(s.Left.Pos) }

// ForceVec returns the current force on the right endpoint; the left
// endpoint sees the negation.
func (s *Spring) ForceVec() r3.Vec {
	l := r3.Norm(s.Axis())
	if l == 0 {
		return r3.Vec{}
	}
	return s.Axis().Scale(-s.Force / l)
}

// Energy is the elastic energy metric force^2/k used throughout the
// optimizers.
func (s *Spring) Energy() float64 {
	if s.K == 0 {
		return math.NaN()
	}
	return s.Force * s.Force / s.K
}

// Container is a logical partition of the simulation graph. It shares
// storage with the simulation; membership is the only state it owns.
type Container struct {
	Masses  []*Mass
	Springs []*Spring
}

func (c *Container) AddMass(m *Mass)     { c.Masses = append(c.Masses, m) }
func (c *Container) AddSpring(s *Spring) { c.Springs = append(c.Springs, s) }

func (c *Container) removeSpring(s *Spring) {
	for i, t := range c.Springs {
		if t == s {
			c.Springs = append(c.Springs[:i], c.Springs[i+1:]...)
			return
		}
	}
}

func (c *Container) removeMass(m *Mass) {
	for i, t := range c.Masses {
		if t == m {
			c.Masses = append(c.Masses[:i], c.Masses[i+1:]...)
			return
		}
	}
}
