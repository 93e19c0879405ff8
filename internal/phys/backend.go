package phys

import (
	"math"

	"github.com/strukt-lab/trussopt/internal/r3"
)

// Backend integrates the equations of motion for a simulation. Set and
// Get form the host/device sync pair; a device backend copies buffers,
// the CPU backend works on the host arenas directly.
type Backend interface {
	Name() string
	Step(s *Simulation, dt float64)
	Set(s *Simulation)
	Get(s *Simulation)
}

// CPUBackend is the reference semi-implicit Euler integrator.
type CPUBackend struct{}

func NewCPUBackend() *CPUBackend { return &CPUBackend{} }

func (b *CPUBackend) Name() string { return "cpu" }

// Set and Get are no-ops: the CPU backend shares the host arenas, so
// device state always equals host state.
func (b *CPUBackend) Set(s *Simulation) {}
func (b *CPUBackend) Get(s *Simulation) {}

func (b *CPUBackend) Step(s *Simulation, dt float64) {
	for _, m := range s.Masses {
		m.force = r3.Vec{}
	}

	for _, sp := range s.Springs {
		if !sp.Compute {
			continue
		}
		d := sp.Right.Pos.Sub(sp.Left.Pos)
		l := r3.Norm(d)
		if l == 0 {
			sp.Force = 0
			continue
		}
		f := sp.K * (l - sp.Rest)
		sp.Force = f
		if abs := math.Abs(f); abs > sp.MaxStress {
			sp.MaxStress = abs
		}
		fv := d.Scale(f / l)
		sp.Left.force = sp.Left.force.Add(fv)
		sp.Right.force = sp.Right.force.Sub(fv)
	}

	for _, m := range s.Masses {
		if m.ExtDuration > 0 {
			m.force = m.force.Add(m.ExtForce)
			if !math.IsInf(m.ExtDuration, 1) {
				m.ExtDuration -= dt
				if m.ExtDuration < 0 {
					m.ExtDuration = 0
				}
			}
		}
		if m.Fixed {
			m.Vel = r3.Vec{}
			m.Acc = r3.Vec{}
			continue
		}
		m.force = m.force.Add(s.Gravity.Scale(m.M))
		m.Acc = m.force.Scale(1 / m.M)
		m.Vel = m.Vel.Add(m.Acc.Scale(dt)).Scale(s.Damping)
		m.Pos = m.Pos.Add(m.Vel.Scale(dt))
	}
}
