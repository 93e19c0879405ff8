// Package lattice builds spring lattices from volumes and point clouds.
package lattice

import (
	"math"
	"math/rand"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/phys"
)

// Template carries the bar constants applied to every generated spring.
type Template struct {
	Stiffness  float64
	Diam       float64
	BreakForce float64
}

// Grid fills the box [min, max] with a cubic lattice of pitch unit and
// connects every mass pair closer than cutoff. A cutoff just above unit
// yields axis-aligned bars only; sqrt(3)*unit adds the cube diagonals.
// Jiggle perturbs each grid point by a uniform sample in ±jiggle.
func Grid(sim *phys.Simulation, min, max r3.Vec, unit float64, cutoff float64, jiggle r3.Vec, rng *rand.Rand, tpl Template) *phys.Container {
	con := sim.CreateContainer()

	nx := int(math.Round((max.X-min.X)/unit)) + 1
	ny := int(math.Round((max.Y-min.Y)/unit)) + 1
	nz := int(math.Round((max.Z-min.Z)/unit)) + 1

	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				p := r3.Vec{
					X: min.X + float64(i)*unit,
					Y: min.Y + float64(j)*unit,
					Z: min.Z + float64(k)*unit,
				}
				if rng != nil && r3.Norm(jiggle) > 0 {
					p = p.Add(r3.Vec{
						X: geom.RandFloat(rng, -jiggle.X, jiggle.X),
						Y: geom.RandFloat(rng, -jiggle.Y, jiggle.Y),
						Z: geom.RandFloat(rng, -jiggle.Z, jiggle.Z),
					})
				}
				con.AddMass(sim.CreateMass(p))
			}
		}
	}

	Connect(sim, con, cutoff, tpl)
	return con
}

// Connect creates one spring for every mass pair in con within cutoff of
// each other, with rest equal to the pair distance and stiffness scaled
// so k*rest matches the template at unit rest.
func Connect(sim *phys.Simulation, con *phys.Container, cutoff float64, tpl Template) {
	for i := 0; i < len(con.Masses); i++ {
		for j := i + 1; j < len(con.Masses); j++ {
			a, b := con.Masses[i], con.Masses[j]
			d := r3.Norm(b.OrigPos.Sub(a.OrigPos))
			if d == 0 || d > cutoff {
				continue
			}
			s := &phys.Spring{
				Rest:       d,
				K:          tpl.Stiffness / d,
				Diam:       tpl.Diam,
				BreakForce: tpl.BreakForce,
				Compute:    true,
			}
			s.SetMasses(a, b)
			con.AddSpring(sim.CreateSpring(s))
		}
	}
}

// Space connects an arbitrary point cloud the same way Grid does.
func Space(sim *phys.Simulation, pts []r3.Vec, cutoff float64, tpl Template) *phys.Container {
	con := sim.CreateContainer()
	for _, p := range pts {
		con.AddMass(sim.CreateMass(p))
	}
	Connect(sim, con, cutoff, tpl)
	return con
}
