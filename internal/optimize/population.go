package optimize

import (
	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/logging"
	"github.com/strukt-lab/trussopt/internal/metrics"
	"github.com/strukt-lab/trussopt/internal/phys"
)

// ensurePopulation lazily builds the replica containers on the first
// population-mode iteration. Each replica is a deep copy of the original
// subgraph that shares the integrator, so one relaxation advances every
// replica at once.
func (d *MassDisplacer) ensurePopulation() {
	if d.population != nil {
		return
	}
	if len(d.sim.Containers) == 0 {
		con := d.sim.CreateContainer()
		for _, m := range d.sim.Masses {
			con.AddMass(m)
		}
		for _, s := range d.sim.Springs {
			con.AddSpring(s)
		}
	}
	d.popOrigin = d.sim.Containers[0]
	d.population = make([]*phys.Container, 0, d.PopSize)

	for p := 0; p < d.PopSize; p++ {
		copyCon := d.sim.CreateContainer()
		index := make(map[*phys.Mass]int, len(d.popOrigin.Masses))
		for i, m := range d.popOrigin.Masses {
			index[m] = i
			c := d.sim.CreateMass(m.Pos)
			c.OrigPos = m.OrigPos
			c.Vel = m.Vel
			c.M = m.M
			c.Fixed = m.Fixed
			c.ExtForce = m.ExtForce
			c.ExtDuration = m.ExtDuration
			c.DT = m.DT
			copyCon.AddMass(c)
		}
		for _, s := range d.popOrigin.Springs {
			c := phys.NewSpringFrom(s)
			c.Rest = s.Rest
			c.K = s.K
			c.SetMasses(copyCon.Masses[index[s.Left]], copyCon.Masses[index[s.Right]])
			copyCon.AddSpring(d.sim.CreateSpring(c))
		}
		d.population = append(d.population, copyCon)
	}
	d.sim.SetAll()
	logging.Logf("created %d replica containers", len(d.population))
}

// DropPopulation tears the replica containers down.
func (d *MassDisplacer) DropPopulation() {
	for _, c := range d.population {
		d.sim.DeleteContainer(c)
	}
	d.population = nil
	d.popOrigin = nil
}

// displacePopMass probes one independent relocation per replica,
// amortizing a single relaxation across the whole population, and
// propagates the first improving replica to the original and the rest.
func (d *MassDisplacer) displacePopMass() int {
	d.ensurePopulation()
	d.sim.GetAll()

	orig := d.popOrigin
	baseline := metrics.TotalLength(orig.Springs) * metrics.TotalEnergy(orig.Springs)
	d.checkFinite(baseline)

	moved := make([]int, len(d.population))
	moves := make([]r3.Vec, len(d.population))
	shifted := make([]bool, len(d.population))
	for p, con := range d.population {
		mt := d.pickRandomMass(con.Masses)
		for i, m := range con.Masses {
			if m == mt {
				moved[p] = i
				break
			}
		}
		moves[p] = geom.RandDirection(d.rng).Scale(d.Dx)
		shifted[p] = shiftMass(con.Springs, mt, moves[p])
	}
	d.sim.SetAll()

	d.relax()

	for p, con := range d.population {
		test := metrics.TotalLength(con.Springs) * metrics.TotalEnergy(con.Springs)
		d.checkFinite(test)
		if !shifted[p] || test >= baseline {
			continue
		}

		// Winner: propagate its shift everywhere, undo the others.
		shiftMass(orig.Springs, orig.Masses[moved[p]], moves[p])
		for i, m := range orig.Masses {
			m.Pos = con.Masses[i].Pos
			m.Vel = con.Masses[i].Vel
		}
		for q, other := range d.population {
			if other == con {
				continue
			}
			shiftMass(other.Springs, other.Masses[moved[p]], moves[p])
			if shifted[q] {
				shiftMass(other.Springs, other.Masses[moved[q]], moves[q].Scale(-1))
			}
		}
		d.sim.SetAll()
		d.lastMetric = test
		return 1
	}

	for p, con := range d.population {
		if shifted[p] {
			shiftMass(con.Springs, con.Masses[moved[p]], moves[p].Scale(-1))
		}
	}
	d.sim.SetAll()
	return 0
}

// displaceSplitPopMass combines tiles and replicas: each replica is cut
// into the same tile rows, and at most one improving shift per row is
// accepted and broadcast.
func (d *MassDisplacer) displaceSplitPopMass() int {
	d.ensurePopulation()
	d.sim.GetAll()

	orig := d.popOrigin
	minPos, maxPos := bounds(orig.Masses)

	// Per-replica tiling with aligned rows.
	perReplica := make([][]*MassGroup, len(d.population))
	var trench []*phys.Spring
	rows := -1
	for p, con := range d.population {
		groups, t := tileGrid(con.Masses, con.Springs, minPos, maxPos, d.Unit, d.GridOffset, true)
		perReplica[p] = groups
		trench = append(trench, t...)
		if rows < 0 || len(groups) < rows {
			rows = len(groups)
		}
	}
	if rows <= 0 {
		return 1
	}

	saved := d.splitTiles(trench)
	d.sim.SetAll()
	d.relax()

	base := make([][]float64, len(d.population))
	for p, groups := range perReplica {
		base[p] = make([]float64, len(groups))
		for g, mg := range groups {
			base[p][g] = mg.Length() * mg.Energy()
			if len(mg.Candidates) == 0 {
				continue
			}
			mg.Displaced = d.pickRandomMass(mg.Candidates)
			mg.Dx = geom.RandDirection(d.rng).Scale(d.Dx)
			if !shiftMass(d.sim.Springs, mg.Displaced, mg.Dx) {
				mg.Displaced = nil
			}
		}
	}
	d.sim.SetAll()
	d.relax()

	n := 0
	type win struct {
		index int
		dx    r3.Vec
	}
	var wins []win
	for row := 0; row < rows; row++ {
		taken := false
		for p, con := range d.population {
			mg := perReplica[p][row]
			if mg.Displaced == nil {
				continue
			}
			test := mg.Length() * mg.Energy()
			if !taken && test < base[p][row] {
				for i, m := range con.Masses {
					if m == mg.Displaced {
						wins = append(wins, win{index: i, dx: mg.Dx})
						taken = true
						break
					}
				}
			}
			shiftMass(d.sim.Springs, mg.Displaced, mg.Dx.Scale(-1))
			mg.Displaced = nil
		}
		if taken {
			n++
		}
	}

	for _, w := range wins {
		shiftMass(orig.Springs, orig.Masses[w.index], w.dx)
		for _, con := range d.population {
			shiftMass(con.Springs, con.Masses[w.index], w.dx)
		}
	}

	// Re-sync every replica to the original.
	for i, m := range orig.Masses {
		for _, con := range d.population {
			con.Masses[i].Pos = m.Pos
			con.Masses[i].Vel = m.Vel
			con.Masses[i].ExtForce = m.ExtForce
		}
	}

	d.combineTiles(saved, nil)
	d.sim.SetAll()
	return n
}
