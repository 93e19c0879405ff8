package optimize

import (
	"math"
	"math/rand"
	"os"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/logging"
	"github.com/strukt-lab/trussopt/internal/metrics"
	"github.com/strukt-lab/trussopt/internal/phys"
	"github.com/strukt-lab/trussopt/internal/telemetry"
)

// DisplaceMode selects the acceptance-testing strategy of the mass
// displacer.
type DisplaceMode int

const (
	// ModeSingle probes one relocation per relaxation.
	ModeSingle DisplaceMode = iota
	// ModeTile severs the lattice into tiles and probes one relocation
	// per tile per relaxation.
	ModeTile
	// ModePopulation probes one relocation per replica container per
	// relaxation.
	ModePopulation
	// ModeSplitPopulation combines tiles and replicas, accepting at most
	// one shift per tile row.
	ModeSplitPopulation
)

// minRest is the smallest rest length a shift may produce.
const minRest = 1e-3

// groupAttemptCap bounds the retry loop of the tile mode.
const groupAttemptCap = 50

// MassDisplacer relocates single masses by a random displacement and
// keeps moves that shrink the local energy-times-length objective.
type MassDisplacer struct {
	sim *phys.Simulation
	rng *rand.Rand

	Mode            DisplaceMode
	Dx              float64
	StepRatio       float64
	ChunkCutoff     float64
	Relaxation      int
	MaxLocalization float64
	Unit            float64
	GridOffset      r3.Vec
	PopSize         int
	MaxAttempts     int

	Tracked []*phys.Mass
	Out     *telemetry.Output

	Iterations    int
	Attempts      int
	TotalAttempts int
	lastMetric    float64

	population []*phys.Container
	popOrigin  *phys.Container
}

func NewMassDisplacer(sim *phys.Simulation, dx, stepRatio float64) *MassDisplacer {
	return &MassDisplacer{
		sim:       sim,
		rng:       rand.New(rand.NewSource(1)),
		Mode:      ModeSingle,
		Dx:        dx,
		StepRatio: stepRatio,
		Unit:      0.1,
		PopSize:   40,
	}
}

// SetRand injects the random source. All sampling in the displacer goes
// through it.
func (d *MassDisplacer) SetRand(rng *rand.Rand) { d.rng = rng }

// LastMetric is the objective of the most recently accepted trial.
func (d *MassDisplacer) LastMetric() float64 { return d.lastMetric }

// Optimize retries displacement trials until one is accepted or the
// attempt cap is hit.
func (d *MassDisplacer) Optimize() error {
	d.Attempts = 0
	displaced := 0

	for displaced == 0 {
		d.Attempts++
		if d.MaxAttempts > 0 && d.Attempts > d.MaxAttempts {
			break
		}

		switch d.Mode {
		case ModeSingle:
			displaced = d.displaceSingleMass()
		case ModeTile:
			displaced = d.displaceGroupMass()
		case ModePopulation:
			displaced = d.displacePopMass()
		case ModeSplitPopulation:
			displaced = d.displaceSplitPopMass()
		}
	}

	d.Iterations += displaced
	d.TotalAttempts += d.Attempts
	logging.Logf("iteration %d attempts %d", d.Iterations, d.Attempts)
	return nil
}

// relax drives the simulation toward equilibrium between trial probes.
func (d *MassDisplacer) relax() {
	if d.Relaxation == 0 {
		metrics.Settle(d.sim, 1e-6, 0)
	} else {
		metrics.Relax(d.sim, d.Relaxation, d.Tracked, d.Out)
	}
}

// checkFinite treats a NaN objective as a programmer error: dump the
// whole graph and terminate.
func (d *MassDisplacer) checkFinite(energy float64) {
	if !math.IsNaN(energy) {
		return
	}
	d.sim.DumpState(os.Stdout)
	os.Exit(1)
}

// pickRandomMass samples candidate masses uniformly: free of external
// force and fixity and incident to at least one spring.
func (d *MassDisplacer) pickRandomMass(masses []*phys.Mass) *phys.Mass {
	for {
		m := masses[d.rng.Intn(len(masses))]
		if !m.Loaded() && !m.Fixed && m.SpringCount > 0 {
			return m
		}
	}
}

// shiftMass moves mt by dx, updating the rest length and stiffness of
// every incident spring in scope so k*rest stays constant. A shift that
// would leave any rest under minRest is rejected without side effects.
func shiftMass(scope []*phys.Spring, mt *phys.Mass, dx r3.Vec) bool {
	orig := mt.OrigPos.Add(dx)

	type change struct {
		s    *phys.Spring
		rest float64
	}
	var changes []change
	for _, s := range scope {
		var other *phys.Mass
		switch mt {
		case s.Left:
			other = s.Right
		case s.Right:
			other = s.Left
		default:
			continue
		}
		rest := r3.Norm(other.OrigPos.Sub(orig))
		if rest < minRest {
			return false
		}
		changes = append(changes, change{s, rest})
	}

	for _, c := range changes {
		c.s.K *= c.s.Rest / c.rest
		c.s.Rest = c.rest
	}
	mt.OrigPos = orig
	mt.Pos = mt.Pos.Add(dx)
	mt.Vel = r3.Vec{}
	return true
}

// snapshot captures the state a rejected trial must restore exactly.
type snapshot struct {
	masses  []*phys.Mass
	pos     []r3.Vec
	origPos []r3.Vec
	mass    []float64
	ext     []r3.Vec
	rest    []float64
	k       []float64
	force   []float64
	left    []*phys.Mass
	right   []*phys.Mass
}

func (d *MassDisplacer) takeSnapshot() *snapshot {
	sn := &snapshot{}
	for _, m := range d.sim.Masses {
		sn.masses = append(sn.masses, m)
		sn.pos = append(sn.pos, m.Pos)
		sn.origPos = append(sn.origPos, m.OrigPos)
		sn.mass = append(sn.mass, m.M)
		sn.ext = append(sn.ext, m.ExtForce)
	}
	for _, s := range d.sim.Springs {
		sn.rest = append(sn.rest, s.Rest)
		sn.k = append(sn.k, s.K)
		sn.force = append(sn.force, s.Force)
		sn.left = append(sn.left, s.Left)
		sn.right = append(sn.right, s.Right)
	}
	return sn
}

// restoreSnapshot undoes every position, rest length, stiffness, and
// spring force change since the snapshot, re-creating springs that were
// removed.
func (d *MassDisplacer) restoreSnapshot(sn *snapshot) {
	for i, m := range sn.masses {
		m.Pos = sn.pos[i]
		m.OrigPos = sn.origPos[i]
		m.M = sn.mass[i]
		m.Vel = r3.Vec{}
	}
	for i := 0; i < len(sn.rest); i++ {
		var s *phys.Spring
		if i < len(d.sim.Springs) {
			s = d.sim.Springs[i]
			if s.Left != sn.left[i] {
				s.SetLeft(sn.left[i])
			}
			if s.Right != sn.right[i] {
				s.SetRight(sn.right[i])
			}
		} else {
			s = phys.NewSpringFrom(d.sim.Springs[0])
			s.SetMasses(sn.left[i], sn.right[i])
			d.sim.CreateSpring(s)
		}
		s.K = sn.k[i]
		s.Rest = sn.rest[i]
		s.Force = sn.force[i]
		s.MaxStress = 0
	}
	d.sim.SetAll()
}

// displaceSingleMass probes one candidate relocation against the global
// objective and restores the snapshot when the trial loses.
func (d *MassDisplacer) displaceSingleMass() int {
	d.sim.GetAll()

	mt := d.pickRandomMass(d.sim.Masses)

	// With a chunk cutoff the whole neighborhood shifts rigidly.
	chunk := []*phys.Mass{mt}
	if d.ChunkCutoff > 0 {
		for _, m := range d.sim.Masses {
			if m != mt && r3.Norm(m.OrigPos.Sub(mt.OrigPos)) < d.ChunkCutoff {
				chunk = append(chunk, m)
			}
		}
	}

	sn := d.takeSnapshot()

	baseLength := metrics.TotalLength(d.sim.Springs)
	baseEnergy := metrics.TotalEnergy(d.sim.Springs)
	d.checkFinite(baseEnergy)
	baseline := baseLength * baseEnergy

	dx := geom.RandDirection(d.rng).Scale(d.Dx)
	for _, m := range chunk {
		if !shiftMass(d.sim.Springs, m, dx) {
			d.restoreSnapshot(sn)
			return 0
		}
	}
	d.sim.SetAll()

	d.relax()

	testLength := metrics.TotalLength(d.sim.Springs)
	testEnergy := metrics.TotalEnergy(d.sim.Springs)
	d.checkFinite(testEnergy)
	test := testLength * testEnergy

	if test >= baseline {
		d.restoreSnapshot(sn)
		return 0
	}

	d.sim.SetAll()
	d.lastMetric = test
	return 1
}

// displaceGroupMass severs the lattice into tiles, probes one candidate
// per tile, and accepts each tile's shift independently.
func (d *MassDisplacer) displaceGroupMass() int {
	d.sim.GetAll()

	minPos, maxPos := bounds(d.sim.Masses)
	groups, trench := tileGrid(d.sim.Masses, d.sim.Springs, minPos, maxPos, d.Unit, d.GridOffset, false)
	if len(groups) == 0 {
		return 1
	}

	sn := d.takeSnapshot()

	saved := d.splitTiles(trench)
	d.sim.SetAll()
	d.relax()

	for _, mg := range groups {
		mg.OrigEnergy = mg.Energy()
		mg.OrigLength = mg.Length()
		for _, m := range mg.Group {
			mg.startPos = append(mg.startPos, m.Pos)
		}
		for _, s := range mg.Springs {
			mg.startRest = append(mg.startRest, s.Rest)
		}
	}

	result := 0
	for attempts := 0; result == 0 && attempts < groupAttemptCap; attempts++ {
		for _, mg := range groups {
			if len(mg.Candidates) == 0 {
				continue
			}
			mg.Displaced = d.pickRandomMass(mg.Candidates)
			mg.Dx = geom.RandDirection(d.rng).Scale(d.Dx)
			if !shiftMass(d.sim.Springs, mg.Displaced, mg.Dx) {
				mg.Displaced = nil
			}
		}
		d.sim.SetAll()
		d.relax()

		for _, mg := range groups {
			if mg.Displaced == nil {
				continue
			}
			mg.TestEnergy = mg.Energy()
			mg.TestLength = mg.Length()

			for i, m := range mg.Group {
				m.Pos = mg.startPos[i]
				m.Vel = r3.Vec{}
			}
			// Undo the probe in place; the pre-add keeps pos at its
			// recorded start once shiftMass subtracts dx again.
			mg.Displaced.Pos = mg.Displaced.Pos.Add(mg.Dx)
			shiftMass(d.sim.Springs, mg.Displaced, mg.Dx.Scale(-1))

			if mg.TestEnergy*mg.TestLength < mg.OrigEnergy*mg.OrigLength {
				mg.acceptedMass = append(mg.acceptedMass, mg.Displaced)
				mg.acceptedDx = append(mg.acceptedDx, mg.Dx)
				result++
			}
			mg.Displaced = nil
		}
	}

	// Reapply the winning shifts to the global graph.
	displacedGroup := make(map[*phys.Mass]*MassGroup)
	for _, mg := range groups {
		for i, m := range mg.acceptedMass {
			shiftMass(d.sim.Springs, m, mg.acceptedDx[i])
			displacedGroup[m] = mg
		}
	}

	rejected := d.combineTiles(saved, displacedGroup)
	for _, mg := range rejected {
		for i, m := range mg.acceptedMass {
			shiftMass(d.sim.Springs, m, mg.acceptedDx[i].Scale(-1))
			result--
		}
		mg.acceptedMass = nil
		mg.acceptedDx = nil
	}

	// Restore pre-split kinematics and external forces; accepted
	// original-position changes persist in origpos, rest, and k.
	for i, m := range sn.masses {
		if !m.Valid() {
			continue
		}
		m.Pos = sn.pos[i]
		m.M = sn.mass[i]
		m.ExtForce = sn.ext[i]
	}
	d.sim.SetAll()

	return result
}

// savedTrench remembers everything needed to rebuild a severed trench
// spring.
type savedTrench struct {
	tpl   *phys.Spring
	rest  float64
	k     float64
	left  *phys.Mass
	right *phys.Mass
	con   *phys.Container
}

// splitTiles compensates edge masses with the trench forces and deletes
// the trench springs, leaving the local equilibria unchanged in the
// limit.
func (d *MassDisplacer) splitTiles(trench []*phys.Spring) []savedTrench {
	saved := make([]savedTrench, 0, len(trench))
	for _, s := range trench {
		f := s.ForceVec()
		if !s.Right.Fixed {
			s.Right.ExtForce = s.Right.ExtForce.Add(f)
			s.Right.ExtDuration = math.Inf(1)
		}
		if !s.Left.Fixed {
			s.Left.ExtForce = s.Left.ExtForce.Sub(f)
			s.Left.ExtDuration = math.Inf(1)
		}

		var owner *phys.Container
		for _, c := range d.sim.Containers {
			for _, cs := range c.Springs {
				if cs == s {
					owner = c
					break
				}
			}
		}
		saved = append(saved, savedTrench{
			tpl:   phys.NewSpringFrom(s),
			rest:  s.Rest,
			k:     s.K,
			left:  s.Left,
			right: s.Right,
			con:   owner,
		})
		d.sim.DeleteSpring(s)
	}
	return saved
}

// combineTiles rebuilds the trench springs. When an endpoint moved and
// the rebuilt rest would collapse, the owning group's trial is rejected;
// such groups are returned so the caller can roll their shifts back.
func (d *MassDisplacer) combineTiles(saved []savedTrench, displacedGroup map[*phys.Mass]*MassGroup) []*MassGroup {
	rejected := make(map[*MassGroup]bool)
	for _, sv := range saved {
		n := sv.tpl
		n.Rest = sv.rest
		n.K = sv.k
		n.SetMasses(sv.left, sv.right)

		newRest := r3.Norm(n.Right.OrigPos.Sub(n.Left.OrigPos))
		if newRest != n.Rest {
			if newRest < minRest {
				for _, end := range []*phys.Mass{n.Left, n.Right} {
					if mg := displacedGroup[end]; mg != nil {
						mg.TestEnergy = math.Inf(1)
						rejected[mg] = true
					}
				}
			} else {
				n.K *= n.Rest / newRest
				n.Rest = newRest
			}
		}

		d.sim.CreateSpring(n)
		if sv.con != nil {
			sv.con.AddSpring(n)
		}
	}

	out := make([]*MassGroup, 0, len(rejected))
	for mg := range rejected {
		out = append(out, mg)
	}
	return out
}
