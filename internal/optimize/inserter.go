package optimize

import (
	"math"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/logging"
	"github.com/strukt-lab/trussopt/internal/phys"
)

// parallelTol is the angular tolerance for treating two bars that share
// a two-spring mass as one collinear bar.
const parallelTol = 1e-4

// SpringInserter braces the most stressed springs by bisecting their
// neighbors and bridging the midpoints, then fuses bars the bracing left
// collinear.
type SpringInserter struct {
	sim *phys.Simulation

	addRatio float64
	Cutoff   float64
}

func NewSpringInserter(sim *phys.Simulation, addRatio float64) *SpringInserter {
	return &SpringInserter{sim: sim, addRatio: addRatio}
}

// Optimize braces the top addRatio stressed springs and combines
// parallel leftovers.
func (in *SpringInserter) Optimize() error {
	in.sim.GetAll()

	sorted := sortSpringsByStress(in.sim)
	toAdd := int(in.addRatio*float64(len(in.sim.Springs))) + 1

	braced := 0
	for j := len(sorted) - 1; j >= 0 && j >= len(sorted)-toAdd; j-- {
		s := in.sim.Springs[sorted[j]]
		if !s.Valid() {
			continue
		}
		braced += in.braceSpring(s)
	}

	combined := in.combineParallelSprings()
	in.sim.SetAll()

	logging.Logf("braced %d springs, combined %d pairs", braced, combined)
	return nil
}

// braceSpring bisects the springs around a stressed bar and bridges
// midpoint pairs that run alongside it. Returns the number of bridge and
// periphery springs added; the halves created by bisection are not
// counted.
func (in *SpringInserter) braceSpring(stressed *phys.Spring) int {
	m1, m2 := stressed.Left, stressed.Right
	svec := m1.Pos.Sub(m2.Pos)

	var springsSO []*phys.Spring
	var massesSO []*phys.Mass
	for _, s := range in.sim.Springs {
		if s == stressed {
			continue
		}
		shares := s.Left == m1 || s.Left == m2 || s.Right == m1 || s.Right == m2
		if !shares {
			continue
		}
		if springCandidate(s) {
			springsSO = append(springsSO, s)
		}
		if s.Right == m1 || s.Right == m2 {
			massesSO = append(massesSO, s.Left)
		} else {
			massesSO = append(massesSO, s.Right)
		}
	}

	mids := make([]r3.Vec, len(springsSO))
	omids := make([]r3.Vec, len(springsSO))
	for i, so := range springsSO {
		mids[i] = geom.Bisect(so.Left.Pos, so.Right.Pos)
		omids[i] = geom.Bisect(so.Left.OrigPos, so.Right.OrigPos)
	}

	halfcutoff := stressed.Rest / 2
	midMass := make(map[int]*phys.Mass)
	var midUsed []*phys.Mass
	added := 0

	materialize := func(i int) *phys.Mass {
		if m, ok := midMass[i]; ok {
			return m
		}
		m := in.sim.CreateMass(mids[i])
		m.OrigPos = omids[i]
		in.bisectSpring(springsSO[i], m)
		midMass[i] = m
		midUsed = append(midUsed, m)
		return m
	}

	for i := 0; i < len(mids); i++ {
		for j := i + 1; j < len(mids); j++ {
			mvec := mids[i].Sub(mids[j])
			if r3.Norm(mvec) == 0 || r3.Norm(mvec) > halfcutoff*2 || geom.Angle(mvec, svec) > math.Pi/4 {
				continue
			}
			if in.Cutoff > 0 && r3.Norm(mvec) > in.Cutoff {
				continue
			}

			n := materialize(i)
			o := materialize(j)

			tpl := in.sim.Springs[0]
			b := phys.NewSpringFrom(tpl)
			b.SetMasses(n, o)
			b.Rest = r3.Norm(n.OrigPos.Sub(o.OrigPos))
			b.K *= tpl.Rest / b.Rest
			in.sim.CreateSpring(b)
			added++
		}
	}

	// Periphery springs hook each new midpoint into nearby second-order
	// masses so the brace carries shear as well.
	for _, p := range midUsed {
		for _, so := range massesSO {
			if so == p || !so.Valid() {
				continue
			}
			v := so.OrigPos.Sub(p.OrigPos)
			if r3.Norm(v) > halfcutoff || r3.Norm(v) == 0 {
				continue
			}
			tpl := in.sim.Springs[0]
			s := phys.NewSpringFrom(tpl)
			s.SetMasses(so, p)
			s.Rest = r3.Norm(v)
			s.K *= tpl.Rest / s.Rest
			in.sim.CreateSpring(s)
			added++
		}
	}

	stressed.MaxStress = 0
	return added
}

// bisectSpring splits s at mid: the existing spring becomes the left
// half at half rest and double stiffness, a copy becomes the right half.
func (in *SpringInserter) bisectSpring(s *phys.Spring, mid *phys.Mass) {
	l, r := s.Left, s.Right

	mid.M = l.M/float64(l.SpringCount) + r.M/float64(r.SpringCount)
	mid.DT = l.DT

	s.SetMasses(l, mid)
	s.Rest *= 0.5
	s.K *= 2

	rs := phys.NewSpringFrom(s)
	rs.SetMasses(mid, r)
	in.sim.CreateSpring(rs)
	in.sim.SetAll()
}

// combineParallelSprings fuses collinear spring pairs joined by a mass
// with no other attachments. Returns the number of pairs combined.
func (in *SpringInserter) combineParallelSprings() int {
	combined := 0
	for i := 0; i < len(in.sim.Springs)-1; i++ {
		a := in.sim.Springs[i]
		for j := i + 1; j < len(in.sim.Springs); j++ {
			b := in.sim.Springs[j]
			if !a.Valid() || !b.Valid() {
				continue
			}

			var com *phys.Mass
			if a.Left == b.Left || a.Left == b.Right {
				com = a.Left
			}
			if a.Right == b.Right || a.Right == b.Left {
				com = a.Right
			}
			if com == nil || com.SpringCount != 2 {
				continue
			}

			av := a.Left.Pos.Sub(a.Right.Pos)
			bv := b.Left.Pos.Sub(b.Right.Pos)
			angle := geom.Angle(av, bv)
			if angle >= math.Pi-parallelTol || angle <= parallelTol {
				in.joinSprings(a, b)
				combined++
				j = len(in.sim.Springs) // a changed endpoints; end its scan, it is not rechecked this pass
			}
		}
	}
	return combined
}

// joinSprings extends s1 across both far endpoints, preserving k*rest,
// and deletes s2 along with the shared mass.
func (in *SpringInserter) joinSprings(s1, s2 *phys.Spring) {
	var com, sep1, sep2 *phys.Mass
	switch {
	case s1.Left == s2.Left:
		com, sep1, sep2 = s1.Left, s1.Right, s2.Right
	case s1.Left == s2.Right:
		com, sep1, sep2 = s1.Left, s1.Right, s2.Left
	case s1.Right == s2.Right:
		com, sep1, sep2 = s1.Right, s1.Left, s2.Left
	case s1.Right == s2.Left:
		com, sep1, sep2 = s1.Right, s1.Left, s2.Right
	}
	if com == nil {
		return
	}

	v := sep1.Pos.Sub(sep2.Pos)
	s1.SetMasses(sep1, sep2)
	s1.K *= s1.Rest / r3.Norm(v)
	s1.Rest = r3.Norm(v)

	// Deleting s2 orphans com, which removes it from the simulation.
	in.sim.DeleteSpring(s2)
	in.sim.SetAll()
}
