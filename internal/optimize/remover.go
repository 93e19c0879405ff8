package optimize

import (
	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/logging"
	"github.com/strukt-lab/trussopt/internal/phys"
)

// DefaultStopRatio stops bulk removal once half the original springs are
// gone.
const DefaultStopRatio = 0.5

// maxStressDecay ages surviving stress records so newly extreme values
// dominate the next removal cycle.
const maxStressDecay = 0.9

// SpringRemover deletes the least-stressed springs each cycle and prunes
// the hanging limbs the deletions leave behind. It owns the incidence
// map mass -> incident springs and repairs it on every deletion.
type SpringRemover struct {
	sim *phys.Simulation

	removeRatio float64
	stopRatio   float64
	startCount  int

	incidence map[*phys.Mass][]*phys.Spring
}

func NewSpringRemover(sim *phys.Simulation, removeRatio, stopRatio float64) *SpringRemover {
	r := &SpringRemover{
		sim:         sim,
		removeRatio: removeRatio,
		stopRatio:   stopRatio,
		startCount:  len(sim.Springs),
		incidence:   make(map[*phys.Mass][]*phys.Spring),
	}
	for _, s := range sim.Springs {
		r.incidence[s.Left] = append(r.incidence[s.Left], s)
		r.incidence[s.Right] = append(r.incidence[s.Right], s)
	}
	return r
}

// Incidence exposes the current incidence list of a mass.
func (r *SpringRemover) Incidence(m *phys.Mass) []*phys.Spring {
	return r.incidence[m]
}

func (r *SpringRemover) removeFromMap(s *phys.Spring) {
	for _, m := range []*phys.Mass{s.Left, s.Right} {
		list := r.incidence[m]
		for i, t := range list {
			if t == s {
				r.incidence[m] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Optimize removes the removeRatio least-stressed springs, prunes hanging
// limbs until the candidate queue drains, and commits all deletions in
// one batch.
func (r *SpringRemover) Optimize() error {
	r.sim.GetAll()

	if float64(len(r.sim.Springs)) <= r.stopRatio*float64(r.startCount) {
		return nil
	}

	toDelete := make(map[*phys.Spring]bool)
	hanging := make(map[*phys.Spring]bool)

	toRemove := int(r.removeRatio * float64(len(r.sim.Springs)))
	if toRemove < 1 {
		toRemove = 1
	}

	sorted := sortSpringsByStress(r.sim)
	if len(sorted) == 0 {
		if msi := minSpringByStress(r.sim); msi >= 0 {
			sorted = []int{msi}
		}
	}
	for j := 0; j < toRemove && j < len(sorted); j++ {
		d := r.sim.Springs[sorted[j]]
		toDelete[d] = true
		r.removeFromMap(d)
		for _, c := range r.incidence[d.Left] {
			hanging[c] = true
		}
		for _, c := range r.incidence[d.Right] {
			hanging[c] = true
		}
	}

	// Hanging limb pruning: a limb ends in a mass of incidence one, or in
	// an acute two-spring pair.
	for len(hanging) > 0 {
		next := make(map[*phys.Spring]bool)
		for s := range hanging {
			if toDelete[s] {
				continue
			}
			if len(r.incidence[s.Left]) == 1 {
				toDelete[s] = true
				r.removeFromMap(s)
				for _, c := range r.incidence[s.Right] {
					if c != s {
						next[c] = true
					}
				}
			}
			if !toDelete[s] && len(r.incidence[s.Right]) == 1 {
				toDelete[s] = true
				r.removeFromMap(s)
				for _, c := range r.incidence[s.Left] {
					if c != s {
						next[c] = true
					}
				}
			}
			if !toDelete[s] {
				r.pruneAcutePair(s, s.Left, toDelete, next)
			}
			if !toDelete[s] {
				r.pruneAcutePair(s, s.Right, toDelete, next)
			}
		}
		hanging = next
	}

	for s := range toDelete {
		r.sim.DeleteSpring(s)
	}
	r.purge()

	for _, s := range r.sim.Springs {
		s.MaxStress *= maxStressDecay
	}
	r.sim.SetAll()

	logging.Logf("springs %d of %d after removal", len(r.sim.Springs), r.startCount)
	return nil
}

// pruneAcutePair checks the two-spring case on one endpoint of s: if the
// only other incident spring h forms an acute angle with s, both bars are
// a hanging pair.
func (r *SpringRemover) pruneAcutePair(s *phys.Spring, end *phys.Mass, toDelete, next map[*phys.Spring]bool) {
	if len(r.incidence[end]) != 2 {
		return
	}
	for _, h := range r.incidence[end] {
		if h == s {
			continue
		}
		bar1 := s.Right.Pos.Sub(s.Left.Pos)
		bar2 := h.Right.Pos.Sub(h.Left.Pos)
		if !geom.IsAcute(bar1, bar2) {
			continue
		}
		toDelete[s] = true
		toDelete[h] = true
		r.removeFromMap(s)
		r.removeFromMap(h)

		// Walk outward from the pair's far endpoints.
		for _, far := range []*phys.Mass{h.Left, h.Right, s.Left, s.Right} {
			if far == end {
				continue
			}
			for _, c := range r.incidence[far] {
				if c != s && c != h {
					next[c] = true
				}
			}
		}
		return
	}
}

// purge drops map entries for masses that no longer exist and stale
// spring references left by batch deletion.
func (r *SpringRemover) purge() {
	for m, list := range r.incidence {
		if !m.Valid() {
			delete(r.incidence, m)
			continue
		}
		kept := list[:0]
		for _, s := range list {
			if s.Valid() {
				kept = append(kept, s)
			}
		}
		r.incidence[m] = kept
	}
}
