package config

import (
	"fmt"
	"math/rand"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/lattice"
	"github.com/strukt-lab/trussopt/internal/logging"
	"github.com/strukt-lab/trussopt/internal/optimize"
	"github.com/strukt-lab/trussopt/internal/phys"
	"github.com/strukt-lab/trussopt/internal/sim"
)

// defaultStiffness is the k*rest factor used when no material resolves.
const defaultStiffness = 10000

// Contains reports whether p lies inside the volume. Only box primitives
// are evaluated; anything else selects nothing and warns.
func (v *Volume) Contains(p r3.Vec) bool {
	if v == nil {
		return false
	}
	switch v.Primitive {
	case "box", "":
		min := ParseVec(v.Min)
		max := ParseVec(v.Max)
		slack := r3.Vec{X: 1e-6, Y: 1e-6, Z: 1e-6}
		return geom.InBounds(p, min.Sub(slack), max.Add(slack))
	default:
		logging.Warnf("unsupported volume primitive %q", v.Primitive)
		return false
	}
}

// Build realizes a design: lattice the simulation volume, resolve the
// load queue against volumes, and translate the optimization config into
// driver rules and stop criteria.
func Build(d *Design, rng *rand.Rand) (*phys.Simulation, sim.Config, error) {
	if len(d.Simulations) == 0 {
		return nil, sim.Config{}, fmt.Errorf("design has no simulation config")
	}
	sc := &d.Simulations[0]

	vol := d.VolumeByID(sc.Volume)
	if vol == nil {
		return nil, sim.Config{}, fmt.Errorf("simulation references unknown volume %q", sc.Volume)
	}

	unit := ParseVec(sc.Lattice.Unit)
	if unit.X <= 0 {
		return nil, sim.Config{}, fmt.Errorf("lattice unit must be positive")
	}

	stiffness := float64(defaultStiffness)
	if m := d.MaterialByID(sc.Lattice.Material); m != nil {
		if e, _ := ParseScalar(m.Elasticity); e > 0 {
			stiffness = e
		}
	}
	diam := ParseVec(sc.Lattice.BarDiameter)

	simulation := phys.NewSimulation()
	simulation.Damping = DefaultDamping
	if sc.Damping.Velocity > 0 {
		simulation.Damping = sc.Damping.Velocity
	}
	simulation.Gravity = ParseVec(sc.Global.Acceleration)

	cutoff := unit.X * 1.05
	if sc.Lattice.Fill == "space" {
		cutoff = unit.X * 1.8
	}
	lattice.Grid(simulation, ParseVec(vol.Min), ParseVec(vol.Max), unit.X, cutoff,
		ParseVec(sc.Lattice.Jiggle), rng, lattice.Template{
			Stiffness: stiffness,
			Diam:      diam.X,
		})

	cfg := sim.Config{
		RenderTimestep: DefaultRenderTimestep,
		LatticeUnit:    unit.X,
	}

	if sc.Repeat.After != "" && sc.Repeat.After != "optimize" {
		after, _ := ParseScalar(sc.Repeat.After)
		cfg.RepeatAfter = after
		cfg.ExplicitAfter = true
	}
	if sc.Repeat.Rotation != "" && sc.Repeat.Rotation != "random" {
		cfg.RepeatRotation = ParseVec(sc.Repeat.Rotation)
		cfg.ExplicitRotation = true
	}

	queueIDs := sc.LoadQueue
	if len(queueIDs) == 0 && sc.Load != "" {
		queueIDs = []string{sc.Load}
	}
	for _, id := range queueIDs {
		lc := d.LoadcaseByID(id)
		if lc == nil {
			continue
		}
		resolved := resolveLoadcase(d, lc, simulation)
		cfg.LoadQueue = append(cfg.LoadQueue, resolved)
		if cfg.Load == nil {
			cfg.Load = resolved
		}
	}

	if d.Optimization != nil {
		for _, r := range d.Optimization.Rules {
			cfg.Rules = append(cfg.Rules, optimize.Rule{
				Method:    r.Method,
				Threshold: ParseThreshold(r.Threshold),
				Frequency: r.Frequency,
			})
		}
		for _, s := range d.Optimization.StopCriteria {
			cfg.StopCriteria = append(cfg.StopCriteria, sim.StopCriterion{
				Metric:    s.Metric,
				Threshold: ParseThreshold(s.Threshold),
			})
		}
	}

	return simulation, cfg, nil
}

func resolveLoadcase(d *Design, lc *Loadcase, simulation *phys.Simulation) *sim.Loadcase {
	out := &sim.Loadcase{Name: lc.ID}
	for _, a := range lc.Anchors {
		vol := d.VolumeByID(a.Volume)
		anchor := &sim.Anchor{}
		for _, m := range simulation.Masses {
			if vol.Contains(m.OrigPos) {
				anchor.Masses = append(anchor.Masses, m)
			}
		}
		if len(anchor.Masses) == 0 {
			logging.Warnf("anchor volume %q selects no masses", a.Volume)
		}
		out.Anchors = append(out.Anchors, anchor)
	}
	for _, f := range lc.Forces {
		vol := d.VolumeByID(f.Volume)
		force := &sim.Force{
			Magnitude: ParseVec(f.Magnitude),
			Duration:  f.Duration,
			Vary:      ParseVec(f.Vary),
		}
		for _, m := range simulation.Masses {
			if vol.Contains(m.OrigPos) {
				force.Masses = append(force.Masses, m)
			}
		}
		if len(force.Masses) == 0 {
			logging.Warnf("force volume %q selects no masses", f.Volume)
		}
		out.Forces = append(out.Forces, force)
		dur := f.Duration
		if dur < 0 {
			dur = 0
		}
		if dur > out.TotalDuration {
			out.TotalDuration = dur
		}
	}
	return out
}
