// Package sim drives the simulation loop: load queueing, repeat
// rotation, equilibrium gating, optimizer dispatch, stop evaluation, and
// metric logging.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/logging"
	"github.com/strukt-lab/trussopt/internal/metrics"
	"github.com/strukt-lab/trussopt/internal/optimize"
	"github.com/strukt-lab/trussopt/internal/phys"
	"github.com/strukt-lab/trussopt/internal/telemetry"
)

// equilibriumEps is the relative energy tolerance gating
// equilibrium-driven optimization.
const equilibriumEps = 1e-6

// secondaryRemoveRatio sizes the fallback spring remover the driver
// switches to once the energy objective bottoms out.
const secondaryRemoveRatio = 0.05

// Exporter receives the final structure when the driver stops.
type Exporter interface {
	Export(s *phys.Simulation)
}

// Driver owns one simulation run.
type Driver struct {
	sim *phys.Simulation
	cfg Config
	rng *rand.Rand
	out *telemetry.Output

	Exporter Exporter

	status Status

	optimizer     optimize.Optimizer
	springRemover *optimize.SpringRemover
	massDisplacer *optimize.MassDisplacer
	detector      *metrics.EquilibriumDetector

	totalLength      float64
	totalEnergy      float64
	totalLengthStart float64
	totalEnergyStart float64

	steps     int
	prevSteps int
	optimized int
	switched  bool

	repeatTime    float64
	nRepeats      int
	optimizeAfter int
	center        r3.Vec

	currentLoad  int
	pastLoadTime float64
	varyLoad     bool
}

// NewDriver wires optimizers from the rule table and primes the metric
// baselines.
func NewDriver(simulation *phys.Simulation, cfg Config, rng *rand.Rand, out *telemetry.Output) (*Driver, error) {
	if cfg.RenderTimestep <= 0 {
		return nil, fmt.Errorf("render timestep must be positive, got %f", cfg.RenderTimestep)
	}

	d := &Driver{
		sim:      simulation,
		cfg:      cfg,
		rng:      rng,
		out:      out,
		status:   Paused,
		detector: metrics.NewEquilibriumDetector(equilibriumEps),
	}

	d.totalLengthStart = metrics.TotalLength(simulation.Springs)
	d.repeatTime = cfg.RepeatAfter
	if d.repeatTime > 0 {
		d.optimizeAfter = 10
	}
	d.center = simCenter(simulation)

	minRest := math.MaxFloat64
	for _, s := range simulation.Springs {
		minRest = math.Min(minRest, s.Rest)
	}

	registry := optimize.NewRegistry()
	registry.Register(optimize.MethodMassDisplace, func(ps *phys.Simulation, r optimize.Rule) (optimize.Optimizer, error) {
		unit := cfg.LatticeUnit
		if unit <= 0 {
			unit = minRest
		}
		md := optimize.NewMassDisplacer(ps, unit*0.2, r.Threshold)
		md.MaxLocalization = minRest + 1e-4
		md.Relaxation = 4000
		md.Unit = unit
		md.Out = out
		md.SetRand(rng)
		d.massDisplacer = md
		return md, nil
	})

	for _, rule := range cfg.Rules {
		opt, err := registry.Build(simulation, rule)
		if err != nil {
			return nil, err
		}
		if opt != nil {
			d.optimizer = opt
		}
	}

	// Secondary remover for the optimizer switch.
	d.springRemover = optimize.NewSpringRemover(simulation, secondaryRemoveRatio, optimize.DefaultStopRatio)
	if r, ok := d.optimizer.(*optimize.SpringRemover); ok {
		d.springRemover = r
	}

	for _, l := range append([]*Loadcase{cfg.Load}, cfg.LoadQueue...) {
		if l == nil {
			continue
		}
		for _, f := range l.Forces {
			if r3.Norm(f.Vary) > 0 {
				d.varyLoad = true
			}
		}
	}

	return d, nil
}

func (d *Driver) Status() Status                     { return d.status }
func (d *Driver) Sim() *phys.Simulation              { return d.sim }
func (d *Driver) TotalLength() (cur, start float64)  { return d.totalLength, d.totalLengthStart }
func (d *Driver) TotalEnergy() (cur, start float64)  { return d.totalEnergy, d.totalEnergyStart }
func (d *Driver) Optimized() int                     { return d.optimized }
func (d *Driver) Repeats() int                       { return d.nRepeats }
func (d *Driver) Displacer() *optimize.MassDisplacer { return d.massDisplacer }

// Run ticks until the driver stops or the context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	for d.status != Stopped {
		select {
		case <-ctx.Done():
			d.status = Paused
			return ctx.Err()
		default:
		}
		if err := d.RunTick(); err != nil {
			return err
		}
	}
	return nil
}

// RunTick advances one render window and applies at most one
// optimization pass. Within a tick no other task observes partial state.
func (d *Driver) RunTick() error {
	if d.status == Stopped {
		return nil
	}
	d.status = Started

	if d.repeatTime > 0 && d.repeatTime < d.sim.Time() {
		d.repeatLoad()
	}

	loadQueueDone := len(d.cfg.LoadQueue) == 0
	if d.sim.Time() >= d.pastLoadTime && len(d.cfg.LoadQueue) > 0 {
		if d.currentLoad >= len(d.cfg.LoadQueue) {
			loadQueueDone = true
		} else {
			load := d.cfg.LoadQueue[d.currentLoad]
			d.clearLoads()
			d.applyLoad(load)
			d.currentLoad++
			d.pastLoadTime += load.TotalDuration
		}
	}

	d.sim.Step(d.cfg.RenderTimestep)
	d.sim.GetAll()

	d.totalLength = metrics.TotalLength(d.sim.Springs)
	d.totalEnergy = metrics.TotalEnergy(d.sim.Springs)
	if math.IsNaN(d.totalEnergy) {
		d.sim.DumpState(os.Stdout)
		os.Exit(1)
	}

	stopReached, stopMetric := d.stopCriteriaMet()

	energyDriven := !d.switched && len(d.cfg.Rules) > 0 &&
		d.cfg.Rules[0].Method == optimize.MethodMassDisplace

	// Once the energy objective would stop the run, hand over to the
	// secondary remover instead of stopping.
	if energyDriven && stopReached && stopMetric == StopEnergy && d.springRemover != nil {
		d.optimizer = d.springRemover
		d.switched = true
		stopReached = false
		energyDriven = false
		logging.Logf("switched to spring removal at t=%.3f", d.sim.Time())
	}

	if energyDriven {
		equil := d.detector.Observe(d.totalEnergy)
		if equil && d.optimized == 0 && d.totalEnergyStart == 0 {
			d.totalEnergyStart = d.totalEnergy
		}
		if equil && d.optimizeAfter <= d.nRepeats && !stopReached && d.optimizer != nil {
			if err := d.optimizer.Optimize(); err != nil {
				return err
			}
			d.detector.Reset()
			d.optimized++
			d.prevSteps = 0
			if d.varyLoad {
				d.varyLoadDirection()
			}
		}
	} else if d.switched {
		if err := d.optimizer.Optimize(); err != nil {
			return err
		}
		d.optimized++
		d.prevSteps = 0
		d.currentLoad = 0
	} else {
		for _, rule := range d.cfg.Rules {
			if rule.Frequency <= 0 || d.optimizer == nil {
				continue
			}
			if (loadQueueDone || d.cfg.ExplicitAfter) && d.optimizeAfter <= d.nRepeats &&
				d.prevSteps >= rule.Frequency && !stopReached {
				if err := d.optimizer.Optimize(); err != nil {
					return err
				}
				d.optimized++
				d.prevSteps = 0
				d.currentLoad = 0
				if d.varyLoad {
					d.varyLoadDirection()
				}
			}
		}
	}

	substeps := int(math.Round(d.cfg.RenderTimestep / d.sim.Dt()))
	d.steps += substeps
	d.prevSteps += substeps

	d.writeMetric()

	if stopReached {
		d.status = Stopped
		if d.Exporter != nil {
			d.Exporter.Export(d.sim)
		}
	}
	return nil
}

func (d *Driver) stopCriteriaMet() (bool, string) {
	for _, c := range d.cfg.StopCriteria {
		switch c.Metric {
		case StopEnergy:
			if d.totalEnergyStart > 0 && d.totalEnergy/d.totalEnergyStart <= c.Threshold {
				return true, StopEnergy
			}
		case StopWeight:
			if d.totalLengthStart > 0 && d.totalLength/d.totalLengthStart <= c.Threshold {
				return true, StopWeight
			}
		case StopDeflection:
			if d.calcDeflection() >= c.Threshold {
				return true, StopDeflection
			}
		}
	}
	return false, StopNone
}

// repeatLoad resets every mass to its original position rotated about
// the lattice centroid, averaging the optimization over load
// orientations.
func (d *Driver) repeatLoad() {
	rotation := d.cfg.RepeatRotation
	if !d.cfg.ExplicitRotation {
		rotation = geom.RandDirection(d.rng)
	}

	rx := r3.NewRotation(rotation.X*2*math.Pi, r3.Vec{X: 1})
	ry := r3.NewRotation(rotation.Y*2*math.Pi, r3.Vec{Y: 1})
	rz := r3.NewRotation(rotation.Z*2*math.Pi, r3.Vec{Z: 1})

	for _, m := range d.sim.Masses {
		p := m.OrigPos.Sub(d.center)
		p = rz.Rotate(ry.Rotate(rx.Rotate(p)))
		m.Pos = p.Add(d.center)
		m.Vel = r3.Vec{}
		m.Acc = r3.Vec{}
	}

	d.repeatTime += d.cfg.RepeatAfter
	d.nRepeats++
	d.sim.SetAll()
}

func simCenter(s *phys.Simulation) r3.Vec {
	var sum r3.Vec
	if len(s.Masses) == 0 {
		return sum
	}
	for _, m := range s.Masses {
		sum = sum.Add(m.Pos)
	}
	return sum.Scale(1 / float64(len(s.Masses)))
}

func (d *Driver) loadedMasses() []*phys.Mass {
	seen := make(map[*phys.Mass]bool)
	var out []*phys.Mass
	cases := append([]*Loadcase{d.cfg.Load}, d.cfg.LoadQueue...)
	for _, l := range cases {
		if l == nil {
			continue
		}
		for _, f := range l.Forces {
			for _, m := range f.Masses {
				if !seen[m] && m.Valid() {
					seen[m] = true
					out = append(out, m)
				}
			}
		}
	}
	return out
}

func (d *Driver) calcDeflection() float64 {
	return metrics.Deflection(d.loadedMasses())
}

func (d *Driver) clearLoads() {
	for _, m := range d.sim.Masses {
		m.ExtForce = r3.Vec{}
		m.ExtDuration = 0
		m.Unfix()
	}
}

func (d *Driver) applyLoad(load *Loadcase) {
	d.sim.GetAll()

	for _, a := range load.Anchors {
		for _, m := range a.Masses {
			if m.Valid() {
				m.Fix()
			}
		}
	}
	for _, f := range load.Forces {
		n := 0
		for _, m := range f.Masses {
			if !m.Valid() {
				continue
			}
			m.ExtDuration += f.Duration
			if m.ExtDuration < 0 {
				m.ExtDuration = math.Inf(1)
			}
			n++
		}
		if n == 0 {
			continue
		}
		distributed := f.Magnitude.Scale(1 / float64(n))
		for _, m := range f.Masses {
			if m.Valid() {
				m.ExtForce = m.ExtForce.Add(distributed)
			}
		}
	}
	d.sim.SetAll()
}

// varyLoadDirection re-samples every force direction within its vary
// range and reapplies the distributed loads.
func (d *Driver) varyLoadDirection() {
	var l *Loadcase
	switch {
	case len(d.cfg.LoadQueue) > 0 && d.currentLoad > 0:
		l = d.cfg.LoadQueue[d.currentLoad-1]
	case len(d.cfg.LoadQueue) > 0:
		l = d.cfg.LoadQueue[len(d.cfg.LoadQueue)-1]
	default:
		l = d.cfg.Load
	}
	if l == nil {
		return
	}

	for _, m := range d.sim.Masses {
		m.ExtForce = r3.Vec{}
	}
	for _, f := range l.Forces {
		if len(f.Masses) == 0 {
			continue
		}
		mag := r3.Norm(f.Magnitude) / float64(len(f.Masses))
		dir := r3.Unit(f.Magnitude)
		if r3.Norm(f.Vary) > 0 {
			delta := r3.Vec{
				X: geom.RandFloat(d.rng, -f.Vary.X, f.Vary.X),
				Y: geom.RandFloat(d.rng, -f.Vary.Y, f.Vary.Y),
				Z: geom.RandFloat(d.rng, -f.Vary.Z, f.Vary.Z),
			}
			dir = r3.Unit(dir.Add(delta))
		}
		for _, m := range f.Masses {
			if m.Valid() {
				m.ExtForce = m.ExtForce.Add(dir.Scale(mag))
			}
		}
	}
	d.sim.SetAll()
}

func (d *Driver) writeMetric() {
	if d.out == nil {
		return
	}
	energyMode := len(d.cfg.StopCriteria) > 0 && d.cfg.StopCriteria[0].Metric == StopEnergy
	if energyMode {
		var dx float64
		var attempts int
		if d.massDisplacer != nil {
			dx = d.massDisplacer.Dx
			attempts = d.massDisplacer.Attempts
		}
		d.out.WriteEnergy(telemetry.EnergyRow{
			Time:         d.sim.Time(),
			Iteration:    d.optimized,
			Deflection:   d.calcDeflection(),
			Displacement: dx,
			Attempts:     attempts,
			TotalEnergy:  d.totalEnergy,
			TotalWeight:  d.totalLength,
		})
		return
	}
	d.out.WriteWeight(telemetry.WeightRow{
		Time:        d.sim.Time(),
		Iteration:   d.optimized,
		Deflection:  d.calcDeflection(),
		TotalWeight: d.totalLength,
		BarNumber:   len(d.sim.Springs),
	})
}
