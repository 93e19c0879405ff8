package metrics

import (
	"math"

	"github.com/strukt-lab/trussopt/internal/phys"
	"github.com/strukt-lab/trussopt/internal/telemetry"
)

// equilibriumWindows is how many consecutive near-constant energy
// readings count as mechanical equilibrium.
const equilibriumWindows = 10

// EquilibriumDetector declares equilibrium after ten consecutive energy
// observations within a relative eps of each other.
type EquilibriumDetector struct {
	Eps float64

	prev        float64
	closeStreak int
	settled     bool
}

func NewEquilibriumDetector(eps float64) *EquilibriumDetector {
	return &EquilibriumDetector{Eps: eps, prev: -1}
}

// Observe feeds one energy reading and returns the equilibrium state.
func (d *EquilibriumDetector) Observe(energy float64) bool {
	if d.prev > 0 && math.Abs(d.prev-energy) < energy*d.Eps {
		d.closeStreak++
	} else {
		d.closeStreak = 0
	}
	if d.closeStreak >= equilibriumWindows {
		d.settled = true
	}
	d.prev = energy
	return d.settled
}

func (d *EquilibriumDetector) InEquilibrium() bool { return d.settled }

func (d *EquilibriumDetector) Reset() {
	d.prev = -1
	d.closeStreak = 0
	d.settled = false
}

// Settle advances the simulation in windows of dt*100 until total energy
// is stable within eps. With a positive cap, it also terminates once the
// energy exceeds the cap after 50 windows. Returns the window count.
func Settle(sim *phys.Simulation, eps float64, cap float64) int {
	det := NewEquilibriumDetector(eps)
	steps := 0
	for {
		energy := TotalEnergy(sim.Springs)
		if det.Observe(energy) {
			return steps
		}
		if cap > 0 && energy > cap && steps > 50 {
			return steps
		}
		sim.Step(sim.Dt() * 100)
		sim.GetAll()
		steps++
	}
}

// Relax advances the simulation by exactly steps*dt. When tracked masses
// are given, one force row per tracked mass is emitted before the first
// and after every step.
func Relax(sim *phys.Simulation, steps int, tracked []*phys.Mass, out *telemetry.Output) {
	if len(tracked) == 0 {
		sim.Step(sim.Dt() * float64(steps))
		sim.GetAll()
		return
	}

	sim.GetAll()
	writeTracked(0, tracked, out)
	for i := 0; i < steps; i++ {
		sim.Step(sim.Dt())
		sim.GetAll()
		writeTracked(i+1, tracked, out)
	}
}

func writeTracked(step int, tracked []*phys.Mass, out *telemetry.Output) {
	rows := make([]telemetry.ForceRow, 0, len(tracked))
	for n, m := range tracked {
		force := m.Acc.Scale(m.M)
		rows = append(rows, telemetry.ForceRow{
			Time: step,
			PosX: m.Pos.X, PosY: m.Pos.Y, PosZ: m.Pos.Z,
			ForceX: force.X, ForceY: force.Y, ForceZ: force.Z,
			Index: n,
		})
	}
	out.WriteForces(rows)
}
