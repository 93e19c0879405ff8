// Package metrics computes the structural measures the optimizers accept
// or reject against: total bar length, elastic energy, and load-point
// deflection.
package metrics

import (
	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/phys"
)

// TotalLength sums rest lengths over a scope of springs.
func TotalLength(springs []*phys.Spring) float64 {
	length := 0.0
	for _, s := range springs {
		length += s.Rest
	}
	return length
}

// TotalEnergy sums force^2/k over a scope of springs.
func TotalEnergy(springs []*phys.Spring) float64 {
	energy := 0.0
	for _, s := range springs {
		energy += s.Energy()
	}
	return energy
}

// Deflection is the distance between the current and the original
// centroid of the loaded masses.
func Deflection(loaded []*phys.Mass) float64 {
	if len(loaded) == 0 {
		return 0
	}
	var cur, orig r3.Vec
	for _, m := range loaded {
		cur = cur.Add(m.Pos)
		orig = orig.Add(m.OrigPos)
	}
	n := 1 / float64(len(loaded))
	return r3.Norm(cur.Scale(n).Sub(orig.Scale(n)))
}
