package optimize

import (
	"math"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/geom"
	"github.com/strukt-lab/trussopt/internal/phys"
)

// boundsSlack nudges tile bounds so lattice masses sitting exactly on a
// grid line fall into a deterministic tile.
const boundsSlack = 1e-2

// MassGroup is the per-tile scratch structure of the mass displacer.
// Group holds the interior masses, Candidates the displaceable subset,
// Springs the interior springs, Border the trench springs touching the
// tile, Outside the exterior endpoints, and Edge the interior endpoints
// of border springs. Edge masses are frozen so inter-tile topology stays
// stable under local moves.
type MassGroup struct {
	Group      []*phys.Mass
	Candidates []*phys.Mass
	Springs    []*phys.Spring
	Border     []*phys.Spring
	Outside    []*phys.Mass
	Edge       []*phys.Mass

	Displaced *phys.Mass
	Dx        r3.Vec

	OrigEnergy float64
	OrigLength float64
	TestEnergy float64
	TestLength float64

	startPos  []r3.Vec
	startRest []float64

	acceptedMass []*phys.Mass
	acceptedDx   []r3.Vec
}

// Length sums rest over the group's interior springs.
func (mg *MassGroup) Length() float64 {
	l := 0.0
	for _, s := range mg.Springs {
		l += s.Rest
	}
	return l
}

// Energy sums force^2/k over the group's interior springs.
func (mg *MassGroup) Energy() float64 {
	e := 0.0
	for _, s := range mg.Springs {
		e += s.Energy()
	}
	return e
}

// newMassGroup classifies the given masses and springs against the box
// [minc, maxc). Both endpoints inside makes an interior spring; exactly
// one inside makes a border spring with an edge and an outside endpoint.
func newMassGroup(masses []*phys.Mass, springs []*phys.Spring, minc, maxc r3.Vec) *MassGroup {
	mg := &MassGroup{}

	slack := r3.Vec{X: boundsSlack, Y: boundsSlack, Z: boundsSlack}
	minc = minc.Sub(slack)
	maxc = maxc.Sub(slack)

	inGroup := make(map[*phys.Mass]bool)
	inEdge := make(map[*phys.Mass]bool)
	inOutside := make(map[*phys.Mass]bool)

	for _, s := range springs {
		leftIn := geom.InBounds(s.Left.Pos, minc, maxc)
		rightIn := geom.InBounds(s.Right.Pos, minc, maxc)
		switch {
		case leftIn && rightIn:
			mg.Springs = append(mg.Springs, s)
			inGroup[s.Left] = true
			inGroup[s.Right] = true
		case leftIn:
			mg.Border = append(mg.Border, s)
			inEdge[s.Left] = true
			inOutside[s.Right] = true
		case rightIn:
			mg.Border = append(mg.Border, s)
			inEdge[s.Right] = true
			inOutside[s.Left] = true
		}
	}

	for _, m := range masses {
		if inGroup[m] {
			mg.Group = append(mg.Group, m)
			if !m.Loaded() && !m.Fixed && !inEdge[m] && m.SpringCount > 0 {
				mg.Candidates = append(mg.Candidates, m)
			}
		}
		if inEdge[m] {
			mg.Edge = append(mg.Edge, m)
		}
		if inOutside[m] {
			mg.Outside = append(mg.Outside, m)
		}
	}

	return mg
}

// tileSpan computes the 1D extent of tile i out of n along one axis.
// The first tile spans two units minus the offset, interior tiles one
// unit, the next-to-last absorbs the remainder, and the final tile is
// discarded; spans under three units collapse into a single tile. The
// offset shifts the grid while preserving full coverage.
func tileSpan(n, i int, unit, offset, minPos float64) (start, end float64, ok bool) {
	if n < 3 {
		if i != 0 {
			return 0, 0, false
		}
		return minPos, minPos + 3*unit, true
	}
	switch {
	case i == 0:
		return minPos, minPos + 2*unit - offset, true
	case i == n-1:
		return 0, 0, false
	case i == n-2:
		// Absorbs the remainder plus a half-unit margin so masses on the
		// far boundary always land in a tile.
		return minPos + float64(i+1)*unit - offset, minPos + float64(i+3)*unit + unit/2, true
	default:
		return minPos + float64(i+1)*unit - offset, minPos + float64(i+2)*unit - offset, true
	}
}

// bounds returns the axis-aligned bounding box of a set of masses.
func bounds(masses []*phys.Mass) (min, max r3.Vec) {
	min = r3.Vec{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64}
	max = min.Scale(-1)
	for _, m := range masses {
		min.X = math.Min(min.X, m.Pos.X)
		min.Y = math.Min(min.Y, m.Pos.Y)
		min.Z = math.Min(min.Z, m.Pos.Z)
		max.X = math.Max(max.X, m.Pos.X)
		max.Y = math.Max(max.Y, m.Pos.Y)
		max.Z = math.Max(max.Z, m.Pos.Z)
	}
	return min, max
}

// tileGrid decomposes one scope (the whole simulation or a replica
// container) into cuboidal mass groups and returns them along with the
// deduplicated trench springs between them.
// keepEmpty retains candidate-less (but populated) groups so that rows
// stay aligned across replica containers in split-population mode.
func tileGrid(masses []*phys.Mass, springs []*phys.Spring, minPos, maxPos r3.Vec, unit float64, offset r3.Vec, keepEmpty bool) (groups []*MassGroup, trench []*phys.Spring) {
	span := maxPos.Sub(minPos)
	nx := int(math.Ceil(span.X / unit))
	ny := int(math.Ceil(span.Y / unit))
	nz := int(math.Ceil(span.Z / unit))
	if nx > 1 {
		nx--
	}
	if ny > 1 {
		ny--
	}
	if nz > 1 {
		nz--
	}

	seen := make(map[*phys.Spring]bool)
	for x := 0; x < nx; x++ {
		xst, xen, okx := tileSpan(nx, x, unit, offset.X, minPos.X)
		if !okx {
			continue
		}
		for y := 0; y < ny; y++ {
			yst, yen, oky := tileSpan(ny, y, unit, offset.Y, minPos.Y)
			if !oky {
				continue
			}
			for z := 0; z < nz; z++ {
				zst, zen, okz := tileSpan(nz, z, unit, offset.Z, minPos.Z)
				if !okz {
					continue
				}
				mg := newMassGroup(masses, springs,
					r3.Vec{X: xst, Y: yst, Z: zst}, r3.Vec{X: xen, Y: yen, Z: zen})
				if len(mg.Candidates) == 0 && !(keepEmpty && len(mg.Group) > 0) {
					continue
				}
				groups = append(groups, mg)
				for _, s := range mg.Border {
					if !seen[s] {
						seen[s] = true
						trench = append(trench, s)
					}
				}
			}
		}
	}
	return groups, trench
}
