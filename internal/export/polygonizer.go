package export

import (
	"math"

	"github.com/strukt-lab/trussopt/internal/r3"
)

// Triangle is one mesh facet.
type Triangle struct {
	Normal  r3.Vec
	A, B, C r3.Vec
}

// Polygonizer tubes each bar into an n-sided prism with end caps. Its
// three phases run in order: InitBaseSegments, CalculatePolygon,
// WriteSTL.
type Polygonizer struct {
	data       BarData
	resolution float64
	diameter   float64
	sides      int

	rings     [][]r3.Vec
	triangles []Triangle
}

func NewPolygonizer(data BarData, resolution, diameter float64, sides int) *Polygonizer {
	if sides < 3 {
		sides = 3
	}
	return &Polygonizer{
		data:       data,
		resolution: resolution,
		diameter:   diameter,
		sides:      sides,
	}
}

// InitBaseSegments computes the vertex rings at both ends of every bar.
func (p *Polygonizer) InitBaseSegments() {
	p.rings = make([][]r3.Vec, 0, len(p.data.Bars)*2)
	for _, bar := range p.data.Bars {
		axis := bar.Right.Sub(bar.Left)
		if r3.Norm(axis) == 0 {
			p.rings = append(p.rings, nil, nil)
			continue
		}
		u, v := frame(r3.Unit(axis))
		radius := bar.Diam / 2
		if radius <= 0 {
			radius = p.diameter / 2
		}
		left := make([]r3.Vec, p.sides)
		right := make([]r3.Vec, p.sides)
		for i := 0; i < p.sides; i++ {
			phi := 2 * math.Pi * float64(i) / float64(p.sides)
			offset := u.Scale(radius * math.Cos(phi)).Add(v.Scale(radius * math.Sin(phi)))
			left[i] = bar.Left.Add(offset)
			right[i] = bar.Right.Add(offset)
		}
		p.rings = append(p.rings, left, right)
	}
}

// CalculatePolygon assembles the side quads and end caps into triangles.
func (p *Polygonizer) CalculatePolygon() {
	p.triangles = p.triangles[:0]
	for b := range p.data.Bars {
		left := p.rings[b*2]
		right := p.rings[b*2+1]
		if left == nil {
			continue
		}
		for i := 0; i < p.sides; i++ {
			j := (i + 1) % p.sides
			p.addTriangle(left[i], right[i], right[j])
			p.addTriangle(left[i], right[j], left[j])
		}
		for i := 1; i < p.sides-1; i++ {
			p.addTriangle(left[0], left[i+1], left[i])
			p.addTriangle(right[0], right[i], right[i+1])
		}
	}
}

func (p *Polygonizer) addTriangle(a, b, c r3.Vec) {
	n := b.Sub(a).Cross(c.Sub(a))
	if l := r3.Norm(n); l > 0 {
		n = n.Scale(1 / l)
	}
	p.triangles = append(p.triangles, Triangle{Normal: n, A: a, B: b, C: c})
}

// frame returns two unit vectors orthogonal to axis and to each other.
func frame(axis r3.Vec) (u, v r3.Vec) {
	ref := r3.Vec{X: 1}
	if math.Abs(axis.X) > 0.9 {
		ref = r3.Vec{Y: 1}
	}
	u = r3.Unit(axis.Cross(ref))
	v = r3.Unit(axis.Cross(u))
	return u, v
}
