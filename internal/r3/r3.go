// Package r3 adapts gonum.org/v1/gonum/spatial/r3's free-function API to
// also expose Vec as a method receiver, matching the call style used
// throughout this module.
package r3

import (
	upstream "gonum.org/v1/gonum/spatial/r3"
)

// Vec is a 3D vector.
type Vec struct {
	X, Y, Z float64
}

func conv(v Vec) upstream.Vec { return upstream.Vec{X: v.X, Y: v.Y, Z: v.Z} }
func back(v upstream.Vec) Vec { return Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Add returns the vector sum of p and q.
func Add(p, q Vec) Vec { return back(upstream.Add(conv(p), conv(q))) }

// Sub returns the vector sum of p and -q.
func Sub(p, q Vec) Vec { return back(upstream.Sub(conv(p), conv(q))) }

// Scale returns the vector p scaled by f.
func Scale(f float64, p Vec) Vec { return back(upstream.Scale(f, conv(p))) }

// Dot returns the dot product p·q.
func Dot(p, q Vec) float64 { return upstream.Dot(conv(p), conv(q)) }

// Cross returns the cross product p×q.
func Cross(p, q Vec) Vec { return back(upstream.Cross(conv(p), conv(q))) }

// Norm returns the Euclidean norm of p.
func Norm(p Vec) float64 { return upstream.Norm(conv(p)) }

// Norm2 returns the Euclidean squared norm of p.
func Norm2(p Vec) float64 { return upstream.Norm2(conv(p)) }

// Unit returns the unit vector colinear to p.
func Unit(p Vec) Vec { return back(upstream.Unit(conv(p))) }

// Cos returns the cosine of the opening angle between p and q.
func Cos(p, q Vec) float64 { return upstream.Cos(conv(p), conv(q)) }

// Add returns the vector sum of p and q.
func (p Vec) Add(q Vec) Vec { return Add(p, q) }

// Sub returns the vector sum of p and -q.
func (p Vec) Sub(q Vec) Vec { return Sub(p, q) }

// Scale returns the vector p scaled by f.
func (p Vec) Scale(f float64) Vec { return Scale(f, p) }

// Cross returns the cross product p×q.
func (p Vec) Cross(q Vec) Vec { return Cross(p, q) }

// Rotation describes a rotation in space.
type Rotation struct {
	r upstream.Rotation
}

// NewRotation creates a rotation by alpha, around axis.
func NewRotation(alpha float64, axis Vec) Rotation {
	return Rotation{r: upstream.NewRotation(alpha, conv(axis))}
}

// Rotate returns p rotated according to the parameters used to construct
// the receiver.
func (r Rotation) Rotate(p Vec) Vec { return back(r.r.Rotate(conv(p))) }
