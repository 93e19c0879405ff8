package geom

import (
	"math"
	"math/rand"

	"github.com/strukt-lab/trussopt/internal/r3"
)

// RandFloat returns a uniform sample in [lo, hi).
func RandFloat(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// RandDirection returns a unit vector uniformly distributed on the sphere.
func RandDirection(rng *rand.Rand) r3.Vec {
	z := RandFloat(rng, -1, 1)
	phi := RandFloat(rng, 0, 2*math.Pi)
	r := math.Sqrt(1 - z*z)
	return r3.Vec{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}
}

// RandPoint returns a uniform sample inside the box spanned by min and max.
func RandPoint(rng *rand.Rand, min, max r3.Vec) r3.Vec {
	return r3.Vec{
		X: RandFloat(rng, min.X, max.X),
		Y: RandFloat(rng, min.Y, max.Y),
		Z: RandFloat(rng, min.Z, max.Z),
	}
}

// Angle returns the angle between a and b in [0, pi].
func Angle(a, b r3.Vec) float64 {
	c := r3.Cos(a, b)
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// IsAcute reports whether the angle between a and b is under pi/2.
func IsAcute(a, b r3.Vec) bool {
	return Angle(a, b) < math.Pi/2
}

// Bisect returns the midpoint of p and q.
func Bisect(p, q r3.Vec) r3.Vec {
	return p.Add(q).Scale(0.5)
}

// InBounds reports whether p lies inside [min, max) on all three axes.
func InBounds(p, min, max r3.Vec) bool {
	return p.X >= min.X && p.X < max.X &&
		p.Y >= min.Y && p.Y < max.Y &&
		p.Z >= min.Z && p.Z < max.Z
}
