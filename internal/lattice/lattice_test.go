package lattice

import (
	"math"
	"testing"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/phys"
)

func TestGridCube(t *testing.T) {
	sim := phys.NewSimulation()
	Grid(sim, r3.Vec{}, r3.Vec{X: 2, Y: 2, Z: 2}, 1, 1.05, r3.Vec{}, nil,
		Template{Stiffness: 100, Diam: 0.05})

	if len(sim.Masses) != 27 {
		t.Fatalf("expected 27 masses, got %d", len(sim.Masses))
	}
	// 3x3 lines of 2 bars along each of the three axes.
	if len(sim.Springs) != 54 {
		t.Fatalf("expected 54 springs, got %d", len(sim.Springs))
	}

	for _, s := range sim.Springs {
		if math.Abs(s.Rest-1) > 1e-12 {
			t.Fatalf("axis-aligned bar with rest %f", s.Rest)
		}
		if math.Abs(s.K*s.Rest-100) > 1e-9 {
			t.Fatalf("k*rest %f, expected 100", s.K*s.Rest)
		}
	}
}

func TestGridDiagonalCutoff(t *testing.T) {
	sim := phys.NewSimulation()
	Grid(sim, r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, 1, math.Sqrt(3)+0.01, r3.Vec{}, nil,
		Template{Stiffness: 100})

	// A unit cube fully connected: C(8,2) pairs all within sqrt(3).
	if len(sim.Springs) != 28 {
		t.Fatalf("expected 28 springs, got %d", len(sim.Springs))
	}
}

func TestSpace(t *testing.T) {
	sim := phys.NewSimulation()
	pts := []r3.Vec{{}, {X: 1}, {X: 2.5}}
	con := Space(sim, pts, 1.2, Template{Stiffness: 10})

	if len(con.Masses) != 3 {
		t.Fatalf("expected 3 masses, got %d", len(con.Masses))
	}
	if len(con.Springs) != 1 {
		t.Fatalf("expected 1 spring within cutoff, got %d", len(con.Springs))
	}
}
