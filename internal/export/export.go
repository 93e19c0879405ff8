// Package export turns the final bar structure into a binary STL mesh.
// The work runs on a background worker that owns its polygonizer and can
// be aborted between phases.
package export

import (
	"time"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/phys"
)

// Bar is one strut of the exported structure.
type Bar struct {
	Left  r3.Vec
	Right r3.Vec
	Diam  float64
}

// BarData is the immutable snapshot handed to the export worker.
type BarData struct {
	Bars []Bar
}

// Snapshot captures the current springs of a simulation as bar data.
func Snapshot(s *phys.Simulation) BarData {
	bd := BarData{Bars: make([]Bar, 0, len(s.Springs))}
	for _, sp := range s.Springs {
		bd.Bars = append(bd.Bars, Bar{Left: sp.Left.Pos, Right: sp.Right.Pos, Diam: sp.Diam})
	}
	return bd
}

// Filename stamps an STL name with the local time, day first.
func Filename(t time.Time) string {
	return t.Format("02-01-2006_15-04-05") + ".stl"
}
