package sim

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/export"
	"github.com/strukt-lab/trussopt/internal/lattice"
	"github.com/strukt-lab/trussopt/internal/metrics"
	"github.com/strukt-lab/trussopt/internal/optimize"
	"github.com/strukt-lab/trussopt/internal/phys"
	"github.com/strukt-lab/trussopt/internal/telemetry"
)

// cube builds the 2x2x2 test lattice with one face anchored.
func cube(t *testing.T) (*phys.Simulation, *Loadcase) {
	t.Helper()
	simulation := phys.NewSimulation()
	lattice.Grid(simulation, r3.Vec{}, r3.Vec{X: 2, Y: 2, Z: 2}, 1, 1.05, r3.Vec{}, nil,
		lattice.Template{Stiffness: 100, Diam: 0.05})

	anchor := &Anchor{}
	force := &Force{Magnitude: r3.Vec{Y: -1}, Duration: -1}
	for _, m := range simulation.Masses {
		if m.OrigPos.Y == 0 {
			anchor.Masses = append(anchor.Masses, m)
		}
		if m.OrigPos.Y == 2 {
			force.Masses = append(force.Masses, m)
		}
	}
	load := &Loadcase{
		Name:    "bend",
		Anchors: []*Anchor{anchor},
		Forces:  []*Force{force},
	}
	return simulation, load
}

// TestLatticeUnderLoad is the baseline scenario: anchored cube under a
// distributed (0,-1,0) load stores energy and deflects.
func TestLatticeUnderLoad(t *testing.T) {
	simulation, load := cube(t)
	for _, a := range load.Anchors {
		for _, m := range a.Masses {
			m.Fix()
		}
	}
	n := float64(len(load.Forces[0].Masses))
	for _, m := range load.Forces[0].Masses {
		m.ExtForce = r3.Vec{Y: -1 / n}
		m.ExtDuration = math.Inf(1)
	}

	simulation.Step(simulation.Dt() * 1000)
	simulation.GetAll()

	if e := metrics.TotalEnergy(simulation.Springs); e <= 0 {
		t.Errorf("expected positive energy, got %f", e)
	}
	if d := metrics.Deflection(load.Forces[0].Masses); d <= 0 {
		t.Errorf("expected positive deflection, got %f", d)
	}
}

// TestWeightStop is the weight-driven run: the spring remover drives
// total length to 60% and the driver stops and exports an STL.
func TestWeightStop(t *testing.T) {
	simulation, load := cube(t)

	cfg := Config{
		RenderTimestep: 0.01,
		Load:           load,
		LoadQueue:      []*Loadcase{load},
		Rules: []optimize.Rule{
			{Method: optimize.MethodRemoveLowStress, Threshold: 0.05, Frequency: 100},
		},
		StopCriteria: []StopCriterion{{Metric: StopWeight, Threshold: 0.6}},
		LatticeUnit:  1,
	}

	dir := t.TempDir()
	driver, err := NewDriver(simulation, cfg, rand.New(rand.NewSource(1)), nil)
	if err != nil {
		t.Fatal(err)
	}
	worker := export.NewWorker(dir, 8)
	driver.Exporter = worker

	for i := 0; i < 500 && driver.Status() != Stopped; i++ {
		if err := driver.RunTick(); err != nil {
			t.Fatal(err)
		}
	}
	worker.Wait()

	if driver.Status() != Stopped {
		t.Fatal("driver did not stop")
	}
	length, start := driver.TotalLength()
	if length/start > 0.6 {
		t.Errorf("stopped at weight ratio %f", length/start)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".stl") {
			found = true
			info, _ := e.Info()
			if info.Size() < 84 {
				t.Errorf("stl file %s too small: %d bytes", e.Name(), info.Size())
			}
		}
	}
	if !found {
		t.Errorf("no stl file in %s (entries %v)", dir, entries)
	}
}

// TestLoadQueueSwitching is the two-loadcase scenario with durations 1s
// and 2s: the first load applies at once, the second replaces it at
// t~1.0 with the first load's forces cleared, and the run continues past
// the end of the queue at t=3.0.
func TestLoadQueueSwitching(t *testing.T) {
	simulation, _ := cube(t)

	var faceY2, faceX2 []*phys.Mass
	for _, m := range simulation.Masses {
		if m.OrigPos.Y == 2 {
			faceY2 = append(faceY2, m)
		}
		if m.OrigPos.X == 2 && m.OrigPos.Y != 0 && m.OrigPos.Y != 2 {
			faceX2 = append(faceX2, m)
		}
	}
	var anchors []*phys.Mass
	for _, m := range simulation.Masses {
		if m.OrigPos.Y == 0 {
			anchors = append(anchors, m)
		}
	}

	l0 := &Loadcase{
		Name:          "first",
		Anchors:       []*Anchor{{Masses: anchors}},
		Forces:        []*Force{{Masses: faceY2, Magnitude: r3.Vec{Y: -1}, Duration: 1}},
		TotalDuration: 1,
	}
	l1 := &Loadcase{
		Name:          "second",
		Anchors:       []*Anchor{{Masses: anchors}},
		Forces:        []*Force{{Masses: faceX2, Magnitude: r3.Vec{X: 1}, Duration: 2}},
		TotalDuration: 2,
	}

	cfg := Config{
		RenderTimestep: 0.01,
		Load:           l0,
		LoadQueue:      []*Loadcase{l0, l1},
	}
	driver, err := NewDriver(simulation, cfg, rand.New(rand.NewSource(1)), nil)
	if err != nil {
		t.Fatal(err)
	}

	probe0 := faceY2[len(faceY2)/2] // unique to the first loadcase
	probe1 := faceX2[len(faceX2)/2] // unique to the second

	var firstOn, switchAt float64 = -1, -1
	for i := 0; i < 320; i++ {
		if err := driver.RunTick(); err != nil {
			t.Fatal(err)
		}
		if firstOn < 0 && probe0.Loaded() {
			firstOn = simulation.Time()
		}
		if switchAt < 0 && probe1.Loaded() {
			switchAt = simulation.Time()
			if probe0.Loaded() {
				t.Error("first load not cleared at switch")
			}
		}
	}

	if firstOn < 0 || firstOn > 0.02+1e-9 {
		t.Errorf("first load applied at %f, expected immediately", firstOn)
	}
	if switchAt < 0 || math.Abs(switchAt-1.0) > 0.02+1e-9 {
		t.Errorf("switch at %f, expected ~1.0", switchAt)
	}

	// The queue exhausts at 3.0: from then on both probes stay dark once
	// their durations run out.
	for i := 0; i < 50; i++ {
		if err := driver.RunTick(); err != nil {
			t.Fatal(err)
		}
	}
	if simulation.Time() < 3.0 {
		t.Fatalf("expected to pass t=3.0, at %f", simulation.Time())
	}
}

// TestOptimizerSwitch: once the energy stop would fire under a
// mass-displace rule, the driver hands over to the spring remover
// instead of stopping.
func TestOptimizerSwitch(t *testing.T) {
	simulation, load := cube(t)

	cfg := Config{
		RenderTimestep: 0.01,
		Load:           load,
		LoadQueue:      []*Loadcase{load},
		Rules: []optimize.Rule{
			{Method: optimize.MethodMassDisplace, Threshold: 0.1},
		},
		StopCriteria: []StopCriterion{{Metric: StopEnergy, Threshold: 2.0}},
		LatticeUnit:  1,
	}
	driver, err := NewDriver(simulation, cfg, rand.New(rand.NewSource(1)), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Warm up so the structure carries energy, then pin the baseline so
	// the generous threshold fires on the next tick.
	for i := 0; i < 5; i++ {
		if err := driver.RunTick(); err != nil {
			t.Fatal(err)
		}
	}
	driver.totalEnergyStart = driver.totalEnergy

	before := len(simulation.Springs)
	if err := driver.RunTick(); err != nil {
		t.Fatal(err)
	}

	if !driver.switched {
		t.Fatal("expected optimizer switch")
	}
	if driver.Status() == Stopped {
		t.Fatal("switch must replace stopping")
	}
	if len(simulation.Springs) >= before {
		t.Errorf("secondary remover did not run: %d -> %d springs", before, len(simulation.Springs))
	}
}

func TestRepeatLoadRotation(t *testing.T) {
	simulation, load := cube(t)

	cfg := Config{
		RenderTimestep:   0.01,
		RepeatAfter:      0.05,
		RepeatRotation:   r3.Vec{Z: 0.25}, // quarter turn about z
		ExplicitRotation: true,
		Load:             load,
		LoadQueue:        []*Loadcase{load},
	}
	driver, err := NewDriver(simulation, cfg, rand.New(rand.NewSource(1)), nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 8; i++ {
		if err := driver.RunTick(); err != nil {
			t.Fatal(err)
		}
	}

	if driver.Repeats() == 0 {
		t.Fatal("expected at least one repeat")
	}
	// Masses must have been re-seated: velocities were zeroed at the
	// repeat and positions rotated about the centroid, so the lattice
	// still spans the same bounding box diagonal.
	var minY, maxY = math.MaxFloat64, -math.MaxFloat64
	for _, m := range simulation.Masses {
		minY = math.Min(minY, m.Pos.Y)
		maxY = math.Max(maxY, m.Pos.Y)
	}
	if maxY-minY < 1.5 {
		t.Errorf("rotation collapsed the lattice: y span %f", maxY-minY)
	}
}

func TestMetricFilesWritten(t *testing.T) {
	simulation, load := cube(t)

	dir := filepath.Join(t.TempDir(), "data")
	out, err := telemetry.NewOutput(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	cfg := Config{
		RenderTimestep: 0.01,
		Load:           load,
		LoadQueue:      []*Loadcase{load},
		Rules: []optimize.Rule{
			{Method: optimize.MethodRemoveLowStress, Threshold: 0.05, Frequency: 100},
		},
		StopCriteria: []StopCriterion{{Metric: StopWeight, Threshold: 0.9}},
	}
	driver, err := NewDriver(simulation, cfg, rand.New(rand.NewSource(1)), out)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50 && driver.Status() != Stopped; i++ {
		if err := driver.RunTick(); err != nil {
			t.Fatal(err)
		}
	}
	out.Close()

	data, err := os.ReadFile(filepath.Join(dir, "optMetrics.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected header and rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], "Total Weight") || !strings.Contains(lines[0], "Bar Number") {
		t.Errorf("unexpected weight header: %s", lines[0])
	}
}
