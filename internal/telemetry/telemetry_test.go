package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnergyStream(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	out, err := NewOutput(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := out.WriteEnergy(EnergyRow{Time: 0.5, Iteration: 1, TotalEnergy: 2.5, TotalWeight: 54}); err != nil {
		t.Fatal(err)
	}
	if err := out.WriteEnergy(EnergyRow{Time: 0.6, Iteration: 2, TotalEnergy: 2.4, TotalWeight: 53}); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "optMetrics.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d lines", len(lines))
	}
	if lines[0] != "Time,Iteration,Deflection,Displacement,Attempts,Total Energy,Total Weight" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0.5,1,") {
		t.Errorf("unexpected first row: %s", lines[1])
	}
}

func TestWeightStream(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	out, err := NewOutput(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.WriteWeight(WeightRow{Time: 1, Iteration: 0, TotalWeight: 54, BarNumber: 54}); err != nil {
		t.Fatal(err)
	}
	out.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "optMetrics.csv"))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "Time,Iteration,Deflection,Total Weight,Bar Number" {
		t.Errorf("unexpected header: %s", lines[0])
	}
}

func TestForceStream(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	out, err := NewOutput(dir)
	if err != nil {
		t.Fatal(err)
	}
	rows := []ForceRow{
		{Time: 0, PosX: 1, Index: 0},
		{Time: 0, PosX: 2, Index: 1},
	}
	if err := out.WriteForces(rows); err != nil {
		t.Fatal(err)
	}
	if err := out.WriteForces(rows); err != nil {
		t.Fatal(err)
	}
	out.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "outsideForces.csv"))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header and four rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Time,Position(x),Position(y),Position(z),Force(x)") {
		t.Errorf("unexpected header: %s", lines[0])
	}
}

func TestOutputRecreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "stale.csv")
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := NewOutput(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale files must be cleared")
	}
}

func TestNilOutputIsSafe(t *testing.T) {
	var out *Output
	if err := out.WriteEnergy(EnergyRow{}); err != nil {
		t.Error("nil output should be a no-op")
	}
	if err := out.WriteForces([]ForceRow{{}}); err != nil {
		t.Error("nil output should be a no-op")
	}
	if err := out.Close(); err != nil {
		t.Error("nil output should close cleanly")
	}
}
