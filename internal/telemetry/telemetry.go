// Package telemetry writes the optimizer metric streams as CSV.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// EnergyRow is one optMetrics.csv line for energy-driven optimization.
type EnergyRow struct {
	Time         float64 `csv:"Time"`
	Iteration    int     `csv:"Iteration"`
	Deflection   float64 `csv:"Deflection"`
	Displacement float64 `csv:"Displacement"`
	Attempts     int     `csv:"Attempts"`
	TotalEnergy  float64 `csv:"Total Energy"`
	TotalWeight  float64 `csv:"Total Weight"`
}

// WeightRow is one optMetrics.csv line for weight-driven optimization.
type WeightRow struct {
	Time        float64 `csv:"Time"`
	Iteration   int     `csv:"Iteration"`
	Deflection  float64 `csv:"Deflection"`
	TotalWeight float64 `csv:"Total Weight"`
	BarNumber   int     `csv:"Bar Number"`
}

// ForceRow is one outsideForces.csv line from relax-with-tracking.
type ForceRow struct {
	Time   int     `csv:"Time"`
	PosX   float64 `csv:"Position(x)"`
	PosY   float64 `csv:"Position(y)"`
	PosZ   float64 `csv:"Position(z)"`
	ForceX float64 `csv:"Force(x)"`
	ForceY float64 `csv:"Force(y)"`
	ForceZ float64 `csv:"Force(z)"`
	Index  int     `csv:"Index"`
}

// Output manages the data directory and its append-only metric files.
// Rows are written strictly in simulation-time order.
type Output struct {
	dir string

	metricFile *os.File
	forceFile  *os.File

	metricHeaderWritten bool
	forceHeaderWritten  bool
}

// NewOutput recreates dir and opens the metric files inside it.
func NewOutput(dir string) (*Output, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clearing data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	o := &Output{dir: dir}

	f, err := os.Create(filepath.Join(dir, "optMetrics.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating optMetrics.csv: %w", err)
	}
	o.metricFile = f

	f, err = os.Create(filepath.Join(dir, "outsideForces.csv"))
	if err != nil {
		o.metricFile.Close()
		return nil, fmt.Errorf("creating outsideForces.csv: %w", err)
	}
	o.forceFile = f

	return o, nil
}

func (o *Output) Dir() string { return o.dir }

// WriteEnergy appends an energy-driven metric row.
func (o *Output) WriteEnergy(row EnergyRow) error {
	if o == nil {
		return nil
	}
	if !o.metricHeaderWritten {
		o.metricHeaderWritten = true
		return gocsv.Marshal([]EnergyRow{row}, o.metricFile)
	}
	return gocsv.MarshalWithoutHeaders([]EnergyRow{row}, o.metricFile)
}

// WriteWeight appends a weight-driven metric row.
func (o *Output) WriteWeight(row WeightRow) error {
	if o == nil {
		return nil
	}
	if !o.metricHeaderWritten {
		o.metricHeaderWritten = true
		return gocsv.Marshal([]WeightRow{row}, o.metricFile)
	}
	return gocsv.MarshalWithoutHeaders([]WeightRow{row}, o.metricFile)
}

// WriteForces appends rows from one tracked relaxation step.
func (o *Output) WriteForces(rows []ForceRow) error {
	if o == nil || len(rows) == 0 {
		return nil
	}
	if !o.forceHeaderWritten {
		o.forceHeaderWritten = true
		return gocsv.Marshal(rows, o.forceFile)
	}
	return gocsv.MarshalWithoutHeaders(rows, o.forceFile)
}

// Close flushes and closes the metric files.
func (o *Output) Close() error {
	if o == nil {
		return nil
	}
	if err := o.metricFile.Close(); err != nil {
		o.forceFile.Close()
		return err
	}
	return o.forceFile.Close()
}
