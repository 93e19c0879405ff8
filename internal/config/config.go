// Package config reads the YAML design document: volumes, materials,
// loadcases, simulation configs, and the optimization config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/strukt-lab/trussopt/internal/logging"
)

const (
	DefaultVersion        = "1.0"
	DefaultDamping        = 0.99
	DefaultRenderTimestep = 0.01
)

// Design is the root document ("dml", version "1.0").
type Design struct {
	Root         string              `yaml:"root"`
	Version      string              `yaml:"version"`
	Volumes      []Volume            `yaml:"volumes"`
	Materials    []Material          `yaml:"materials"`
	Loadcases    []Loadcase          `yaml:"loadcases"`
	Simulations  []SimulationConfig  `yaml:"simulations"`
	Optimization *OptimizationConfig `yaml:"optimization"`
}

// Volume is a named primitive region. Anchors and forces select masses
// by volume membership.
type Volume struct {
	ID        string  `yaml:"id"`
	Primitive string  `yaml:"primitive"`
	URL       string  `yaml:"url"`
	Color     string  `yaml:"color"`
	Alpha     float64 `yaml:"alpha"`
	Rendering string  `yaml:"rendering"`
	Units     string  `yaml:"units"`
	Min       string  `yaml:"min"`
	Max       string  `yaml:"max"`
}

// Material carries scalar properties, each value optionally suffixed by
// a unit token after whitespace.
type Material struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Elasticity string `yaml:"elasticity"`
	Yield      string `yaml:"yield"`
	Density    string `yaml:"density"`
}

// AnchorConfig references a volume whose masses are fixed.
type AnchorConfig struct {
	Volume string `yaml:"volume"`
}

// ForceConfig applies a total magnitude over a volume's masses. A
// negative duration never expires; vary gives a component-wise
// direction perturbation range.
type ForceConfig struct {
	Volume    string  `yaml:"volume"`
	Magnitude string  `yaml:"magnitude"`
	Duration  float64 `yaml:"duration"`
	Vary      string  `yaml:"vary"`
}

type Loadcase struct {
	ID      string         `yaml:"id"`
	Anchors []AnchorConfig `yaml:"anchors"`
	Forces  []ForceConfig  `yaml:"forces"`
}

type Lattice struct {
	Fill        string `yaml:"fill"`
	Unit        string `yaml:"unit"`
	Display     string `yaml:"display"`
	Conform     bool   `yaml:"conform"`
	Offset      string `yaml:"offset"`
	BarDiameter string `yaml:"bardiam"`
	Material    string `yaml:"material"`
	Jiggle      string `yaml:"jiggle"`
	Hull        bool   `yaml:"hull"`
}

type Damping struct {
	Velocity float64 `yaml:"velocity"`
}

type Global struct {
	Acceleration string `yaml:"acceleration"`
}

// Repeat resets the load with a rotation. After may be the literal
// "optimize"; Rotation may be the literal "random".
type Repeat struct {
	After    string `yaml:"after"`
	Rotation string `yaml:"rotation"`
}

type Plane struct {
	Normal string  `yaml:"normal"`
	Offset float64 `yaml:"offset"`
}

type Stop struct {
	Criterion string `yaml:"criterion"`
	Threshold string `yaml:"threshold"`
}

type SimulationConfig struct {
	ID        string   `yaml:"id"`
	Volume    string   `yaml:"volume"`
	Lattice   Lattice  `yaml:"lattice"`
	Damping   Damping  `yaml:"damping"`
	Global    Global   `yaml:"global"`
	Load      string   `yaml:"load"`
	LoadQueue []string `yaml:"queue"`
	Repeat    Repeat   `yaml:"repeat"`
	Plane     *Plane   `yaml:"plane"`
	Stops     []Stop   `yaml:"stops"`
}

type RuleConfig struct {
	Method    string `yaml:"method"`
	Threshold string `yaml:"threshold"`
	Frequency int    `yaml:"frequency"`
}

type StopCriterionConfig struct {
	Metric    string `yaml:"metric"`
	Threshold string `yaml:"threshold"`
}

type OptimizationConfig struct {
	Simulation   string                `yaml:"simulation"`
	Rules        []RuleConfig          `yaml:"rules"`
	StopCriteria []StopCriterionConfig `yaml:"stop"`
}

// Load reads and decodes a design file.
func Load(path string) (*Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := &Design{Version: DefaultVersion}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("decoding design file: %w", err)
	}
	return d, nil
}

// Save writes a design file.
func Save(path string, d *Design) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// VolumeByID resolves a volume reference. Missing references are logged
// and return nil; downstream use is a warning, not an abort.
func (d *Design) VolumeByID(id string) *Volume {
	for i := range d.Volumes {
		if d.Volumes[i].ID == id {
			return &d.Volumes[i]
		}
	}
	logging.Warnf("unknown volume id %q", id)
	return nil
}

func (d *Design) MaterialByID(id string) *Material {
	for i := range d.Materials {
		if d.Materials[i].ID == id {
			return &d.Materials[i]
		}
	}
	logging.Warnf("unknown material id %q", id)
	return nil
}

func (d *Design) LoadcaseByID(id string) *Loadcase {
	for i := range d.Loadcases {
		if d.Loadcases[i].ID == id {
			return &d.Loadcases[i]
		}
	}
	logging.Warnf("unknown loadcase id %q", id)
	return nil
}
