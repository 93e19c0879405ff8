package config

import (
	"strconv"
	"strings"

	"github.com/strukt-lab/trussopt/internal/r3"

	"github.com/strukt-lab/trussopt/internal/logging"
)

// ParseVec parses three decimals separated by ",", ", ", or spaces.
// Malformed input degrades to the zero vector with a warning.
func ParseVec(s string) r3.Vec {
	if s == "" {
		return r3.Vec{}
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(fields) != 3 {
		logging.Warnf("malformed vector %q, using zero vector", s)
		return r3.Vec{}
	}
	var out [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			logging.Warnf("malformed vector %q, using zero vector", s)
			return r3.Vec{}
		}
		out[i] = v
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}
}

// ParseScalar parses a decimal optionally followed by a unit token after
// whitespace ("70 GPa" reads as 70).
func ParseScalar(s string) (value float64, unit string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, ""
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		logging.Warnf("malformed scalar %q, using 0", s)
		return 0, ""
	}
	if len(fields) > 1 {
		unit = fields[1]
	}
	return v, unit
}

// ParseThreshold parses a ratio that may be written as a percentage
// ("60%" reads as 0.6).
func ParseThreshold(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			logging.Warnf("malformed threshold %q, using 0", s)
			return 0
		}
		return v / 100
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logging.Warnf("malformed threshold %q, using 0", s)
		return 0
	}
	return v
}
