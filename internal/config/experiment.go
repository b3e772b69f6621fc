// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

// ExperimentConfig describes one headless run.
//
// Params holds named technique parameters in their display units;
// fields left out keep the technique defaults. duty_cycle is given in
// percent.
//
//	kind: dpv
//	params:
//	  init_e: -200
//	  final_e: 600
//	  duty_cycle: 50
//	duration: 2m
type ExperimentConfig struct {
	Kind     string             `yaml:"kind"`
	Params   map[string]float64 `yaml:"params"`
	Duration time.Duration      `yaml:"duration"` // 0 runs until the device reports idle
	Output   string             `yaml:"output"`   // base file name for exports
}

// LoadExperiment reads an experiment file
func LoadExperiment(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment file: %w", err)
	}

	var exp ExperimentConfig
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("failed to parse experiment file %s: %w", path, err)
	}
	return &exp, nil
}

// ToParams builds the parameter set. The result is not validated.
func (e *ExperimentConfig) ToParams() (estat.Params, error) {
	kind, err := estat.ParseKind(e.Kind)
	if err != nil {
		return nil, err
	}
	if e.Duration < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}
	return ParamsFromValues(kind, e.Params)
}

// Field describes one technique parameter as presented to a user
type Field struct {
	Name  string // wire field name
	Label string
	Unit  string
}

var fields = map[estat.Kind][]Field{
	estat.KindCV: {
		{"init_e", "Initial E", "mV"},
		{"vertex_1", "Vertex 1", "mV"},
		{"vertex_2", "Vertex 2", "mV"},
		{"scan_rate", "Scan rate", "mV/s"},
		{"scans", "Scans", ""},
		{"quiet_time", "Quiet time", "ms"},
		{"scan_delay", "Scan delay", "ms"},
	},
	estat.KindSWV: {
		{"init_e", "Initial E", "mV"},
		{"final_e", "Final E", "mV"},
		{"incr_e", "Increment E", "mV"},
		{"amplitude", "Amplitude", "mV"},
		{"frequency", "Frequency", "Hz"},
		{"quiet_time", "Quiet time", "ms"},
	},
	estat.KindDPV: {
		{"init_e", "Initial E", "mV"},
		{"final_e", "Final E", "mV"},
		{"incr_e", "Increment E", "mV"},
		{"amplitude", "Amplitude", "mV"},
		{"frequency", "Frequency", "Hz"},
		{"quiet_time", "Quiet time", "ms"},
		{"duty_cycle", "Duty cycle", "%"},
	},
	estat.KindCA: {
		{"init_e", "Initial E", "mV"},
		{"quiet_time", "Quiet time", "ms"},
		{"e_1", "E1", "mV"},
		{"duration_1", "Duration 1", "ms"},
		{"e_2", "E2", "mV"},
		{"duration_2", "Duration 2", "ms"},
		{"e_3", "E3", "mV"},
		{"duration_3", "Duration 3", "ms"},
		{"final_e", "Final E", "mV"},
	},
}

// Fields returns the parameters of a technique in wire order
func Fields(k estat.Kind) []Field {
	return fields[k]
}

// targets maps field names to the struct fields of p
func targets(p estat.Params) map[string]any {
	switch v := p.(type) {
	case *estat.CVParams:
		return map[string]any{
			"init_e": &v.InitE, "vertex_1": &v.Vertex1, "vertex_2": &v.Vertex2,
			"scan_rate": &v.ScanRate, "scans": &v.Scans,
			"quiet_time": &v.QuietTime, "scan_delay": &v.ScanDelay,
		}
	case *estat.SWVParams:
		return map[string]any{
			"init_e": &v.InitE, "final_e": &v.FinalE, "incr_e": &v.IncrE,
			"amplitude": &v.Amplitude, "frequency": &v.Frequency, "quiet_time": &v.QuietTime,
		}
	case *estat.DPVParams:
		return map[string]any{
			"init_e": &v.InitE, "final_e": &v.FinalE, "incr_e": &v.IncrE,
			"amplitude": &v.Amplitude, "frequency": &v.Frequency, "quiet_time": &v.QuietTime,
			"duty_cycle": &v.DutyCycle,
		}
	case *estat.CAParams:
		return map[string]any{
			"init_e": &v.InitE, "quiet_time": &v.QuietTime,
			"e_1": &v.E1, "duration_1": &v.Duration1,
			"e_2": &v.E2, "duration_2": &v.Duration2,
			"e_3": &v.E3, "duration_3": &v.Duration3,
			"final_e": &v.FinalE,
		}
	}
	return nil
}

// pointerTo returns a pointer to a copy of the default parameters of k
func pointerTo(k estat.Kind) estat.Params {
	switch v := estat.DefaultParams(k).(type) {
	case estat.CVParams:
		return &v
	case estat.SWVParams:
		return &v
	case estat.DPVParams:
		return &v
	case estat.CAParams:
		return &v
	}
	return nil
}

// deref turns a pointer parameter set back into a value
func deref(p estat.Params) estat.Params {
	switch v := p.(type) {
	case *estat.CVParams:
		return *v
	case *estat.SWVParams:
		return *v
	case *estat.DPVParams:
		return *v
	case *estat.CAParams:
		return *v
	}
	return p
}

// ParamsFromValues starts from the defaults of k and overrides the named
// fields. Integer fields reject fractions and unsigned fields reject
// negative values; range checks are left to estat.Validate.
func ParamsFromValues(k estat.Kind, values map[string]float64) (estat.Params, error) {
	p := pointerTo(k)
	if p == nil {
		return nil, fmt.Errorf("unknown experiment kind: %v", k)
	}
	dst := targets(p)

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := values[name]
		target, ok := dst[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("%s has no parameter %q", k, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s: value must be finite", name)
		}

		switch t := target.(type) {
		case *int32:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%s: %g is not a 32-bit integer", name, v)
			}
			*t = int32(v)
		case *uint32:
			if v != math.Trunc(v) || v < 0 || v > math.MaxUint32 {
				return nil, fmt.Errorf("%s: %g is not an unsigned 32-bit integer", name, v)
			}
			*t = uint32(v)
		case *float32:
			*t = estat.DutyCycleFromPercent(v)
		}
	}

	return deref(p), nil
}

// ParamsToValues is the inverse of ParamsFromValues
func ParamsToValues(p estat.Params) map[string]float64 {
	if p == nil {
		return nil
	}
	ptr := pointerTo(p.Kind())
	switch v := p.(type) {
	case estat.CVParams:
		*ptr.(*estat.CVParams) = v
	case estat.SWVParams:
		*ptr.(*estat.SWVParams) = v
	case estat.DPVParams:
		*ptr.(*estat.DPVParams) = v
	case estat.CAParams:
		*ptr.(*estat.CAParams) = v
	default:
		return nil
	}

	values := make(map[string]float64)
	for name, target := range targets(ptr) {
		switch t := target.(type) {
		case *int32:
			values[name] = float64(*t)
		case *uint32:
			values[name] = float64(*t)
		case *float32:
			values[name] = estat.DutyCycleToPercent(*t)
		}
	}
	return values
}

// ParseAssignments parses "name=value" pairs as given on the command line
func ParseAssignments(pairs []string) (map[string]float64, error) {
	values := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid parameter %q (use name=value)", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %q", name, raw)
		}
		values[strings.ToLower(strings.TrimSpace(name))] = v
	}
	return values, nil
}
