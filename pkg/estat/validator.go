// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"fmt"
	"math"
)

// AnomalyType classifies a parameter or telemetry problem
type AnomalyType int

const (
	AnomalyPotentialRange AnomalyType = iota
	AnomalyZeroValue
	AnomalyDutyCycleRange
	AnomalyMissingParams
	AnomalyUnknownKind
	AnomalyVoltageRange
	AnomalyNonFiniteCurrent
)

// ValidationError describes a single validation failure
type ValidationError struct {
	Type    AnomalyType
	Field   string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Validate checks a parameter set against the instrument's domain bounds.
// Returns a slice of validation errors (empty if the parameters can be
// encoded and sent).
func Validate(p Params) []ValidationError {
	switch v := p.(type) {
	case nil:
		return []ValidationError{{
			Type:    AnomalyMissingParams,
			Message: "no experiment parameters",
		}}
	case CVParams:
		return validateCV(v)
	case *CVParams:
		return validateCV(*v)
	case SWVParams:
		return validateSWV(v)
	case *SWVParams:
		return validateSWV(*v)
	case DPVParams:
		return validateDPV(v)
	case *DPVParams:
		return validateDPV(*v)
	case CAParams:
		return validateCA(v)
	case *CAParams:
		return validateCA(*v)
	default:
		return []ValidationError{{
			Type:    AnomalyUnknownKind,
			Message: fmt.Sprintf("unsupported parameter type %T", p),
		}}
	}
}

func validateCV(p CVParams) []ValidationError {
	errors := []ValidationError{}
	errors = appendPotential(errors, "init_e", p.InitE)
	errors = appendPotential(errors, "vertex_1", p.Vertex1)
	errors = appendPotential(errors, "vertex_2", p.Vertex2)
	errors = appendNonZero(errors, "scan_rate", p.ScanRate)
	errors = appendNonZero(errors, "scans", p.Scans)
	return errors
}

func validateSWV(p SWVParams) []ValidationError {
	errors := []ValidationError{}
	errors = appendPotential(errors, "init_e", p.InitE)
	errors = appendPotential(errors, "final_e", p.FinalE)
	errors = appendPotential(errors, "incr_e", p.IncrE)
	if p.IncrE == 0 {
		errors = append(errors, zeroError("incr_e"))
	}
	errors = appendNonZero(errors, "frequency", p.Frequency)
	return errors
}

func validateDPV(p DPVParams) []ValidationError {
	errors := []ValidationError{}
	errors = appendPotential(errors, "init_e", p.InitE)
	errors = appendPotential(errors, "final_e", p.FinalE)
	errors = appendPotential(errors, "incr_e", p.IncrE)
	if p.IncrE == 0 {
		errors = append(errors, zeroError("incr_e"))
	}
	errors = appendNonZero(errors, "frequency", p.Frequency)

	duty := float64(p.DutyCycle)
	if math.IsNaN(duty) || duty < 0 || duty > 1 {
		errors = append(errors, ValidationError{
			Type:    AnomalyDutyCycleRange,
			Field:   "duty_cycle",
			Message: fmt.Sprintf("duty_cycle=%g out of range (valid 0.0-1.0)", duty),
			Details: map[string]interface{}{"value": duty},
		})
	}
	return errors
}

func validateCA(p CAParams) []ValidationError {
	errors := []ValidationError{}
	errors = appendPotential(errors, "init_e", p.InitE)
	errors = appendPotential(errors, "e_1", p.E1)
	errors = appendPotential(errors, "e_2", p.E2)
	errors = appendPotential(errors, "e_3", p.E3)
	errors = appendPotential(errors, "final_e", p.FinalE)
	errors = appendNonZero(errors, "duration_1", p.Duration1)
	return errors
}

func appendPotential(errors []ValidationError, field string, mv int32) []ValidationError {
	if mv >= MinPotentialMV && mv <= MaxPotentialMV {
		return errors
	}
	return append(errors, ValidationError{
		Type:    AnomalyPotentialRange,
		Field:   field,
		Message: fmt.Sprintf("%s=%d mV out of range (valid %d to %d mV)", field, mv, MinPotentialMV, MaxPotentialMV),
		Details: map[string]interface{}{"value": mv, "min": MinPotentialMV, "max": MaxPotentialMV},
	})
}

func appendNonZero(errors []ValidationError, field string, v uint32) []ValidationError {
	if v != 0 {
		return errors
	}
	return append(errors, zeroError(field))
}

func zeroError(field string) ValidationError {
	return ValidationError{
		Type:    AnomalyZeroValue,
		Field:   field,
		Message: fmt.Sprintf("%s must be non-zero", field),
		Details: map[string]interface{}{"value": 0},
	}
}

// ValidateSample flags telemetry values the instrument cannot produce.
// The protocol carries no checksum, so these are reported as anomalies
// and the sample is still kept.
func ValidateSample(s Sample) []ValidationError {
	errors := []ValidationError{}

	if s.Voltage < MinPotentialMV || s.Voltage > MaxPotentialMV {
		errors = append(errors, ValidationError{
			Type:    AnomalyVoltageRange,
			Field:   "voltage",
			Message: fmt.Sprintf("Voltage out of range (%d mV)", s.Voltage),
			Details: map[string]interface{}{"value": s.Voltage},
		})
	}

	current := float64(s.Current)
	if math.IsNaN(current) || math.IsInf(current, 0) {
		errors = append(errors, ValidationError{
			Type:    AnomalyNonFiniteCurrent,
			Field:   "current",
			Message: fmt.Sprintf("Non-finite current (%v)", current),
			Details: map[string]interface{}{"value": current},
		})
	}

	return errors
}

// DutyCycleFromPercent converts a duty cycle entered as a percentage
// (50) into the fraction the device expects (0.5).
func DutyCycleFromPercent(percent float64) float32 {
	return float32(percent / 100.0)
}

// DutyCycleToPercent is the inverse of DutyCycleFromPercent
func DutyCycleToPercent(fraction float32) float64 {
	return math.Round(float64(fraction)*100.0*1e4) / 1e4
}
