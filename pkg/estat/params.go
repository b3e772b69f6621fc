// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"fmt"
	"strings"
)

// Params is the parameter set for one experiment. The set of
// implementations is closed: CVParams, SWVParams, DPVParams and CAParams.
type Params interface {
	Kind() Kind
	isParams()
}

// CVParams configures a cyclic voltammetry sweep.
// Potentials are in mV, scan rate in mV/s, times in ms.
type CVParams struct {
	InitE     int32  `json:"init_e"`
	Vertex1   int32  `json:"vertex_1"`
	Vertex2   int32  `json:"vertex_2"`
	ScanRate  uint32 `json:"scan_rate"`
	Scans     uint32 `json:"scans"`
	QuietTime uint32 `json:"quiet_time"`
	ScanDelay uint32 `json:"scan_delay"`
}

// SWVParams configures a square wave voltammetry sweep.
type SWVParams struct {
	InitE     int32  `json:"init_e"`
	FinalE    int32  `json:"final_e"`
	IncrE     int32  `json:"incr_e"`
	Amplitude uint32 `json:"amplitude"`
	Frequency uint32 `json:"frequency"`
	QuietTime uint32 `json:"quiet_time"`
}

// DPVParams configures a differential pulse voltammetry sweep.
// DutyCycle is a fraction in [0,1], not a percentage.
type DPVParams struct {
	InitE     int32   `json:"init_e"`
	FinalE    int32   `json:"final_e"`
	IncrE     int32   `json:"incr_e"`
	Amplitude uint32  `json:"amplitude"`
	Frequency uint32  `json:"frequency"`
	QuietTime uint32  `json:"quiet_time"`
	DutyCycle float32 `json:"duty_cycle"`
}

// CAParams configures a three-step chronoamperometry run.
// A step with zero duration is skipped by the device.
type CAParams struct {
	InitE     int32  `json:"init_e"`
	QuietTime uint32 `json:"quiet_time"`
	E1        int32  `json:"e_1"`
	Duration1 uint32 `json:"duration_1"`
	E2        int32  `json:"e_2"`
	Duration2 uint32 `json:"duration_2"`
	E3        int32  `json:"e_3"`
	Duration3 uint32 `json:"duration_3"`
	FinalE    int32  `json:"final_e"`
}

func (CVParams) Kind() Kind  { return KindCV }
func (SWVParams) Kind() Kind { return KindSWV }
func (DPVParams) Kind() Kind { return KindDPV }
func (CAParams) Kind() Kind  { return KindCA }

func (CVParams) isParams()  {}
func (SWVParams) isParams() {}
func (DPVParams) isParams() {}
func (CAParams) isParams()  {}

// String returns the short technique name
func (k Kind) String() string {
	switch k {
	case KindCV:
		return "CV"
	case KindSWV:
		return "SWV"
	case KindDPV:
		return "DPV"
	case KindCA:
		return "CA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(k))
	}
}

// Valid reports whether k is one of the four known kinds
func (k Kind) Valid() bool {
	return k >= KindCV && k <= KindCA
}

// Kinds lists every experiment kind in tag order
func Kinds() []Kind {
	return []Kind{KindCV, KindSWV, KindDPV, KindCA}
}

// ParseKind parses a technique name (case-insensitive)
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cv":
		return KindCV, nil
	case "swv":
		return KindSWV, nil
	case "dpv":
		return KindDPV, nil
	case "ca":
		return KindCA, nil
	default:
		return 0, fmt.Errorf("unknown experiment kind: %q (use cv, swv, dpv or ca)", s)
	}
}

// RecordSize returns the encoded size of a configuration record, or 0 for
// an unknown kind.
func RecordSize(k Kind) int {
	switch k {
	case KindCV:
		return CVRecordSize
	case KindSWV:
		return SWVRecordSize
	case KindDPV:
		return DPVRecordSize
	case KindCA:
		return CARecordSize
	default:
		return 0
	}
}

// DefaultParams returns the parameter set a new form starts with
func DefaultParams(k Kind) Params {
	switch k {
	case KindCV:
		return CVParams{InitE: 0, Vertex1: 500, Vertex2: -500, ScanRate: 100, Scans: 1, QuietTime: 1000, ScanDelay: 0}
	case KindSWV:
		return SWVParams{InitE: 0, FinalE: 500, IncrE: 5, Amplitude: 25, Frequency: 10, QuietTime: 1000}
	case KindDPV:
		return DPVParams{InitE: 0, FinalE: 500, IncrE: 5, Amplitude: 50, Frequency: 10, QuietTime: 1000, DutyCycle: 0.5}
	case KindCA:
		return CAParams{InitE: 0, QuietTime: 1000, E1: 500, Duration1: 5000, E2: -500, Duration2: 5000, E3: 0, Duration3: 0, FinalE: 0}
	default:
		return nil
	}
}

// DefaultAxes returns the x and y axes a plot of k should start with.
// Sweeps are plotted as voltammograms, timed techniques against time.
func DefaultAxes(k Kind) (x, y Axis) {
	if k == KindCV {
		return AxisVoltage, AxisCurrent
	}
	return AxisTime, AxisCurrent
}

// String returns the axis label
func (a Axis) String() string {
	switch a {
	case AxisTime:
		return "TIME"
	case AxisVoltage:
		return "VOLTAGE"
	case AxisCurrent:
		return "CURRENT"
	default:
		return "UNKNOWN"
	}
}

// Unit returns the unit of values on a
func (a Axis) Unit() string {
	switch a {
	case AxisTime:
		return "ms"
	case AxisVoltage:
		return "mV"
	default:
		return "uA"
	}
}

// Next returns the axis after a, wrapping from current back to time
func (a Axis) Next() Axis {
	return (a + 1) % (AxisCurrent + 1)
}

// Value returns the column of s selected by a
func (s Sample) Value(a Axis) float64 {
	switch a {
	case AxisTime:
		return float64(s.Time)
	case AxisVoltage:
		return float64(s.Voltage)
	default:
		return float64(s.Current)
	}
}
