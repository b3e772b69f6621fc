// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatParams formats a parameter set into a human-readable block
func FormatParams(p Params) string {
	switch v := p.(type) {
	case CVParams:
		return fmt.Sprintf("  Kind: CV\n  Init E: %d mV, Vertex 1: %d mV, Vertex 2: %d mV\n  Scan Rate: %d mV/s, Scans: %d\n  Quiet Time: %s, Scan Delay: %s\n",
			v.InitE, v.Vertex1, v.Vertex2, v.ScanRate, v.Scans, formatDuration(uint64(v.QuietTime)), formatDuration(uint64(v.ScanDelay)))

	case SWVParams:
		return fmt.Sprintf("  Kind: SWV\n  Init E: %d mV, Final E: %d mV, Step: %d mV\n  Amplitude: %d mV, Frequency: %d Hz\n  Quiet Time: %s\n",
			v.InitE, v.FinalE, v.IncrE, v.Amplitude, v.Frequency, formatDuration(uint64(v.QuietTime)))

	case DPVParams:
		return fmt.Sprintf("  Kind: DPV\n  Init E: %d mV, Final E: %d mV, Step: %d mV\n  Amplitude: %d mV, Frequency: %d Hz, Duty: %g%%\n  Quiet Time: %s\n",
			v.InitE, v.FinalE, v.IncrE, v.Amplitude, v.Frequency, DutyCycleToPercent(v.DutyCycle), formatDuration(uint64(v.QuietTime)))

	case CAParams:
		var s strings.Builder
		s.WriteString("  Kind: CA\n")
		s.WriteString(fmt.Sprintf("  Init E: %d mV, Quiet Time: %s\n", v.InitE, formatDuration(uint64(v.QuietTime))))
		steps := []struct {
			e int32
			d uint32
		}{{v.E1, v.Duration1}, {v.E2, v.Duration2}, {v.E3, v.Duration3}}
		for i, step := range steps {
			if step.d == 0 {
				s.WriteString(fmt.Sprintf("  Step %d: skipped\n", i+1))
				continue
			}
			s.WriteString(fmt.Sprintf("  Step %d: %d mV for %s\n", i+1, step.e, formatDuration(uint64(step.d))))
		}
		s.WriteString(fmt.Sprintf("  Final E: %d mV\n", v.FinalE))
		return s.String()

	case nil:
		return "  (no parameters)\n"
	}

	// Pointer variants share the value formatting
	switch v := p.(type) {
	case *CVParams:
		return FormatParams(*v)
	case *SWVParams:
		return FormatParams(*v)
	case *DPVParams:
		return FormatParams(*v)
	case *CAParams:
		return FormatParams(*v)
	}
	return fmt.Sprintf("  (unsupported parameters %T)\n", p)
}

// FormatRecord formats an encoded record as a hex dump, one 4-byte field
// per group.
func FormatRecord(record []byte) string {
	var s strings.Builder
	for i, b := range record {
		if i > 0 && i%16 == 0 {
			s.WriteString("\n")
		} else if i > 0 && i%FieldSize == 0 {
			s.WriteString(" ")
		}
		s.WriteString(fmt.Sprintf("%02X", b))
	}
	return s.String()
}

// FormatSample formats a sample as one line
func FormatSample(s Sample) string {
	return fmt.Sprintf("t=%8d ms  V=%6d mV  I=%s uA", s.Time, s.Voltage, FormatCurrent(s.Current))
}

// FormatCurrent renders a current value with the shortest representation
// that round-trips as a float32.
func FormatCurrent(c float32) string {
	return strconv.FormatFloat(float64(c), 'g', -1, 32)
}

// FormatStatus formats a status byte, including reserved bits when set
func FormatStatus(b byte) string {
	state := DecodeStatus(b)
	reserved := b &^ StatusRunning
	if reserved != 0 {
		return fmt.Sprintf("%s (0x%02X, reserved bits 0x%02X)", state, b, reserved)
	}
	return fmt.Sprintf("%s (0x%02X)", state, b)
}

// FormatControl returns the command name of a control byte
func FormatControl(b byte) string {
	switch b {
	case ControlStart:
		return "START"
	case ControlStop:
		return "STOP"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", b)
	}
}

// formatDuration converts milliseconds to a short human-readable duration
func formatDuration(ms uint64) string {
	if ms < 1000 {
		return fmt.Sprintf("%d ms", ms)
	}
	seconds := ms / 1000
	rem := ms % 1000
	if seconds < 60 {
		if rem == 0 {
			return fmt.Sprintf("%d s", seconds)
		}
		return fmt.Sprintf("%d.%03d s", seconds, rem)
	}
	minutes := seconds / 60
	seconds %= 60
	if seconds == 0 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%d min %d s", minutes, seconds)
}
