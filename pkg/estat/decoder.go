// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sample is one telemetry point streamed while an experiment runs
type Sample struct {
	Time    uint32  // ms since experiment start
	Voltage int32   // mV
	Current float32 // device units (reported as uA)
}

// DecodeSample decodes the first SampleSize bytes of b.
// The caller guarantees len(b) >= SampleSize.
func DecodeSample(b []byte) Sample {
	return Sample{
		Time:    binary.LittleEndian.Uint32(b[sampleTimeOffset:]),
		Voltage: int32(binary.LittleEndian.Uint32(b[sampleVoltageOffset:])),
		Current: math.Float32frombits(binary.LittleEndian.Uint32(b[sampleCurrentOffset:])),
	}
}

// DecodeStatus translates a status byte into a run state. Only bit 0 is
// meaningful; reserved bits are ignored.
func DecodeStatus(b byte) RunState {
	if b&StatusRunning != 0 {
		return RunStateRunning
	}
	return RunStateIdle
}

// String returns the run state name
func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "IDLE"
	case RunStateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// recordReader reads little-endian 4-byte fields from a record
type recordReader struct {
	buf    []byte
	offset int
}

func (r *recordReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.offset:])
	r.offset += FieldSize
	return v
}

func (r *recordReader) i32() int32 {
	return int32(r.u32())
}

func (r *recordReader) f32() float32 {
	return math.Float32frombits(r.u32())
}

// DecodeParams decodes a configuration record back into its parameter set.
// It is the inverse of Encode.
func DecodeParams(b []byte) (Params, error) {
	if len(b) < TagSize {
		return nil, fmt.Errorf("record too short: %d bytes", len(b))
	}

	kind := Kind(binary.LittleEndian.Uint32(b))
	size := RecordSize(kind)
	if size == 0 {
		return nil, fmt.Errorf("unknown experiment tag: 0x%08X", uint32(kind))
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s record length mismatch: got %d bytes, expected %d", kind, len(b), size)
	}

	r := &recordReader{buf: b, offset: TagSize}

	switch kind {
	case KindCV:
		return CVParams{
			InitE:     r.i32(),
			Vertex1:   r.i32(),
			Vertex2:   r.i32(),
			ScanRate:  r.u32(),
			Scans:     r.u32(),
			QuietTime: r.u32(),
			ScanDelay: r.u32(),
		}, nil

	case KindSWV:
		return SWVParams{
			InitE:     r.i32(),
			FinalE:    r.i32(),
			IncrE:     r.i32(),
			Amplitude: r.u32(),
			Frequency: r.u32(),
			QuietTime: r.u32(),
		}, nil

	case KindDPV:
		return DPVParams{
			InitE:     r.i32(),
			FinalE:    r.i32(),
			IncrE:     r.i32(),
			Amplitude: r.u32(),
			Frequency: r.u32(),
			QuietTime: r.u32(),
			DutyCycle: r.f32(),
		}, nil

	case KindCA:
		return CAParams{
			InitE:     r.i32(),
			QuietTime: r.u32(),
			E1:        r.i32(),
			Duration1: r.u32(),
			E2:        r.i32(),
			Duration2: r.u32(),
			E3:        r.i32(),
			Duration3: r.u32(),
			FinalE:    r.i32(),
		}, nil
	}

	return nil, fmt.Errorf("unknown experiment tag: 0x%08X", uint32(kind))
}
