// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"encoding/binary"
	"fmt"
	"math"
)

// recordWriter appends little-endian 4-byte fields to a fixed-size record
type recordWriter struct {
	buf    []byte
	offset int
}

func newRecordWriter(k Kind) *recordWriter {
	w := &recordWriter{buf: make([]byte, RecordSize(k))}
	w.u32(uint32(k))
	return w
}

func (w *recordWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.offset:], v)
	w.offset += FieldSize
}

func (w *recordWriter) i32(v int32) {
	w.u32(uint32(v))
}

func (w *recordWriter) f32(v float32) {
	w.u32(math.Float32bits(v))
}

// Encode encodes a parameter set to its configuration record.
// The caller is responsible for validation. Panics if p is nil or not one
// of the four parameter types.
func Encode(p Params) []byte {
	switch v := p.(type) {
	case CVParams:
		return EncodeCV(v)
	case *CVParams:
		return EncodeCV(*v)
	case SWVParams:
		return EncodeSWV(v)
	case *SWVParams:
		return EncodeSWV(*v)
	case DPVParams:
		return EncodeDPV(v)
	case *DPVParams:
		return EncodeDPV(*v)
	case CAParams:
		return EncodeCA(v)
	case *CAParams:
		return EncodeCA(*v)
	default:
		panic(fmt.Sprintf("estat: cannot encode parameters of type %T", p))
	}
}

// EncodeCV encodes a 32-byte CV record
func EncodeCV(p CVParams) []byte {
	w := newRecordWriter(KindCV)
	w.i32(p.InitE)
	w.i32(p.Vertex1)
	w.i32(p.Vertex2)
	w.u32(p.ScanRate)
	w.u32(p.Scans)
	w.u32(p.QuietTime)
	w.u32(p.ScanDelay)
	return w.buf
}

// EncodeSWV encodes a 28-byte SWV record
func EncodeSWV(p SWVParams) []byte {
	w := newRecordWriter(KindSWV)
	w.i32(p.InitE)
	w.i32(p.FinalE)
	w.i32(p.IncrE)
	w.u32(p.Amplitude)
	w.u32(p.Frequency)
	w.u32(p.QuietTime)
	return w.buf
}

// EncodeDPV encodes a 32-byte DPV record. The duty cycle is the trailing
// float32 field.
func EncodeDPV(p DPVParams) []byte {
	w := newRecordWriter(KindDPV)
	w.i32(p.InitE)
	w.i32(p.FinalE)
	w.i32(p.IncrE)
	w.u32(p.Amplitude)
	w.u32(p.Frequency)
	w.u32(p.QuietTime)
	w.f32(p.DutyCycle)
	return w.buf
}

// EncodeCA encodes a 40-byte CA record
func EncodeCA(p CAParams) []byte {
	w := newRecordWriter(KindCA)
	w.i32(p.InitE)
	w.u32(p.QuietTime)
	w.i32(p.E1)
	w.u32(p.Duration1)
	w.i32(p.E2)
	w.u32(p.Duration2)
	w.i32(p.E3)
	w.u32(p.Duration3)
	w.i32(p.FinalE)
	return w.buf
}

// EncodeControl returns the control characteristic payload for a start or
// stop command.
func EncodeControl(start bool) []byte {
	if start {
		return []byte{ControlStart}
	}
	return []byte{ControlStop}
}

// EncodeSample encodes a sample to its 12-byte wire form. Only the device
// (and the simulator standing in for it) produces samples.
func EncodeSample(s Sample) []byte {
	buf := make([]byte, SampleSize)
	AppendSample(buf[:0], s)
	return buf
}

// AppendSample appends the wire form of s to buf
func AppendSample(buf []byte, s Sample) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, s.Time)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Voltage))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(s.Current))
	return buf
}
