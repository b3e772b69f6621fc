// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package estat implements the wire protocol spoken by voltstat potentiostats.
//
// The device exposes four notification-based channels over BLE GATT: a
// configuration record, a single control byte, a status bitfield and a
// stream of fixed-size sample records. This package provides the
// experiment record encoder, the status and sample decoders, and a
// reassembler that turns arbitrarily chunked notifications back into
// complete samples.
package estat

// Kind identifies the experiment technique. The value is written as the
// first 4 bytes of every configuration record.
type Kind uint32

// Experiment kinds
const (
	KindCV  Kind = 0x01 // Cyclic voltammetry
	KindSWV Kind = 0x02 // Square wave voltammetry
	KindDPV Kind = 0x03 // Differential pulse voltammetry
	KindCA  Kind = 0x04 // Chronoamperometry
)

// Configuration record sizes (tag included)
const (
	CVRecordSize  = 32
	SWVRecordSize = 28
	DPVRecordSize = 32
	CARecordSize  = 40

	TagSize   = 4
	FieldSize = 4
)

// Sample record layout
const (
	SampleSize = 12

	sampleTimeOffset    = 0
	sampleVoltageOffset = 4
	sampleCurrentOffset = 8

	// MaxRemainder is the largest partial sample the reassembler can hold
	MaxRemainder = SampleSize - 1
)

// Control bytes written to the control characteristic
const (
	ControlStop  byte = 0x00
	ControlStart byte = 0x01
)

// Status bits
const (
	StatusRunning byte = 0x01
)

// Instrument-safe potential range in millivolts
const (
	MinPotentialMV = -3300
	MaxPotentialMV = 3300
)

// RunState is the device run state reported in the status byte
type RunState int

// Run state values
const (
	RunStateIdle RunState = iota
	RunStateRunning
)

// Axis names a plottable sample column
type Axis int

// Axis values
const (
	AxisTime Axis = iota
	AxisVoltage
	AxisCurrent
)
