// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

// ArchiveVersion is written as the first key of every archive
const ArchiveVersion = 1

// archive is a run as stored in CBOR. Parameters are kept as the
// configuration record sent to the device.
type archive struct {
	Version uint8           `cbor:"0,keyasint"`
	Kind    uint8           `cbor:"1,keyasint"`
	Record  []byte          `cbor:"2,keyasint,omitempty"`
	Started int64           `cbor:"3,keyasint"` // unix ms
	Samples []archiveSample `cbor:"4,keyasint"`
}

type archiveSample struct {
	_       struct{} `cbor:",toarray"`
	Time    uint32
	Voltage int32
	Current float32
}

// WriteArchive writes run as a CBOR map with integer keys
func WriteArchive(w io.Writer, run Run) error {
	a := archive{
		Version: ArchiveVersion,
		Kind:    uint8(run.Kind()),
		Started: run.Started.UnixMilli(),
		Samples: make([]archiveSample, len(run.Samples)),
	}
	if run.Params != nil {
		a.Record = estat.Encode(run.Params)
	}
	for i, s := range run.Samples {
		a.Samples[i] = archiveSample{Time: s.Time, Voltage: s.Voltage, Current: s.Current}
	}

	data, err := cbor.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ReadArchive decodes an archive written by WriteArchive
func ReadArchive(r io.Reader) (Run, error) {
	var a archive
	if err := cbor.NewDecoder(r).Decode(&a); err != nil {
		return Run{}, fmt.Errorf("failed to decode archive: %w", err)
	}
	if a.Version != ArchiveVersion {
		return Run{}, fmt.Errorf("unsupported archive version %d", a.Version)
	}

	run := Run{
		Started: time.UnixMilli(a.Started),
		Samples: make([]estat.Sample, len(a.Samples)),
	}
	if len(a.Record) > 0 {
		params, err := estat.DecodeParams(a.Record)
		if err != nil {
			return Run{}, fmt.Errorf("archive parameters: %w", err)
		}
		if uint8(params.Kind()) != a.Kind {
			return Run{}, fmt.Errorf("archive kind %d does not match record tag %d", a.Kind, params.Kind())
		}
		run.Params = params
	}
	for i, s := range a.Samples {
		run.Samples[i] = estat.Sample{Time: s.Time, Voltage: s.Voltage, Current: s.Current}
	}
	return run, nil
}
