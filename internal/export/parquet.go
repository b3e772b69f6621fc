// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

// SampleRow is the Parquet schema of one sample
type SampleRow struct {
	TimeMS    int64   `parquet:"time_ms"`
	VoltageMV int32   `parquet:"voltage_mv"`
	CurrentUA float32 `parquet:"current_ua"`
}

// Parquet key/value metadata keys
const (
	MetaKind    = "kind"
	MetaParams  = "params"
	MetaStarted = "started"
)

// NewParquetWriter creates a writer with the run description as metadata.
// Parameters are stored as JSON keyed by their wire field names.
func NewParquetWriter(w io.Writer, run Run) (*parquet.GenericWriter[SampleRow], error) {
	kind := ""
	paramsStr := "{}"
	if run.Params != nil {
		kind = run.Kind().String()
		b, err := json.Marshal(run.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s parameters: %w", kind, err)
		}
		paramsStr = string(b)
	}

	return parquet.NewGenericWriter[SampleRow](w,
		parquet.KeyValueMetadata(MetaKind, kind),
		parquet.KeyValueMetadata(MetaParams, paramsStr),
		parquet.KeyValueMetadata(MetaStarted, run.Started.UTC().Format(time.RFC3339Nano)),
	), nil
}

// WriteParquet writes every sample of run as one row
func WriteParquet(w io.Writer, run Run) error {
	writer, err := NewParquetWriter(w, run)
	if err != nil {
		return err
	}

	rows := make([]SampleRow, len(run.Samples))
	for i, s := range run.Samples {
		rows[i] = SampleRow{
			TimeMS:    int64(s.Time),
			VoltageMV: s.Voltage,
			CurrentUA: s.Current,
		}
	}

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	return writer.Close()
}

// ReadParquet reads back a file written by WriteParquet. The returned
// metadata holds the kind, params and started keys.
func ReadParquet(r io.ReaderAt, size int64) ([]estat.Sample, map[string]string, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	meta := make(map[string]string)
	for _, key := range []string{MetaKind, MetaParams, MetaStarted} {
		if v, ok := file.Lookup(key); ok {
			meta[key] = v
		}
	}

	reader := parquet.NewGenericReader[SampleRow](r)
	defer reader.Close()

	rows := make([]SampleRow, reader.NumRows())
	read := 0
	for read < len(rows) {
		n, err := reader.Read(rows[read:])
		read += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}

	samples := make([]estat.Sample, read)
	for i, row := range rows[:read] {
		samples[i] = estat.Sample{
			Time:    uint32(row.TimeMS),
			Voltage: row.VoltageMV,
			Current: row.CurrentUA,
		}
	}
	return samples, meta, nil
}
