// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package export writes the samples of a run to files and external sinks.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

// Formats
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatCBOR    = "cbor"
)

// Run is a finished (or interrupted) experiment
type Run struct {
	Params  estat.Params
	Started time.Time
	Samples []estat.Sample
}

// Kind returns the technique of the run, 0 when no parameters are set
func (r Run) Kind() estat.Kind {
	if r.Params == nil {
		return 0
	}
	return r.Params.Kind()
}

// BaseName returns the default file name stem for a run
func (r Run) BaseName() string {
	kind := "run"
	if r.Params != nil {
		kind = strings.ToLower(r.Kind().String())
	}
	return fmt.Sprintf("%s_%s", kind, r.Started.Format("20060102_150405"))
}

// Write encodes run in one format
func Write(w io.Writer, format string, run Run) error {
	switch strings.ToLower(format) {
	case FormatCSV:
		return WriteCSV(w, run.Samples)
	case FormatParquet:
		return WriteParquet(w, run)
	case FormatCBOR:
		return WriteArchive(w, run)
	default:
		return fmt.Errorf("unknown export format: %q", format)
	}
}

// WriteFiles writes run to dir/base.<format> for every format and returns
// the paths written. An empty base uses Run.BaseName.
func WriteFiles(dir, base string, formats []string, run Run) ([]string, error) {
	if base == "" {
		base = run.BaseName()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var paths []string
	for _, format := range formats {
		path := filepath.Join(dir, base+"."+strings.ToLower(format))
		if err := writeFile(path, format, run); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path, format string, run Run) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, format, run); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
