// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

// CSVHeader is the first row of every CSV export
var CSVHeader = []string{"Time (ms)", "Voltage (mV)", "Current (uA)"}

// WriteCSV writes one row per sample in arrival order
func WriteCSV(w io.Writer, samples []estat.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	row := make([]string, 3)
	for _, s := range samples {
		row[0] = strconv.FormatUint(uint64(s.Time), 10)
		row[1] = strconv.FormatInt(int64(s.Voltage), 10)
		row[2] = estat.FormatCurrent(s.Current)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
