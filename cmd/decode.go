// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/internal/export"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

var (
	decodeSamples bool
	decodeFile    string
	decodeLimit   int
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode a configuration record, sample data or a recorded run",
	Long: `Decode protocol data back into readable form.

By default the argument is a configuration record as printed by
'voltstat encode'. With --samples it is a telemetry stream of 12-byte
sample records. With --file a run exported as CBOR or Parquet is read.

Hex may contain spaces or colons between bytes.

Examples:
  voltstat decode 01000000000000f4010000...
  voltstat decode --samples "00000000 9cffffff 0000003f"
  voltstat decode --file cv_20250314_150926.cbor --limit 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVarP(&decodeSamples, "samples", "s", false, "Decode sample records instead of a configuration record")
	decodeCmd.Flags().StringVarP(&decodeFile, "file", "f", "", "Read a recorded run (.cbor or .parquet)")
	decodeCmd.Flags().IntVarP(&decodeLimit, "limit", "n", 10, "Samples to print from a recorded run (0 for all)")
}

func runDecode(cmd *cobra.Command, args []string) error {
	if decodeFile != "" {
		return decodeRunFile(decodeFile)
	}
	if len(args) != 1 {
		return fmt.Errorf("hex data or --file is required")
	}

	data, err := parseHex(args[0])
	if err != nil {
		return err
	}

	if decodeSamples {
		r := estat.NewReassembler()
		for _, s := range r.Feed(data) {
			fmt.Println(estat.FormatSample(s))
			for _, v := range estat.ValidateSample(s) {
				fmt.Printf("  anomaly: %s\n", v.Message)
			}
		}
		if n := r.Remainder(); n > 0 {
			fmt.Printf("(%d trailing bytes do not form a complete sample)\n", n)
		}
		return nil
	}

	params, err := estat.DecodeParams(data)
	if err != nil {
		return err
	}
	fmt.Printf("Experiment:\n%s", estat.FormatParams(params))
	if errs := estat.Validate(params); len(errs) > 0 {
		fmt.Println("Warnings (record would be rejected before sending):")
		printValidationErrors(errs)
	}
	return nil
}

// parseHex decodes hex with optional separators between bytes
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

// decodeRunFile prints a run exported by the run or control commands
func decodeRunFile(path string) error {
	var run export.Run

	switch strings.ToLower(filepath.Ext(path)) {
	case "." + export.FormatCBOR:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if run, err = export.ReadArchive(f); err != nil {
			return err
		}

	case "." + export.FormatParquet:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		samples, meta, err := export.ReadParquet(f, info.Size())
		if err != nil {
			return err
		}
		run, err = runFromParquetMeta(meta, samples)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported file type %q (use .cbor or .parquet)", filepath.Ext(path))
	}

	fmt.Printf("Run: %s\n", path)
	fmt.Printf("Started: %s\n", run.Started.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Experiment:\n%s", estat.FormatParams(run.Params))
	fmt.Printf("Samples: %d\n\n", len(run.Samples))

	samples := run.Samples
	if decodeLimit > 0 && len(samples) > decodeLimit {
		samples = samples[:decodeLimit]
	}
	for _, s := range samples {
		fmt.Println(estat.FormatSample(s))
	}
	if len(samples) < len(run.Samples) {
		fmt.Printf("... %d more\n", len(run.Samples)-len(samples))
	}
	return nil
}

// runFromParquetMeta rebuilds the run description stored as Parquet
// key/value metadata
func runFromParquetMeta(meta map[string]string, samples []estat.Sample) (export.Run, error) {
	run := export.Run{Samples: samples}

	if s := meta[export.MetaStarted]; s != "" {
		started, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return run, fmt.Errorf("invalid %s metadata: %w", export.MetaStarted, err)
		}
		run.Started = started
	}

	if meta[export.MetaKind] == "" {
		return run, nil
	}
	kind, err := estat.ParseKind(meta[export.MetaKind])
	if err != nil {
		return run, err
	}

	var params estat.Params
	switch kind {
	case estat.KindCV:
		var p estat.CVParams
		err = json.Unmarshal([]byte(meta[export.MetaParams]), &p)
		params = p
	case estat.KindSWV:
		var p estat.SWVParams
		err = json.Unmarshal([]byte(meta[export.MetaParams]), &p)
		params = p
	case estat.KindDPV:
		var p estat.DPVParams
		err = json.Unmarshal([]byte(meta[export.MetaParams]), &p)
		params = p
	case estat.KindCA:
		var p estat.CAParams
		err = json.Unmarshal([]byte(meta[export.MetaParams]), &p)
		params = p
	}
	if err != nil {
		return run, fmt.Errorf("invalid %s metadata: %w", export.MetaParams, err)
	}
	run.Params = params
	return run, nil
}
