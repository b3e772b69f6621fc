// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/internal/config"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

var (
	encodeParams     []string
	encodeExperiment string
	encodeRaw        bool
)

var encodeCmd = &cobra.Command{
	Use:   "encode [kind]",
	Short: "Encode an experiment configuration record",
	Long: `Build the configuration record for an experiment and print it.

Parameters not given keep the technique defaults. Values are in the units
shown by the control TUI; duty_cycle is a percentage.

Examples:
  voltstat encode cv --param vertex_1=800 --param scans=3
  voltstat encode --experiment dpv.yaml
  voltstat encode swv --raw

Exit codes:
  0 - Record encoded
  1 - Parameters rejected`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	encodeCmd.Flags().StringArrayVar(&encodeParams, "param", nil, "Parameter as name=value (repeatable)")
	encodeCmd.Flags().StringVarP(&encodeExperiment, "experiment", "e", "", "Read kind and parameters from an experiment file")
	encodeCmd.Flags().BoolVar(&encodeRaw, "raw", false, "Print only the record as hex")
}

func runEncode(cmd *cobra.Command, args []string) error {
	exp, err := loadExperiment(encodeExperiment)
	if err != nil {
		return err
	}
	params, err := paramsFromArgs(args, exp, encodeParams)
	if err != nil {
		return err
	}

	if errs := estat.Validate(params); len(errs) > 0 {
		fmt.Printf("Invalid %s parameters:\n", params.Kind())
		printValidationErrors(errs)
		return &exitError{code: 1}
	}

	record := estat.Encode(params)
	if encodeRaw {
		fmt.Println(hex.EncodeToString(record))
		return nil
	}

	fmt.Printf("Experiment:\n%s\n", estat.FormatParams(params))
	fmt.Printf("Record (%d bytes):\n%s\n", len(record), estat.FormatRecord(record))
	return nil
}

// loadExperiment reads an experiment file, nil when path is empty
func loadExperiment(path string) (*config.ExperimentConfig, error) {
	if path == "" {
		return nil, nil
	}
	return config.LoadExperiment(path)
}

// paramsFromArgs builds a parameter set from a kind argument or an
// experiment file, then applies name=value overrides
func paramsFromArgs(args []string, exp *config.ExperimentConfig, assignments []string) (estat.Params, error) {
	values, err := config.ParseAssignments(assignments)
	if err != nil {
		return nil, err
	}

	var kind estat.Kind
	merged := make(map[string]float64)

	switch {
	case exp != nil:
		if kind, err = estat.ParseKind(exp.Kind); err != nil {
			return nil, err
		}
		if len(args) == 1 && !strings.EqualFold(args[0], exp.Kind) {
			return nil, fmt.Errorf("kind %q does not match experiment file kind %q", args[0], exp.Kind)
		}
		for name, v := range exp.Params {
			merged[name] = v
		}

	case len(args) == 1:
		if kind, err = estat.ParseKind(args[0]); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("an experiment kind or --experiment is required")
	}

	for name, v := range values {
		merged[name] = v
	}
	return config.ParamsFromValues(kind, merged)
}

func printValidationErrors(errs []estat.ValidationError) {
	for _, e := range errs {
		if e.Field != "" {
			fmt.Printf("  %s: %s\n", e.Field, e.Message)
		} else {
			fmt.Printf("  %s\n", e.Message)
		}
	}
}
