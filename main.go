// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Voltstat - Potentiostat Experiment Client
//
// A CLI tool for configuring electrochemical experiments on a BLE
// potentiostat, streaming the measured samples and recording them.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/voltstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
