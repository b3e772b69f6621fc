// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/internal/transport"
)

var (
	scanTimeout time.Duration
	scanAll     bool
	scanSerial  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby BLE potentiostats and local serial ports",
	Long: `Scan for advertising Bluetooth devices and list serial ports.

By default only devices whose name matches ble.name from the config file
are listed; --all lists every named device. The address printed can be
set as ble.address to always connect to the same instrument.

Exit codes:
  0 - At least one device or port found
  1 - Nothing found
  2 - Bluetooth adapter error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 5*time.Second, "How long to scan")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every named device")
	scanCmd.Flags().BoolVar(&scanSerial, "serial", false, "Only list serial ports")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	found := 0

	ports, err := transport.ListSerialPorts()
	if err != nil {
		fmt.Printf("Serial ports: %v\n", err)
	} else {
		fmt.Printf("Serial ports:\n")
		if len(ports) == 0 {
			fmt.Printf("  (none)\n")
		}
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
		found += len(ports)
	}

	if !scanSerial {
		fmt.Printf("\nScanning for BLE devices (%s)...\n", scanTimeout)
		results, err := transport.Scan(ctx, scanTimeout)
		if err != nil {
			return &exitError{code: 2, err: err}
		}

		results = filterScan(results, cfg.BLE.Name, scanAll)
		if len(results) == 0 {
			fmt.Printf("  (none)\n")
		}
		for _, r := range results {
			fmt.Printf("  %-20s %s  RSSI %d dBm\n", r.Name, r.Address, r.RSSI)
		}
		found += len(results)
	}

	if found == 0 {
		return &exitError{code: 1}
	}
	return nil
}

// filterScan keeps devices whose name contains name, case-insensitively
func filterScan(results []transport.ScanResult, name string, all bool) []transport.ScanResult {
	if all || name == "" {
		return results
	}
	var kept []transport.ScanResult
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.Name), strings.ToLower(name)) {
			kept = append(kept, r)
		}
	}
	return kept
}
