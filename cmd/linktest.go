// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bridge"
)

var (
	linkTestTimeout int
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test a bridge connection by waiting for a valid frame",
	Long: `Wait for a valid bridge frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
bridge frame. It ignores invalid bytes and waits for a complete, valid
frame (passing CRC check).

A bridge only forwards traffic while the potentiostat is notifying, so
start an experiment from another client if the link is quiet.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(linkTestTimeout)*time.Second)
	defer cancel()

	conn, connInfo, err := OpenStream(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connection error: %w", err)}
	}
	defer conn.Close()

	fmt.Printf("Voltstat - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", linkTestTimeout)
	fmt.Printf("Waiting for valid bridge frame...\n\n")

	frameChan := make(chan *bridge.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		decoder := bridge.NewDecoder()
		buf := make([]byte, 128)
		invalidBytes := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					invalidBytes++
					continue
				}
				if frame != nil {
					if invalidBytes > 0 {
						fmt.Printf("(skipped %d invalid bytes before sync)\n", invalidBytes)
					}
					frameChan <- frame
					return
				}
			}
		}
	}()

	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Channel: %s (0x%02X)\n", frame.Channel(), uint8(frame.Channel()))
		fmt.Printf("  Length: %d bytes\n", len(frame.Payload()))
		fmt.Printf("  CRC: 0x%04X\n", frame.CRC())
		return nil

	case err := <-errChan:
		return &exitError{code: 2, err: fmt.Errorf("read error: %w", err)}

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			fmt.Printf("TIMEOUT: No valid frame received within %d seconds\n", linkTestTimeout)
		}
		return &exitError{code: 1}
	}
}
