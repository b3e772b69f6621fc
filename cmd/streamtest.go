// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bridge"
)

var streamTestCmd = &cobra.Command{
	Use:   "stream_test",
	Short: "Test raw bridge connection stability",
	Long: `Test a serial or WebSocket bridge connection without writing to it.

This command connects and just waits, logging any data received or errors
encountered, and counts the bridge frames found in the stream. Useful for
debugging connection stability issues.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runStreamTest,
}

var streamTestDuration int

func init() {
	rootCmd.AddCommand(streamTestCmd)
	streamTestCmd.Flags().IntVar(&streamTestDuration, "duration", 30, "Test duration in seconds")
}

// pinger is implemented by connections with a keepalive probe
type pinger interface {
	Ping() error
}

// streamCounts tallies what a stability test has seen
type streamCounts struct {
	reads       int
	bytes       int
	frames      int
	frameErrors int
}

// feed runs data through decoder and counts reads, bytes and frames
func (c *streamCounts) feed(decoder *bridge.Decoder, data []byte) {
	c.reads++
	c.bytes += len(data)
	for _, b := range data {
		frame, err := decoder.DecodeByte(b)
		if err != nil {
			c.frameErrors++
			continue
		}
		if frame != nil {
			c.frames++
		}
	}
}

func (c *streamCounts) print(elapsed time.Duration) {
	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %v\n", elapsed.Truncate(time.Millisecond))
	fmt.Printf("Reads: %d\n", c.reads)
	fmt.Printf("Bytes received: %d\n", c.bytes)
	fmt.Printf("Frames received: %d (%d frame errors)\n", c.frames, c.frameErrors)
}

func runStreamTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	conn, connInfo, err := OpenStream(ctx)
	cancel()
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connection error: %w", err)}
	}
	defer conn.Close()

	fmt.Printf("Voltstat - Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", streamTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	start := time.Now()
	endTime := start.Add(time.Duration(streamTestDuration) * time.Second)
	decoder := bridge.NewDecoder()
	var counts streamCounts

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			counts.feed(decoder, data)
			fmt.Printf("[%s] Received %d bytes: %x\n", timestamp(), len(data), data)

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n", timestamp(), err)
			counts.print(time.Since(start))
			fmt.Printf("Result: FAILED (connection error)\n")
			return &exitError{code: 1}

		case <-heartbeat.C:
			// WebSocket bridges also get a control ping
			if p, ok := conn.(pinger); ok {
				if err := p.Ping(); err != nil {
					fmt.Printf("\n[%s] Ping failed: %v\n", timestamp(), err)
					counts.print(time.Since(start))
					fmt.Printf("Result: FAILED (ping error)\n")
					return &exitError{code: 1}
				}
			}
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				timestamp(), time.Until(endTime).Seconds())
		}
	}

	counts.print(time.Since(start))
	fmt.Printf("Result: PASSED (connection stable)\n")
	return nil
}
