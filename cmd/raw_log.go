// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bridge"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

var rawLogFrames bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw notifications in human-readable format",
	Long: `Continuously display status and results notifications as they arrive.

Each notification is shown with a timestamp and its raw bytes. Samples
completed by a results notification are decoded below it.

With --frames the byte stream of a serial or WebSocket bridge is decoded
frame by frame instead, including frames written by other clients and
framing errors.

Supports BLE, serial, WebSocket and simulated connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogFrames, "frames", false, "Decode bridge frames from the raw byte stream")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if rawLogFrames {
		return runFrameLog(ctx)
	}

	dev, err := OpenDevice(ctx, componentLog("raw_log"))
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer dev.Close()

	fmt.Printf("Voltstat - Raw Notification Log\n")
	fmt.Printf("Connection: %s\n", dev.Info())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	status, err := dev.SubscribeStatus(ctx)
	if err != nil {
		return err
	}
	results, err := dev.SubscribeResults(ctx)
	if err != nil {
		return err
	}

	reasm := estat.NewReassembler()
	for {
		select {
		case <-ctx.Done():
			return nil

		case b, ok := <-status:
			if !ok {
				fmt.Println("Connection closed")
				return nil
			}
			if len(b) == 0 {
				fmt.Printf("[%s] STATUS (empty)\n", timestamp())
				continue
			}
			fmt.Printf("[%s] STATUS %s\n", timestamp(), estat.FormatStatus(b[0]))
			if estat.DecodeStatus(b[0]) == estat.RunStateIdle && reasm.Remainder() > 0 {
				fmt.Printf("  (dropping %d bytes of an incomplete sample)\n", reasm.Remainder())
				reasm.Reset()
			}

		case chunk, ok := <-results:
			if !ok {
				fmt.Println("Connection closed")
				return nil
			}
			fmt.Printf("[%s] RESULTS len=%d % X\n", timestamp(), len(chunk), chunk)
			for _, s := range reasm.Feed(chunk) {
				fmt.Printf("  %s\n", estat.FormatSample(s))
			}
			if n := reasm.Remainder(); n > 0 {
				fmt.Printf("  (%d bytes held for next sample)\n", n)
			}
		}
	}
}

// runFrameLog decodes bridge frames straight from the byte stream
func runFrameLog(ctx context.Context) error {
	conn, connInfo, err := OpenStream(ctx)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer conn.Close()

	fmt.Printf("Voltstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := bridge.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				fmt.Println("Connection closed")
				return nil
			}
			return err
		}

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[%s] [ERROR] %v\n", timestamp(), err)
				continue
			}
			if frame == nil {
				continue
			}
			fmt.Printf("[%s] %s\n", frame.Timestamp().Format("15:04:05.000"), frame)
			switch frame.Channel() {
			case bridge.ChannelStatus:
				if len(frame.Payload()) > 0 {
					fmt.Printf("  %s\n", estat.FormatStatus(frame.Payload()[0]))
				}
			case bridge.ChannelControl:
				if len(frame.Payload()) > 0 {
					fmt.Printf("  %s\n", estat.FormatControl(frame.Payload()[0]))
				}
			case bridge.ChannelConfig:
				if p, err := estat.DecodeParams(frame.Payload()); err == nil {
					fmt.Print(estat.FormatParams(p))
				} else {
					fmt.Printf("  %v\n", err)
				}
			}
		}
	}
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}
