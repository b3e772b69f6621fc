// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/internal/config"
	"github.com/Thermoquad/voltstat/internal/logging"
)

var (
	configPath string

	// Transport selection flags
	useBLE bool
	useSim bool

	// Serial bridge flags
	portName string
	baudRate int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging flags
	logLevel  string
	logFormat string
)

var (
	cfg       *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "voltstat",
	Short: "Potentiostat experiment client",
	Long: `Voltstat - A CLI tool for configuring, running and recording
electrochemical experiments on a BLE potentiostat.

Supports cyclic voltammetry (CV), square wave voltammetry (SWV),
differential pulse voltammetry (DPV) and chronoamperometry (CA).

Connection modes:
  BLE:       --ble (device selected in the config file)
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --sim

Serial and WebSocket connections go through a bridge that forwards the
potentiostat's GATT traffic as framed packets.

For WebSocket authentication, the password is read from the VOLTSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML)")

	rootCmd.PersistentFlags().BoolVar(&useBLE, "ble", false, "Connect over Bluetooth Low Energy")
	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "Use the built-in simulated potentiostat")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of a bridge")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL of a bridge (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file, applies flags and builds the logger
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	applyFlags(cmd, c)

	if err := config.Validate(c); err != nil {
		return err
	}
	config.Normalize(c)

	log, closer, err := logging.New(c.Log)
	if err != nil {
		return err
	}

	cfg = c
	logger = log
	logCloser = closer
	return nil
}

// applyFlags overrides config values with flags given on the command line.
// The transport follows the most specific flag: --sim, --url, --port, --ble.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("port") {
		c.Serial.Port = portName
	}
	if flags.Changed("baud") {
		c.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		c.WebSocket.URL = wsURL
	}
	if flags.Changed("username") {
		c.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.WebSocket.SkipVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}

	switch {
	case useSim:
		c.Transport = config.TransportSim
	case wsURL != "":
		c.Transport = config.TransportWebSocket
	case portName != "":
		c.Transport = config.TransportSerial
	case useBLE:
		c.Transport = config.TransportBLE
	}
}

// componentLog returns a logger entry for a command component
func componentLog(name string) *logrus.Entry {
	return logging.Component(logger, name)
}

// tuiLog returns the logger for full-screen commands. Without a log file
// everything is discarded so log lines never draw over the TUI.
func tuiLog(name string) *logrus.Entry {
	if cfg.Log.File == "" {
		return logging.Component(logging.Discard(), name)
	}
	return componentLog(name)
}

// exitError carries a process exit code out of a command. A nil err
// means the command already reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode returns the process exit code for an error returned by Execute
func ExitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	if err != nil {
		return 1
	}
	return 0
}
