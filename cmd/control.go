// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/internal/session"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for configuring and running experiments",
	Long: `Configure and run potentiostat experiments via an interactive terminal UI.

Features:
  - Technique selection (CV, SWV, DPV, CA)
  - Parameter form with per-technique defaults and validation
  - Start and stop of runs
  - Live plot of the samples of the current run
  - Statistics tracking and event logging
  - Export of the last run (e key) in the configured formats
  - Automatic reconnection on connection loss

Tab cycles between the technique list, the parameter fields and the
Start/Stop button. Enter on a parameter field applies the form.

A run still active when the TUI exits is stopped first.

Supports BLE, serial bridge, WebSocket bridge and simulated connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	log := tuiLog("control")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(log)
	svc, err := startServices(ctx, sess, log)
	if err != nil {
		return err
	}
	defer svc.close()

	cm := newConnectionManager(sess, log)
	if err := cm.connect(ctx); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connection error: %w", err)}
	}
	defer cm.close()

	// Notifications keep flowing after the TUI exits so a final stop can
	// be confirmed
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	m := initialControlModel(sess, cm.info(), cfg.Export.Dir, cfg.Export.Formats)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	cm.onLost = func(err error) { p.Send(connectionLostMsg{err: err}) }
	cm.onReconnected = func(info string) { p.Send(reconnectedMsg{info: info}) }

	sub := svc.hub.Subscribe()
	defer sub.Close()
	go forwardEvents(p, sub, ctx.Done())
	go cm.run(runCtx)

	_, runErr := p.Run()

	if sess.State().Active() {
		fmt.Printf("Stopping active run...\n")
		stopAndWait(sess, log)
		if st := sess.State(); st != session.StateIdle {
			fmt.Printf("Warning: device did not confirm stop (state %s)\n", st)
		}
	}

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
