// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch status and telemetry with anomaly detection",
	Long: `Passively follow the device's status and telemetry notifications.

Runs started by another client on a shared bridge, or by the instrument
itself, are tracked like runs started from voltstat. Each completed sample
is checked for values the instrument cannot produce:
  - Voltage outside the instrument's potential range
  - Non-finite current (NaN or infinity)

By default, only state changes and anomalies are displayed. Use --show-all
to display every sample too.

Statistics (sample rate, byte rate, anomaly counts, largest incomplete
sample held between notifications) are displayed at a configurable
interval. The connection is reopened automatically when it drops.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all samples (not just anomalies)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

	var log *logrus.Entry
	if useTUI {
		log = tuiLog("monitor")
	} else {
		log = componentLog("monitor")
	}

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

	if useTUI {
		return runMonitorTUI(ctx, sess, svc, cm)
	}
	return runMonitorText(ctx, sess, cm)
}

// runMonitorTUI runs the monitor in TUI mode
func runMonitorTUI(ctx context.Context, sess *session.Session, svc *services, cm *connectionManager) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialMonitorModel(sess, cm.info(), showAll)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	cm.onLost = func(err error) { p.Send(connectionLostMsg{err: err}) }
	cm.onReconnected = func(info string) { p.Send(reconnectedMsg{info: info}) }

	sub := svc.hub.Subscribe()
	defer sub.Close()
	go forwardEvents(p, sub, ctx.Done())
	go cm.run(ctx)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runMonitorText runs the monitor in text mode
func runMonitorText(ctx context.Context, sess *session.Session, cm *connectionManager) error {
	fmt.Printf("Voltstat - Monitor\n")
	fmt.Printf("Connection: %s\n", cm.info())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All samples\n")
	} else {
		fmt.Printf("Mode: Anomalies only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sess.AddObserver(&textMonitor{showAll: showAll})
	cm.onLost = func(err error) {
		fmt.Printf("[%s] \033[1;31mCONNECTION LOST:\033[0m %v\n\n", timestamp(), err)
	}
	cm.onReconnected = func(info string) {
		fmt.Printf("[%s] \033[1;32mRECONNECTED:\033[0m %s\n\n", timestamp(), info)
	}
	go cm.run(ctx)

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			stats := sess.Statistics()
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case <-statsTicker.C:
			stats := sess.Statistics()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

// textMonitor prints session events in text mode
type textMonitor struct {
	showAll bool
}

func (t *textMonitor) OnState(e session.StateEvent) {
	fmt.Printf("[%s] \033[1;36mSTATE:\033[0m %s → %s (%s)\n\n",
		e.Time.Format("15:04:05.000"), e.From, e.To, e.Cause)
}

func (t *textMonitor) OnSamples(e session.SamplesEvent) {
	for _, s := range e.Samples {
		issues := estat.ValidateSample(s)
		if len(issues) > 0 {
			printAnomaly(s, issues)
		} else if t.showAll {
			fmt.Println(estat.FormatSample(s))
		}
	}
}

// printAnomaly prints a sample with anomalous values in highlighted format
func printAnomaly(s estat.Sample, issues []estat.ValidationError) {
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %s\n", timestamp(), estat.FormatSample(s))
	for i, issue := range issues {
		switch issue.Type {
		case estat.AnomalyVoltageRange:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, issue.Message)
			fmt.Printf("    valid: %d to %d mV\n", estat.MinPotentialMV, estat.MaxPotentialMV)
		case estat.AnomalyNonFiniteCurrent:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, issue.Message)
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, issue.Message)
		}
	}
	fmt.Println()
}
