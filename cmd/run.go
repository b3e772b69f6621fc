// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/internal/export"
	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

var (
	runExperiment  string
	runParams      []string
	runDuration    time.Duration
	runOutput      string
	runFormats     []string
	runShowSamples bool
	runNoExport    bool
)

// stopTimeout bounds how long a stopped run waits for the device to
// report idle
const stopTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run [kind]",
	Short: "Run one experiment without the TUI",
	Long: `Connect, configure and start an experiment, record its samples and
export them when it ends.

The run ends when the device reports idle, when --duration elapses or on
Ctrl+C. In the last two cases a stop command is sent first and the
samples received until the device confirms are kept.

Examples:
  voltstat run --experiment dpv.yaml --ble
  voltstat run cv --param scans=2 --port /dev/ttyUSB0 --format csv,parquet
  voltstat run ca --sim --duration 30s

Exit codes:
  0 - Run completed and exported
  1 - Run failed (rejected parameters, command or export error)
  2 - Connection error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHeadless,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runExperiment, "experiment", "e", "", "Experiment file (YAML)")
	runCmd.Flags().StringArrayVar(&runParams, "param", nil, "Parameter as name=value (repeatable)")
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop the run after this long (0 waits for the device)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Base name of exported files (default <kind>_<timestamp>)")
	runCmd.Flags().StringSliceVar(&runFormats, "format", nil, "Export formats: csv, parquet, cbor (default from config)")
	runCmd.Flags().BoolVar(&runShowSamples, "show-samples", false, "Print every sample as it arrives")
	runCmd.Flags().BoolVar(&runNoExport, "no-export", false, "Do not write any files")
}

func runHeadless(cmd *cobra.Command, args []string) error {
	log := componentLog("run")

	exp, err := loadExperiment(runExperiment)
	if err != nil {
		return err
	}
	params, err := paramsFromArgs(args, exp, runParams)
	if err != nil {
		return err
	}
	if errs := estat.Validate(params); len(errs) > 0 {
		fmt.Printf("Invalid %s parameters:\n", params.Kind())
		printValidationErrors(errs)
		return &exitError{code: 1}
	}

	duration, output := runDuration, runOutput
	if exp != nil {
		if !cmd.Flags().Changed("duration") {
			duration = exp.Duration
		}
		if output == "" {
			output = exp.Output
		}
	}
	formats := cfg.Export.Formats
	if len(runFormats) > 0 {
		formats = runFormats
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(log)
	sess.AddObserver(&runPrinter{showSamples: runShowSamples})

	svc, err := startServices(ctx, sess, log)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer svc.close()

	cm := newConnectionManager(sess, log)
	if err := cm.connect(ctx); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connection error: %w", err)}
	}
	defer cm.close()

	fmt.Printf("Voltstat - Headless Run\n")
	fmt.Printf("Connection: %s\n", cm.info())
	fmt.Printf("Experiment:\n%s", estat.FormatParams(params))
	if duration > 0 {
		fmt.Printf("Duration: %s\n", duration)
	}
	fmt.Printf("Press Ctrl+C to stop\n\n")

	// Notifications keep flowing after Ctrl+C so the stop can be confirmed
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go cm.run(runCtx)

	select {
	case <-sess.Subscribed():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(stopTimeout):
		return &exitError{code: 2, err: errors.New("timed out subscribing to device notifications")}
	}

	if err := sess.SetParams(params); err != nil {
		return &exitError{code: 1, err: err}
	}
	if err := sess.Start(ctx); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("failed to start experiment: %w", err)}
	}

	finished := make(chan error, 1)
	go func() {
		_, err := sess.WaitFor(runCtx, session.StateIdle)
		finished <- err
	}()

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-finished:
	case <-ctx.Done():
		fmt.Printf("\nInterrupted, stopping experiment...\n")
		stopAndWait(sess, log)
	case <-deadline:
		fmt.Printf("\nDuration reached, stopping experiment...\n")
		stopAndWait(sess, log)
	}

	stats := sess.Statistics()
	fmt.Printf("\n%s", stats.String())

	if runNoExport {
		return nil
	}

	run := export.Run{
		Params:  sess.Params(),
		Started: sess.RunStarted(),
		Samples: sess.Samples(),
	}
	paths, err := export.WriteFiles(cfg.Export.Dir, output, formats, run)
	for _, p := range paths {
		fmt.Printf("Wrote %s\n", p)
	}
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	return nil
}

// stopAndWait sends a stop command and waits for the device to confirm.
// Samples keep arriving until it does.
func stopAndWait(sess *session.Session, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := sess.Stop(ctx); err != nil && !errors.Is(err, session.ErrNotRunning) {
		log.WithError(err).Warn("Stop command failed")
	}
	if _, err := sess.WaitFor(ctx, session.StateIdle); err != nil {
		log.WithField("state", sess.State()).Warn("Device did not confirm stop")
	}
}

// runPrinter reports session events on stdout
type runPrinter struct {
	showSamples bool
	lastReport  int
}

// progressEvery is the sample interval between progress lines
const progressEvery = 100

func (p *runPrinter) OnState(e session.StateEvent) {
	fmt.Printf("[%s] %s -> %s (%s)\n", e.Time.Format("15:04:05.000"), e.From, e.To, e.Cause)
	if e.To == session.StateRunning {
		p.lastReport = 0
	}
}

func (p *runPrinter) OnSamples(e session.SamplesEvent) {
	if p.showSamples {
		for _, s := range e.Samples {
			fmt.Println(estat.FormatSample(s))
		}
		return
	}
	if e.Total-p.lastReport >= progressEvery {
		last := e.Samples[len(e.Samples)-1]
		fmt.Printf("  %6d samples  (last: %s)\n", e.Total, estat.FormatSample(last))
		p.lastReport = e.Total
	}
}
