// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports session activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

const namespace = "voltstat"

var states = []session.State{
	session.StateIdle,
	session.StateConfiguring,
	session.StateRunning,
	session.StateStopping,
}

// Metrics is a session.Observer that keeps Prometheus collectors current
type Metrics struct {
	Samples     prometheus.Counter
	Runs        prometheus.Counter
	Anomalies   *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	State       *prometheus.GaugeVec
	RunSamples  prometheus.Gauge
	RunDuration prometheus.Histogram
	LastVoltage prometheus.Gauge
	LastCurrent prometheus.Gauge

	reg        prometheus.Registerer
	runStarted time.Time
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples reassembled from telemetry",
		}),
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Experiment runs started",
		}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_anomalies_total",
			Help:      "Samples with values the instrument cannot produce",
		}, []string{"field"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current session state (1 for the active state)",
		}, []string{"state"}),
		RunSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_samples",
			Help:      "Samples in the current run",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of completed runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_voltage_millivolts",
			Help:      "Potential of the most recent sample",
		}),
		LastCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_current_microamps",
			Help:      "Current of the most recent sample",
		}),
		reg: reg,
	}

	reg.MustRegister(
		m.Samples,
		m.Runs,
		m.Anomalies,
		m.Transitions,
		m.State,
		m.RunSamples,
		m.RunDuration,
		m.LastVoltage,
		m.LastCurrent,
	)

	m.setState(session.StateIdle)
	return m
}

// TrackStatistics exports the telemetry counters of a session as gauges
// read at scrape time
func (m *Metrics) TrackStatistics(stats func() estat.Statistics) {
	gauge := func(name, help string, value func(estat.Statistics) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}

	m.reg.MustRegister(
		gauge("chunks", "Results notifications in the current run",
			func(s estat.Statistics) float64 { return float64(s.Chunks) }),
		gauge("bytes", "Telemetry bytes in the current run",
			func(s estat.Statistics) float64 { return float64(s.Bytes) }),
		gauge("status_updates", "Status notifications in the current run",
			func(s estat.Statistics) float64 { return float64(s.StatusUpdates) }),
		gauge("max_remainder_bytes", "Largest partial sample carried between chunks",
			func(s estat.Statistics) float64 { return float64(s.MaxRemainder) }),
		gauge("sample_rate", "Samples per second over the current run",
			func(s estat.Statistics) float64 {
				s.CalculateRates()
				return s.SampleRate
			}),
	)
}

// OnState implements session.Observer
func (m *Metrics) OnState(e session.StateEvent) {
	m.Transitions.WithLabelValues(e.From.String(), e.To.String()).Inc()
	m.setState(e.To)

	switch {
	case e.To == session.StateRunning && !e.From.Active():
		m.Runs.Inc()
		m.RunSamples.Set(0)
		m.runStarted = e.Time
	case e.To == session.StateIdle && e.From.Active() && !m.runStarted.IsZero():
		m.RunDuration.Observe(e.Time.Sub(m.runStarted).Seconds())
		m.runStarted = time.Time{}
	}
}

// OnSamples implements session.Observer
func (m *Metrics) OnSamples(e session.SamplesEvent) {
	m.Samples.Add(float64(len(e.Samples)))
	m.RunSamples.Set(float64(e.Total))

	for _, s := range e.Samples {
		for _, v := range estat.ValidateSample(s) {
			m.Anomalies.WithLabelValues(v.Field).Inc()
		}
	}

	if n := len(e.Samples); n > 0 {
		last := e.Samples[n-1]
		m.LastVoltage.Set(float64(last.Voltage))
		m.LastCurrent.Set(float64(last.Current))
	}
}

func (m *Metrics) setState(current session.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s.String()).Set(v)
	}
}

// Handler serves the registry and a health check
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics endpoint until ctx is done
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log *logrus.Entry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
