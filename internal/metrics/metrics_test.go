// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

func TestMetrics_RunLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	start := time.Now()
	m.OnState(session.StateEvent{From: session.StateIdle, To: session.StateConfiguring, Time: start})
	m.OnState(session.StateEvent{From: session.StateConfiguring, To: session.StateRunning, Time: start})
	m.OnSamples(session.SamplesEvent{
		Samples: []estat.Sample{
			{Time: 0, Voltage: 100, Current: 1.5},
			{Time: 10, Voltage: 5000, Current: 2},
			{Time: 20, Voltage: 120, Current: float32(math.NaN())},
			{Time: 30, Voltage: 130, Current: 2.5},
		},
		Total: 4,
	})
	m.OnState(session.StateEvent{From: session.StateRunning, To: session.StateStopping, Time: start.Add(time.Second)})
	m.OnState(session.StateEvent{From: session.StateStopping, To: session.StateIdle, Time: start.Add(3 * time.Second)})

	if got := testutil.ToFloat64(m.Samples); got != 4 {
		t.Errorf("samples_total = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.Runs); got != 1 {
		t.Errorf("runs_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunSamples); got != 4 {
		t.Errorf("run_samples = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.Anomalies.WithLabelValues("voltage")); got != 1 {
		t.Errorf("voltage anomalies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Anomalies.WithLabelValues("current")); got != 1 {
		t.Errorf("current anomalies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastVoltage); got != 130 {
		t.Errorf("last_voltage = %v, want 130", got)
	}
	if got := testutil.ToFloat64(m.State.WithLabelValues("IDLE")); got != 1 {
		t.Errorf("state{IDLE} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.State.WithLabelValues("RUNNING")); got != 0 {
		t.Errorf("state{RUNNING} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("RUNNING", "STOPPING")); got != 1 {
		t.Errorf("transitions{RUNNING,STOPPING} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RunDuration); got != 1 {
		t.Errorf("run_duration series = %d, want 1", got)
	}
}

func TestMetrics_StoppingToRunningIsNotANewRun(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.OnState(session.StateEvent{From: session.StateIdle, To: session.StateRunning, Time: time.Now()})
	m.OnState(session.StateEvent{From: session.StateRunning, To: session.StateStopping, Time: time.Now()})

	if got := testutil.ToFloat64(m.Runs); got != 1 {
		t.Errorf("runs_total = %v, want 1", got)
	}
}

func TestTrackStatistics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	stats := estat.NewStatistics()
	stats.UpdateChunk(20, make([]estat.Sample, 1), 8)
	m.TrackStatistics(func() estat.Statistics { return *stats })

	expected := `
# HELP voltstat_telemetry_bytes Telemetry bytes in the current run
# TYPE voltstat_telemetry_bytes gauge
voltstat_telemetry_bytes 20
# HELP voltstat_telemetry_max_remainder_bytes Largest partial sample carried between chunks
# TYPE voltstat_telemetry_max_remainder_bytes gauge
voltstat_telemetry_max_remainder_bytes 8
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"voltstat_telemetry_bytes", "voltstat_telemetry_max_remainder_bytes"); err != nil {
		t.Error(err)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OnSamples(session.SamplesEvent{Samples: make([]estat.Sample, 3), Total: 3})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "voltstat_samples_total 3") {
		t.Errorf("/metrics missing voltstat_samples_total 3:\n%s", body)
	}
}
