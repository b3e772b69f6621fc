// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Thermoquad/voltstat/internal/hub"
	"github.com/Thermoquad/voltstat/internal/logging"
	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

func testRun() Run {
	return Run{
		Params:  estat.DefaultParams(estat.KindDPV),
		Started: time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		Samples: []estat.Sample{
			{Time: 0, Voltage: -100, Current: 0.5},
			{Time: 100, Voltage: -95, Current: -1.25},
			{Time: 200, Voltage: -90, Current: 0.1},
		},
	}
}

// ============================================================
// CSV Tests
// ============================================================

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, testRun().Samples); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	want := "Time (ms),Voltage (mV),Current (uA)\n" +
		"0,-100,0.5\n" +
		"100,-95,-1.25\n" +
		"200,-90,0.1\n"
	if buf.String() != want {
		t.Errorf("WriteCSV() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if buf.String() != "Time (ms),Voltage (mV),Current (uA)\n" {
		t.Errorf("WriteCSV(nil) = %q", buf.String())
	}
}

// ============================================================
// Parquet Tests
// ============================================================

func TestParquet_RoundTrip(t *testing.T) {
	run := testRun()

	var buf bytes.Buffer
	if err := WriteParquet(&buf, run); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}

	data := buf.Bytes()
	samples, meta, err := ReadParquet(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("ReadParquet() error = %v", err)
	}

	if len(samples) != len(run.Samples) {
		t.Fatalf("got %d rows, want %d", len(samples), len(run.Samples))
	}
	for i := range samples {
		if samples[i] != run.Samples[i] {
			t.Errorf("row %d = %+v, want %+v", i, samples[i], run.Samples[i])
		}
	}

	if meta[MetaKind] != "DPV" {
		t.Errorf("kind metadata = %q, want DPV", meta[MetaKind])
	}
	var params estat.DPVParams
	if err := json.Unmarshal([]byte(meta[MetaParams]), &params); err != nil {
		t.Fatalf("params metadata %q: %v", meta[MetaParams], err)
	}
	if params != run.Params {
		t.Errorf("params metadata = %+v, want %+v", params, run.Params)
	}
	if meta[MetaStarted] != "2025-03-14T15:09:26Z" {
		t.Errorf("started metadata = %q", meta[MetaStarted])
	}

	var fields map[string]float64
	if err := json.Unmarshal([]byte(meta[MetaParams]), &fields); err != nil {
		t.Fatalf("params metadata %q: %v", meta[MetaParams], err)
	}
	for _, name := range []string{"init_e", "final_e", "incr_e", "amplitude", "frequency", "quiet_time", "duty_cycle"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("params metadata %q has no %q field", meta[MetaParams], name)
		}
	}
}

func TestParquet_UnencodableParams(t *testing.T) {
	run := testRun()
	p := run.Params.(estat.DPVParams)
	p.DutyCycle = float32(math.NaN())
	run.Params = p

	var buf bytes.Buffer
	if err := WriteParquet(&buf, run); err == nil {
		t.Error("WriteParquet() error = nil, want parameter encoding error")
	}
	if buf.Len() != 0 {
		t.Errorf("WriteParquet() wrote %d bytes, want none", buf.Len())
	}
}

// ============================================================
// Archive Tests
// ============================================================

func TestArchive_RoundTrip(t *testing.T) {
	for _, k := range estat.Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			run := testRun()
			run.Params = estat.DefaultParams(k)

			var buf bytes.Buffer
			if err := WriteArchive(&buf, run); err != nil {
				t.Fatalf("WriteArchive() error = %v", err)
			}

			got, err := ReadArchive(&buf)
			if err != nil {
				t.Fatalf("ReadArchive() error = %v", err)
			}
			if got.Params != run.Params {
				t.Errorf("Params = %+v, want %+v", got.Params, run.Params)
			}
			if !got.Started.Equal(run.Started) {
				t.Errorf("Started = %v, want %v", got.Started, run.Started)
			}
			if len(got.Samples) != 3 || got.Samples[1] != run.Samples[1] {
				t.Errorf("Samples = %+v", got.Samples)
			}
		})
	}
}

func TestArchive_Errors(t *testing.T) {
	if _, err := ReadArchive(bytes.NewReader([]byte{0xFF})); err == nil {
		t.Error("ReadArchive(garbage) error = nil")
	}

	var buf bytes.Buffer
	WriteArchive(&buf, Run{Started: time.Unix(0, 0)})
	run, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("ReadArchive(no params) error = %v", err)
	}
	if run.Params != nil || len(run.Samples) != 0 {
		t.Errorf("run = %+v, want empty", run)
	}
}

// ============================================================
// File Tests
// ============================================================

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	run := testRun()

	paths, err := WriteFiles(dir, "", []string{FormatCSV, FormatParquet, "CBOR"}, run)
	if err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}

	want := []string{"dpv_20250314_150926.csv", "dpv_20250314_150926.parquet", "dpv_20250314_150926.cbor"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Errorf("path[%d] = %s, want %s", i, filepath.Base(p), want[i])
		}
		if info, err := os.Stat(p); err != nil || info.Size() == 0 {
			t.Errorf("%s missing or empty: %v", p, err)
		}
	}

	if _, err := WriteFiles(dir, "x", []string{"xlsx"}, run); err == nil || !strings.Contains(err.Error(), "unknown export format") {
		t.Errorf("WriteFiles(xlsx) error = %v", err)
	}
}

// ============================================================
// Redis Tests
// ============================================================

func newTestSink(t *testing.T, listLength int64) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	sink, err := NewRedisSink(context.Background(), RedisOptions{
		Addr:       mr.Addr(),
		Channel:    "voltstat:test",
		ListLength: listLength,
	}, logging.Component(logging.Discard(), "export-test"))
	if err != nil {
		t.Fatalf("NewRedisSink() error = %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink, mr
}

func TestRedisSink_RecentIsCapped(t *testing.T) {
	sink, _ := newTestSink(t, 2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		e := session.SamplesEvent{Samples: []estat.Sample{{Time: uint32(i)}}, Total: i}
		if err := sink.PublishSamples(ctx, e); err != nil {
			t.Fatalf("PublishSamples() error = %v", err)
		}
	}

	recent, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 || recent[0].Total != 3 || recent[1].Total != 2 {
		t.Errorf("Recent() = %+v, want totals [3 2]", recent)
	}
}

func TestRedisSink_PublishesAndConsumes(t *testing.T) {
	sink, mr := newTestSink(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ps := client.Subscribe(ctx, "voltstat:test", "voltstat:test:state")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	h := hub.New(8)
	defer h.Close()
	sub := h.Subscribe()
	go sink.Consume(ctx, sub)

	h.OnState(session.StateEvent{From: session.StateIdle, To: session.StateRunning, Cause: "test"})
	h.OnSamples(session.SamplesEvent{Samples: []estat.Sample{{Time: 5, Voltage: 7, Current: 1.5}}, Total: 1})

	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	var state StateMessage
	if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil || msg.Channel != "voltstat:test:state" || state.To != "RUNNING" {
		t.Errorf("state message = %s on %s (%v)", msg.Payload, msg.Channel, err)
	}

	msg, err = ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	if msg.Payload != `{"total":1,"samples":[{"t":5,"v":7,"i":1.5}]}` {
		t.Errorf("samples message = %s", msg.Payload)
	}

	if mr.Exists("voltstat:test:recent") {
		t.Error("recent list written with ListLength 0")
	}
}

func TestNewRedisSink_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisSink(ctx, RedisOptions{Addr: addr}, logging.Component(logging.Discard(), "export-test")); err == nil {
		t.Error("NewRedisSink() error = nil for closed server")
	}
}
