// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/voltstat/internal/logging"
	"github.com/Thermoquad/voltstat/pkg/bridge"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

const testTimeout = 5 * time.Second

func testLog() *logrus.Entry {
	return logging.Component(logging.Discard(), "transport-test")
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return b
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for notification")
	}
	return nil
}

// ============================================================
// Notifier Tests
// ============================================================

func TestNotifier_FanOut(t *testing.T) {
	n := newNotifier()
	ctx := context.Background()

	a, err := n.subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe() error = %v", err)
	}
	b, _ := n.subscribe(ctx)

	payload := []byte{1, 2, 3}
	n.publish(payload)
	payload[0] = 9

	for _, ch := range []<-chan []byte{a, b} {
		if got := receive(t, ch); !bytes.Equal(got, []byte{1, 2, 3}) {
			t.Errorf("received %v, want [1 2 3]", got)
		}
	}
}

func TestNotifier_UnsubscribeOnCancel(t *testing.T) {
	n := newNotifier()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := n.subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(testTimeout):
		t.Fatal("subscription not closed after cancel")
	}
	if n.subscribers() != 0 {
		t.Errorf("subscribers() = %d, want 0", n.subscribers())
	}
}

func TestNotifier_Close(t *testing.T) {
	n := newNotifier()
	ch, _ := n.subscribe(context.Background())
	n.close()
	n.close()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	if _, err := n.subscribe(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("subscribe() after close error = %v, want %v", err, ErrClosed)
	}
}

// ============================================================
// Link Tests
// ============================================================

func TestLink_RoutesFrames(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()

	link := NewLink(host, "pipe", testLog())
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	status, err := link.SubscribeStatus(ctx)
	if err != nil {
		t.Fatalf("SubscribeStatus() error = %v", err)
	}
	results, err := link.SubscribeResults(ctx)
	if err != nil {
		t.Fatalf("SubscribeResults() error = %v", err)
	}

	go func() {
		var stream []byte
		stream = append(stream, bridge.MustEncodeFrame(bridge.ChannelStatus, []byte{0x01})...)
		stream = append(stream, bridge.MustEncodeFrame(bridge.ChannelResults, []byte{0x7E, 0x7F, 0x7D})...)
		corrupt := bridge.MustEncodeFrame(bridge.ChannelResults, []byte{0xAA})
		corrupt[3] ^= 0x01
		stream = append(stream, corrupt...)
		device.Write(stream)
	}()

	if got := receive(t, status); !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("status = % X, want 01", got)
	}
	if got := receive(t, results); !bytes.Equal(got, []byte{0x7E, 0x7F, 0x7D}) {
		t.Errorf("results = % X, want 7E 7F 7D", got)
	}

	deadline := time.Now().Add(testTimeout)
	for link.FrameErrors() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if link.FrameErrors() != 1 {
		t.Errorf("FrameErrors() = %d, want 1", link.FrameErrors())
	}
	if link.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", link.Frames())
	}
}

func TestLink_WritesFrames(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()

	link := NewLink(host, "pipe", testLog())
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	record := estat.Encode(estat.DefaultParams(estat.KindCV))

	errc := make(chan error, 1)
	go func() {
		if err := link.WriteConfig(ctx, record); err != nil {
			errc <- err
			return
		}
		errc <- link.WriteControl(ctx, estat.ControlStart)
	}()

	decoder := bridge.NewDecoder()
	var frames []*bridge.Frame
	buf := make([]byte, 128)
	device.SetReadDeadline(time.Now().Add(testTimeout))
	for len(frames) < 2 {
		n, err := device.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		for _, b := range buf[:n] {
			if f, _ := decoder.DecodeByte(b); f != nil {
				frames = append(frames, f)
			}
		}
	}

	if err := <-errc; err != nil {
		t.Fatalf("write error = %v", err)
	}
	if frames[0].Channel() != bridge.ChannelConfig || !bytes.Equal(frames[0].Payload(), record) {
		t.Errorf("frame[0] = %v, want config record", frames[0])
	}
	if frames[1].Channel() != bridge.ChannelControl || !bytes.Equal(frames[1].Payload(), []byte{estat.ControlStart}) {
		t.Errorf("frame[1] = %v, want start", frames[1])
	}
}

func TestLink_CloseEndsSubscriptions(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()

	link := NewLink(host, "pipe", testLog())
	status, _ := link.SubscribeStatus(context.Background())
	link.Close()

	select {
	case _, ok := <-status:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(testTimeout):
		t.Fatal("subscription not closed")
	}

	<-link.Done()
	if err := link.WriteControl(context.Background(), estat.ControlStop); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteControl() after close error = %v, want %v", err, ErrClosed)
	}
}

// ============================================================
// Simulator Tests
// ============================================================

func TestSim_FullRun(t *testing.T) {
	sim := NewSim(SimConfig{Samples: 50, Interval: 0, MaxChunk: 17, Seed: 42}, testLog())
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	status, _ := sim.SubscribeStatus(ctx)
	results, _ := sim.SubscribeResults(ctx)

	if err := sim.WriteConfig(ctx, estat.Encode(estat.DefaultParams(estat.KindSWV))); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	if err := sim.WriteControl(ctx, estat.ControlStart); err != nil {
		t.Fatalf("WriteControl() error = %v", err)
	}

	if got := receive(t, status); estat.DecodeStatus(got[0]) != estat.RunStateRunning {
		t.Fatalf("first status = % X, want running", got)
	}

	r := estat.NewReassembler()
	var samples []estat.Sample
	for len(samples) < 50 {
		chunk := receive(t, results)
		if len(chunk) < 1 || len(chunk) > 17 {
			t.Errorf("chunk size %d outside 1..17", len(chunk))
		}
		samples = append(samples, r.Feed(chunk)...)
	}

	if got := receive(t, status); estat.DecodeStatus(got[0]) != estat.RunStateIdle {
		t.Errorf("final status = % X, want idle", got)
	}
	if len(samples) != 50 || r.Remainder() != 0 {
		t.Errorf("got %d samples with remainder %d, want 50 and 0", len(samples), r.Remainder())
	}
	if samples[0].Voltage != 0 || samples[49].Voltage != 500 {
		t.Errorf("sweep endpoints = %d, %d mV, want 0, 500", samples[0].Voltage, samples[49].Voltage)
	}
}

func TestSim_StopEndsRun(t *testing.T) {
	sim := NewSim(SimConfig{Samples: 10000, Interval: time.Millisecond, Seed: 1}, testLog())
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	status, _ := sim.SubscribeStatus(ctx)
	sim.WriteConfig(ctx, estat.Encode(estat.DefaultParams(estat.KindCA)))
	sim.WriteControl(ctx, estat.ControlStart)
	receive(t, status)

	if err := sim.WriteControl(ctx, estat.ControlStop); err != nil {
		t.Fatalf("WriteControl(stop) error = %v", err)
	}
	if got := receive(t, status); got[0] != 0x00 {
		t.Errorf("status after stop = % X, want 00", got)
	}
	if !bytes.Equal(sim.ControlWrites(), []byte{0x01, 0x00}) {
		t.Errorf("ControlWrites() = % X, want 01 00", sim.ControlWrites())
	}
}

func TestSim_RejectsBadRecord(t *testing.T) {
	sim := NewSim(SimConfig{}, testLog())
	defer sim.Close()

	if err := sim.WriteConfig(context.Background(), []byte{0x09, 0, 0, 0}); err == nil {
		t.Error("WriteConfig() error = nil, want rejection")
	}
	if err := sim.WriteControl(context.Background(), estat.ControlStart); err == nil {
		t.Error("WriteControl(start) without config error = nil, want error")
	}
}

func TestSim_FailWrites(t *testing.T) {
	sim := NewSim(SimConfig{}, testLog())
	defer sim.Close()

	boom := errors.New("link lost")
	sim.FailWrites(boom)
	if err := sim.WriteControl(context.Background(), estat.ControlStop); !errors.Is(err, boom) {
		t.Errorf("WriteControl() error = %v, want %v", err, boom)
	}
}

func TestSimulateSample_CAStepsSkipZeroDuration(t *testing.T) {
	p := estat.CAParams{E1: 300, Duration1: 1000, E2: -300, Duration2: 1000, E3: 900, Duration3: 0}
	for i := 0; i < 100; i++ {
		s := SimulateSample(p, i, 100)
		if s.Voltage == 900 {
			t.Fatalf("sample %d at skipped step potential", i)
		}
	}
}

// ============================================================
// BLE Matching Tests
// ============================================================

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BLEConfig
		adName  string
		address string
		want    bool
	}{
		{"address exact", BLEConfig{Address: "AA:BB:CC:DD:EE:FF"}, "", "aa:bb:cc:dd:ee:ff", true},
		{"address mismatch", BLEConfig{Address: "AA:BB:CC:DD:EE:FF"}, "Stat", "11:22:33:44:55:66", false},
		{"name substring", BLEConfig{Name: "stat"}, "VoltStat-01", "x", true},
		{"unnamed skipped", BLEConfig{}, "", "x", false},
		{"any named", BLEConfig{}, "Potentiostat", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matches(tt.cfg, tt.adName, tt.address); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
