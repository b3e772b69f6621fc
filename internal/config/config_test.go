// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/voltstat/internal/transport"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// ============================================================
// Load Tests
// ============================================================

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) error = %v", err)
	}
	if cfg.Transport != TransportBLE || cfg.Serial.Baud != 115200 {
		t.Errorf("defaults = %q/%d, want ble/115200", cfg.Transport, cfg.Serial.Baud)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, "voltstat.yaml", `
transport: serial
log:
  level: debug
  format: json
serial:
  port: /dev/ttyACM0
sim:
  samples: 64
  interval: 2ms
redis:
  enabled: true
  channel: lab:bench1
export:
  dir: /tmp/runs
  formats: [csv, parquet]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Transport != TransportSerial || cfg.Serial.Port != "/dev/ttyACM0" {
		t.Errorf("serial = %q %q", cfg.Transport, cfg.Serial.Port)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Serial.Baud = %d, want default 115200", cfg.Serial.Baud)
	}
	if cfg.Sim.Samples != 64 || cfg.Sim.Interval != 2*time.Millisecond {
		t.Errorf("Sim = %+v", cfg.Sim)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Channel != "lab:bench1" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if len(cfg.Export.Formats) != 2 || cfg.Export.Formats[1] != FormatParquet {
		t.Errorf("Export.Formats = %v", cfg.Export.Formats)
	}
	if cfg.BLE.ServiceUUID != transport.DefaultServiceUUID {
		t.Errorf("BLE.ServiceUUID = %q, want default", cfg.BLE.ServiceUUID)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil")
	}
	path := writeFile(t, "bad.yaml", "transport: [ble\n")
	if _, err := Load(path); err == nil {
		t.Error("Load(bad yaml) error = nil")
	}
}

// ============================================================
// Validate / Normalize Tests
// ============================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"sim", func(c *Config) { c.Transport = "SIM" }, ""},
		{"unknown transport", func(c *Config) { c.Transport = "usb" }, "unknown transport"},
		{"serial without port", func(c *Config) { c.Transport = TransportSerial }, "serial.port"},
		{"websocket without url", func(c *Config) { c.Transport = TransportWebSocket }, "websocket.url"},
		{"websocket bad scheme", func(c *Config) {
			c.Transport = TransportWebSocket
			c.WebSocket.URL = "http://bridge.local/ws"
		}, "scheme"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad uuid", func(c *Config) { c.BLE.StatusUUID = "not-a-uuid" }, "status_uuid"},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"unknown export", func(c *Config) { c.Export.Formats = []string{"xlsx"} }, "unknown format"},
		{"duplicate export", func(c *Config) { c.Export.Formats = []string{"csv", "CSV"} }, "twice"},
		{"reconnect inverted", func(c *Config) {
			c.Reconnect.Initial = time.Minute
			c.Reconnect.Max = time.Second
		}, "exceeds"},
		{"negative sim", func(c *Config) { c.Sim.Samples = -1 }, "sim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	cfg := &Config{Transport: "SIM", Export: ExportConfig{Formats: []string{"CSV"}}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Transport != "SIM" || cfg.Export.Formats[0] != "CSV" || cfg.Serial.Baud != 0 {
		t.Errorf("Validate() mutated config: %+v", cfg)
	}
}

func TestNormalize(t *testing.T) {
	cfg := &Config{
		Transport: "SIM",
		Export:    ExportConfig{Formats: []string{"CBOR"}},
		Reconnect: ReconnectConfig{Initial: time.Minute},
	}
	Normalize(cfg)

	if cfg.Transport != TransportSim {
		t.Errorf("Transport = %q, want sim", cfg.Transport)
	}
	if cfg.Export.Formats[0] != FormatCBOR || cfg.Export.Dir != "." {
		t.Errorf("Export = %+v", cfg.Export)
	}
	if cfg.BLE.ResultsUUID != transport.DefaultResultsUUID || cfg.BLE.ScanTimeout != transport.DefaultScanTimeout {
		t.Errorf("BLE = %+v", cfg.BLE)
	}
	if cfg.Serial.Baud != 115200 || cfg.Metrics.Addr != ":9090" || cfg.Log.Level != "info" {
		t.Errorf("defaults not filled: %+v", cfg)
	}
	if cfg.Reconnect.Max != time.Minute {
		t.Errorf("Reconnect.Max = %s, want raised to initial", cfg.Reconnect.Max)
	}

	Normalize(nil)
}

// ============================================================
// Experiment Tests
// ============================================================

func TestLoadExperiment(t *testing.T) {
	path := writeFile(t, "dpv.yaml", `
kind: DPV
params:
  init_e: -200
  final_e: 600
  duty_cycle: 25
duration: 90s
output: run1
`)

	exp, err := LoadExperiment(path)
	if err != nil {
		t.Fatalf("LoadExperiment() error = %v", err)
	}
	if exp.Duration != 90*time.Second || exp.Output != "run1" {
		t.Errorf("experiment = %+v", exp)
	}

	p, err := exp.ToParams()
	if err != nil {
		t.Fatalf("ToParams() error = %v", err)
	}

	want := estat.DefaultParams(estat.KindDPV).(estat.DPVParams)
	want.InitE = -200
	want.FinalE = 600
	want.DutyCycle = 0.25
	if p != want {
		t.Errorf("ToParams() = %+v, want %+v", p, want)
	}
}

func TestParamsFromValues(t *testing.T) {
	tests := []struct {
		name    string
		kind    estat.Kind
		values  map[string]float64
		wantErr string
	}{
		{"defaults", estat.KindCA, nil, ""},
		{"override", estat.KindCV, map[string]float64{"scans": 3, "VERTEX_1": 800}, ""},
		{"unknown field", estat.KindSWV, map[string]float64{"duty_cycle": 50}, "no parameter"},
		{"fraction", estat.KindCV, map[string]float64{"init_e": 1.5}, "not a 32-bit integer"},
		{"negative unsigned", estat.KindCA, map[string]float64{"duration_1": -1}, "unsigned"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParamsFromValues(tt.kind, tt.values)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("ParamsFromValues() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParamsFromValues() error = %v", err)
			}
			if p.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", p.Kind(), tt.kind)
			}
		})
	}

	p, _ := ParamsFromValues(estat.KindCV, map[string]float64{"scans": 3, "vertex_1": 800})
	cv := p.(estat.CVParams)
	if cv.Scans != 3 || cv.Vertex1 != 800 || cv.ScanRate != 100 {
		t.Errorf("CV = %+v", cv)
	}
}

func TestParamsToValues_RoundTrip(t *testing.T) {
	for _, k := range estat.Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			p := estat.DefaultParams(k)
			values := ParamsToValues(p)
			if len(values) != len(Fields(k)) {
				t.Errorf("got %d values, want %d fields", len(values), len(Fields(k)))
			}
			back, err := ParamsFromValues(k, values)
			if err != nil {
				t.Fatalf("ParamsFromValues() error = %v", err)
			}
			if back != p {
				t.Errorf("round trip = %+v, want %+v", back, p)
			}
		})
	}

	if ParamsToValues(nil) != nil {
		t.Error("ParamsToValues(nil) != nil")
	}
}

func TestParseAssignments(t *testing.T) {
	values, err := ParseAssignments([]string{"init_e=-100", " Scans = 2 "})
	if err != nil {
		t.Fatalf("ParseAssignments() error = %v", err)
	}
	if values["init_e"] != -100 || values["scans"] != 2 {
		t.Errorf("values = %v", values)
	}

	for _, bad := range []string{"init_e", "=5", "scans=two", "scans=1x"} {
		if _, err := ParseAssignments([]string{bad}); err == nil {
			t.Errorf("ParseAssignments(%q) error = nil", bad)
		}
	}
}
