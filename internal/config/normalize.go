// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"strings"

	"github.com/Thermoquad/voltstat/internal/transport"
)

// Normalize applies post-validation normalization.
// It may mutate cfg and must be called only after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	def := Default()

	cfg.Transport = strings.ToLower(cfg.Transport)
	if cfg.Transport == "" {
		cfg.Transport = TransportBLE
	}

	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}

	// Empty UUIDs fall back to the stock GATT layout
	ble := transport.DefaultBLEConfig()
	fill(&cfg.BLE.ServiceUUID, ble.ServiceUUID)
	fill(&cfg.BLE.ConfigUUID, ble.ConfigUUID)
	fill(&cfg.BLE.ControlUUID, ble.ControlUUID)
	fill(&cfg.BLE.StatusUUID, ble.StatusUUID)
	fill(&cfg.BLE.ResultsUUID, ble.ResultsUUID)
	if cfg.BLE.ScanTimeout == 0 {
		cfg.BLE.ScanTimeout = ble.ScanTimeout
	}

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = def.Serial.Baud
	}

	if cfg.Sim.Samples == 0 {
		cfg.Sim.Samples = def.Sim.Samples
	}
	if cfg.Sim.MaxChunk == 0 {
		cfg.Sim.MaxChunk = def.Sim.MaxChunk
	}

	fill(&cfg.Metrics.Addr, def.Metrics.Addr)

	fill(&cfg.Redis.Channel, def.Redis.Channel)
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = def.Redis.PoolSize
	}

	fill(&cfg.Export.Dir, def.Export.Dir)
	for i, f := range cfg.Export.Formats {
		cfg.Export.Formats[i] = strings.ToLower(f)
	}

	if cfg.Reconnect.Initial == 0 {
		cfg.Reconnect.Initial = def.Reconnect.Initial
	}
	if cfg.Reconnect.Max == 0 {
		cfg.Reconnect.Max = def.Reconnect.Max
	}
	if cfg.Reconnect.Initial > cfg.Reconnect.Max {
		cfg.Reconnect.Max = cfg.Reconnect.Initial
	}
}

func fill(s *string, def string) {
	if *s == "" {
		*s = def
	}
}
