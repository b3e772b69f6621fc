// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// GATT layout of the potentiostat service. Overridable from the config
// file for firmware builds that use different identifiers.
const (
	DefaultServiceUUID = "8a1e0001-6f3b-4c4e-9d6e-3c1f5a0b7e21"
	DefaultConfigUUID  = "8a1e0002-6f3b-4c4e-9d6e-3c1f5a0b7e21" // write
	DefaultControlUUID = "8a1e0003-6f3b-4c4e-9d6e-3c1f5a0b7e21" // write
	DefaultStatusUUID  = "8a1e0004-6f3b-4c4e-9d6e-3c1f5a0b7e21" // notify
	DefaultResultsUUID = "8a1e0005-6f3b-4c4e-9d6e-3c1f5a0b7e21" // notify

	DefaultScanTimeout = 10 * time.Second
)

// BLEConfig selects the device and its characteristics
type BLEConfig struct {
	Name        string        `yaml:"name"`    // advertised name, substring match
	Address     string        `yaml:"address"` // exact address, takes precedence over Name
	ServiceUUID string        `yaml:"service_uuid"`
	ConfigUUID  string        `yaml:"config_uuid"`
	ControlUUID string        `yaml:"control_uuid"`
	StatusUUID  string        `yaml:"status_uuid"`
	ResultsUUID string        `yaml:"results_uuid"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// DefaultBLEConfig returns the stock GATT layout
func DefaultBLEConfig() BLEConfig {
	return BLEConfig{
		ServiceUUID: DefaultServiceUUID,
		ConfigUUID:  DefaultConfigUUID,
		ControlUUID: DefaultControlUUID,
		StatusUUID:  DefaultStatusUUID,
		ResultsUUID: DefaultResultsUUID,
		ScanTimeout: DefaultScanTimeout,
	}
}

// Validate checks that every UUID parses. Empty UUIDs are accepted and
// mean the default.
func (c BLEConfig) Validate() error {
	for name, s := range map[string]string{
		"service_uuid": c.ServiceUUID,
		"config_uuid":  c.ConfigUUID,
		"control_uuid": c.ControlUUID,
		"status_uuid":  c.StatusUUID,
		"results_uuid": c.ResultsUUID,
	} {
		if s == "" {
			continue
		}
		if _, err := bluetooth.ParseUUID(s); err != nil {
			return fmt.Errorf("ble.%s: invalid UUID %q: %w", name, s, err)
		}
	}
	if c.ScanTimeout < 0 {
		return fmt.Errorf("ble.scan_timeout must not be negative")
	}
	return nil
}

// ScanResult is one advertising potentiostat
type ScanResult struct {
	Name    string
	Address string
	RSSI    int16
}

// Scan lists named devices advertising nearby until timeout or ctx is
// done. Devices without a name are skipped.
func Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	found := make(map[string]ScanResult)

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" {
				return
			}
			mu.Lock()
			found[result.Address.String()] = ScanResult{
				Name:    name,
				Address: result.Address.String(),
				RSSI:    result.RSSI,
			}
			mu.Unlock()
		})
	}()

	select {
	case <-ctx.Done():
		adapter.StopScan()
		<-scanErr
	case err := <-scanErr:
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	results := make([]ScanResult, 0, len(found))
	for _, r := range found {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RSSI > results[j].RSSI })
	return results, nil
}

// BLE is a Device connected directly over Bluetooth Low Energy
type BLE struct {
	device  bluetooth.Device
	address string
	name    string
	log     *logrus.Entry

	configChar  bluetooth.DeviceCharacteristic
	controlChar bluetooth.DeviceCharacteristic
	statusChar  bluetooth.DeviceCharacteristic
	resultsChar bluetooth.DeviceCharacteristic

	writeMu sync.Mutex
	status  *notifier
	results *notifier

	closeOnce sync.Once
}

// ConnectBLE scans for the configured device, connects and enables
// notifications on the status and results characteristics.
func ConnectBLE(ctx context.Context, cfg BLEConfig, log *logrus.Entry) (*BLE, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth: %w", err)
	}

	timeout := cfg.ScanTimeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	log.WithFields(logrus.Fields{"name": cfg.Name, "address": cfg.Address}).Info("Scanning for potentiostat")

	target, err := findDevice(ctx, adapter, cfg, timeout)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"name": target.LocalName(), "address": target.Address.String()}).Info("Connecting")

	device, err := adapter.Connect(target.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target.Address.String(), err)
	}

	b := &BLE{
		device:  device,
		address: target.Address.String(),
		name:    target.LocalName(),
		log:     log,
		status:  newNotifier(),
		results: newNotifier(),
	}

	if err := b.discover(cfg); err != nil {
		device.Disconnect()
		return nil, err
	}

	if err := b.statusChar.EnableNotifications(b.status.publish); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("failed to enable status notifications: %w", err)
	}
	if err := b.resultsChar.EnableNotifications(b.results.publish); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("failed to enable results notifications: %w", err)
	}

	log.Info("Connected")
	return b, nil
}

func findDevice(ctx context.Context, adapter *bluetooth.Adapter, cfg BLEConfig, timeout time.Duration) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		result bluetooth.ScanResult
		found  bool
	)

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !matches(cfg, r.LocalName(), r.Address.String()) {
				return
			}
			mu.Lock()
			if !found {
				result = r
				found = true
			}
			mu.Unlock()
			a.StopScan()
		})
	}()

	select {
	case <-ctx.Done():
		adapter.StopScan()
		<-scanErr
	case err := <-scanErr:
		if err != nil {
			return result, fmt.Errorf("scan failed: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !found {
		return result, fmt.Errorf("potentiostat not found within %s", timeout)
	}
	return result, nil
}

// matches reports whether an advertisement is the configured device.
// With neither name nor address set, any named device matches.
func matches(cfg BLEConfig, name, address string) bool {
	if cfg.Address != "" {
		return strings.EqualFold(cfg.Address, address)
	}
	if name == "" {
		return false
	}
	if cfg.Name == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(cfg.Name))
}

// discover resolves the four characteristics of the potentiostat service
func (b *BLE) discover(cfg BLEConfig) error {
	svcUUID, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", cfg.ServiceUUID, err)
	}

	srvs, err := b.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(srvs) == 0 {
		return fmt.Errorf("potentiostat service not found: %v", err)
	}

	wanted := map[string]*bluetooth.DeviceCharacteristic{
		cfg.ConfigUUID:  &b.configChar,
		cfg.ControlUUID: &b.controlChar,
		cfg.StatusUUID:  &b.statusChar,
		cfg.ResultsUUID: &b.resultsChar,
	}

	uuids := make([]bluetooth.UUID, 0, len(wanted))
	for s := range wanted {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("invalid characteristic UUID %q: %w", s, err)
		}
		uuids = append(uuids, u)
	}

	chars, err := srvs[0].DiscoverCharacteristics(uuids)
	if err != nil {
		return fmt.Errorf("failed to discover characteristics: %w", err)
	}

	resolved := 0
	for _, c := range chars {
		for s, dst := range wanted {
			if strings.EqualFold(c.UUID().String(), s) {
				*dst = c
				resolved++
			}
		}
	}
	if resolved != len(wanted) {
		return fmt.Errorf("potentiostat service is missing characteristics (found %d of %d)", resolved, len(wanted))
	}
	return nil
}

func (b *BLE) write(ctx context.Context, char bluetooth.DeviceCharacteristic, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if _, err := char.WriteWithoutResponse(data); err != nil {
		return err
	}
	return nil
}

// WriteConfig writes an experiment record to the config characteristic
func (b *BLE) WriteConfig(ctx context.Context, record []byte) error {
	if err := b.write(ctx, b.configChar, record); err != nil {
		return fmt.Errorf("config write failed: %w", err)
	}
	return nil
}

// WriteControl writes a control byte to the control characteristic
func (b *BLE) WriteControl(ctx context.Context, c byte) error {
	if err := b.write(ctx, b.controlChar, []byte{c}); err != nil {
		return fmt.Errorf("control write failed: %w", err)
	}
	return nil
}

// SubscribeStatus implements Device
func (b *BLE) SubscribeStatus(ctx context.Context) (<-chan []byte, error) {
	return b.status.subscribe(ctx)
}

// SubscribeResults implements Device
func (b *BLE) SubscribeResults(ctx context.Context) (<-chan []byte, error) {
	return b.results.subscribe(ctx)
}

// Close disables notifications and disconnects
func (b *BLE) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.statusChar.EnableNotifications(nil)
		b.resultsChar.EnableNotifications(nil)
		b.status.close()
		b.results.close()
		err = b.device.Disconnect()
	})
	return err
}

// Info describes the connection
func (b *BLE) Info() string {
	if b.name != "" {
		return fmt.Sprintf("BLE: %s (%s)", b.name, b.address)
	}
	return fmt.Sprintf("BLE: %s", b.address)
}
