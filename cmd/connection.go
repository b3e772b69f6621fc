// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/Thermoquad/voltstat/internal/config"
	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/internal/transport"
)

// passwordEnv is read before prompting for a WebSocket password
const passwordEnv = "VOLTSTAT_PASSWORD"

var (
	passwordOnce sync.Once
	password     string
	passwordErr  error
)

// GetPassword retrieves password from environment or prompts user. The
// answer is kept so reconnects do not prompt again.
func GetPassword() (string, error) {
	passwordOnce.Do(func() {
		password, passwordErr = readPassword()
	})
	return password, passwordErr
}

func readPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(pw), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenStream opens the byte stream of a serial or WebSocket bridge
func OpenStream(ctx context.Context) (io.ReadWriteCloser, string, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		pw := ""
		if cfg.WebSocket.Username != "" {
			var err error
			pw, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := transport.OpenWebSocketConnection(ctx, cfg.WebSocket.URL, cfg.WebSocket.Username, pw, cfg.WebSocket.SkipVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", cfg.WebSocket.URL), nil

	case config.TransportSerial:
		conn, err := transport.OpenSerialConnection(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud), nil
	}

	return nil, "", fmt.Errorf("transport %q is not a bridge (use --port or --url)", cfg.Transport)
}

// OpenDevice connects to the potentiostat selected by the configuration
func OpenDevice(ctx context.Context, log *logrus.Entry) (transport.Device, error) {
	switch cfg.Transport {
	case config.TransportSim:
		return transport.NewSim(cfg.Sim, log.WithField("transport", "sim")), nil

	case config.TransportBLE:
		return transport.ConnectBLE(ctx, cfg.BLE, log.WithField("transport", "ble"))

	default:
		conn, info, err := OpenStream(ctx)
		if err != nil {
			return nil, err
		}
		return transport.NewLink(conn, info, log.WithField("transport", "link")), nil
	}
}

// connectionManager keeps a session connected, reopening the device with
// exponential backoff when its notifications end
type connectionManager struct {
	sess *session.Session
	log  *logrus.Entry

	mu  sync.RWMutex
	dev transport.Device

	// Optional hooks, called from the manager goroutine
	onLost        func(err error)
	onReconnected func(info string)
}

func newConnectionManager(sess *session.Session, log *logrus.Entry) *connectionManager {
	return &connectionManager{sess: sess, log: log}
}

// connect opens the initial device and binds it to the session
func (cm *connectionManager) connect(ctx context.Context) error {
	dev, err := OpenDevice(ctx, cm.log)
	if err != nil {
		return err
	}
	cm.setDevice(dev)
	return nil
}

func (cm *connectionManager) getDevice() transport.Device {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.dev
}

func (cm *connectionManager) setDevice(dev transport.Device) {
	cm.mu.Lock()
	cm.dev = dev
	cm.mu.Unlock()
	cm.sess.Connect(dev)
}

// info describes the current device
func (cm *connectionManager) info() string {
	if dev := cm.getDevice(); dev != nil {
		return dev.Info()
	}
	return "disconnected"
}

// run delivers notifications to the session until ctx is done
func (cm *connectionManager) run(ctx context.Context) {
	for {
		err := cm.sess.Run(ctx)
		if ctx.Err() != nil {
			return
		}

		cm.log.WithError(err).Warn("Connection lost")
		cm.sess.Disconnect()
		if dev := cm.getDevice(); dev != nil {
			dev.Close()
		}
		if cm.onLost != nil {
			cm.onLost(err)
		}

		if !cm.reconnect(ctx) {
			return
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect(ctx context.Context) bool {
	backoff := cfg.Reconnect.Initial
	maxBackoff := cfg.Reconnect.Max

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		dev, err := OpenDevice(ctx, cm.log)
		if err == nil {
			cm.setDevice(dev)
			cm.log.WithField("device", dev.Info()).Info("Reconnected")
			if cm.onReconnected != nil {
				cm.onReconnected(dev.Info())
			}
			return true
		}
		if errors.Is(err, context.Canceled) {
			return false
		}
		cm.log.WithError(err).WithField("retry_in", backoff).Debug("Reconnect failed")

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// close closes the current device
func (cm *connectionManager) close() {
	cm.sess.Close()
	if dev := cm.getDevice(); dev != nil {
		dev.Close()
	}
}
