// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/voltstat/pkg/bridge"
)

// Link is a Device reached through a bridge that forwards GATT traffic
// as framed packets over a byte stream (serial port or WebSocket).
type Link struct {
	conn io.ReadWriteCloser
	info string
	log  *logrus.Entry

	writeMu sync.Mutex
	status  *notifier
	results *notifier

	frames      atomic.Uint64
	frameErrors atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewLink wraps an open connection and starts its reader goroutine
func NewLink(conn io.ReadWriteCloser, info string, log *logrus.Entry) *Link {
	l := &Link{
		conn:    conn,
		info:    info,
		log:     log,
		status:  newNotifier(),
		results: newNotifier(),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// readLoop decodes frames and routes them to subscribers by channel
func (l *Link) readLoop() {
	defer close(l.done)
	defer l.status.close()
	defer l.results.close()

	decoder := bridge.NewDecoder()
	buf := make([]byte, 512)

	for {
		n, err := l.conn.Read(buf)
		for _, b := range buf[:n] {
			frame, derr := decoder.DecodeByte(b)
			if derr != nil {
				l.frameErrors.Add(1)
				l.log.WithError(derr).Debug("Dropped bridge frame")
				continue
			}
			if frame != nil {
				l.frames.Add(1)
				l.route(frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrConnectionClosed) {
				l.log.WithError(err).Warn("Link read failed")
			}
			l.readErr = err
			return
		}
	}
}

func (l *Link) route(frame *bridge.Frame) {
	switch frame.Channel() {
	case bridge.ChannelStatus:
		l.status.publish(frame.Payload())
	case bridge.ChannelResults:
		l.results.publish(frame.Payload())
	default:
		l.log.WithField("channel", frame.Channel().String()).Debug("Ignoring frame on host-bound channel")
	}
}

func (l *Link) write(ctx context.Context, channel bridge.Channel, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	frame, err := bridge.EncodeFrame(channel, payload)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("%s write failed: %w", channel, err)
	}
	return nil
}

// WriteConfig sends an experiment record on the config channel
func (l *Link) WriteConfig(ctx context.Context, record []byte) error {
	return l.write(ctx, bridge.ChannelConfig, record)
}

// WriteControl sends a control byte on the control channel
func (l *Link) WriteControl(ctx context.Context, b byte) error {
	return l.write(ctx, bridge.ChannelControl, []byte{b})
}

// SubscribeStatus implements Device
func (l *Link) SubscribeStatus(ctx context.Context) (<-chan []byte, error) {
	return l.status.subscribe(ctx)
}

// SubscribeResults implements Device
func (l *Link) SubscribeResults(ctx context.Context) (<-chan []byte, error) {
	return l.results.subscribe(ctx)
}

// Frames returns the number of valid frames received
func (l *Link) Frames() uint64 { return l.frames.Load() }

// FrameErrors returns the number of frames dropped for CRC or framing errors
func (l *Link) FrameErrors() uint64 { return l.frameErrors.Load() }

// Done is closed when the reader goroutine exits
func (l *Link) Done() <-chan struct{} { return l.done }

// Err returns the error that ended the reader, if any
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.readErr
	default:
		return nil
	}
}

// Close closes the underlying connection and ends all subscriptions
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
		l.status.close()
		l.results.close()
	})
	return err
}

// Info describes the connection
func (l *Link) Info() string { return l.info }
