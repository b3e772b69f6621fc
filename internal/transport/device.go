// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport connects a session to a potentiostat.
//
// Every transport exposes the same four GATT characteristics: two write
// targets (configuration record and control byte) and two notification
// streams (status byte and sample chunks). BLE talks to the instrument
// directly, Link reaches it through a serial or WebSocket bridge and Sim
// stands in for it in-process.
package transport

import (
	"context"
	"errors"
	"sync"
)

// Device is a connected potentiostat
type Device interface {
	// WriteConfig writes an encoded experiment record
	WriteConfig(ctx context.Context, record []byte) error
	// WriteControl writes a single control byte
	WriteControl(ctx context.Context, b byte) error
	// SubscribeStatus delivers status notifications until ctx is done or
	// the device is closed, then closes the channel.
	SubscribeStatus(ctx context.Context) (<-chan []byte, error)
	// SubscribeResults delivers sample chunks, one per notification, in
	// arrival order. The channel is closed like SubscribeStatus.
	SubscribeResults(ctx context.Context) (<-chan []byte, error)
	Close() error
	Info() string
}

// ErrClosed is returned by operations on a closed device
var ErrClosed = errors.New("device closed")

// notifyBuffer is the per-subscriber channel depth
const notifyBuffer = 256

type subscription struct {
	ch  chan []byte
	ctx context.Context
}

// notifier fans one notification stream out to subscribers. Each
// subscriber receives its own copy of every payload, in publish order.
type notifier struct {
	mu       sync.Mutex
	subs     map[*subscription]struct{}
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

func newNotifier() *notifier {
	return &notifier{
		subs: make(map[*subscription]struct{}),
		done: make(chan struct{}),
	}
}

func (n *notifier) subscribe(ctx context.Context) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrClosed
	}

	s := &subscription{ch: make(chan []byte, notifyBuffer), ctx: ctx}
	n.subs[s] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			n.remove(s)
		case <-n.done:
		}
	}()

	return s.ch, nil
}

func (n *notifier) remove(s *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[s]; ok {
		delete(n.subs, s)
		close(s.ch)
	}
}

// publish blocks until every live subscriber has accepted the payload.
// Chunks are never dropped for a slow consumer.
func (n *notifier) publish(data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for s := range n.subs {
		buf := append([]byte(nil), data...)
		select {
		case s.ch <- buf:
		case <-s.ctx.Done():
		case <-n.done:
			return
		}
	}
}

func (n *notifier) subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *notifier) close() {
	n.doneOnce.Do(func() { close(n.done) })

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for s := range n.subs {
		delete(n.subs, s)
		close(s.ch)
	}
}
