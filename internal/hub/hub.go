// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hub fans session events out to any number of consumers.
//
// Events are published with TryPub from inside the session lock, so a
// consumer that falls more than the channel capacity behind loses events
// instead of stalling the session.
package hub

import (
	"sync"

	"github.com/cskr/pubsub"

	"github.com/Thermoquad/voltstat/internal/session"
)

// Topics
const (
	TopicState   = "state"
	TopicSamples = "samples"
)

// DefaultCapacity is the per-subscriber channel buffer
const DefaultCapacity = 64

// Hub is a session.Observer backed by a pubsub broker
type Hub struct {
	broker *pubsub.PubSub

	mu     sync.Mutex
	closed bool
}

// New creates a hub with the given subscriber buffer
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{broker: pubsub.New(capacity)}
}

// OnState implements session.Observer
func (h *Hub) OnState(e session.StateEvent) {
	h.publish(e, TopicState)
}

// OnSamples implements session.Observer. The slice is copied so
// consumers never share memory with the session.
func (h *Hub) OnSamples(e session.SamplesEvent) {
	e.Samples = append(e.Samples[:0:0], e.Samples...)
	h.publish(e, TopicSamples)
}

func (h *Hub) publish(msg interface{}, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.broker.TryPub(msg, topic)
}

// Subscription delivers session.StateEvent and session.SamplesEvent
// values for its topics
type Subscription struct {
	C <-chan interface{}

	ch   chan interface{}
	hub  *Hub
	once sync.Once
}

// Subscribe opens a subscription. With no topics it receives everything.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	if len(topics) == 0 {
		topics = []string{TopicState, TopicSamples}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan interface{})
		close(ch)
		return &Subscription{C: ch, ch: ch, hub: h}
	}

	ch := h.broker.Sub(topics...)
	return &Subscription{C: ch, ch: ch, hub: h}
}

// Close ends the subscription and releases its channel
func (s *Subscription) Close() {
	s.once.Do(func() {
		// Keep the broker from blocking on a full channel while the
		// unsubscribe is processed
		go func() {
			for range s.ch {
			}
		}()

		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if !s.hub.closed {
			s.hub.broker.Unsub(s.ch)
		}
	})
}

// Close shuts the broker down and closes every subscription channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.broker.Shutdown()
}
