// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session implements the experiment run lifecycle.
//
// A Session owns the active parameter set, the run state, the telemetry
// reassembler and the samples of the current run. All entry points are
// serialized by one mutex, so status and results notifications may be
// delivered from any goroutine.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/voltstat/internal/transport"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

// Session is one experiment context bound to at most one device
type Session struct {
	mu        sync.Mutex
	log       *logrus.Entry
	dev       transport.Device
	observers []Observer

	state   State
	params  estat.Params
	samples []estat.Sample
	reasm   *estat.Reassembler
	stats   *estat.Statistics

	runStarted time.Time
	changed    chan struct{}
	subscribed chan struct{}
	cancelRun  context.CancelFunc
}

// Option configures a Session
type Option func(*Session)

// WithDevice connects the session at construction
func WithDevice(dev transport.Device) Option {
	return func(s *Session) { s.dev = dev }
}

// WithObserver registers an event observer
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// New creates an idle session
func New(log *logrus.Entry, opts ...Option) *Session {
	s := &Session{
		log:        log,
		state:      StateIdle,
		reasm:      estat.NewReassembler(),
		stats:      estat.NewStatistics(),
		changed:    make(chan struct{}),
		subscribed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddObserver registers an event observer
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

//////////////////////////////////////////////////////////////
// Device binding
//////////////////////////////////////////////////////////////

// Connect binds a device. A previously bound device is replaced, not
// closed.
func (s *Session) Connect(dev transport.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dev = dev
	s.resetSubscribed()
	s.log.WithField("device", dev.Info()).Info("Device connected")
}

// Disconnect unbinds the device and ends Run. An active run can no
// longer be confirmed by the device, so the session returns to Idle
// keeping the samples received so far.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return
	}
	s.log.WithField("device", s.dev.Info()).Info("Device disconnected")
	s.dev = nil
	s.resetSubscribed()
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	if s.state.Active() {
		s.dropRemainder()
		s.transition(StateIdle, "disconnected")
	}
}

// Connected reports whether a device is bound
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil
}

//////////////////////////////////////////////////////////////
// Parameters and commands
//////////////////////////////////////////////////////////////

// SetParams validates and stores the active parameter set.
//
// A valid set moves Idle or Configuring to Configuring. An invalid or nil
// set clears the stored parameters and moves Idle or Configuring to Idle.
// While a run is active the parameters are updated but the state is left
// alone, so a run in progress keeps its samples.
func (s *Session) SetParams(p estat.Params) error {
	errs := estat.Validate(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(errs) > 0 {
		s.params = nil
		if !s.state.Active() {
			s.transition(StateIdle, "invalid parameters")
		}
		return &InvalidParamsError{Errors: errs}
	}

	s.params = p
	if !s.state.Active() {
		s.transition(StateConfiguring, "parameters set")
	}
	return nil
}

// checkReady enforces the Start/Apply preconditions. Called with s.mu held.
func (s *Session) checkReady() error {
	switch {
	case s.dev == nil:
		return ErrNotConnected
	case s.state == StateRunning:
		return ErrAlreadyRunning
	case s.state == StateStopping:
		return ErrStopPending
	case s.params == nil:
		return ErrInvalidParams
	}
	return nil
}

// Apply encodes the active parameters and writes them to the device
// without starting a run.
func (s *Session) Apply(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReady(); err != nil {
		return err
	}

	record := estat.Encode(s.params)
	if err := s.dev.WriteConfig(ctx, record); err != nil {
		return fmt.Errorf("failed to apply %s parameters: %w", s.params.Kind(), err)
	}

	s.log.WithFields(logrus.Fields{
		"kind":  s.params.Kind().String(),
		"bytes": len(record),
	}).Info("Parameters applied")
	return nil
}

// Start writes the active parameters and the start command. On success
// the session enters Running with an empty sample sequence.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReady(); err != nil {
		return err
	}

	record := estat.Encode(s.params)
	if err := s.dev.WriteConfig(ctx, record); err != nil {
		return fmt.Errorf("failed to write %s parameters: %w", s.params.Kind(), err)
	}
	if err := s.dev.WriteControl(ctx, estat.ControlStart); err != nil {
		return fmt.Errorf("failed to send start command: %w", err)
	}

	s.enterRunning("start command")
	return nil
}

// Stop issues the stop command. With a device bound the session moves to
// Stopping before the write, whatever its outcome; Idle follows when the
// device reports it. Without one the state is left alone.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
	case StateStopping:
		return ErrStopPending
	default:
		return ErrNotRunning
	}

	if s.dev == nil {
		return ErrNotConnected
	}

	s.transition(StateStopping, "stop command")
	if err := s.dev.WriteControl(ctx, estat.ControlStop); err != nil {
		return fmt.Errorf("failed to send stop command: %w", err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Notifications
//////////////////////////////////////////////////////////////

// HandleStatus merges a status byte into the run state. A running flag
// starts a run from Idle or Configuring; a clear flag always yields Idle.
func (s *Session) HandleStatus(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.UpdateStatus()

	if estat.DecodeStatus(b) == estat.RunStateRunning {
		if !s.state.Active() {
			s.enterRunning("device status running")
		}
		return
	}

	if s.state != StateIdle {
		if s.state.Active() && s.reasm.Remainder() > 0 {
			s.log.WithField("bytes", s.reasm.Remainder()).Warn("Run ended with an incomplete sample")
		}
		s.transition(StateIdle, "device status idle")
	}
}

// HandleTelemetry feeds one results notification to the reassembler and
// appends the completed samples to the run. The new samples are returned.
func (s *Session) HandleTelemetry(chunk []byte) []estat.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.reasm.Feed(chunk)
	s.stats.UpdateChunk(len(chunk), samples, s.reasm.Remainder())
	if len(samples) == 0 {
		return nil
	}

	s.samples = append(s.samples, samples...)
	for _, o := range s.observers {
		o.OnSamples(SamplesEvent{Samples: samples, Total: len(s.samples)})
	}
	return samples
}

// Run subscribes to the device's status and results notifications and
// delivers them to HandleStatus and HandleTelemetry until ctx is done,
// the device is disconnected or a subscription ends.
//
// Results already queued when a status notification arrives are handled
// first, so the final samples of a run are kept before it goes Idle.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	dev := s.dev
	if dev == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.cancelRun = cancel
	s.mu.Unlock()
	defer cancel()

	status, err := dev.SubscribeStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to status: %w", err)
	}
	results, err := dev.SubscribeResults(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}

	s.mu.Lock()
	if s.dev == dev {
		select {
		case <-s.subscribed:
		default:
			close(s.subscribed)
		}
	}
	s.mu.Unlock()

	s.log.WithField("device", dev.Info()).Debug("Subscribed to notifications")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-results:
			if !ok {
				return s.subscriptionEnded(ctx, "results")
			}
			s.HandleTelemetry(chunk)

		case b, ok := <-status:
			if !ok {
				return s.subscriptionEnded(ctx, "status")
			}
			s.drain(results)
			if len(b) > 0 {
				s.HandleStatus(b[0])
			}
		}
	}
}

// drain handles results that are already queued
func (s *Session) drain(results <-chan []byte) {
	for {
		select {
		case chunk, ok := <-results:
			if !ok {
				return
			}
			s.HandleTelemetry(chunk)
		default:
			return
		}
	}
}

func (s *Session) subscriptionEnded(ctx context.Context, name string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s subscription ended: %w", name, transport.ErrClosed)
}

// Close ends Run and tears the session down. A partial sample still held
// by the reassembler is dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	if s.state.Active() {
		s.log.WithField("samples", len(s.samples)).Warn("Session closed during an active run")
	}
	s.dropRemainder()
}

//////////////////////////////////////////////////////////////
// Accessors
//////////////////////////////////////////////////////////////

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Params returns the active parameter set, nil when none is valid
func (s *Session) Params() estat.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Samples returns a copy of the current run's samples in arrival order
func (s *Session) Samples() []estat.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]estat.Sample(nil), s.samples...)
}

// SampleCount returns the number of samples in the current run
func (s *Session) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Remainder returns the bytes held from an incomplete sample
func (s *Session) Remainder() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasm.Remainder()
}

// Statistics returns a snapshot of the telemetry counters of the current run
func (s *Session) Statistics() estat.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stats
}

// RunStarted returns when the current or last run began
func (s *Session) RunStarted() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runStarted
}

// Changed returns a channel that is closed at the next state transition
func (s *Session) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Subscribed returns a channel that is closed once Run receives
// notifications from the current device. Connect and Disconnect re-arm it.
func (s *Session) Subscribed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// WaitFor blocks until the session reaches one of the given states
func (s *Session) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		s.mu.Lock()
		current, changed := s.state, s.changed
		s.mu.Unlock()

		for _, st := range states {
			if current == st {
				return current, nil
			}
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-changed:
		}
	}
}

//////////////////////////////////////////////////////////////
// Internal transitions (s.mu held)
//////////////////////////////////////////////////////////////

// enterRunning starts a run with a clean telemetry pipeline
func (s *Session) enterRunning(cause string) {
	s.samples = nil
	s.reasm.Reset()
	s.stats.Reset()
	s.runStarted = time.Now()
	s.transition(StateRunning, cause)
}

func (s *Session) resetSubscribed() {
	select {
	case <-s.subscribed:
		s.subscribed = make(chan struct{})
	default:
	}
}

// dropRemainder discards a partial sample. Losing one mid-run is logged
// as a warning.
func (s *Session) dropRemainder() {
	if n := s.reasm.Remainder(); n > 0 {
		entry := s.log.WithFields(logrus.Fields{"bytes": n, "state": s.state.String()})
		if s.state.Active() {
			entry.Warn("Dropping partial sample of an active run")
		} else {
			entry.Debug("Dropping partial sample")
		}
	}
	s.reasm.Reset()
}

func (s *Session) transition(to State, cause string) {
	from := s.state
	if from == to {
		return
	}
	s.state = to

	s.log.WithFields(logrus.Fields{
		"from":  from.String(),
		"to":    to.String(),
		"cause": cause,
	}).Info("State changed")

	close(s.changed)
	s.changed = make(chan struct{})

	event := StateEvent{From: from, To: to, Cause: cause, Time: time.Now()}
	for _, o := range s.observers {
		o.OnState(event)
	}
}
