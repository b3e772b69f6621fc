// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

// State is the client-side run lifecycle state
type State int

// Session states
const (
	StateIdle        State = iota // nothing running, parameters editable
	StateConfiguring              // valid parameters held, not yet started
	StateRunning                  // start issued or device reported running
	StateStopping                 // stop issued, waiting for device idle
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConfiguring:
		return "CONFIGURING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Active reports whether a run is logically in progress
func (s State) Active() bool {
	return s == StateRunning || s == StateStopping
}

// Precondition failures
var (
	ErrNotConnected   = errors.New("no device connected")
	ErrInvalidParams  = errors.New("no valid experiment parameters")
	ErrAlreadyRunning = errors.New("experiment already running")
	ErrStopPending    = errors.New("stop pending, waiting for device to report idle")
	ErrNotRunning     = errors.New("no experiment running")
)

// InvalidParamsError carries the validation failures of a rejected
// parameter set. It matches ErrInvalidParams with errors.Is.
type InvalidParamsError struct {
	Errors []estat.ValidationError
}

func (e *InvalidParamsError) Error() string {
	if len(e.Errors) == 0 {
		return ErrInvalidParams.Error()
	}
	msgs := make([]string, len(e.Errors))
	for i := range e.Errors {
		msgs[i] = e.Errors[i].Message
	}
	return "cannot encode: " + strings.Join(msgs, "; ")
}

func (e *InvalidParamsError) Unwrap() error {
	return ErrInvalidParams
}

// StateEvent describes one state transition
type StateEvent struct {
	From  State
	To    State
	Cause string
	Time  time.Time
}

// SamplesEvent carries samples completed by one telemetry chunk
type SamplesEvent struct {
	Samples []estat.Sample
	Total   int // samples accumulated in the current run
}

// Observer receives session events. Methods are called synchronously
// with the session lock held and must not call back into the Session.
type Observer interface {
	OnState(StateEvent)
	OnSamples(SamplesEvent)
}
