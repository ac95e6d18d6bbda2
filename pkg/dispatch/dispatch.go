// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispatch routes decoded operator payloads to the motor controller
// and the macro sequencer.
package dispatch

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/motor"
	"github.com/Thermoquad/regolith/pkg/packet"
)

// Action tells the transport what to do after a payload.
type Action int

// Actions
const (
	Continue Action = iota
	StopListening
)

func (a Action) String() string {
	if a == StopListening {
		return "stop-listening"
	}
	return "continue"
}

// Macros is the sequencer as seen by dispatch.
type Macros interface {
	Request(code packet.MacroCode, aux byte) bool
	Running() (packet.MacroCode, bool)
}

// AuxReader reports the most recent auxiliary sensor reading.
type AuxReader interface {
	Last() (v1, v2 float64, ok bool)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAux adds sensor readings to status frames.
func WithAux(aux AuxReader) Option {
	return func(d *Dispatcher) {
		d.aux = aux
	}
}

// WithClock sets the clock used for status timestamps.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// Dispatcher applies payloads in the order they are delivered. OnPayload
// and OnDisconnect must be called from a single goroutine.
type Dispatcher struct {
	ctrl   motor.Controller
	macros Macros
	opts   packet.Options
	stats  *packet.Statistics
	aux    AuxReader
	clock  clock.Clock
	logger *zap.SugaredLogger
}

// New creates a dispatcher.
func New(ctrl motor.Controller, macros Macros, opts packet.Options, logger *zap.SugaredLogger, options ...Option) *Dispatcher {
	d := &Dispatcher{
		ctrl:   ctrl,
		macros: macros,
		opts:   opts,
		stats:  packet.NewStatistics(),
		clock:  clock.New(),
		logger: logger,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// OnPayload decodes and applies one payload.
func (d *Dispatcher) OnPayload(data []byte) Action {
	cmd := packet.Decode(data, d.opts)
	verrs := packet.Validate(cmd, d.opts)
	d.stats.Update(cmd, verrs)
	for _, v := range verrs {
		d.logger.Debugw("packet anomaly", "type", v.Type, "message", v.Message, "payload", packet.FormatHex(data))
	}

	switch c := cmd.(type) {
	case packet.MotionCommand:
		d.logger.Debugw("motion", "command", c)
		if !d.ctrl.SetDrivePercent(c.LeftPercent, c.RightPercent) {
			d.stats.RecordRefused()
		}
		if !d.ctrl.SetActuators(c.Actuators[0], c.Actuators[1]) {
			d.stats.RecordRefused()
		}

	case packet.MacroCommand:
		if !c.Pressed {
			d.logger.Debugw("macro release ignored", "macro", c.Code)
			return Continue
		}
		accepted := d.macros.Request(c.Code, c.Aux)
		d.stats.RecordMacro(accepted)
		d.logger.Debugw("macro request", "macro", c.Code, "aux", c.Aux, "accepted", accepted)

	case packet.Invalid:
		d.stats.RecordFailSafe()
		if packet.IsStopListening(data) {
			d.logger.Infow("stop listening requested")
			d.macros.Request(packet.MacroEStop, 0)
			d.ctrl.StopMovement()
			return StopListening
		}
		d.logger.Warnw("invalid payload, stopping", "reason", c.Reason, "payload", packet.FormatHex(data))
		d.ctrl.StopMovement()
	}
	return Continue
}

// OnDisconnect stops all movement when the operator link drops.
func (d *Dispatcher) OnDisconnect() {
	d.stats.RecordDisconnect()
	d.logger.Infow("operator disconnected, stopping")
	d.ctrl.StopMovement()
}

// Status returns the controller state with macro, sensor and link data.
func (d *Dispatcher) Status() packet.Status {
	st := d.ctrl.Status()
	st.Timestamp = d.clock.Now().UnixMilli()
	if code, ok := d.macros.Running(); ok {
		st.Macro = int(code)
	}
	if d.aux != nil {
		v1, v2, ok := d.aux.Last()
		st.HasAux = ok
		st.Aux = [2]float64{v1, v2}
	}
	st.Counters = d.stats.Snapshot()
	return st
}

// Statistics returns the link counters.
func (d *Dispatcher) Statistics() *packet.Statistics {
	return d.stats
}
