// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/board"
	"github.com/Thermoquad/regolith/pkg/packet"
)

// Polarity describes how an actuator is wired.
type Polarity struct {
	// ActiveLow drives an output low to assert it. Stop is then both outputs high.
	ActiveLow bool
	// LimitActiveLow reads a low limit input as "at limit".
	LimitActiveLow bool
}

// LimitSwitches are the travel-end inputs of one actuator.
type LimitSwitches struct {
	Extend  board.InputPin
	Retract board.InputPin
}

// Actuator drives a linear actuator through an extend and a retract output.
// At most one output is asserted at any time.
type Actuator struct {
	name       string
	extendPin  board.OutputPin
	retractPin board.OutputPin
	limits     *LimitSwitches
	polarity   Polarity
	logger     *zap.SugaredLogger

	// mu serializes output writes, motion and limit updates
	mu     sync.Mutex
	motion packet.Motion

	canExtend  *atomic.Bool
	canRetract *atomic.Bool
}

// NewActuator creates an actuator and drives it to stop. With limit
// switches the permitted directions are read once before returning; with
// nil limits both directions are always permitted.
func NewActuator(
	name string,
	extendPin, retractPin board.OutputPin,
	limits *LimitSwitches,
	polarity Polarity,
	logger *zap.SugaredLogger,
) (*Actuator, error) {
	a := &Actuator{
		name:       name,
		extendPin:  extendPin,
		retractPin: retractPin,
		limits:     limits,
		polarity:   polarity,
		logger:     logger,
		canExtend:  atomic.NewBool(true),
		canRetract: atomic.NewBool(true),
	}
	if err := a.Stop(); err != nil {
		return nil, err
	}
	if limits != nil {
		if err := a.Refresh(); err != nil {
			logger.Warnw("limit switch read failed, blocking both directions", "actuator", name, "error", err)
		}
	}
	return a, nil
}

// Name returns the actuator name.
func (a *Actuator) Name() string {
	return a.name
}

// Extend starts extending. It returns false without writing when the
// extend limit is reached.
func (a *Actuator) Extend() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.canExtend.Load() {
		return false
	}
	a.logWriteErr(a.drive(packet.MotionExtending))
	return true
}

// Retract starts retracting. It returns false without writing when the
// retract limit is reached.
func (a *Actuator) Retract() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.canRetract.Load() {
		return false
	}
	a.logWriteErr(a.drive(packet.MotionRetracting))
	return true
}

// Stop deasserts both outputs.
func (a *Actuator) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drive(packet.MotionNone)
}

// SetMotion applies a motion. Stopping always succeeds.
func (a *Actuator) SetMotion(m packet.Motion) bool {
	switch m {
	case packet.MotionExtending:
		return a.Extend()
	case packet.MotionRetracting:
		return a.Retract()
	default:
		a.logWriteErr(a.Stop())
		return true
	}
}

// SetButtons applies the a/b truth table: a extends, b retracts, both or
// neither stop.
func (a *Actuator) SetButtons(extend, retract bool) bool {
	return a.SetMotion(packet.MotionFromButtons(extend, retract))
}

// Motion returns the current motion.
func (a *Actuator) Motion() packet.Motion {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.motion
}

// CanExtend reports whether extending is permitted.
func (a *Actuator) CanExtend() bool {
	return a.canExtend.Load()
}

// CanRetract reports whether retracting is permitted.
func (a *Actuator) CanRetract() bool {
	return a.canRetract.Load()
}

// HasLimits reports whether the actuator has limit switches.
func (a *Actuator) HasLimits() bool {
	return a.limits != nil
}

// Refresh reads the limit switches and stops the actuator if it is moving
// into a limit. A switch that cannot be read counts as reached.
func (a *Actuator) Refresh() error {
	if a.limits == nil {
		return nil
	}
	atExtend, errExt := a.atLimit(a.limits.Extend)
	atRetract, errRet := a.atLimit(a.limits.Retract)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.canExtend.Store(!atExtend)
	a.canRetract.Store(!atRetract)

	if (a.motion == packet.MotionExtending && atExtend) || (a.motion == packet.MotionRetracting && atRetract) {
		a.logger.Infow("limit reached, stopping", "actuator", a.name, "motion", a.motion)
		a.logWriteErr(a.drive(packet.MotionNone))
	}
	return multierr.Combine(errExt, errRet)
}

func (a *Actuator) atLimit(pin board.InputPin) (bool, error) {
	high, err := pin.Get()
	if err != nil {
		return true, errors.Wrapf(err, "%s: failed to read limit switch", a.name)
	}
	return high != a.polarity.LimitActiveLow, nil
}

// drive writes the outputs for m. Outputs are deasserted before the other
// one is asserted, and nothing is asserted if a deassert fails.
// Callers must hold a.mu.
func (a *Actuator) drive(m packet.Motion) error {
	extend := m == packet.MotionExtending
	retract := m == packet.MotionRetracting

	var err error
	if !extend {
		err = multierr.Append(err, a.write(a.extendPin, false))
	}
	if !retract {
		err = multierr.Append(err, a.write(a.retractPin, false))
	}
	if err != nil {
		a.motion = packet.MotionNone
		return errors.Wrapf(err, "%s: failed to deassert outputs", a.name)
	}

	if extend {
		err = a.write(a.extendPin, true)
	}
	if retract {
		err = a.write(a.retractPin, true)
	}
	if err != nil {
		a.motion = packet.MotionNone
		return errors.Wrapf(err, "%s: failed to assert output", a.name)
	}
	a.motion = m
	return nil
}

func (a *Actuator) write(pin board.OutputPin, asserted bool) error {
	return pin.Set(asserted != a.polarity.ActiveLow)
}

func (a *Actuator) logWriteErr(err error) {
	if err != nil {
		a.logger.Errorw("actuator write failed", "actuator", a.name, "error", err)
	}
}
