// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package motor drives the vehicle's two drive motors and its linear
// actuators, and arbitrates between manual commands and macro sessions.
package motor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/board"
	"github.com/Thermoquad/regolith/pkg/packet"
)

// Controller is the motion contract consumed by dispatch and macros.
type Controller interface {
	// SetDrivePercent drives both sides; false if the drive is locked.
	SetDrivePercent(left, right int) bool
	// SetActuators moves both actuators; false if the actuators are locked
	// or a motion was refused at a limit.
	SetActuators(m1, m2 packet.Motion) bool
	// StopMovement stops everything regardless of locks. It returns true
	// only if neither subsystem was locked.
	StopMovement() bool
	// Acquire takes exclusive control of the subsystems in p.
	Acquire(p Policy) (*Session, error)
	Status() packet.Status
	Simulated() bool
	Close() error
}

// ActuatorConfig wires one actuator. Limit pins are optional.
type ActuatorConfig struct {
	Name            string
	ExtendPin       string
	RetractPin      string
	ExtendLimitPin  string
	RetractLimitPin string
	Polarity        Polarity
}

// Config wires the hardware controller.
type Config struct {
	LeftPin           string
	RightPin          string
	Calibration       Calibration
	Actuators         []ActuatorConfig
	RelayPin          string
	LimitPollInterval time.Duration
}

// Hardware is the Controller backed by board pins.
type Hardware struct {
	logger       *zap.SugaredLogger
	board        board.Board
	clock        clock.Clock
	pollInterval time.Duration

	left      *DriveMotor
	right     *DriveMotor
	actuators []*Actuator
	locks     *ControlLock

	relayMu sync.Mutex
	relay   board.OutputPin
	relayOn bool
}

// Option configures a Hardware controller.
type Option func(*Hardware)

// WithClock replaces the clock used for limit switch polling.
func WithClock(c clock.Clock) Option {
	return func(h *Hardware) {
		h.clock = c
	}
}

// New builds a Hardware controller on b. All outputs are driven to stop.
func New(cfg Config, b board.Board, logger *zap.SugaredLogger, opts ...Option) (*Hardware, error) {
	if len(cfg.Actuators) != packet.NumActuators {
		return nil, errors.Errorf("expected %d actuators, got %d", packet.NumActuators, len(cfg.Actuators))
	}
	h := &Hardware{
		logger:       logger,
		board:        b,
		clock:        clock.New(),
		pollInterval: cfg.LimitPollInterval,
		locks:        &ControlLock{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.pollInterval <= 0 {
		h.pollInterval = 5 * time.Millisecond
	}

	leftPin, err := b.PWMPinByName(cfg.LeftPin, cfg.Calibration.FrequencyHz)
	if err != nil {
		return nil, errors.Wrap(err, "left drive")
	}
	rightPin, err := b.PWMPinByName(cfg.RightPin, cfg.Calibration.FrequencyHz)
	if err != nil {
		return nil, errors.Wrap(err, "right drive")
	}
	h.left = NewDriveMotor("left", leftPin, cfg.Calibration, logger)
	h.right = NewDriveMotor("right", rightPin, cfg.Calibration, logger)
	if err := multierr.Combine(h.left.Close(), h.right.Close()); err != nil {
		return nil, errors.Wrap(err, "failed to stop drive motors")
	}

	for i, ac := range cfg.Actuators {
		a, err := newActuatorFromConfig(i, ac, b, logger)
		if err != nil {
			return nil, err
		}
		h.actuators = append(h.actuators, a)
	}

	if cfg.RelayPin != "" {
		relay, err := b.OutputPinByName(cfg.RelayPin)
		if err != nil {
			return nil, errors.Wrap(err, "relay")
		}
		if err := relay.Set(false); err != nil {
			return nil, errors.Wrap(err, "failed to clear relay")
		}
		h.relay = relay
	}
	return h, nil
}

func newActuatorFromConfig(index int, ac ActuatorConfig, b board.Board, logger *zap.SugaredLogger) (*Actuator, error) {
	name := ac.Name
	if name == "" {
		name = fmt.Sprintf("actuator%d", index+1)
	}
	extend, err := b.OutputPinByName(ac.ExtendPin)
	if err != nil {
		return nil, errors.Wrapf(err, "%s extend output", name)
	}
	retract, err := b.OutputPinByName(ac.RetractPin)
	if err != nil {
		return nil, errors.Wrapf(err, "%s retract output", name)
	}

	var limits *LimitSwitches
	if ac.ExtendLimitPin != "" && ac.RetractLimitPin != "" {
		ext, err := b.InputPinByName(ac.ExtendLimitPin)
		if err != nil {
			return nil, errors.Wrapf(err, "%s extend limit", name)
		}
		ret, err := b.InputPinByName(ac.RetractLimitPin)
		if err != nil {
			return nil, errors.Wrapf(err, "%s retract limit", name)
		}
		limits = &LimitSwitches{Extend: ext, Retract: ret}
	}
	return NewActuator(name, extend, retract, limits, ac.Polarity, logger)
}

// Open initialises GPIO through periph.io and returns a Hardware
// controller. If the hardware cannot be initialised it logs the reason and
// returns a Null controller instead.
func Open(cfg Config, logger *zap.SugaredLogger, opts ...Option) Controller {
	b, err := board.NewPeriphBoard()
	if err != nil {
		logger.Warnw("hardware unavailable, running simulated", "error", err)
		return NewNull(cfg)
	}
	h, err := New(cfg, b, logger, opts...)
	if err != nil {
		logger.Warnw("hardware setup failed, running simulated", "error", err)
		if cerr := b.Close(); cerr != nil {
			logger.Debugw("failed to release GPIO", "error", cerr)
		}
		return NewNull(cfg)
	}
	return h
}

// SetDrivePercent implements Controller.
func (h *Hardware) SetDrivePercent(left, right int) bool {
	if h.locks.DriveLocked() {
		return false
	}
	return h.driveUnlocked(left, right)
}

// SetActuators implements Controller.
func (h *Hardware) SetActuators(m1, m2 packet.Motion) bool {
	if h.locks.ActuatorsLocked() {
		return false
	}
	return h.actuatorsUnlocked([]packet.Motion{m1, m2})
}

// StopMovement implements Controller.
func (h *Hardware) StopMovement() bool {
	driveLocked := h.locks.DriveLocked()
	actuatorsLocked := h.locks.ActuatorsLocked()

	h.driveUnlocked(0, 0)
	h.actuatorsUnlocked([]packet.Motion{packet.MotionNone, packet.MotionNone})

	return !driveLocked && !actuatorsLocked
}

// Acquire implements Controller.
func (h *Hardware) Acquire(p Policy) (*Session, error) {
	return newSession(h.locks, h, p)
}

// Simulated implements Controller.
func (h *Hardware) Simulated() bool {
	return false
}

// Locks exposes the lock flags.
func (h *Hardware) Locks() *ControlLock {
	return h.locks
}

// Actuator returns the actuator at index i.
func (h *Hardware) Actuator(i int) *Actuator {
	return h.actuators[i]
}

// Drive returns the left and right drive motors.
func (h *Hardware) Drive() (*DriveMotor, *DriveMotor) {
	return h.left, h.right
}

func (h *Hardware) driveUnlocked(left, right int) bool {
	// write errors are logged by the drive motor
	_ = h.left.SetPercent(left)
	_ = h.right.SetPercent(right)
	return true
}

func (h *Hardware) actuatorsUnlocked(motions []packet.Motion) bool {
	ok := true
	for i, a := range h.actuators {
		m := packet.MotionNone
		if i < len(motions) {
			m = motions[i]
		}
		if !a.SetMotion(m) {
			h.logger.Debugw("actuator motion refused at limit", "actuator", a.Name(), "motion", m)
			ok = false
		}
	}
	h.updateRelay()
	return ok
}

// updateRelay asserts the relay while any actuator is moving.
func (h *Hardware) updateRelay() {
	if h.relay == nil {
		return
	}
	moving := false
	for _, a := range h.actuators {
		if a.Motion() != packet.MotionNone {
			moving = true
			break
		}
	}

	h.relayMu.Lock()
	defer h.relayMu.Unlock()
	if moving == h.relayOn {
		return
	}
	if err := h.relay.Set(moving); err != nil {
		h.logger.Errorw("relay write failed", "on", moving, "error", err)
		return
	}
	h.relayOn = moving
}

// RefreshLimits reads every limit switch once.
func (h *Hardware) RefreshLimits() error {
	var err error
	for _, a := range h.actuators {
		err = multierr.Append(err, a.Refresh())
	}
	h.updateRelay()
	return err
}

// Run polls the limit switches until ctx is done.
func (h *Hardware) Run(ctx context.Context) error {
	ticker := h.clock.Ticker(h.pollInterval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := h.RefreshLimits()
		if err != nil && !failing {
			h.logger.Warnw("limit switch read failed", "error", err)
		}
		failing = err != nil
	}
}

// Status implements Controller.
func (h *Hardware) Status() packet.Status {
	s := packet.Status{
		LeftPercent:     h.left.Percent(),
		RightPercent:    h.right.Percent(),
		DriveLocked:     h.locks.DriveLocked(),
		ActuatorsLocked: h.locks.ActuatorsLocked(),
		Macro:           packet.NoMacro,
	}
	for _, a := range h.actuators {
		s.Actuators = append(s.Actuators, packet.ActuatorStatus{
			Name:       a.Name(),
			Motion:     a.Motion(),
			CanExtend:  a.CanExtend(),
			CanRetract: a.CanRetract(),
		})
	}
	return s
}

// Close stops every output and releases the board.
func (h *Hardware) Close() error {
	err := multierr.Combine(h.left.Close(), h.right.Close())
	for _, a := range h.actuators {
		err = multierr.Append(err, a.Stop())
	}
	if h.relay != nil {
		err = multierr.Append(err, h.relay.Set(false))
	}
	return multierr.Append(err, h.board.Close())
}
