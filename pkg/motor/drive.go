// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/board"
)

// noPercent marks a drive motor that has not been commanded yet.
const noPercent = math.MinInt32

// DriveMotor owns one PWM drive channel.
type DriveMotor struct {
	name   string
	pin    board.PWMPin
	cal    Calibration
	logger *zap.SugaredLogger

	mu      sync.Mutex
	percent int
	duty    int
}

// NewDriveMotor wraps a PWM channel. The motor is not written until the
// first SetPercent or Close.
func NewDriveMotor(name string, pin board.PWMPin, cal Calibration, logger *zap.SugaredLogger) *DriveMotor {
	return &DriveMotor{
		name:    name,
		pin:     pin,
		cal:     cal,
		logger:  logger,
		percent: noPercent,
		duty:    cal.StopDuty,
	}
}

// SetPercent commands a speed in [-100, 100]; values outside are clamped.
// Repeating the previous percentage does not touch the hardware. A failed
// write is returned and logged, and the percentage is still recorded.
func (d *DriveMotor) SetPercent(percent int) error {
	percent = clampPercent(percent)

	d.mu.Lock()
	defer d.mu.Unlock()

	if percent == d.percent {
		return nil
	}
	d.percent = percent
	d.duty = d.cal.Duty(percent)

	if err := d.pin.SetDuty(d.cal.Fraction(d.duty)); err != nil {
		d.logger.Errorw("drive write failed", "motor", d.name, "percent", percent, "duty", d.duty, "error", err)
		return errors.Wrapf(err, "%s: failed to set duty %d", d.name, d.duty)
	}
	return nil
}

// Percent returns the last commanded percentage, 0 before the first command.
func (d *DriveMotor) Percent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.percent == noPercent {
		return 0
	}
	return d.percent
}

// Duty returns the last commanded duty step.
func (d *DriveMotor) Duty() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duty
}

// Close writes the stop duty regardless of the debounce state.
func (d *DriveMotor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.percent = 0
	d.duty = d.cal.StopDuty
	if err := d.pin.SetDuty(d.cal.Fraction(d.duty)); err != nil {
		return errors.Wrapf(err, "%s: failed to stop", d.name)
	}
	return nil
}

func clampPercent(p int) int {
	if p > 100 {
		return 100
	}
	if p < -100 {
		return -100
	}
	return p
}
