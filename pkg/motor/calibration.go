// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor

import "time"

// Calibration maps drive percentages onto PWM duty steps.
//
// The motor controllers expect a servo-style pulse: StopDuty is the neutral
// pulse and PartitionWidth the swing to full speed in either direction,
// both expressed in steps of 1/Resolution of the PWM period.
type Calibration struct {
	FrequencyHz    int
	Resolution     int
	StopDuty       int
	PartitionWidth int
}

// NewCalibration derives duty steps from pulse widths at a PWM frequency.
func NewCalibration(frequencyHz int, stopPulse, rangePulse time.Duration, resolution int) Calibration {
	return Calibration{
		FrequencyHz:    frequencyHz,
		Resolution:     resolution,
		StopDuty:       pulseSteps(stopPulse, frequencyHz, resolution),
		PartitionWidth: pulseSteps(rangePulse, frequencyHz, resolution),
	}
}

// DefaultCalibration is 1.5 ms neutral and 0.5 ms range at 150 Hz with
// 256 steps: stop duty 57, partition width 19.
func DefaultCalibration() Calibration {
	return NewCalibration(150, 1500*time.Microsecond, 500*time.Microsecond, 256)
}

func pulseSteps(pulse time.Duration, frequencyHz, resolution int) int {
	return int(pulse.Seconds() * float64(frequencyHz) * float64(resolution))
}

// Duty returns the duty step for a percentage already clamped to [-100, 100].
func (c Calibration) Duty(percent int) int {
	return c.StopDuty + percent*c.PartitionWidth/100
}

// Fraction converts a duty step to a fraction of the PWM period.
func (c Calibration) Fraction(duty int) float64 {
	if c.Resolution <= 0 {
		return 0
	}
	return float64(duty) / float64(c.Resolution)
}
