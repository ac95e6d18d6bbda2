// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package board abstracts the digital and PWM pins the vehicle drives.
//
// Pins are resolved by name from a Board. The periph.io backend talks to
// real GPIO lines; the fake backend records writes for tests and for
// running without hardware.
package board

import "io"

// OutputPin is a digital output.
type OutputPin interface {
	Set(high bool) error
}

// InputPin is a digital input.
type InputPin interface {
	Get() (bool, error)
}

// PWMPin is a PWM channel running at a fixed frequency.
type PWMPin interface {
	// SetDuty sets the duty cycle as a fraction in [0, 1].
	SetDuty(duty float64) error
}

// Board resolves pins by name.
type Board interface {
	io.Closer
	OutputPinByName(name string) (OutputPin, error)
	InputPinByName(name string) (InputPin, error)
	PWMPinByName(name string, frequencyHz int) (PWMPin, error)
}
