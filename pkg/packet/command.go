// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Motion is the commanded direction of one actuator.
type Motion uint8

const (
	MotionNone Motion = iota
	MotionExtending
	MotionRetracting
)

// MotionFromButtons applies the actuator truth table: a requests extend,
// b requests retract, and both or neither mean no motion.
func MotionFromButtons(a, b bool) Motion {
	switch {
	case a && !b:
		return MotionExtending
	case b && !a:
		return MotionRetracting
	default:
		return MotionNone
	}
}

// Button identifies one trigger or bumper bit of a motion packet.
type Button uint8

const (
	ButtonNone Button = iota
	LeftBumper
	RightBumper
	LeftTrigger
	RightTrigger
)

// bit returns the byte 0 mask for the button.
func (b Button) bit() byte {
	switch b {
	case LeftBumper:
		return bitLeftBumper
	case RightBumper:
		return bitRightBumper
	case LeftTrigger:
		return bitLeftTrigger
	case RightTrigger:
		return bitRightTrigger
	}
	return 0
}

var buttonNames = map[string]Button{
	"left_bumper":   LeftBumper,
	"right_bumper":  RightBumper,
	"left_trigger":  LeftTrigger,
	"right_trigger": RightTrigger,
}

// ParseButton parses a configuration button name such as "right_trigger".
func ParseButton(name string) (Button, error) {
	b, ok := buttonNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ButtonNone, errors.Errorf("unknown button %q", name)
	}
	return b, nil
}

// ButtonPair maps one actuator to the buttons that extend and retract it.
type ButtonPair struct {
	Extend  Button
	Retract Button
}

// Options calibrates motion packet decoding.
type Options struct {
	// LeftScale and RightScale convert a 0-7 magnitude into a percentage.
	LeftScale  float64
	RightScale float64
	// Triggers maps actuator index to its buttons.
	Triggers [NumActuators]ButtonPair
}

// DefaultOptions returns the reference calibration: 14.28 percent per
// magnitude step on both sides, actuator 1 on (right trigger, left bumper)
// and actuator 2 on (left trigger, right bumper).
func DefaultOptions() Options {
	return Options{
		LeftScale:  DefaultScale,
		RightScale: DefaultScale,
		Triggers: [NumActuators]ButtonPair{
			{Extend: RightTrigger, Retract: LeftBumper},
			{Extend: LeftTrigger, Retract: RightBumper},
		},
	}
}

// Validate checks that scales are positive and that no button is used twice.
func (o Options) Validate() error {
	if !validScale(o.LeftScale) || !validScale(o.RightScale) {
		return errors.Errorf("drive scales must be in (0, %d] (left=%v right=%v)", MaxDrivePct, o.LeftScale, o.RightScale)
	}
	seen := map[Button]bool{}
	for i, pair := range o.Triggers {
		for _, b := range []Button{pair.Extend, pair.Retract} {
			if b == ButtonNone {
				return errors.Errorf("actuator %d has an unassigned button", i+1)
			}
			if seen[b] {
				return errors.Errorf("button %s is mapped more than once", b)
			}
			seen[b] = true
		}
	}
	return nil
}

// validScale rejects NaN, infinities, and scales where one step already
// exceeds full speed.
func validScale(scale float64) bool {
	return scale > 0 && scale <= MaxDrivePct
}

// Command is a decoded payload: MotionCommand, MacroCommand or Invalid.
type Command interface {
	fmt.Stringer
	isCommand()
}

// MotionCommand is a manual drive and actuator instruction.
type MotionCommand struct {
	Buttons      byte // raw trigger/bumper bits of byte 0
	LeftPercent  int
	RightPercent int
	Actuators    [NumActuators]Motion

	// raw magnitude fields, kept for validation
	leftNegative  bool
	leftMag       uint8
	rightNegative bool
	rightMag      uint8
}

// Pressed reports whether the given button bit was set.
func (m MotionCommand) Pressed(b Button) bool {
	return m.Buttons&b.bit() != 0
}

// Stopped reports whether the command requests no motion at all.
func (m MotionCommand) Stopped() bool {
	if m.LeftPercent != 0 || m.RightPercent != 0 {
		return false
	}
	for _, a := range m.Actuators {
		if a != MotionNone {
			return false
		}
	}
	return true
}

// MacroCommand requests, or releases the button of, a scripted program.
type MacroCommand struct {
	Code    MacroCode
	Pressed bool
	Aux     byte
	HasAux  bool

	reserved bool
}

// Invalid is any payload that is neither a motion nor a macro packet.
type Invalid struct {
	Length int
	Reason string
}

func (MotionCommand) isCommand() {}
func (MacroCommand) isCommand()  {}
func (Invalid) isCommand()       {}
