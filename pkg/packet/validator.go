// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import "fmt"

// AnomalyType represents different kinds of suspicious payloads
type AnomalyType int

const (
	AnomalyInvalidPacket AnomalyType = iota
	AnomalyConflictingButtons
	AnomalyNegativeZero
	AnomalyMacroOutOfRange
	AnomalyReservedBit
)

// String returns a short name for the anomaly
func (a AnomalyType) String() string {
	switch a {
	case AnomalyInvalidPacket:
		return "invalid_packet"
	case AnomalyConflictingButtons:
		return "conflicting_buttons"
	case AnomalyNegativeZero:
		return "negative_zero"
	case AnomalyMacroOutOfRange:
		return "macro_out_of_range"
	case AnomalyReservedBit:
		return "reserved_bit"
	}
	return fmt.Sprintf("anomaly_%d", int(a))
}

// ValidationError describes one anomaly in a decoded command
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Validate inspects a decoded command for anomalies. Anomalies never change
// how a command is executed; they are reported for logging and statistics.
func Validate(cmd Command, opts Options) []ValidationError {
	switch c := cmd.(type) {
	case Invalid:
		return []ValidationError{{
			Type:    AnomalyInvalidPacket,
			Message: c.Reason,
			Details: map[string]interface{}{"length": c.Length},
		}}
	case MotionCommand:
		return validateMotion(c, opts)
	case MacroCommand:
		return validateMacro(c)
	}
	return nil
}

func validateMotion(c MotionCommand, opts Options) []ValidationError {
	errors := []ValidationError{}

	for i, pair := range opts.Triggers {
		if c.Pressed(pair.Extend) && c.Pressed(pair.Retract) {
			errors = append(errors, ValidationError{
				Type:    AnomalyConflictingButtons,
				Message: fmt.Sprintf("actuator %d: extend and retract both pressed", i+1),
				Details: map[string]interface{}{"actuator": i + 1, "buttons": c.Buttons},
			})
		}
	}

	if c.leftNegative && c.leftMag == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyNegativeZero,
			Message: "left drive: sign bit set with zero magnitude",
			Details: map[string]interface{}{"side": "left"},
		})
	}
	if c.rightNegative && c.rightMag == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyNegativeZero,
			Message: "right drive: sign bit set with zero magnitude",
			Details: map[string]interface{}{"side": "right"},
		})
	}

	return errors
}

func validateMacro(c MacroCommand) []ValidationError {
	errors := []ValidationError{}

	if c.Code > MaxMacroCode {
		errors = append(errors, ValidationError{
			Type:    AnomalyMacroOutOfRange,
			Message: fmt.Sprintf("macro code %d exceeds %d", c.Code, MaxMacroCode),
			Details: map[string]interface{}{"code": uint8(c.Code), "max": MaxMacroCode},
		})
	}
	if c.reserved {
		errors = append(errors, ValidationError{
			Type:    AnomalyReservedBit,
			Message: "macro packet has reserved bit 0 set",
			Details: map[string]interface{}{"code": uint8(c.Code)},
		})
	}

	return errors
}
