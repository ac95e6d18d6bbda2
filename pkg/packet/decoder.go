// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import "fmt"

// Decode interprets one payload. It has no side effects.
//
// A 2-byte payload whose first bit is 0 is a motion packet; a 1 or 2 byte
// payload whose first bit is 1 is a macro packet; anything else is Invalid.
func Decode(data []byte, opts Options) Command {
	switch {
	case len(data) == 0:
		return Invalid{Length: 0, Reason: "empty payload"}
	case data[0]&kindBit == 0 && len(data) == MotionPacketSize:
		return decodeMotion(data[0], data[1], opts)
	case data[0]&kindBit != 0 && len(data) <= MaxMacroPacketSize:
		return decodeMacro(data)
	case data[0]&kindBit == 0:
		return Invalid{Length: len(data), Reason: fmt.Sprintf("motion packet must be %d bytes, got %d", MotionPacketSize, len(data))}
	default:
		return Invalid{Length: len(data), Reason: fmt.Sprintf("macro packet must be 1-%d bytes, got %d", MaxMacroPacketSize, len(data))}
	}
}

func decodeMotion(b0, b1 byte, opts Options) MotionCommand {
	cmd := MotionCommand{
		Buttons:       b0 &^ kindBit,
		leftNegative:  b1&leftSignBit != 0,
		leftMag:       (b1 & leftMagMask) >> leftMagShift,
		rightNegative: b1&rightSignBit != 0,
		rightMag:      b1 & rightMagMask,
	}
	cmd.LeftPercent = scalePercent(cmd.leftMag, cmd.leftNegative, opts.LeftScale)
	cmd.RightPercent = scalePercent(cmd.rightMag, cmd.rightNegative, opts.RightScale)

	for i, pair := range opts.Triggers {
		cmd.Actuators[i] = MotionFromButtons(cmd.Pressed(pair.Extend), cmd.Pressed(pair.Retract))
	}
	return cmd
}

// scalePercent converts a magnitude step into a clamped drive percentage.
// The product is truncated toward zero before the sign is applied.
func scalePercent(mag uint8, negative bool, scale float64) int {
	pct := int(float64(mag) * scale)
	if pct > MaxDrivePct {
		pct = MaxDrivePct
	}
	if pct < 0 {
		pct = 0
	}
	if negative {
		pct = -pct
	}
	return pct
}

func decodeMacro(data []byte) MacroCommand {
	cmd := MacroCommand{
		Code:     MacroCode((data[0] & macroCodeMask) >> macroCodeShift),
		Pressed:  data[0]&macroPressBit != 0,
		reserved: data[0]&macroReserved != 0,
	}
	if len(data) == MaxMacroPacketSize {
		cmd.Aux = data[1]
		cmd.HasAux = true
	}
	return cmd
}

// IsStopListening reports whether the payload is the link shutdown sentinel.
func IsStopListening(data []byte) bool {
	return string(data) == StopListening
}
