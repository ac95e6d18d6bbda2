// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import (
	"github.com/pkg/errors"
)

// EncodeMotion builds a motion packet. Percentages are quantized to the
// nearest magnitude step the decoder can reproduce with the same options.
func EncodeMotion(cmd MotionCommand, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var b0 byte
	for i, pair := range opts.Triggers {
		switch cmd.Actuators[i] {
		case MotionNone:
		case MotionExtending:
			b0 |= pair.Extend.bit()
		case MotionRetracting:
			b0 |= pair.Retract.bit()
		default:
			return nil, errors.Errorf("actuator %d: invalid motion %d", i+1, cmd.Actuators[i])
		}
	}

	leftMag, leftNeg := quantize(cmd.LeftPercent, opts.LeftScale)
	rightMag, rightNeg := quantize(cmd.RightPercent, opts.RightScale)

	b1 := leftMag<<leftMagShift | rightMag
	if leftNeg {
		b1 |= leftSignBit
	}
	if rightNeg {
		b1 |= rightSignBit
	}
	return []byte{b0, b1}, nil
}

// MustEncodeMotion is EncodeMotion for callers with known-good options.
func MustEncodeMotion(cmd MotionCommand, opts Options) []byte {
	data, err := EncodeMotion(cmd, opts)
	if err != nil {
		panic(err)
	}
	return data
}

// quantize returns the magnitude step whose decoded percentage is closest
// to pct, and whether the sign bit is needed.
func quantize(pct int, scale float64) (byte, bool) {
	if pct > MaxDrivePct {
		pct = MaxDrivePct
	}
	if pct < -MaxDrivePct {
		pct = -MaxDrivePct
	}
	negative := pct < 0
	if negative {
		pct = -pct
	}

	best, bestDiff := 0, pct
	for mag := 1; mag < magnitudeSteps; mag++ {
		diff := scalePercent(uint8(mag), false, scale) - pct
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = mag, diff
		}
	}
	return byte(best), negative && best != 0
}

// EncodeMacro builds a macro packet. The aux byte is sent only when HasAux is set.
func EncodeMacro(cmd MacroCommand) ([]byte, error) {
	if cmd.Code > MaxEncodableMacroCode {
		return nil, errors.Errorf("macro code %d does not fit in 5 bits", cmd.Code)
	}
	b0 := kindBit | byte(cmd.Code)<<macroCodeShift
	if cmd.Pressed {
		b0 |= macroPressBit
	}
	if cmd.HasAux {
		return []byte{b0, cmd.Aux}, nil
	}
	return []byte{b0}, nil
}

// MustEncodeMacro is EncodeMacro for codes known to fit.
func MustEncodeMacro(cmd MacroCommand) []byte {
	data, err := EncodeMacro(cmd)
	if err != nil {
		panic(err)
	}
	return data
}
