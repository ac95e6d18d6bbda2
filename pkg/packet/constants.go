// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package packet implements the regolith operator link protocol.
//
// An operator client streams compact binary payloads to the vehicle. A
// payload is either a 2-byte motion packet (first bit 0) carrying both
// drive percentages and four trigger/bumper bits, or a 1-2 byte macro
// packet (first bit 1) requesting a scripted program. Every other payload
// is invalid and must be handled as a request to stop all motion.
//
// The vehicle answers with CBOR-encoded status frames.
package packet

// Packet shape
const (
	MotionPacketSize   = 2
	MaxMacroPacketSize = 2

	kindBit = 0x80 // byte 0: 0 = motion, 1 = macro
)

// Motion packet byte 0: trigger and bumper bits, MSB first after the kind bit
const (
	bitLeftBumper   = 0x40
	bitRightBumper  = 0x20
	bitLeftTrigger  = 0x10
	bitRightTrigger = 0x08
)

// Motion packet byte 1: sign and magnitude for each drive side
const (
	leftSignBit    = 0x80
	leftMagMask    = 0x70
	leftMagShift   = 4
	rightSignBit   = 0x08
	rightMagMask   = 0x07
	MaxMagnitude   = 7
	MaxDrivePct    = 100
	DefaultScale   = 14.28
	NumActuators   = 2
	magnitudeSteps = MaxMagnitude + 1
)

// Macro packet byte 0
const (
	macroCodeMask  = 0x7C
	macroCodeShift = 2
	macroPressBit  = 0x02
	macroReserved  = 0x01

	// MaxEncodableMacroCode is the largest code the 5-bit field can carry.
	MaxEncodableMacroCode = 31
	// MaxMacroCode is the largest code the vehicle defines.
	MaxMacroCode = 22
)

// StopListening is the text payload that shuts the operator link down.
const StopListening = "stop-listening"
