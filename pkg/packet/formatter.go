// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import (
	"fmt"
	"strings"
)

// String returns the motion name
func (m Motion) String() string {
	switch m {
	case MotionNone:
		return "NONE"
	case MotionExtending:
		return "EXTENDING"
	case MotionRetracting:
		return "RETRACTING"
	}
	return fmt.Sprintf("MOTION_%d", uint8(m))
}

// String returns the configuration name of the button
func (b Button) String() string {
	for name, btn := range buttonNames {
		if btn == b {
			return name
		}
	}
	return "none"
}

func (m MotionCommand) String() string {
	acts := make([]string, len(m.Actuators))
	for i, a := range m.Actuators {
		acts[i] = fmt.Sprintf("act%d=%s", i+1, a)
	}
	return fmt.Sprintf("MOTION left=%d right=%d %s buttons=%s",
		m.LeftPercent, m.RightPercent, strings.Join(acts, " "), formatButtons(m.Buttons))
}

func (m MacroCommand) String() string {
	state := "released"
	if m.Pressed {
		state = "pressed"
	}
	s := fmt.Sprintf("MACRO %s (%d) %s", m.Code, uint8(m.Code), state)
	if m.HasAux {
		s += fmt.Sprintf(" aux=0x%02X", m.Aux)
	}
	return s
}

func (i Invalid) String() string {
	return fmt.Sprintf("INVALID len=%d: %s", i.Length, i.Reason)
}

func formatButtons(bits byte) string {
	var names []string
	for _, b := range []Button{LeftBumper, RightBumper, LeftTrigger, RightTrigger} {
		if bits&b.bit() != 0 {
			names = append(names, b.String())
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// FormatPayload renders a raw payload with its decoding for logs and tools.
func FormatPayload(data []byte, opts Options) string {
	if IsStopListening(data) {
		return fmt.Sprintf("%q -> STOP_LISTENING", StopListening)
	}
	return fmt.Sprintf("%s -> %s", FormatHex(data), Decode(data, opts))
}

// FormatHex renders bytes as space separated hex with binary for short payloads.
func FormatHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		if len(data) <= MaxMacroPacketSize {
			parts[i] = fmt.Sprintf("%02X(%08b)", b, b)
		} else {
			parts[i] = fmt.Sprintf("%02X", b)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FormatStatus renders a status frame on one line.
func FormatStatus(s Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "drive=%d/%d", s.LeftPercent, s.RightPercent)
	for _, a := range s.Actuators {
		fmt.Fprintf(&b, " %s=%s", a.Name, a.Motion)
		if !a.CanExtend {
			b.WriteString("[ext-limit]")
		}
		if !a.CanRetract {
			b.WriteString("[ret-limit]")
		}
	}
	if s.DriveLocked || s.ActuatorsLocked {
		fmt.Fprintf(&b, " locks=drive:%t,actuators:%t", s.DriveLocked, s.ActuatorsLocked)
	}
	if code, ok := s.RunningMacro(); ok {
		fmt.Fprintf(&b, " macro=%s", code)
	}
	if s.HasAux {
		fmt.Fprintf(&b, " aux=%.2f/%.2f", s.Aux[0], s.Aux[1])
	}
	if s.Simulated {
		b.WriteString(" SIMULATED")
	}
	return b.String()
}
