// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import "fmt"

// MacroCode identifies a scripted program. Lower codes have higher priority.
type MacroCode uint8

// Macro codes
const (
	MacroEStop MacroCode = iota
	MacroCancel
	MacroFullExtend
	MacroFullRetract
	MacroCarryPosition
	MacroDumpCycle
	MacroDumpWithMovement
	MacroDigCycle
	MacroTurnRight45
	MacroTurnLeft45
	MacroTurn
)

var macroNames = map[MacroCode]string{
	MacroEStop:            "ESTOP",
	MacroCancel:           "CANCEL_MACRO",
	MacroFullExtend:       "FULL_EXTEND",
	MacroFullRetract:      "FULL_RETRACT",
	MacroCarryPosition:    "CARRY_POS",
	MacroDumpCycle:        "DUMP_CYCLE",
	MacroDumpWithMovement: "DUMP_WITH_MOVEMENT",
	MacroDigCycle:         "DIG_CYCLE",
	MacroTurnRight45:      "TURN_RIGHT_45",
	MacroTurnLeft45:       "TURN_LEFT_45",
	MacroTurn:             "TURN",
}

// String returns the macro name, or MACRO_<n> for unnamed codes.
func (c MacroCode) String() string {
	if name, ok := macroNames[c]; ok {
		return name
	}
	return fmt.Sprintf("MACRO_%d", uint8(c))
}

var macroAliases = map[string]MacroCode{
	"CANCEL":  MacroCancel,
	"EXTEND":  MacroFullExtend,
	"RETRACT": MacroFullRetract,
	"CARRY":   MacroCarryPosition,
	"DUMP":    MacroDumpCycle,
	"DIG":     MacroDigCycle,
}

// ParseMacroCode accepts a macro name (case-insensitive, with or without
// underscores), a short alias such as "dig", or a decimal code.
func ParseMacroCode(s string) (MacroCode, error) {
	norm := normalizeName(s)
	if code, ok := macroAliases[norm]; ok {
		return code, nil
	}
	for code, name := range macroNames {
		if normalizeName(name) == norm {
			return code, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && fmt.Sprint(n) == s {
		if n < 0 || n > MaxEncodableMacroCode {
			return 0, fmt.Errorf("macro code %d out of range (0-%d)", n, MaxEncodableMacroCode)
		}
		return MacroCode(n), nil
	}
	return 0, fmt.Errorf("unknown macro %q", s)
}

func normalizeName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c == '-' || c == ' ':
			continue
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
