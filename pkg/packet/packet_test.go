// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import (
	"math"
	"strings"
	"testing"
)

// ============================================================
// Motion Packet Decoding
// ============================================================

func TestDecodeMotion_RightOnly(t *testing.T) {
	cmd := Decode([]byte{0b00000000, 0b00000101}, DefaultOptions())

	motion, ok := cmd.(MotionCommand)
	if !ok {
		t.Fatalf("expected MotionCommand, got %T", cmd)
	}
	if motion.LeftPercent != 0 {
		t.Errorf("LeftPercent = %d, want 0", motion.LeftPercent)
	}
	if want := 71; motion.RightPercent != want {
		t.Errorf("RightPercent = %d, want %d", motion.RightPercent, want)
	}
	for i, a := range motion.Actuators {
		if a != MotionNone {
			t.Errorf("actuator %d = %s, want NONE", i+1, a)
		}
	}
}

func TestDecodeMotion_SignsAndMagnitudes(t *testing.T) {
	tests := []struct {
		name      string
		b1        byte
		wantLeft  int
		wantRight int
	}{
		{"both zero", 0x00, 0, 0},
		{"left full forward", 0x70, 99, 0},
		{"left full reverse", 0xF0, -99, 0},
		{"right full reverse", 0x0F, 0, -99},
		{"left 1 right -3", 0x1B, 14, -42},
		{"negative zero left", 0x80, 0, 0},
		{"negative zero right", 0x08, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Decode([]byte{0x00, tt.b1}, DefaultOptions()).(MotionCommand)
			if cmd.LeftPercent != tt.wantLeft || cmd.RightPercent != tt.wantRight {
				t.Errorf("got left=%d right=%d, want left=%d right=%d",
					cmd.LeftPercent, cmd.RightPercent, tt.wantLeft, tt.wantRight)
			}
		})
	}
}

func TestDecodeMotion_SplitScale(t *testing.T) {
	opts := DefaultOptions()
	opts.LeftScale = DefaultScale * 0.25
	opts.RightScale = DefaultScale * 0.75

	cmd := Decode([]byte{0x00, 0x77}, opts).(MotionCommand)
	if cmd.LeftPercent != 24 {
		t.Errorf("LeftPercent = %d, want 24", cmd.LeftPercent)
	}
	if cmd.RightPercent != 74 {
		t.Errorf("RightPercent = %d, want 74", cmd.RightPercent)
	}
}

func TestDecodeMotion_ScaleClampsToHundred(t *testing.T) {
	opts := DefaultOptions()
	opts.LeftScale = 20
	cmd := Decode([]byte{0x00, 0xF0}, opts).(MotionCommand)
	if cmd.LeftPercent != -100 {
		t.Errorf("LeftPercent = %d, want -100", cmd.LeftPercent)
	}
}

func TestDecodeMotion_TriggerMapping(t *testing.T) {
	tests := []struct {
		name string
		b0   byte
		want [NumActuators]Motion
	}{
		{"none", 0x00, [NumActuators]Motion{MotionNone, MotionNone}},
		{"right trigger extends actuator 1", bitRightTrigger, [NumActuators]Motion{MotionExtending, MotionNone}},
		{"left bumper retracts actuator 1", bitLeftBumper, [NumActuators]Motion{MotionRetracting, MotionNone}},
		{"left trigger extends actuator 2", bitLeftTrigger, [NumActuators]Motion{MotionNone, MotionExtending}},
		{"right bumper retracts actuator 2", bitRightBumper, [NumActuators]Motion{MotionNone, MotionRetracting}},
		{"both actuator 1 buttons stop", bitRightTrigger | bitLeftBumper, [NumActuators]Motion{MotionNone, MotionNone}},
		{"all buttons stop", 0x78, [NumActuators]Motion{MotionNone, MotionNone}},
		{"opposite directions", bitRightTrigger | bitRightBumper, [NumActuators]Motion{MotionExtending, MotionRetracting}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Decode([]byte{tt.b0, 0x00}, DefaultOptions()).(MotionCommand)
			if cmd.Actuators != tt.want {
				t.Errorf("Actuators = %v, want %v", cmd.Actuators, tt.want)
			}
		})
	}
}

func TestDecodeMotion_CustomTriggerMapping(t *testing.T) {
	opts := DefaultOptions()
	opts.Triggers[0] = ButtonPair{Extend: LeftTrigger, Retract: LeftBumper}
	opts.Triggers[1] = ButtonPair{Extend: RightTrigger, Retract: RightBumper}

	cmd := Decode([]byte{bitLeftTrigger | bitRightBumper, 0x00}, opts).(MotionCommand)
	want := [NumActuators]Motion{MotionExtending, MotionRetracting}
	if cmd.Actuators != want {
		t.Errorf("Actuators = %v, want %v", cmd.Actuators, want)
	}
}

// ============================================================
// Macro Packet Decoding
// ============================================================

func TestDecodeMacro(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantCode    MacroCode
		wantPressed bool
		wantAux     byte
		wantHasAux  bool
	}{
		{"cancel released", []byte{0b10000101}, MacroCancel, false, 0, false},
		{"estop pressed", []byte{0b10000010}, MacroEStop, true, 0, false},
		{"dig pressed with aux", []byte{0x80 | 7<<2 | 0x02, 0x2A}, MacroDigCycle, true, 0x2A, true},
		{"code 22", []byte{0x80 | 22<<2}, 22, false, 0, false},
		{"code 31", []byte{0xFE}, 31, true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := Decode(tt.data, DefaultOptions()).(MacroCommand)
			if !ok {
				t.Fatalf("expected MacroCommand")
			}
			if cmd.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", cmd.Code, tt.wantCode)
			}
			if cmd.Pressed != tt.wantPressed {
				t.Errorf("Pressed = %v, want %v", cmd.Pressed, tt.wantPressed)
			}
			if cmd.Aux != tt.wantAux || cmd.HasAux != tt.wantHasAux {
				t.Errorf("Aux = 0x%02X/%v, want 0x%02X/%v", cmd.Aux, cmd.HasAux, tt.wantAux, tt.wantHasAux)
			}
		})
	}
}

// ============================================================
// Invalid Payloads
// ============================================================

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"nil", nil},
		{"single motion byte", []byte{0x00}},
		{"three byte motion", []byte{0x00, 0x00, 0x00}},
		{"three byte macro", []byte{0x80, 0x00, 0x00}},
		{"stop-listening text", []byte(StopListening)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Decode(tt.data, DefaultOptions())
			inv, ok := cmd.(Invalid)
			if !ok {
				t.Fatalf("expected Invalid, got %T (%v)", cmd, cmd)
			}
			if inv.Length != len(tt.data) {
				t.Errorf("Length = %d, want %d", inv.Length, len(tt.data))
			}
			if inv.Reason == "" {
				t.Error("expected a reason")
			}
		})
	}
}

func TestIsStopListening(t *testing.T) {
	if !IsStopListening([]byte("stop-listening")) {
		t.Error("expected sentinel to match")
	}
	for _, data := range [][]byte{nil, []byte("stop-listening\n"), []byte("STOP-LISTENING"), {0x80}} {
		if IsStopListening(data) {
			t.Errorf("IsStopListening(%q) = true, want false", data)
		}
	}
}

// ============================================================
// Options and Buttons
// ============================================================

func TestParseButton(t *testing.T) {
	tests := []struct {
		input   string
		want    Button
		wantErr bool
	}{
		{"left_bumper", LeftBumper, false},
		{"Right_Trigger", RightTrigger, false},
		{" left_trigger ", LeftTrigger, false},
		{"start", ButtonNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseButton(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}

	dup := DefaultOptions()
	dup.Triggers[1].Extend = RightTrigger
	if err := dup.Validate(); err == nil {
		t.Error("expected error for duplicated button")
	}

	zero := DefaultOptions()
	zero.RightScale = 0
	if err := zero.Validate(); err == nil {
		t.Error("expected error for zero scale")
	}

	for _, scale := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1), 101} {
		bad := DefaultOptions()
		bad.LeftScale = scale
		if err := bad.Validate(); err == nil {
			t.Errorf("expected error for left scale %v", scale)
		}
	}

	unassigned := DefaultOptions()
	unassigned.Triggers[0].Retract = ButtonNone
	if err := unassigned.Validate(); err == nil {
		t.Error("expected error for unassigned button")
	}
}

func TestParseMacroCode(t *testing.T) {
	tests := []struct {
		input   string
		want    MacroCode
		wantErr bool
	}{
		{"ESTOP", MacroEStop, false},
		{"dig_cycle", MacroDigCycle, false},
		{"dig", MacroDigCycle, false},
		{"carry-pos", MacroCarryPosition, false},
		{"cancel", MacroCancel, false},
		{"5", MacroDumpCycle, false},
		{"31", 31, false},
		{"32", 0, true},
		{"-1", 0, true},
		{"wiggle", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMacroCode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// ============================================================
// Validation
// ============================================================

func TestValidate(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name  string
		data  []byte
		types []AnomalyType
	}{
		{"clean motion", []byte{bitRightTrigger, 0x35}, nil},
		{"conflicting buttons", []byte{bitRightTrigger | bitLeftBumper, 0x00}, []AnomalyType{AnomalyConflictingButtons}},
		{"negative zero both", []byte{0x00, 0x88}, []AnomalyType{AnomalyNegativeZero, AnomalyNegativeZero}},
		{"clean macro", []byte{0x80 | 7<<2 | 0x02}, nil},
		{"macro out of range", []byte{0x80 | 23<<2}, []AnomalyType{AnomalyMacroOutOfRange}},
		{"reserved bit", []byte{0x81}, []AnomalyType{AnomalyReservedBit}},
		{"invalid", []byte{0, 0, 0}, []AnomalyType{AnomalyInvalidPacket}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(Decode(tt.data, opts), opts)
			if len(errs) != len(tt.types) {
				t.Fatalf("got %d anomalies (%v), want %d", len(errs), errs, len(tt.types))
			}
			for i, e := range errs {
				if e.Type != tt.types[i] {
					t.Errorf("anomaly %d = %s, want %s", i, e.Type, tt.types[i])
				}
				if e.Error() == "" {
					t.Errorf("anomaly %d has no message", i)
				}
			}
		})
	}
}

// ============================================================
// Formatting
// ============================================================

func TestFormatPayload(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte{0x00, 0x05}, "MOTION left=0 right=71"},
		{[]byte{0x85}, "MACRO CANCEL_MACRO (1) released"},
		{[]byte{0x9E, 0x01}, "MACRO DIG_CYCLE (7) pressed aux=0x01"},
		{[]byte{1, 2, 3}, "INVALID len=3"},
		{[]byte(StopListening), "STOP_LISTENING"},
	}
	for _, tt := range tests {
		got := FormatPayload(tt.data, opts)
		if !strings.Contains(got, tt.want) {
			t.Errorf("FormatPayload(%v) = %q, want it to contain %q", tt.data, got, tt.want)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	s := Status{
		LeftPercent:  42,
		RightPercent: -42,
		Actuators: []ActuatorStatus{
			{Name: "bucket", Motion: MotionExtending, CanExtend: false, CanRetract: true},
		},
		ActuatorsLocked: true,
		Macro:           int(MacroDigCycle),
		Simulated:       true,
	}
	got := FormatStatus(s)
	for _, want := range []string{"drive=42/-42", "bucket=EXTENDING[ext-limit]", "macro=DIG_CYCLE", "SIMULATED", "actuators:true"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStatus() = %q, missing %q", got, want)
		}
	}
}
