// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"errors"
	"testing"
)

func TestFakeBoardPinsAreShared(t *testing.T) {
	b := NewFakeBoard()

	out, err := b.OutputPinByName("35")
	if err != nil {
		t.Fatalf("OutputPinByName failed: %v", err)
	}
	if err := out.Set(true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !b.Output("35").High() || b.Output("35").Writes() != 1 {
		t.Error("expected write to be visible through the board")
	}

	b.Input("37").SetHigh(true)
	in, _ := b.InputPinByName("37")
	if high, _ := in.Get(); !high {
		t.Error("expected input to read high")
	}
}

func TestFakePWMRecordsFailedWrites(t *testing.T) {
	b := NewFakeBoard()
	if _, err := b.PWMPinByName("32", 0); err == nil {
		t.Fatal("expected error for zero frequency")
	}

	p, err := b.PWMPinByName("32", 150)
	if err != nil {
		t.Fatalf("PWMPinByName failed: %v", err)
	}
	if err := p.SetDuty(0.25); err != nil {
		t.Fatalf("SetDuty failed: %v", err)
	}

	b.PWM("32").FailWith(errors.New("bus error"))
	if err := p.SetDuty(0.5); err == nil {
		t.Fatal("expected injected error")
	}

	if got := b.PWM("32").Duty(); got != 0.25 {
		t.Errorf("Duty() = %v, want 0.25", got)
	}
	if got := len(b.PWM("32").History()); got != 2 {
		t.Errorf("len(History()) = %d, want 2", got)
	}
	if got := b.PWM("32").Frequency(); got != 150 {
		t.Errorf("Frequency() = %d, want 150", got)
	}
}
