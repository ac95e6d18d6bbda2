// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"sync"

	"github.com/pkg/errors"
)

// FakeBoard is an in-memory Board. Every pin is created on first use.
type FakeBoard struct {
	mu      sync.Mutex
	outputs map[string]*FakeOutputPin
	inputs  map[string]*FakeInputPin
	pwms    map[string]*FakePWMPin
	closed  bool
}

// NewFakeBoard returns an empty fake board.
func NewFakeBoard() *FakeBoard {
	return &FakeBoard{
		outputs: map[string]*FakeOutputPin{},
		inputs:  map[string]*FakeInputPin{},
		pwms:    map[string]*FakePWMPin{},
	}
}

// OutputPinByName implements Board.
func (b *FakeBoard) OutputPinByName(name string) (OutputPin, error) {
	return b.Output(name), nil
}

// InputPinByName implements Board.
func (b *FakeBoard) InputPinByName(name string) (InputPin, error) {
	return b.Input(name), nil
}

// PWMPinByName implements Board.
func (b *FakeBoard) PWMPinByName(name string, frequencyHz int) (PWMPin, error) {
	if frequencyHz <= 0 {
		return nil, errors.Errorf("invalid PWM frequency %d for %s", frequencyHz, name)
	}
	p := b.PWM(name)
	p.mu.Lock()
	p.frequency = frequencyHz
	p.mu.Unlock()
	return p, nil
}

// Output returns the named fake output, creating it if needed.
func (b *FakeBoard) Output(name string) *FakeOutputPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.outputs[name]
	if !ok {
		p = &FakeOutputPin{}
		b.outputs[name] = p
	}
	return p
}

// Input returns the named fake input, creating it if needed.
func (b *FakeBoard) Input(name string) *FakeInputPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.inputs[name]
	if !ok {
		p = &FakeInputPin{}
		b.inputs[name] = p
	}
	return p
}

// PWM returns the named fake PWM channel, creating it if needed.
func (b *FakeBoard) PWM(name string) *FakePWMPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pwms[name]
	if !ok {
		p = &FakePWMPin{}
		b.pwms[name] = p
	}
	return p
}

// Close marks the board closed.
func (b *FakeBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *FakeBoard) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// FakeOutputPin records every level written to it.
type FakeOutputPin struct {
	mu     sync.Mutex
	high   bool
	writes int
	err    error
}

// Set implements OutputPin.
func (p *FakeOutputPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.high = high
	p.writes++
	return nil
}

// High reports the last level written.
func (p *FakeOutputPin) High() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// Writes reports how many successful writes the pin has seen.
func (p *FakeOutputPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// FailWith makes subsequent writes return err. A nil err clears the failure.
func (p *FakeOutputPin) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// FakeInputPin returns a level set by the test.
type FakeInputPin struct {
	mu   sync.Mutex
	high bool
	err  error
}

// Get implements InputPin.
func (p *FakeInputPin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high, p.err
}

// SetHigh sets the level returned by Get.
func (p *FakeInputPin) SetHigh(high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = high
}

// FailWith makes Get return err.
func (p *FakeInputPin) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// FakePWMPin records duty cycle writes.
type FakePWMPin struct {
	mu        sync.Mutex
	frequency int
	duty      float64
	history   []float64
	err       error
}

// SetDuty implements PWMPin. A failed write is still recorded in the history.
func (p *FakePWMPin) SetDuty(duty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, duty)
	if p.err != nil {
		return p.err
	}
	p.duty = duty
	return nil
}

// Duty reports the last successfully written duty cycle.
func (p *FakePWMPin) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Frequency reports the frequency the channel was opened with.
func (p *FakePWMPin) Frequency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frequency
}

// History returns a copy of every attempted duty cycle write.
func (p *FakePWMPin) History() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.history...)
}

// FailWith makes subsequent writes return err.
func (p *FakePWMPin) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
