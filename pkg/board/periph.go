// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// PeriphBoard drives GPIO lines through periph.io.
type PeriphBoard struct {
	mu   sync.Mutex
	pins map[string]gpio.PinIO
}

// NewPeriphBoard initialises the periph.io host drivers. It fails when the
// process has no access to GPIO hardware.
func NewPeriphBoard() (*PeriphBoard, error) {
	state, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize GPIO host")
	}
	if len(state.Loaded) == 0 {
		return nil, errors.New("no GPIO drivers loaded")
	}
	return &PeriphBoard{pins: map[string]gpio.PinIO{}}, nil
}

func (b *PeriphBoard) lookup(name string) (gpio.PinIO, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pin, ok := b.pins[name]; ok {
		return pin, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no GPIO pin found for %q", name)
	}
	b.pins[name] = pin
	return pin, nil
}

// OutputPinByName returns a digital output, initially driven low.
func (b *PeriphBoard) OutputPinByName(name string) (OutputPin, error) {
	pin, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "failed to configure %s as output", name)
	}
	return periphOutput{pin}, nil
}

// InputPinByName returns a digital input with the line's pull left unchanged.
func (b *PeriphBoard) InputPinByName(name string) (InputPin, error) {
	pin, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "failed to configure %s as input", name)
	}
	return periphInput{pin}, nil
}

// PWMPinByName returns a PWM channel at the given frequency.
func (b *PeriphBoard) PWMPinByName(name string, frequencyHz int) (PWMPin, error) {
	if frequencyHz <= 0 {
		return nil, errors.Errorf("invalid PWM frequency %d for %s", frequencyHz, name)
	}
	pin, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	return &periphPWM{pin: pin, frequency: physic.Hertz * physic.Frequency(frequencyHz)}, nil
}

// Close halts every pin handed out by this board.
func (b *PeriphBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for name, pin := range b.pins {
		if herr := pin.Halt(); herr != nil {
			err = multierr.Append(err, errors.Wrapf(herr, "failed to halt %s", name))
		}
	}
	b.pins = map[string]gpio.PinIO{}
	return err
}

type periphOutput struct {
	pin gpio.PinIO
}

func (p periphOutput) Set(high bool) error {
	l := gpio.Low
	if high {
		l = gpio.High
	}
	return p.pin.Out(l)
}

type periphInput struct {
	pin gpio.PinIO
}

func (p periphInput) Get() (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

type periphPWM struct {
	pin       gpio.PinIO
	frequency physic.Frequency
}

func (p *periphPWM) SetDuty(duty float64) error {
	if duty < 0 || duty > 1 {
		return errors.Errorf("duty cycle %.4f out of range", duty)
	}
	return p.pin.PWM(gpio.Duty(duty*float64(gpio.DutyMax)), p.frequency)
}
