// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor

import (
	"fmt"

	"github.com/Thermoquad/regolith/pkg/packet"
)

// Null is the Controller used when no hardware is available. Every motion
// operation returns false and nothing is written. Sessions can still be
// acquired so macros run their timing without effect.
type Null struct {
	names []string
	locks *ControlLock
}

// NewNull returns a Null controller reporting the configured actuator names.
func NewNull(cfg Config) *Null {
	n := &Null{locks: &ControlLock{}}
	for i, a := range cfg.Actuators {
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("actuator%d", i+1)
		}
		n.names = append(n.names, name)
	}
	return n
}

// SetDrivePercent implements Controller.
func (n *Null) SetDrivePercent(left, right int) bool { return false }

// SetActuators implements Controller.
func (n *Null) SetActuators(m1, m2 packet.Motion) bool { return false }

// StopMovement implements Controller.
func (n *Null) StopMovement() bool { return false }

// Acquire implements Controller.
func (n *Null) Acquire(p Policy) (*Session, error) {
	return newSession(n.locks, n, p)
}

// Simulated implements Controller.
func (n *Null) Simulated() bool { return true }

// Close implements Controller.
func (n *Null) Close() error { return nil }

// Status implements Controller.
func (n *Null) Status() packet.Status {
	s := packet.Status{
		DriveLocked:     n.locks.DriveLocked(),
		ActuatorsLocked: n.locks.ActuatorsLocked(),
		Macro:           packet.NoMacro,
		Simulated:       true,
	}
	for _, name := range n.names {
		s.Actuators = append(s.Actuators, packet.ActuatorStatus{Name: name})
	}
	return s
}

func (n *Null) driveUnlocked(left, right int) bool { return false }

func (n *Null) actuatorsUnlocked(motions []packet.Motion) bool { return false }
