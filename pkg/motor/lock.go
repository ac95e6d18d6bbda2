// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/Thermoquad/regolith/pkg/packet"
)

// ErrLocked is returned when a subsystem is already held by a session.
var ErrLocked = errors.New("subsystem already locked")

// Policy selects the subsystems a session takes from manual control.
type Policy struct {
	Drive     bool
	Actuators bool
}

// ControlLock holds the drive and actuator lock flags.
type ControlLock struct {
	mu        sync.Mutex
	drive     bool
	actuators bool
}

// DriveLocked reports whether manual drive commands are refused.
func (l *ControlLock) DriveLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drive
}

// ActuatorsLocked reports whether manual actuator commands are refused.
func (l *ControlLock) ActuatorsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.actuators
}

func (l *ControlLock) acquire(p Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if (p.Drive && l.drive) || (p.Actuators && l.actuators) {
		return ErrLocked
	}
	l.drive = l.drive || p.Drive
	l.actuators = l.actuators || p.Actuators
	return nil
}

func (l *ControlLock) release(p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Drive {
		l.drive = false
	}
	if p.Actuators {
		l.actuators = false
	}
}

// driver is the lock-bypassing access a session uses.
type driver interface {
	driveUnlocked(left, right int) bool
	actuatorsUnlocked(motions []packet.Motion) bool
}

// Session is exclusive control of the subsystems named by its policy.
// It must be released; Release is safe to call more than once.
type Session struct {
	lock     *ControlLock
	policy   Policy
	drv      driver
	released *atomic.Bool
}

func newSession(lock *ControlLock, drv driver, p Policy) (*Session, error) {
	if err := lock.acquire(p); err != nil {
		return nil, err
	}
	return &Session{lock: lock, policy: p, drv: drv, released: atomic.NewBool(false)}, nil
}

// Policy returns the subsystems the session holds.
func (s *Session) Policy() Policy {
	return s.policy
}

// SetDrivePercent drives both sides. It returns false if the session does
// not hold the drive or was released.
func (s *Session) SetDrivePercent(left, right int) bool {
	if !s.policy.Drive || s.released.Load() {
		return false
	}
	return s.drv.driveUnlocked(left, right)
}

// SetActuators moves the actuators. It returns false if the session does
// not hold the actuators, was released, or a motion was refused at a limit.
func (s *Session) SetActuators(m1, m2 packet.Motion) bool {
	if !s.policy.Actuators || s.released.Load() {
		return false
	}
	return s.drv.actuatorsUnlocked([]packet.Motion{m1, m2})
}

// Stop halts every subsystem the session holds.
func (s *Session) Stop() {
	if s.released.Load() {
		return
	}
	if s.policy.Drive {
		s.drv.driveUnlocked(0, 0)
	}
	if s.policy.Actuators {
		s.drv.actuatorsUnlocked([]packet.Motion{packet.MotionNone, packet.MotionNone})
	}
}

// Release returns the held subsystems to manual control.
func (s *Session) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.lock.release(s.policy)
	}
}
