// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package macro runs scripted multi-step programs (dig, dump, carry) that
// take exclusive control of the drive and/or actuators for their duration.
//
// Lower macro codes have higher priority: a request preempts the running
// program only if its code is lower. Code 0 stops everything and code 1
// cancels the running program.
package macro

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/motor"
	"github.com/Thermoquad/regolith/pkg/packet"
)

// Program is a macro body and the subsystems it locks.
type Program struct {
	Policy motor.Policy
	Run    func(ctx context.Context, e *Executor) error
}

// Step holds the outputs for Duration. Drive fields apply only when the
// program locks the drive; actuator fields only when it locks the actuators.
type Step struct {
	Name        string
	Act1, Act2  packet.Motion
	Left, Right int
	Duration    time.Duration
}

// StepProgram builds a program that runs steps in order.
func StepProgram(policy motor.Policy, steps ...Step) Program {
	return Program{
		Policy: policy,
		Run: func(ctx context.Context, e *Executor) error {
			return e.Run(ctx, steps...)
		},
	}
}

// Executor carries out steps on behalf of one macro run.
type Executor struct {
	code     packet.MacroCode
	aux      byte
	session  *motor.Session
	clock    clock.Clock
	logger   *zap.SugaredLogger
	feedback Feedback

	// mu orders step application against cancellation
	mu *sync.Mutex
}

// Code returns the macro code being run.
func (e *Executor) Code() packet.MacroCode {
	return e.code
}

// Aux returns the aux byte of the request.
func (e *Executor) Aux() byte {
	return e.aux
}

// Feedback returns the position sensor, or nil when none is configured.
func (e *Executor) Feedback() Feedback {
	return e.feedback
}

// Now returns the executor clock's time.
func (e *Executor) Now() time.Time {
	return e.clock.Now()
}

// Run applies each step and waits for its duration.
func (e *Executor) Run(ctx context.Context, steps ...Step) error {
	for i, s := range steps {
		if err := e.Apply(ctx, s); err != nil {
			return err
		}
		e.logger.Debugw("macro step", "macro", e.code, "step", i+1, "name", s.Name, "duration", s.Duration)
		if err := e.Sleep(ctx, s.Duration); err != nil {
			return err
		}
	}
	return nil
}

// Apply sets the outputs of a step. It returns ctx.Err() without touching
// anything once the run has been cancelled.
func (e *Executor) Apply(ctx context.Context, s Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	policy := e.session.Policy()
	if policy.Actuators && !e.session.SetActuators(s.Act1, s.Act2) {
		e.logger.Debugw("macro actuator step not applied", "macro", e.code, "step", s.Name)
	}
	if policy.Drive && !e.session.SetDrivePercent(s.Left, s.Right) {
		e.logger.Debugw("macro drive step not applied", "macro", e.code, "step", s.Name)
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func (e *Executor) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := e.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) String() string {
	return fmt.Sprintf("%s(aux=%d)", e.code, e.aux)
}
