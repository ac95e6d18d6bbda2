// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package macro

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/motor"
	"github.com/Thermoquad/regolith/pkg/packet"
)

// ErrNoProgram is returned by Lookup for codes without a program.
var ErrNoProgram = errors.New("no program for macro code")

// ErrPanicked wraps a recovered macro panic.
var ErrPanicked = errors.New("macro panicked")

// run is one execution of a program.
type run struct {
	code   packet.MacroCode
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// stepMu is held while a step is applied and while cancelling
	stepMu sync.Mutex
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// stop cancels the run and waits for it to release its locks.
func (r *run) stop() {
	r.stepMu.Lock()
	r.cancel()
	r.stepMu.Unlock()
	<-r.done
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithClock sets the clock used for step timing.
func WithClock(c clock.Clock) Option {
	return func(s *Sequencer) {
		s.clock = c
	}
}

// WithPrograms replaces the program table.
func WithPrograms(programs map[packet.MacroCode]Program) Option {
	return func(s *Sequencer) {
		s.programs = programs
	}
}

// WithFeedback sets the position sensor available to programs.
func WithFeedback(fb Feedback) Option {
	return func(s *Sequencer) {
		s.feedback = fb
	}
}

// Sequencer runs at most one macro at a time against a controller.
type Sequencer struct {
	ctrl     motor.Controller
	programs map[packet.MacroCode]Program
	feedback Feedback
	clock    clock.Clock
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *run
}

// New creates a sequencer with the default program table.
func New(ctrl motor.Controller, logger *zap.SugaredLogger, opts ...Option) *Sequencer {
	s := &Sequencer{
		ctrl:     ctrl,
		programs: DefaultPrograms(DefaultCarryOptions()),
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Lookup returns the program for a code.
func (s *Sequencer) Lookup(code packet.MacroCode) (Program, error) {
	p, ok := s.programs[code]
	if !ok {
		return Program{}, errors.Wrapf(ErrNoProgram, "%s", code)
	}
	return p, nil
}

// Request handles a macro press and reports whether it was accepted.
//
// EStop is always accepted: it cancels the running macro and stops all
// movement. Cancel is accepted only while a macro runs. Any other code
// starts its program if nothing runs or the running code is higher.
func (s *Sequencer) Request(code packet.MacroCode, aux byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch code {
	case packet.MacroEStop:
		if s.current != nil {
			s.current.stop()
		}
		s.ctrl.StopMovement()
		s.logger.Warnw("emergency stop")
		return true
	case packet.MacroCancel:
		if s.current == nil || s.current.finished() {
			s.logger.Debugw("cancel with no macro running")
			return false
		}
		s.logger.Infow("macro cancelled", "macro", s.current.code)
		s.current.stop()
		return true
	}

	prog, err := s.Lookup(code)
	if err != nil {
		s.logger.Infow("macro rejected", "macro", code, "error", err)
		return false
	}

	if s.current != nil && !s.current.finished() {
		if code >= s.current.code {
			s.logger.Infow("macro rejected by priority", "macro", code, "running", s.current.code)
			return false
		}
		s.logger.Infow("macro preempted", "macro", s.current.code, "by", code)
	}
	if s.current != nil {
		s.current.stop()
	}

	session, err := s.ctrl.Acquire(prog.Policy)
	if err != nil {
		s.logger.Warnw("macro could not lock controls", "macro", code, "error", err)
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	r := &run{code: code, cancel: cancel, done: make(chan struct{})}
	s.current = r
	e := &Executor{
		code:     code,
		aux:      aux,
		session:  session,
		clock:    s.clock,
		logger:   s.logger,
		feedback: s.feedback,
		mu:       &r.stepMu,
	}
	s.logger.Infow("macro started", "macro", code, "aux", aux)
	go s.execute(ctx, r, prog, session, e)
	return true
}

func (s *Sequencer) execute(ctx context.Context, r *run, prog Program, session *motor.Session, e *Executor) {
	defer close(r.done)
	defer r.cancel()
	defer session.Release()
	defer session.Stop()
	defer func() {
		if p := recover(); p != nil {
			r.err = errors.Wrapf(ErrPanicked, "%s: %v", r.code, p)
			s.logger.Errorw("macro panicked", "macro", r.code, "panic", p)
		}
	}()

	err := prog.Run(ctx, e)
	switch {
	case err == nil:
		s.logger.Infow("macro finished", "macro", r.code)
	case errors.Is(err, context.Canceled):
		s.logger.Infow("macro stopped early", "macro", r.code)
	default:
		s.logger.Errorw("macro failed", "macro", r.code, "error", err)
	}
	r.err = err
}

// Running returns the code of the running macro.
func (s *Sequencer) Running() (packet.MacroCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.finished() {
		return 0, false
	}
	return s.current.code, true
}

// Wait blocks until the current macro ends and returns its error.
// A cancelled or preempted macro returns context.Canceled.
func (s *Sequencer) Wait() error {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Close cancels the running macro and waits for it to end.
func (s *Sequencer) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.stop()
	}
	return nil
}

// Err returns the error of the last finished macro, or nil while one runs.
func (s *Sequencer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || !s.current.finished() {
		return nil
	}
	return s.current.err
}
