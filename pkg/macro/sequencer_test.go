// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package macro

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Thermoquad/regolith/pkg/board"
	"github.com/Thermoquad/regolith/pkg/motor"
	"github.com/Thermoquad/regolith/pkg/packet"
)

const stopDuty = float64(57) / 256

func testMotorConfig() motor.Config {
	return motor.Config{
		LeftPin:     "33",
		RightPin:    "32",
		Calibration: motor.DefaultCalibration(),
		Actuators: []motor.ActuatorConfig{
			{Name: "actuator1", ExtendPin: "35", RetractPin: "36", ExtendLimitPin: "37", RetractLimitPin: "38"},
			{Name: "actuator2", ExtendPin: "28", RetractPin: "29"},
		},
		RelayPin: "24",
	}
}

type fixture struct {
	hw   *motor.Hardware
	b    *board.FakeBoard
	mock *clock.Mock
	seq  *Sequencer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	b := board.NewFakeBoard()
	hw, err := motor.New(testMotorConfig(), b, logger)
	test.That(t, err, test.ShouldBeNil)

	mock := clock.NewMock()
	seq := New(hw, logger, append([]Option{WithClock(mock)}, opts...)...)
	t.Cleanup(func() {
		seq.Close()
	})
	return &fixture{hw: hw, b: b, mock: mock, seq: seq}
}

// waitFor advances the mock clock by step until cond holds.
func waitFor(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		mock.Add(step)
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) high(pin string) func() bool {
	return func() bool { return f.b.Output(pin).High() }
}

func (f *fixture) idle() bool {
	_, running := f.seq.Running()
	return !running
}

func testPrograms() map[packet.MacroCode]Program {
	return map[packet.MacroCode]Program{
		packet.MacroFullRetract: StepProgram(ActuatorsOnly,
			Step{Name: "retract", Act1: packet.MotionRetracting, Duration: time.Hour},
		),
		packet.MacroDumpCycle: StepProgram(FullControl,
			Step{Name: "raise", Act1: packet.MotionExtending, Left: 50, Right: 50, Duration: time.Hour},
			Step{Name: "tip", Act2: packet.MotionExtending, Duration: time.Hour},
		),
		packet.MacroDigCycle: StepProgram(FullControl,
			Step{Name: "lower", Act1: packet.MotionRetracting, Duration: time.Second},
		),
	}
}

// ============================================================
// Running programs
// ============================================================

func TestRequestRunsProgramAndReleasesLocks(t *testing.T) {
	f := newFixture(t, WithPrograms(testPrograms()))

	test.That(t, f.seq.Request(packet.MacroDumpCycle, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("35"))

	code, running := f.seq.Running()
	test.That(t, running, test.ShouldBeTrue)
	test.That(t, code, test.ShouldEqual, packet.MacroDumpCycle)
	test.That(t, f.hw.Locks().DriveLocked(), test.ShouldBeTrue)
	test.That(t, f.hw.Locks().ActuatorsLocked(), test.ShouldBeTrue)
	test.That(t, f.b.PWM("33").Duty(), test.ShouldAlmostEqual, float64(57+19*50/100)/256)
	test.That(t, f.hw.SetDrivePercent(0, 0), test.ShouldBeFalse)

	waitFor(t, f.mock, 10*time.Minute, f.high("28"))
	test.That(t, f.b.Output("35").High(), test.ShouldBeFalse)

	waitFor(t, f.mock, 10*time.Minute, f.idle)
	test.That(t, f.seq.Wait(), test.ShouldBeNil)
	test.That(t, f.hw.Locks().DriveLocked(), test.ShouldBeFalse)
	test.That(t, f.hw.Locks().ActuatorsLocked(), test.ShouldBeFalse)
	test.That(t, f.b.Output("28").High(), test.ShouldBeFalse)
	test.That(t, f.b.PWM("33").Duty(), test.ShouldAlmostEqual, stopDuty)
	test.That(t, f.hw.SetDrivePercent(10, 10), test.ShouldBeTrue)
}

func TestActuatorOnlyMacroLeavesDriveManual(t *testing.T) {
	f := newFixture(t, WithPrograms(testPrograms()))

	test.That(t, f.seq.Request(packet.MacroFullRetract, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("36"))

	test.That(t, f.hw.Locks().DriveLocked(), test.ShouldBeFalse)
	test.That(t, f.hw.SetDrivePercent(20, 20), test.ShouldBeTrue)
	test.That(t, f.hw.SetActuators(packet.MotionNone, packet.MotionNone), test.ShouldBeFalse)
}

func TestRequestWithoutProgramRejected(t *testing.T) {
	f := newFixture(t)

	for _, code := range []packet.MacroCode{packet.MacroTurnRight45, packet.MacroTurnLeft45, packet.MacroTurn, 12, 22} {
		test.That(t, f.seq.Request(code, 0), test.ShouldBeFalse)
	}
	_, err := f.seq.Lookup(packet.MacroTurn)
	test.That(t, errors.Is(err, ErrNoProgram), test.ShouldBeTrue)
	test.That(t, f.idle(), test.ShouldBeTrue)
}

// ============================================================
// Priority
// ============================================================

func TestPriorityPreemptAndReject(t *testing.T) {
	f := newFixture(t, WithPrograms(testPrograms()))

	test.That(t, f.seq.Request(packet.MacroDumpCycle, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("35"))

	// equal and lower priority codes are rejected
	test.That(t, f.seq.Request(packet.MacroDumpCycle, 0), test.ShouldBeFalse)
	test.That(t, f.seq.Request(packet.MacroDigCycle, 0), test.ShouldBeFalse)
	code, _ := f.seq.Running()
	test.That(t, code, test.ShouldEqual, packet.MacroDumpCycle)

	test.That(t, f.seq.Request(packet.MacroFullRetract, 0), test.ShouldBeTrue)
	code, running := f.seq.Running()
	test.That(t, running, test.ShouldBeTrue)
	test.That(t, code, test.ShouldEqual, packet.MacroFullRetract)
	waitFor(t, f.mock, 0, f.high("36"))

	// the preempted program released the drive and never reached its second step
	test.That(t, f.hw.Locks().DriveLocked(), test.ShouldBeFalse)
	test.That(t, f.b.PWM("33").Duty(), test.ShouldAlmostEqual, stopDuty)
	waitFor(t, f.mock, 10*time.Minute, f.idle)
	test.That(t, f.b.Output("28").High(), test.ShouldBeFalse)
}

// ============================================================
// Estop and cancel
// ============================================================

func TestEStop(t *testing.T) {
	f := newFixture(t, WithPrograms(testPrograms()))

	test.That(t, f.seq.Request(packet.MacroEStop, 0), test.ShouldBeTrue)

	test.That(t, f.hw.SetDrivePercent(80, 80), test.ShouldBeTrue)
	test.That(t, f.seq.Request(packet.MacroDumpCycle, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("35"))

	test.That(t, f.seq.Request(packet.MacroEStop, 0), test.ShouldBeTrue)
	test.That(t, f.idle(), test.ShouldBeTrue)
	test.That(t, f.hw.Locks().DriveLocked(), test.ShouldBeFalse)
	test.That(t, f.hw.Locks().ActuatorsLocked(), test.ShouldBeFalse)
	test.That(t, f.b.Output("35").High(), test.ShouldBeFalse)
	test.That(t, f.b.Output("24").High(), test.ShouldBeFalse)
	test.That(t, f.b.PWM("33").Duty(), test.ShouldAlmostEqual, stopDuty)
	test.That(t, errors.Is(f.seq.Wait(), context.Canceled), test.ShouldBeTrue)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, WithPrograms(testPrograms()))

	test.That(t, f.seq.Request(packet.MacroCancel, 0), test.ShouldBeFalse)

	test.That(t, f.seq.Request(packet.MacroFullRetract, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("36"))
	test.That(t, f.seq.Request(packet.MacroCancel, 0), test.ShouldBeTrue)
	test.That(t, f.idle(), test.ShouldBeTrue)
	test.That(t, f.b.Output("36").High(), test.ShouldBeFalse)
	test.That(t, f.hw.Locks().ActuatorsLocked(), test.ShouldBeFalse)

	test.That(t, f.seq.Request(packet.MacroCancel, 0), test.ShouldBeFalse)
}

// ============================================================
// Failures
// ============================================================

func TestFailureReleasesLocks(t *testing.T) {
	boom := errors.New("boom")
	programs := map[packet.MacroCode]Program{
		packet.MacroDumpCycle: {
			Policy: FullControl,
			Run: func(ctx context.Context, e *Executor) error {
				if err := e.Apply(ctx, Step{Act1: packet.MotionExtending, Left: 40, Right: 40}); err != nil {
					return err
				}
				return boom
			},
		},
		packet.MacroDigCycle: {
			Policy: FullControl,
			Run: func(ctx context.Context, e *Executor) error {
				if err := e.Apply(ctx, Step{Act1: packet.MotionExtending, Left: 40, Right: 40}); err != nil {
					return err
				}
				panic("hardware fault")
			},
		},
	}

	for _, tc := range []struct {
		name string
		code packet.MacroCode
		want error
	}{
		{"error", packet.MacroDumpCycle, boom},
		{"panic", packet.MacroDigCycle, ErrPanicked},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, WithPrograms(programs))

			test.That(t, f.seq.Request(tc.code, 0), test.ShouldBeTrue)
			err := f.seq.Wait()
			test.That(t, errors.Is(err, tc.want), test.ShouldBeTrue)

			test.That(t, f.idle(), test.ShouldBeTrue)
			test.That(t, f.hw.Locks().DriveLocked(), test.ShouldBeFalse)
			test.That(t, f.hw.Locks().ActuatorsLocked(), test.ShouldBeFalse)
			test.That(t, f.b.Output("35").High(), test.ShouldBeFalse)
			test.That(t, f.b.PWM("33").Duty(), test.ShouldAlmostEqual, stopDuty)
		})
	}
}

func TestCloseCancelsRunningMacro(t *testing.T) {
	f := newFixture(t, WithPrograms(testPrograms()))

	test.That(t, f.seq.Request(packet.MacroDumpCycle, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("35"))
	test.That(t, f.seq.Close(), test.ShouldBeNil)
	test.That(t, f.idle(), test.ShouldBeTrue)
	test.That(t, f.hw.Locks().DriveLocked(), test.ShouldBeFalse)
}

func TestNullControllerRunsMacros(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	mock := clock.NewMock()
	seq := New(motor.NewNull(testMotorConfig()), logger, WithClock(mock), WithPrograms(testPrograms()))
	defer seq.Close()

	test.That(t, seq.Request(packet.MacroDigCycle, 0), test.ShouldBeTrue)
	waitFor(t, mock, 100*time.Millisecond, func() bool {
		_, running := seq.Running()
		return !running
	})
	test.That(t, seq.Wait(), test.ShouldBeNil)
}

// ============================================================
// Carry position
// ============================================================

type fakeFeedback struct {
	mu    sync.Mutex
	value float64
	err   error
}

func (f *fakeFeedback) set(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

func (f *fakeFeedback) ReadTwoValues() (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, 0, f.err
}

func TestCarryPositionFeedback(t *testing.T) {
	fb := &fakeFeedback{value: 300}
	f := newFixture(t, WithFeedback(fb))

	test.That(t, f.seq.Request(packet.MacroCarryPosition, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("35"))

	fb.set(700)
	waitFor(t, f.mock, feedbackPoll, f.high("36"))
	test.That(t, f.b.Output("35").High(), test.ShouldBeFalse)

	fb.set(515)
	waitFor(t, f.mock, feedbackPoll, f.idle)
	test.That(t, f.seq.Wait(), test.ShouldBeNil)
	test.That(t, f.b.Output("35").High(), test.ShouldBeFalse)
	test.That(t, f.b.Output("36").High(), test.ShouldBeFalse)
}

func TestCarryPositionTimeout(t *testing.T) {
	fb := &fakeFeedback{value: 0}
	opts := DefaultCarryOptions()
	opts.Timeout = time.Second
	f := newFixture(t, WithFeedback(fb), WithPrograms(DefaultPrograms(opts)))

	test.That(t, f.seq.Request(packet.MacroCarryPosition, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 100*time.Millisecond, f.idle)
	err := f.seq.Wait()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not reached")
	test.That(t, f.hw.Locks().ActuatorsLocked(), test.ShouldBeFalse)
}

func TestCarryPositionSensorError(t *testing.T) {
	fb := &fakeFeedback{err: errors.New("port closed")}
	f := newFixture(t, WithFeedback(fb))

	test.That(t, f.seq.Request(packet.MacroCarryPosition, 0), test.ShouldBeTrue)
	err := f.seq.Wait()
	test.That(t, err.Error(), test.ShouldContainSubstring, "port closed")
}

func TestCarryPositionWithoutSensor(t *testing.T) {
	f := newFixture(t)

	test.That(t, f.seq.Request(packet.MacroCarryPosition, 0), test.ShouldBeTrue)
	waitFor(t, f.mock, 0, f.high("36"))
	waitFor(t, f.mock, time.Second, f.high("35"))
	waitFor(t, f.mock, time.Second, f.idle)
	test.That(t, f.seq.Wait(), test.ShouldBeNil)
}

func TestPolicyFor(t *testing.T) {
	p, ok := PolicyFor(packet.MacroFullExtend)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p, test.ShouldResemble, ActuatorsOnly)

	p, ok = PolicyFor(packet.MacroDigCycle)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p, test.ShouldResemble, FullControl)

	_, ok = PolicyFor(packet.MacroTurn)
	test.That(t, ok, test.ShouldBeFalse)
}
