// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package macro

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/Thermoquad/regolith/pkg/motor"
	"github.com/Thermoquad/regolith/pkg/packet"
)

// Feedback reads the auxiliary position sensor. Value one tracks actuator 1
// and increases as it extends.
type Feedback interface {
	ReadTwoValues() (float64, float64, error)
}

// Lock policies
var (
	ActuatorsOnly = motor.Policy{Actuators: true}
	FullControl   = motor.Policy{Drive: true, Actuators: true}
)

// fullStroke outlasts the longest actuator travel; limit switches end the
// motion earlier.
const fullStroke = 8 * time.Second

// feedbackPoll is the carry position sensor polling period.
const feedbackPoll = 20 * time.Millisecond

// CarryOptions tunes the carry position program.
type CarryOptions struct {
	// Target and Tolerance are in sensor units.
	Target    float64
	Tolerance float64
	// Timeout bounds the feedback loop.
	Timeout time.Duration
	// Fallback is how long actuator 1 extends from the bottom when no
	// sensor is configured.
	Fallback time.Duration
}

// DefaultCarryOptions returns the reference carry position.
func DefaultCarryOptions() CarryOptions {
	return CarryOptions{Target: 512, Tolerance: 8, Timeout: 10 * time.Second, Fallback: 3 * time.Second}
}

const (
	extend  = packet.MotionExtending
	retract = packet.MotionRetracting
)

// DefaultPrograms returns the vehicle's macro table. Turning codes have no
// program.
func DefaultPrograms(carry CarryOptions) map[packet.MacroCode]Program {
	return map[packet.MacroCode]Program{
		packet.MacroFullExtend: StepProgram(ActuatorsOnly,
			Step{Name: "extend", Act1: extend, Act2: extend, Duration: fullStroke},
		),
		packet.MacroFullRetract: StepProgram(ActuatorsOnly,
			Step{Name: "retract", Act1: retract, Act2: retract, Duration: fullStroke},
		),
		packet.MacroCarryPosition: carryProgram(carry),
		packet.MacroDumpCycle: StepProgram(FullControl,
			Step{Name: "raise", Act1: extend, Duration: 5 * time.Second},
			Step{Name: "tip", Act1: extend, Act2: extend, Duration: 3 * time.Second},
			Step{Name: "settle", Duration: time.Second},
			Step{Name: "untip", Act2: retract, Duration: 3 * time.Second},
			Step{Name: "lower", Act1: retract, Duration: 5 * time.Second},
		),
		packet.MacroDumpWithMovement: StepProgram(FullControl,
			Step{Name: "raise", Act1: extend, Duration: 5 * time.Second},
			Step{Name: "tip", Act2: extend, Duration: 2 * time.Second},
			Step{Name: "shake back", Act2: extend, Left: -30, Right: -30, Duration: 500 * time.Millisecond},
			Step{Name: "shake forward", Left: 30, Right: 30, Duration: 500 * time.Millisecond},
			Step{Name: "shake back", Left: -30, Right: -30, Duration: 500 * time.Millisecond},
			Step{Name: "untip", Act2: retract, Duration: 3 * time.Second},
			Step{Name: "lower", Act1: retract, Duration: 5 * time.Second},
		),
		packet.MacroDigCycle: StepProgram(FullControl,
			Step{Name: "lower", Act1: retract, Duration: 4 * time.Second},
			Step{Name: "scoop", Act2: extend, Left: 25, Right: 25, Duration: 3 * time.Second},
			Step{Name: "curl", Act2: retract, Duration: 2 * time.Second},
			Step{Name: "lift", Act1: extend, Duration: 4 * time.Second},
		),
	}
}

// PolicyFor returns the lock policy of a code in the default table.
func PolicyFor(code packet.MacroCode) (motor.Policy, bool) {
	p, ok := DefaultPrograms(DefaultCarryOptions())[code]
	return p.Policy, ok
}

func carryProgram(opts CarryOptions) Program {
	return Program{
		Policy: ActuatorsOnly,
		Run: func(ctx context.Context, e *Executor) error {
			fb := e.Feedback()
			if fb == nil {
				return e.Run(ctx,
					Step{Name: "bottom", Act1: retract, Duration: fullStroke},
					Step{Name: "raise", Act1: extend, Duration: opts.Fallback},
				)
			}
			return seekPosition(ctx, e, fb, opts)
		},
	}
}

// seekPosition moves actuator 1 until the sensor reads within tolerance of
// the target.
func seekPosition(ctx context.Context, e *Executor, fb Feedback, opts CarryOptions) error {
	deadline := e.Now().Add(opts.Timeout)
	for {
		value, _, err := fb.ReadTwoValues()
		if err != nil {
			return errors.Wrap(err, "carry position feedback")
		}

		diff := opts.Target - value
		if math.Abs(diff) <= opts.Tolerance {
			return e.Apply(ctx, Step{Name: "hold"})
		}
		motion := extend
		if diff < 0 {
			motion = retract
		}
		if err := e.Apply(ctx, Step{Name: "seek", Act1: motion}); err != nil {
			return err
		}

		if !e.Now().Before(deadline) {
			return errors.Errorf("carry position not reached in %v (at %.1f, target %.1f)", opts.Timeout, value, opts.Target)
		}
		if err := e.Sleep(ctx, feedbackPoll); err != nil {
			return err
		}
	}
}
