// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// NoMacro is the Status.Macro value while no program runs.
const NoMacro = -1

// ActuatorStatus is the reported state of one actuator.
type ActuatorStatus struct {
	Name       string `cbor:"0,keyasint" json:"name"`
	Motion     Motion `cbor:"1,keyasint" json:"motion"`
	CanExtend  bool   `cbor:"2,keyasint" json:"can_extend"`
	CanRetract bool   `cbor:"3,keyasint" json:"can_retract"`
}

// Status is the vehicle state frame sent to operators and telemetry sinks.
type Status struct {
	Timestamp       int64            `cbor:"0,keyasint" json:"timestamp_ms"`
	LeftPercent     int              `cbor:"1,keyasint" json:"left_percent"`
	RightPercent    int              `cbor:"2,keyasint" json:"right_percent"`
	Actuators       []ActuatorStatus `cbor:"3,keyasint" json:"actuators"`
	DriveLocked     bool             `cbor:"4,keyasint" json:"drive_locked"`
	ActuatorsLocked bool             `cbor:"5,keyasint" json:"actuators_locked"`
	Macro           int              `cbor:"6,keyasint" json:"macro"`
	Simulated       bool             `cbor:"7,keyasint" json:"simulated"`
	HasAux          bool             `cbor:"8,keyasint" json:"has_aux"`
	Aux             [2]float64       `cbor:"9,keyasint" json:"aux"`
	Counters        Counters         `cbor:"10,keyasint" json:"counters"`
}

// Time returns the frame timestamp.
func (s Status) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// RunningMacro returns the running macro code, if any.
func (s Status) RunningMacro() (MacroCode, bool) {
	if s.Macro < 0 {
		return 0, false
	}
	return MacroCode(s.Macro), true
}

// EncodeStatus encodes a status frame as CBOR.
func EncodeStatus(s Status) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode status")
	}
	return data, nil
}

// DecodeStatus decodes a CBOR status frame.
func DecodeStatus(data []byte) (Status, error) {
	var s Status
	if len(data) == 0 {
		return s, errors.New("empty status frame")
	}
	if err := cbor.Unmarshal(data, &s); err != nil {
		return s, errors.Wrap(err, "failed to decode status")
	}
	return s, nil
}
