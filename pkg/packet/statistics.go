// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packet

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Counters is a snapshot of link statistics.
type Counters struct {
	Uptime         time.Duration `cbor:"0,keyasint" json:"uptime_ns"`
	TotalPackets   uint64        `cbor:"1,keyasint" json:"total_packets"`
	MotionPackets  uint64        `cbor:"2,keyasint" json:"motion_packets"`
	MacroPackets   uint64        `cbor:"3,keyasint" json:"macro_packets"`
	InvalidPackets uint64        `cbor:"4,keyasint" json:"invalid_packets"`
	Anomalies      uint64        `cbor:"5,keyasint" json:"anomalies"`
	Refused        uint64        `cbor:"6,keyasint" json:"refused"`
	MacrosAccepted uint64        `cbor:"7,keyasint" json:"macros_accepted"`
	MacrosRejected uint64        `cbor:"8,keyasint" json:"macros_rejected"`
	Disconnects    uint64        `cbor:"9,keyasint" json:"disconnects"`
	FailSafeStops  uint64        `cbor:"10,keyasint" json:"fail_safe_stops"`
	PacketRate     float64       `cbor:"11,keyasint" json:"packet_rate"`
	InvalidRate    float64       `cbor:"12,keyasint" json:"invalid_rate"`
}

// Statistics tracks operator link traffic. It is safe for concurrent use.
type Statistics struct {
	mu        sync.Mutex
	startTime time.Time
	c         Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Update counts a decoded payload and its anomalies.
func (s *Statistics) Update(cmd Command, validationErrors []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.TotalPackets++
	switch cmd.(type) {
	case MotionCommand:
		s.c.MotionPackets++
	case MacroCommand:
		s.c.MacroPackets++
	case Invalid:
		s.c.InvalidPackets++
		return
	}
	s.c.Anomalies += uint64(len(validationErrors))
}

// RecordRefused counts a manual command the controller did not apply.
func (s *Statistics) RecordRefused() {
	s.mu.Lock()
	s.c.Refused++
	s.mu.Unlock()
}

// RecordMacro counts a macro request.
func (s *Statistics) RecordMacro(accepted bool) {
	s.mu.Lock()
	if accepted {
		s.c.MacrosAccepted++
	} else {
		s.c.MacrosRejected++
	}
	s.mu.Unlock()
}

// RecordDisconnect counts an operator disconnect.
func (s *Statistics) RecordDisconnect() {
	s.mu.Lock()
	s.c.Disconnects++
	s.mu.Unlock()
}

// RecordFailSafe counts a stop triggered by an invalid payload.
func (s *Statistics) RecordFailSafe() {
	s.mu.Lock()
	s.c.FailSafeStops++
	s.mu.Unlock()
}

// Snapshot returns the counters with rates calculated.
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.c
	c.Uptime = time.Since(s.startTime)
	if secs := c.Uptime.Seconds(); secs > 0 {
		c.PacketRate = float64(c.TotalPackets) / secs
		c.InvalidRate = float64(c.InvalidPackets) / secs
	}
	return c
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
	s.c = Counters{}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

// String returns a formatted statistics summary
func (c Counters) String() string {
	var validPercent, invalidPercent float64
	if c.TotalPackets > 0 {
		validPercent = float64(c.TotalPackets-c.InvalidPackets) * 100.0 / float64(c.TotalPackets)
		invalidPercent = float64(c.InvalidPackets) * 100.0 / float64(c.TotalPackets)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", c.Uptime.Seconds())
	fmt.Fprintf(&b, "Total Packets:   %8d\n", c.TotalPackets)
	fmt.Fprintf(&b, "Valid Packets:   %8d (%.1f%%)\n", c.TotalPackets-c.InvalidPackets, validPercent)
	fmt.Fprintf(&b, "  Motion:          %6d\n", c.MotionPackets)
	fmt.Fprintf(&b, "  Macro:           %6d\n", c.MacroPackets)
	if c.InvalidPackets > 0 {
		fmt.Fprintf(&b, "Invalid Packets: %8d (%.1f%%)\n", c.InvalidPackets, invalidPercent)
	}
	if c.Anomalies > 0 {
		fmt.Fprintf(&b, "Anomalies:       %8d\n", c.Anomalies)
	}
	if c.Refused > 0 {
		fmt.Fprintf(&b, "Refused Cmds:    %8d\n", c.Refused)
	}
	if c.MacrosAccepted+c.MacrosRejected > 0 {
		fmt.Fprintf(&b, "Macros:          %8d accepted, %d rejected\n", c.MacrosAccepted, c.MacrosRejected)
	}
	if c.FailSafeStops > 0 {
		fmt.Fprintf(&b, "Fail-safe Stops: %8d\n", c.FailSafeStops)
	}
	if c.Disconnects > 0 {
		fmt.Fprintf(&b, "Disconnects:     %8d\n", c.Disconnects)
	}
	fmt.Fprintf(&b, "Packet Rate:     %8.1f pkts/sec\n", c.PacketRate)
	fmt.Fprintf(&b, "Invalid Rate:    %8.1f pkts/sec\n", c.InvalidRate)
	b.WriteString("================================\n")
	return b.String()
}
