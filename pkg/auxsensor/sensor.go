// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package auxsensor reads the auxiliary microcontroller that reports two
// tab separated values per line over a serial port.
package auxsensor

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Defaults for the auxiliary board
const (
	DefaultPort        = "/dev/ttyACM0"
	DefaultBaud        = 115200
	DefaultReadTimeout = 500 * time.Millisecond

	// MaxLineLength bounds one "v1\tv2\n" line, newline included.
	MaxLineLength = 35
)

// ErrTimeout is returned when no complete line arrives within the read timeout.
var ErrTimeout = errors.New("aux sensor read timed out")

// Port is the serial port as used by the sensor.
type Port interface {
	io.ReadCloser
	ResetInputBuffer() error
}

// Opener opens the sensor port.
type Opener func() (Port, error)

// SerialOpener opens a serial port with 8N1 framing and a read timeout.
func SerialOpener(portName string, baudRate int, readTimeout time.Duration) Opener {
	return func() (Port, error) {
		mode := &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open serial port %s", portName)
		}
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, errors.Wrap(err, "failed to set read timeout")
		}
		return port, nil
	}
}

// Sensor reads value pairs, reopening the port after any failure other
// than a read timeout.
// It is safe for concurrent use.
type Sensor struct {
	open   Opener
	logger *zap.SugaredLogger

	mu      sync.Mutex
	port    Port
	pending []byte
	last    [2]float64
	hasLast bool
}

// New creates a sensor. The port is opened on the first read.
func New(open Opener, logger *zap.SugaredLogger) *Sensor {
	return &Sensor{open: open, logger: logger}
}

// ReadTwoValues reads the next line and parses its two values.
func (s *Sensor) ReadTwoValues() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		port, err := s.open()
		if err != nil {
			return 0, 0, errors.Wrap(err, "aux sensor unavailable")
		}
		s.port = port
		s.pending = s.pending[:0]
		s.logger.Infow("aux sensor connected")
	}

	line, err := s.readLine()
	if errors.Is(err, ErrTimeout) {
		// partial input stays buffered for the next read
		return 0, 0, err
	}
	if err != nil {
		s.disconnect(err)
		return 0, 0, err
	}
	v1, v2, err := ParseLine(line)
	if err != nil {
		s.disconnect(err)
		return 0, 0, err
	}
	s.last = [2]float64{v1, v2}
	s.hasLast = true
	return v1, v2, nil
}

func (s *Sensor) readLine() (string, error) {
	var buf [MaxLineLength]byte
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(s.pending[:i])
			s.pending = s.pending[i+1:]
			if i+1 > MaxLineLength {
				return "", errors.Errorf("aux sensor line exceeds %d bytes", MaxLineLength)
			}
			return line, nil
		}
		if len(s.pending) >= MaxLineLength {
			return "", errors.Errorf("aux sensor line exceeds %d bytes", MaxLineLength)
		}
		n, err := s.port.Read(buf[:])
		s.pending = append(s.pending, buf[:n]...)
		if err != nil {
			return "", errors.Wrap(err, "aux sensor read failed")
		}
		if n == 0 {
			return "", ErrTimeout
		}
	}
}

func (s *Sensor) disconnect(cause error) {
	s.logger.Warnw("aux sensor read failed, closing port", "error", cause)
	if err := s.port.Close(); err != nil {
		s.logger.Debugw("aux sensor close failed", "error", err)
	}
	s.port = nil
	s.pending = nil
}

// Last returns the most recent successful reading.
func (s *Sensor) Last() (float64, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[0], s.last[1], s.hasLast
}

// Flush discards buffered input so the next read is fresh.
func (s *Sensor) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	if s.port == nil {
		return nil
	}
	return s.port.ResetInputBuffer()
}

// Run reads the sensor every interval until ctx is done, keeping Last current.
func (s *Sensor) Run(ctx context.Context, c clock.Clock, interval time.Duration) error {
	ticker := c.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		// failures are logged on disconnect
		_, _, _ = s.ReadTwoValues()
	}
}

// Close closes the port.
func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// ParseLine parses "v1\tv2" with optional trailing whitespace.
func ParseLine(line string) (float64, float64, error) {
	fields := strings.Split(strings.TrimSpace(line), "\t")
	if len(fields) != 2 {
		return 0, 0, errors.Errorf("expected 2 tab separated values, got %q", line)
	}
	v1, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid first value in %q", line)
	}
	v2, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid second value in %q", line)
	}
	return v1, v2, nil
}
