// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/regolith/pkg/packet"
)

var (
	driveRate time.Duration
	driveStep int
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Interactive TUI for driving the vehicle",
	Long: `Drive the vehicle from the keyboard via an interactive terminal UI.

The current motion command is re-sent at --rate and on every change, so
the vehicle keeps moving only while the operator link is alive. Macro keys
send a press followed by a release.

Features:
  - Drive and actuator control
  - Macro launch, cancel and emergency stop
  - Live vehicle status (locks, limits, running macro, aux sensor)
  - Event logging
  - Automatic reconnection on connection loss

Use --config to encode packets with the vehicle's scales and trigger map.`,
	RunE: runDrive,
}

func init() {
	rootCmd.AddCommand(driveCmd)
	driveCmd.Flags().DurationVar(&driveRate, "rate", 100*time.Millisecond, "Motion packet resend interval")
	driveCmd.Flags().IntVar(&driveStep, "step", 20, "Drive percent change per key press")
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	conn     Connection
	connInfo string
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// send writes one payload on the current connection
func (cm *connectionManager) send(payload []byte) error {
	conn := cm.getConn()
	if conn == nil {
		return ErrConnectionClosed
	}
	_, err := conn.Write(payload)
	return err
}

func runDrive(cmd *cobra.Command, args []string) error {
	if driveRate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}
	if driveStep <= 0 || driveStep > packet.MaxDrivePct {
		return fmt.Errorf("--step must be between 1 and %d", packet.MaxDrivePct)
	}

	opts, err := loadPacketOptions()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		done:     make(chan struct{}),
	}

	m := initialDriveModel(cm, connInfo, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	cm.p = p

	go cm.readerLoop()

	_, runErr := p.Run()
	close(cm.done) // Signal goroutines to stop

	// Leave the vehicle stopped
	_ = cm.send(packet.MustEncodeMotion(packet.MotionCommand{}, opts))
	cm.getConn().Close()

	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}

// readerLoop handles reading status frames with automatic reconnection
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.readFromConnection() {
			cm.p.Send(connectionLostMsg{})
			if !cm.reconnect() {
				return // Shutdown requested during reconnect
			}
		}
	}
}

// readFromConnection forwards status frames until the connection fails.
// Returns true if the connection was lost, false if shutdown was requested.
func (cm *connectionManager) readFromConnection() bool {
	conn := cm.getConn()
	if conn == nil {
		return true
	}
	for {
		status, err := conn.ReadStatus()
		if err != nil {
			select {
			case <-cm.done:
				return false
			default:
			}
			// A frame that does not decode is logged, the link stays up
			if errors.Is(err, ErrInvalidStatus) {
				cm.p.Send(statusErrorMsg{err: err})
				continue
			}
			return true
		}
		cm.p.Send(statusMsg{status: status, received: time.Now()})
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
