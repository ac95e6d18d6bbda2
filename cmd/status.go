// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/regolith/pkg/packet"
)

var statusTimeout int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Test connection by waiting for a vehicle status frame",
	Long: `Wait for a status frame from the vehicle until timeout.

This command connects to the vehicle's WebSocket and waits for one status
frame. It sends nothing, so it never moves the vehicle. Binary frames that do
not decode as status are counted and skipped.

Exit codes:
  0 - Status frame received before timeout
  1 - Timeout reached without receiving a status frame
  2 - Connection error

Useful for testing connectivity and credentials before driving.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusTimeout, "timeout", 10, "Timeout in seconds to wait for a status frame")
}

func runStatus(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Regolith - Status\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", statusTimeout)
	fmt.Printf("Waiting for status frame...\n\n")

	statusChan := make(chan packet.Status, 1)
	errChan := make(chan error, 1)

	go func() {
		invalidFrames := 0
		for {
			status, err := conn.ReadStatus()
			if errors.Is(err, ErrInvalidStatus) {
				invalidFrames++
				continue
			}
			if err != nil {
				errChan <- err
				return
			}
			if invalidFrames > 0 {
				fmt.Printf("(skipped %d invalid frames)\n", invalidFrames)
			}
			statusChan <- status
			return
		}
	}()

	select {
	case status := <-statusChan:
		fmt.Printf("SUCCESS: Received status frame\n")
		fmt.Printf("  Vehicle time: %s\n", status.Time().Format(time.RFC3339Nano))
		fmt.Printf("  State: %s\n", packet.FormatStatus(status))
		fmt.Printf("  Simulated: %t\n", status.Simulated)
		fmt.Printf("  Link uptime: %s\n\n", formatUptime(uint64(status.Counters.Uptime.Milliseconds())))
		fmt.Print(status.Counters.String())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(statusTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No status frame received within %d seconds\n", statusTimeout)
		os.Exit(1)
	}

	return nil
}
