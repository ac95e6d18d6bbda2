// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/regolith/pkg/packet"
)

var monitorChanges bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display vehicle status frames in human-readable format",
	Long: `Continuously decode and display vehicle status frames as they arrive.

Each frame is printed on one line with its vehicle timestamp. With --changes,
only frames that differ from the previous one are shown (counters excluded).

The monitor only listens; it never moves the vehicle.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorChanges, "changes", false, "Only print frames whose state changed")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Regolith - Status Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	last := ""
	for {
		status, err := conn.ReadStatus()
		if err != nil {
			if errors.Is(err, ErrInvalidStatus) {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			// A read error means the connection is permanently closed
			log.Printf("Connection closed: %v", err)
			return nil
		}

		line := packet.FormatStatus(status)
		if monitorChanges && line == last {
			continue
		}
		last = line
		fmt.Printf("[%s] %s\n", status.Time().Format("15:04:05.000"), line)
	}
}
