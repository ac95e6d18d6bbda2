// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/regolith/pkg/auxsensor"
)

var (
	sensorCount       int
	sensorReadTimeout time.Duration
	sensorFlush       bool
)

var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Read the aux serial sensor",
	Long: `Continuously read value pairs from the aux serial sensor.

The sensor sends one line per reading: two decimal values separated by a
tab. Each reading is printed with a timestamp; failed reads are printed and
the port is reopened on the next read, as the vehicle does.

Uses --port (default /dev/ttyACM0) and --baud.`,
	RunE: runSensor,
}

func init() {
	rootCmd.AddCommand(sensorCmd)
	sensorCmd.Flags().IntVarP(&sensorCount, "count", "n", 0, "Stop after this many readings (0 = forever)")
	sensorCmd.Flags().DurationVar(&sensorReadTimeout, "read-timeout", auxsensor.DefaultReadTimeout, "Serial read timeout")
	sensorCmd.Flags().BoolVar(&sensorFlush, "flush", true, "Discard buffered input before the first reading")
}

func runSensor(cmd *cobra.Command, args []string) error {
	port := portName
	if port == "" {
		port = auxsensor.DefaultPort
	}

	logger, err := newStderrLogger("sensor")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sensor := auxsensor.New(auxsensor.SerialOpener(port, baudRate, sensorReadTimeout), logger)
	defer sensor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Regolith - Aux Sensor\n")
	fmt.Printf("Port: %s @ %d baud\n", port, baudRate)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	readings, failures := 0, 0
	flushed := !sensorFlush
	for sensorCount == 0 || readings < sensorCount {
		select {
		case <-ctx.Done():
			fmt.Printf("\n%d readings, %d failures\n", readings, failures)
			return nil
		default:
		}

		v1, v2, err := sensor.ReadTwoValues()
		timestamp := time.Now().Format("15:04:05.000")
		if err != nil {
			failures++
			fmt.Printf("[%s] \033[1;31mERROR:\033[0m %v\n", timestamp, err)
			// Give a missing device time to come back
			time.Sleep(sensorReadTimeout)
			continue
		}
		if !flushed {
			// Drop the backlog buffered before we started reading
			flushed = true
			if err := sensor.Flush(); err != nil {
				logger.Warnw("flush failed", "error", err)
			}
			continue
		}
		readings++
		fmt.Printf("[%s] %10.2f %10.2f\n", timestamp, v1, v2)
	}

	fmt.Printf("\n%d readings, %d failures\n", readings, failures)
	return nil
}
