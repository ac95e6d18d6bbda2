// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/config"
	"github.com/Thermoquad/regolith/pkg/logging"
	"github.com/Thermoquad/regolith/pkg/packet"
)

var (
	// Vehicle flags
	configPath string
	logLevel   string

	// Aux sensor flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "regolith",
	Short: "Network-driven motion controller for an excavation rover",
	Long: `Regolith - Vehicle controller and operator tools for a remotely driven
excavation rover.

The serve command runs on the vehicle: it accepts operator packets over a
WebSocket, drives the two PWM drive channels and the two linear actuators,
and runs scripted macros (dig, dump, carry). Every other command is an
operator or bench tool.

Connection modes (operator tools):
  WebSocket: --url ws://host:9002/ [--username user]
  Serial:    --port /dev/ttyACM0 [--baud 115200] (aux sensor only)

For WebSocket authentication, the password is read from the REGOLITH_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Vehicle configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Aux sensor serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// loadConfig reads --config, or the built-in defaults when it is unset.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// loadPacketOptions returns the packet options from --config
func loadPacketOptions() (packet.Options, error) {
	cfg, err := loadConfig()
	if err != nil {
		return packet.Options{}, err
	}
	return cfg.PacketOptions()
}

// newLogger builds the process logger at --log-level.
func newLogger(name string) (*zap.SugaredLogger, error) {
	return logging.NewLogger(name, logLevel)
}

// newStderrLogger is newLogger for commands that own stdout.
func newStderrLogger(name string) (*zap.SugaredLogger, error) {
	return logging.NewStderrLogger(name, logLevel)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
