// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/regolith/pkg/auxsensor"
	"github.com/Thermoquad/regolith/pkg/config"
	"github.com/Thermoquad/regolith/pkg/dispatch"
	"github.com/Thermoquad/regolith/pkg/macro"
	"github.com/Thermoquad/regolith/pkg/motor"
	"github.com/Thermoquad/regolith/pkg/telemetry"
	"github.com/Thermoquad/regolith/pkg/transport"
)

var (
	serveListen   string
	serveSimulate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vehicle controller",
	Long: `Run the motion controller on the vehicle.

Accepts operator WebSocket connections (default :9002) and applies every
payload in arrival order: motion packets drive the wheels and actuators,
macro packets start scripted programs, and anything else stops all motion.
Losing the operator link also stops all motion.

The controller falls back to simulation when the GPIO host cannot be
initialized; --simulate forces it. The aux sensor (--port or aux_sensor.port)
enables closed-loop carry positioning, and mqtt.broker enables status
publishing.

The server exits cleanly when an operator sends "stop-listening", or on
SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "Do not touch hardware")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if portName != "" {
		cfg.AuxSensor.Port = portName
		cfg.AuxSensor.Baud = baudRate
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	opts, err := cfg.PacketOptions()
	if err != nil {
		return err
	}

	logger, err := newLogger("regolith")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ctrl motor.Controller
	if serveSimulate {
		ctrl = motor.NewNull(cfg.MotorConfig())
	} else {
		ctrl = motor.Open(cfg.MotorConfig(), logger.Named("motor"))
	}
	defer ctrl.Close()
	logger.Infow("motor controller ready", "simulated", ctrl.Simulated())

	seqOpts := []macro.Option{macro.WithPrograms(macro.DefaultPrograms(cfg.CarryOptions()))}
	var dispOpts []dispatch.Option
	var sensor *auxsensor.Sensor
	if cfg.AuxSensor.Port != "" {
		sensor = auxsensor.New(
			auxsensor.SerialOpener(cfg.AuxSensor.Port, cfg.AuxSensor.Baud, cfg.AuxSensor.ReadTimeout),
			logger.Named("aux"))
		defer sensor.Close()
		seqOpts = append(seqOpts, macro.WithFeedback(sensor))
		dispOpts = append(dispOpts, dispatch.WithAux(sensor))
	}

	seq := macro.New(ctrl, logger.Named("macro"), seqOpts...)
	defer seq.Close()

	disp := dispatch.New(ctrl, seq, opts, logger.Named("dispatch"), dispOpts...)
	srv := transport.NewServer(transport.Config{
		Listen:         cfg.Listen,
		Username:       cfg.Auth.Username,
		Password:       config.Password(cfg.Auth.PasswordEnv),
		StatusInterval: cfg.StatusInterval,
	}, disp, nil, logger.Named("transport"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// The server ends the run: stop-listening or a signal.
	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx)
	})

	if hw, ok := ctrl.(*motor.Hardware); ok {
		g.Go(func() error {
			return hw.Run(gctx)
		})
	}

	if sensor != nil {
		g.Go(func() error {
			return sensor.Run(gctx, clock.New(), cfg.StatusInterval)
		})
	}

	if cfg.MQTT.Broker != "" {
		tc := cfg.TelemetryConfig()
		g.Go(func() error {
			client, err := telemetry.Connect(gctx, tc, logger.Named("telemetry"))
			if err != nil {
				if gctx.Err() == nil {
					logger.Warnw("telemetry disabled", "error", err)
				}
				return nil
			}
			defer client.Disconnect(250)
			return telemetry.NewPublisher(client, tc.Topic, tc.Interval, nil, logger.Named("telemetry")).Run(gctx, disp.Status)
		})
	}

	err = g.Wait()
	logger.Infow("controller stopped", "statistics", disp.Statistics().Snapshot())
	return err
}
