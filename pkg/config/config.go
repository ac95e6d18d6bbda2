// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the regolith vehicle configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/regolith/pkg/macro"
	"github.com/Thermoquad/regolith/pkg/motor"
	"github.com/Thermoquad/regolith/pkg/packet"
	"github.com/Thermoquad/regolith/pkg/telemetry"
)

// DefaultListen is the address the operator link listens on.
const DefaultListen = ":9002"

// Config is the complete vehicle configuration.
type Config struct {
	Listen            string           `yaml:"listen"`
	Auth              AuthConfig       `yaml:"auth"`
	StatusInterval    time.Duration    `yaml:"status_interval"`
	Protocol          ProtocolConfig   `yaml:"protocol"`
	Drive             DriveConfig      `yaml:"drive"`
	Actuators         []ActuatorConfig `yaml:"actuators"`
	RelayPin          string           `yaml:"relay_pin"`
	LimitPollInterval time.Duration    `yaml:"limit_poll_interval"`
	Macros            MacroConfig      `yaml:"macros"`
	AuxSensor         AuxSensorConfig  `yaml:"aux_sensor"`
	MQTT              MQTTConfig       `yaml:"mqtt"`
}

// AuthConfig enables HTTP Basic auth on the operator link when Username is set.
// The password is read from the environment variable named by PasswordEnv.
type AuthConfig struct {
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// ProtocolConfig calibrates motion packet decoding.
type ProtocolConfig struct {
	LeftScale  float64     `yaml:"left_scale"`
	RightScale float64     `yaml:"right_scale"`
	Actuator1  TriggerPair `yaml:"actuator1"`
	Actuator2  TriggerPair `yaml:"actuator2"`
}

// TriggerPair names the controller buttons that extend and retract one actuator.
type TriggerPair struct {
	Extend  string `yaml:"extend"`
	Retract string `yaml:"retract"`
}

// DriveConfig describes the two PWM drive channels.
type DriveConfig struct {
	LeftPin     string        `yaml:"left_pin"`
	RightPin    string        `yaml:"right_pin"`
	FrequencyHz int           `yaml:"frequency_hz"`
	StopPulse   time.Duration `yaml:"stop_pulse"`
	RangePulse  time.Duration `yaml:"range_pulse"`
	Resolution  int           `yaml:"resolution"`
}

// ActuatorConfig describes one linear actuator. Limit pins are optional and
// must be given as a pair.
type ActuatorConfig struct {
	Name            string `yaml:"name"`
	ExtendPin       string `yaml:"extend_pin"`
	RetractPin      string `yaml:"retract_pin"`
	ExtendLimitPin  string `yaml:"extend_limit_pin"`
	RetractLimitPin string `yaml:"retract_limit_pin"`
	ActiveLow       bool   `yaml:"active_low"`
	LimitActiveLow  bool   `yaml:"limit_active_low"`
}

// MacroConfig tunes the carry position program.
type MacroConfig struct {
	CarryTarget    float64       `yaml:"carry_target"`
	CarryTolerance float64       `yaml:"carry_tolerance"`
	CarryTimeout   time.Duration `yaml:"carry_timeout"`
	CarryDuration  time.Duration `yaml:"carry_duration"`
}

// AuxSensorConfig enables the serial feedback sensor when Port is set.
type AuxSensorConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// MQTTConfig enables status publishing when Broker is set.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Topic       string        `yaml:"topic"`
	Username    string        `yaml:"username"`
	PasswordEnv string        `yaml:"password_env"`
	Interval    time.Duration `yaml:"interval"`
}

// Default returns the configuration of the reference vehicle.
func Default() *Config {
	return &Config{
		Listen:         DefaultListen,
		StatusInterval: 200 * time.Millisecond,
		Protocol: ProtocolConfig{
			LeftScale:  packet.DefaultScale,
			RightScale: packet.DefaultScale,
			Actuator1:  TriggerPair{Extend: "right_trigger", Retract: "left_bumper"},
			Actuator2:  TriggerPair{Extend: "left_trigger", Retract: "right_bumper"},
		},
		Drive: DriveConfig{
			LeftPin:     "33",
			RightPin:    "32",
			FrequencyHz: 150,
			StopPulse:   1500 * time.Microsecond,
			RangePulse:  500 * time.Microsecond,
			Resolution:  256,
		},
		Actuators: []ActuatorConfig{
			{Name: "actuator1", ExtendPin: "35", RetractPin: "36", ExtendLimitPin: "37", RetractLimitPin: "38"},
			{Name: "actuator2", ExtendPin: "28", RetractPin: "29", ExtendLimitPin: "23", RetractLimitPin: "26"},
		},
		RelayPin:          "24",
		LimitPollInterval: 5 * time.Millisecond,
		Macros: MacroConfig{
			CarryTarget:    512,
			CarryTolerance: 8,
			CarryTimeout:   10 * time.Second,
			CarryDuration:  3 * time.Second,
		},
		AuxSensor: AuxSensorConfig{
			Baud:        115200,
			ReadTimeout: 500 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			ClientID: "regolith",
			Topic:    "regolith/status",
			Interval: time.Second,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var err error

	if c.Listen == "" {
		err = multierr.Append(err, errors.New("listen address is required"))
	}
	if c.StatusInterval <= 0 {
		err = multierr.Append(err, errors.New("status_interval must be positive"))
	}
	if c.LimitPollInterval <= 0 {
		err = multierr.Append(err, errors.New("limit_poll_interval must be positive"))
	}
	if _, perr := c.PacketOptions(); perr != nil {
		err = multierr.Append(err, perr)
	}
	err = multierr.Append(err, c.Drive.validate())

	if len(c.Actuators) != packet.NumActuators {
		err = multierr.Append(err, fmt.Errorf("expected %d actuators, got %d", packet.NumActuators, len(c.Actuators)))
	}
	for i, a := range c.Actuators {
		err = multierr.Append(err, a.validate(i))
	}

	if c.Macros.CarryTolerance < 0 {
		err = multierr.Append(err, errors.New("macros.carry_tolerance must not be negative"))
	}
	if c.Macros.CarryTimeout <= 0 || c.Macros.CarryDuration <= 0 {
		err = multierr.Append(err, errors.New("macros.carry_timeout and macros.carry_duration must be positive"))
	}
	if c.AuxSensor.Port != "" && c.AuxSensor.Baud <= 0 {
		err = multierr.Append(err, errors.New("aux_sensor.baud must be positive"))
	}
	if c.MQTT.Broker != "" {
		if c.MQTT.Topic == "" {
			err = multierr.Append(err, errors.New("mqtt.topic is required when mqtt.broker is set"))
		}
		if c.MQTT.Interval <= 0 {
			err = multierr.Append(err, errors.New("mqtt.interval must be positive"))
		}
	}
	return err
}

func (d DriveConfig) validate() error {
	var err error
	if d.LeftPin == "" || d.RightPin == "" {
		err = multierr.Append(err, errors.New("drive.left_pin and drive.right_pin are required"))
	}
	if d.FrequencyHz <= 0 || d.Resolution <= 0 {
		err = multierr.Append(err, errors.New("drive.frequency_hz and drive.resolution must be positive"))
	}
	if d.StopPulse <= 0 || d.RangePulse <= 0 {
		err = multierr.Append(err, errors.New("drive.stop_pulse and drive.range_pulse must be positive"))
	}
	if d.FrequencyHz > 0 {
		period := time.Second / time.Duration(d.FrequencyHz)
		if d.StopPulse+d.RangePulse > period {
			err = multierr.Append(err, fmt.Errorf("drive pulse %v exceeds PWM period %v", d.StopPulse+d.RangePulse, period))
		}
	}
	return err
}

func (a ActuatorConfig) validate(index int) error {
	var err error
	if a.ExtendPin == "" || a.RetractPin == "" {
		err = multierr.Append(err, fmt.Errorf("actuators[%d]: extend_pin and retract_pin are required", index))
	}
	if (a.ExtendLimitPin == "") != (a.RetractLimitPin == "") {
		err = multierr.Append(err, fmt.Errorf("actuators[%d]: limit pins must be set together", index))
	}
	return err
}

// PacketOptions converts the protocol section into decoder options.
func (c *Config) PacketOptions() (packet.Options, error) {
	opts := packet.Options{
		LeftScale:  c.Protocol.LeftScale,
		RightScale: c.Protocol.RightScale,
	}
	var err error
	pairs := []TriggerPair{c.Protocol.Actuator1, c.Protocol.Actuator2}
	for i, pair := range pairs {
		extend, perr := packet.ParseButton(pair.Extend)
		err = multierr.Append(err, errors.Wrapf(perr, "protocol.actuator%d.extend", i+1))
		retract, perr := packet.ParseButton(pair.Retract)
		err = multierr.Append(err, errors.Wrapf(perr, "protocol.actuator%d.retract", i+1))
		opts.Triggers[i] = packet.ButtonPair{Extend: extend, Retract: retract}
	}
	if err == nil {
		err = opts.Validate()
	}
	return opts, err
}

// MotorConfig converts the hardware sections into motor controller settings.
func (c *Config) MotorConfig() motor.Config {
	mc := motor.Config{
		LeftPin:  c.Drive.LeftPin,
		RightPin: c.Drive.RightPin,
		Calibration: motor.NewCalibration(
			c.Drive.FrequencyHz, c.Drive.StopPulse, c.Drive.RangePulse, c.Drive.Resolution),
		RelayPin:          c.RelayPin,
		LimitPollInterval: c.LimitPollInterval,
	}
	for _, a := range c.Actuators {
		mc.Actuators = append(mc.Actuators, motor.ActuatorConfig{
			Name:            a.Name,
			ExtendPin:       a.ExtendPin,
			RetractPin:      a.RetractPin,
			ExtendLimitPin:  a.ExtendLimitPin,
			RetractLimitPin: a.RetractLimitPin,
			Polarity:        motor.Polarity{ActiveLow: a.ActiveLow, LimitActiveLow: a.LimitActiveLow},
		})
	}
	return mc
}

// CarryOptions converts the macro section into carry position settings.
func (c *Config) CarryOptions() macro.CarryOptions {
	return macro.CarryOptions{
		Target:    c.Macros.CarryTarget,
		Tolerance: c.Macros.CarryTolerance,
		Timeout:   c.Macros.CarryTimeout,
		Fallback:  c.Macros.CarryDuration,
	}
}

// TelemetryConfig converts the mqtt section into publisher settings.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Broker:   c.MQTT.Broker,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: Password(c.MQTT.PasswordEnv),
		Topic:    c.MQTT.Topic,
		Interval: c.MQTT.Interval,
	}
}

// Password reads an environment variable holding a secret. An empty name
// yields an empty password.
func Password(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
