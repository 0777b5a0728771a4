// Copyright 2017 Alejandro Sirgo Rica
//
// This file is part of Modbus_exporter.
//
//     Modbus_exporter is free software: you can redistribute it and/or modify
//     it under the terms of the GNU General Public License as published by
//     the Free Software Foundation, either version 3 of the License, or
//     (at your option) any later version.
//
//     Modbus_exporter is distributed in the hope that it will be useful,
//     but WITHOUT ANY WARRANTY; without even the implied warranty of
//     MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//     GNU General Public License for more details.
//
//     You should have received a copy of the GNU General Public License
//     along with Modbus_exporter.  If not, see <http://www.gnu.org/licenses/>.

// Package config contains the gateway configuration and the on-disk store of
// device records.
package config

import (
	"fmt"
	"os"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/prometheus/common/model"
	yaml "gopkg.in/yaml.v2"
)

// Defaults applied to keys missing from the configuration file.
var (
	DefaultPollInterval  = model.Duration(time.Second)
	DefaultModbusTimeout = model.Duration(5 * time.Second)
)

// Config represents the configuration of the modbus gateway.
type Config struct {
	// DeviceDir holds one <name>.json record per device. Only device
	// records may live there.
	DeviceDir    string         `yaml:"device_dir"`
	PollInterval model.Duration `yaml:"poll_interval"`
	Modbus       ModbusConfig   `yaml:"modbus"`
}

// ModbusConfig holds the settings of the Modbus TCP sessions.
type ModbusConfig struct {
	// Timeout applies to connecting and to every request. Zero keeps the
	// library default.
	Timeout model.Duration `yaml:"timeout"`
}

// UnmarshalYAML sets the defaults before decoding.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Config
	*c = Config{
		PollInterval: DefaultPollInterval,
		Modbus:       ModbusConfig{Timeout: DefaultModbusTimeout},
	}
	return unmarshal((*plain)(c))
}

// validate semantically validates the given config. Every problem found is
// reported.
func (c *Config) validate() error {
	var err error

	if c.DeviceDir == "" {
		err = multierror.Append(err, fmt.Errorf("device_dir must be set"))
	}
	if c.PollInterval <= 0 {
		err = multierror.Append(err, fmt.Errorf("expected poll_interval to be > 0 but got '%v'", c.PollInterval))
	}
	if c.Modbus.Timeout < 0 {
		err = multierror.Append(err, fmt.Errorf("expected modbus timeout to be >= 0 but got '%v'", c.Modbus.Timeout))
	}

	return err
}

// Parse decodes and validates a configuration. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// LoadConfig unmarshals the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
