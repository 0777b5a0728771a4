// Copyright 2019 Richard Hartmann
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/RichiH/modbus_gateway/device"
)

const deviceFileExt = ".json"

// DeviceDir stores device records as <name>.json files in one directory.
type DeviceDir string

func (d DeviceDir) path(name string) string {
	return filepath.Join(string(d), name+deviceFileExt)
}

// Load parses every record in the directory. Records that fail to parse or
// whose name does not match their file name are all reported together.
func (d DeviceDir) Load() ([]*device.Device, error) {
	entries, err := os.ReadDir(string(d))
	if err != nil {
		return nil, fmt.Errorf("failed to read device directory: %w", err)
	}

	var (
		devices []*device.Device
		errs    error
	)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != deviceFileExt {
			continue
		}

		data, err := os.ReadFile(filepath.Join(string(d), e.Name()))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		dev, err := device.Parse(data)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%v: %w", e.Name(), err))
			continue
		}
		if want := strings.TrimSuffix(e.Name(), deviceFileExt); dev.Name != want {
			errs = multierror.Append(errs, fmt.Errorf("%v: expected device name '%v' but got '%v'", e.Name(), want, dev.Name))
			continue
		}
		devices = append(devices, dev)
	}
	if errs != nil {
		return nil, errs
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// Save writes the record of dev, replacing an existing one.
func (d DeviceDir) Save(dev *device.Device) error {
	data, err := json.MarshalIndent(dev, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode device '%v': %w", dev.Name, err)
	}
	if err := os.WriteFile(d.path(dev.Name), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write device '%v': %w", dev.Name, err)
	}
	return nil
}

// Remove deletes the record of the named device.
func (d DeviceDir) Remove(name string) error {
	if err := os.Remove(d.path(name)); err != nil {
		return fmt.Errorf("failed to remove device '%v': %w", name, err)
	}
	return nil
}

// Exists reports whether a record for the named device is on disk.
func (d DeviceDir) Exists(name string) bool {
	_, err := os.Stat(d.path(name))
	return !errors.Is(err, os.ErrNotExist)
}
