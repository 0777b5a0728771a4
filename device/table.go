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

package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDeviceNotFound is returned by Table.Get for unknown names.
var ErrDeviceNotFound = errors.New("device not found")

// Table holds every known device keyed by name. The lock is only ever held
// for a single map operation; devices handed out are copies.
type Table struct {
	mtx     sync.RWMutex
	devices map[string]*Device
}

// NewTable returns a table filled with the given devices.
func NewTable(devices ...*Device) *Table {
	t := &Table{devices: make(map[string]*Device, len(devices))}
	for _, d := range devices {
		t.devices[d.Name] = d
	}
	return t
}

// Add inserts or replaces the device stored under name.
func (t *Table) Add(name string, d *Device) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.devices[name] = d
}

// Remove deletes the device stored under name, if any.
func (t *Table) Remove(name string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	delete(t.devices, name)
}

// Get returns a copy of the device stored under name.
func (t *Table) Get(name string) (*Device, error) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	d, ok := t.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return d.Clone(), nil
}

// Has reports whether a device is stored under name.
func (t *Table) Has(name string) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	_, ok := t.devices[name]
	return ok
}

// Names returns the sorted device names.
func (t *Table) Names() []string {
	t.mtx.RLock()
	names := make([]string, 0, len(t.devices))
	for name := range t.devices {
		names = append(names, name)
	}
	t.mtx.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of devices.
func (t *Table) Len() int {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return len(t.devices)
}

// Snapshot returns copies of every device. The order is not meaningful.
func (t *Table) Snapshot() []*Device {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	devices := make([]*Device, 0, len(t.devices))
	for _, d := range t.devices {
		devices = append(devices, d.Clone())
	}
	return devices
}

// SetRegisterValue stores the last raw word read for a register. It does
// nothing if the device or the register is gone.
func (t *Table) SetRegisterValue(device, register string, raw uint16) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	d, ok := t.devices[device]
	if !ok {
		return
	}
	for i := range d.Registers {
		if d.Registers[i].Name == register {
			d.Registers[i].Value = raw
			return
		}
	}
}

// SetCoilValue stores the last state read for a coil. It does nothing if the
// device or the coil is gone.
func (t *Table) SetCoilValue(device, coil string, v bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	d, ok := t.devices[device]
	if !ok {
		return
	}
	for i := range d.Coils {
		if d.Coils[i].Name == coil {
			d.Coils[i].Value = v
			return
		}
	}
}
