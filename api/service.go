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

// Package api implements the control operations of the gateway and exposes
// them over HTTP.
package api

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/RichiH/modbus_gateway/device"
	"github.com/RichiH/modbus_gateway/metrics"
	"github.com/RichiH/modbus_gateway/modbus"
)

// Store persists device records. config.DeviceDir is the production
// implementation.
type Store interface {
	Save(d *device.Device) error
	Remove(name string) error
	Exists(name string) bool
}

// Service carries out the control operations. Create and Delete are
// serialized so the table, the gauges and the records change together.
type Service struct {
	mtx      sync.Mutex
	table    *device.Table
	registry *metrics.Registry
	opener   modbus.Opener
	store    Store
	logger   log.Logger
}

// NewService returns a service operating on the given components.
func NewService(table *device.Table, registry *metrics.Registry, opener modbus.Opener, store Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{
		table:    table,
		registry: registry,
		opener:   opener,
		store:    store,
		logger:   logger,
	}
}

// Create parses and validates a device description, registers its gauges,
// writes its record and finally makes it visible to the poller.
func (s *Service) Create(body []byte) (*device.Device, error) {
	d, err := device.Parse(body)
	if err != nil {
		return nil, err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.table.Has(d.Name) || s.store.Exists(d.Name) {
		return nil, fmt.Errorf("%w: %q", ErrDeviceAlreadyExists, d.Name)
	}
	if err := s.registry.RegisterDevice(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstrumentCreationFailed, err)
	}
	if err := s.store.Save(d); err != nil {
		if uerr := s.registry.UnregisterDevice(d); uerr != nil {
			level.Error(s.logger).Log("msg", "Could not roll back instruments", "device", d.Name, "err", uerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.table.Add(d.Name, d)

	level.Info(s.logger).Log("msg", "Device created", "device", d.Name, "registers", len(d.Registers), "coils", len(d.Coils))
	return d.Clone(), nil
}

// List returns the sorted names of all devices.
func (s *Service) List() []string {
	return s.table.Names()
}

// Get returns the record of the named device including the last values read.
func (s *Service) Get(name string) (*device.Device, error) {
	return s.table.Get(name)
}

// Delete removes the gauges, the table entry and the record of the named
// device. A persistence error is returned after the device is already gone
// from memory.
func (s *Service) Delete(name string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	d, err := s.table.Get(name)
	if err != nil {
		return err
	}
	if err := s.registry.UnregisterDevice(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInstrumentRemovalFailed, err)
	}
	s.table.Remove(name)

	if err := s.store.Remove(name); err != nil {
		level.Warn(s.logger).Log("msg", "Device removed from memory but not from disk", "device", name, "err", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	level.Info(s.logger).Log("msg", "Device deleted", "device", name)
	return nil
}

// WriteRegister writes a raw word to a holding register.
func (s *Service) WriteRegister(name, point string, value int64) error {
	if value < 0 || value > math.MaxUint16 {
		return fmt.Errorf("%w: %d is not within 0..%d", ErrValueOutOfRange, value, math.MaxUint16)
	}

	d, err := s.table.Get(name)
	if err != nil {
		return err
	}
	r, ok := d.Register(point)
	if !ok {
		return fmt.Errorf("%w: register %q of device %q", ErrPointNotFound, point, name)
	}
	if !r.Writable() {
		return fmt.Errorf("%w: %q is an %s register", ErrPointNotWritable, point, r.ObjectType)
	}

	return s.write(d, func(sess modbus.Session) error {
		return sess.WriteRegister(r.Address, uint16(value))
	}, "register", point, "value", value)
}

// WriteCoil switches a coil.
func (s *Service) WriteCoil(name, point string, value bool) error {
	d, err := s.table.Get(name)
	if err != nil {
		return err
	}
	c, ok := d.Coil(point)
	if !ok {
		return fmt.Errorf("%w: coil %q of device %q", ErrPointNotFound, point, name)
	}
	if !c.Writable() {
		return fmt.Errorf("%w: %q is a %s input", ErrPointNotWritable, point, c.ObjectType)
	}

	return s.write(d, func(sess modbus.Session) error {
		return sess.WriteCoil(c.Address, value)
	}, "coil", point, "value", value)
}

// write runs f on a session of its own. The session is closed before
// returning.
func (s *Service) write(d *device.Device, f func(modbus.Session) error, keyvals ...interface{}) error {
	sess, err := s.opener.Open(d)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			level.Warn(s.logger).Log("msg", "Could not close session", "device", d.Name, "err", err)
		}
	}()

	if err := f(sess); err != nil {
		return err
	}

	level.Info(s.logger).Log(append([]interface{}{"msg", "Wrote to device", "device", d.Name}, keyvals...)...)
	return nil
}

// MetricsSnapshot returns the text exposition of all device gauges.
func (s *Service) MetricsSnapshot() ([]byte, error) {
	return s.registry.Render()
}
