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

// Package modbus contains all the modbus related components
package modbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/RichiH/modbus_gateway/device"
)

var (
	// ErrInvalidAddress is returned by Open when the device endpoint cannot
	// be parsed.
	ErrInvalidAddress = device.ErrInvalidAddress
	// ErrConnectionFailed is returned by Open when the TCP connection cannot
	// be established.
	ErrConnectionFailed = errors.New("unable to connect with target")
	// ErrReadFailed wraps every failed read request.
	ErrReadFailed = errors.New("read failed")
	// ErrWriteFailed wraps every failed write request.
	ErrWriteFailed = errors.New("write failed")
)

// Coil values as expected by the write single coil function.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Opener opens a session to a device.
type Opener interface {
	Open(d *device.Device) (Session, error)
}

// Session is a single-use connection to one device. A session is used by one
// goroutine only and must be closed by the caller.
type Session interface {
	ReadRegisters(kind device.RegisterKind, address, count uint16) ([]uint16, error)
	ReadCoils(kind device.CoilKind, address, count uint16) ([]bool, error)
	WriteRegister(address, value uint16) error
	WriteCoil(address uint16, value bool) error
	Close() error
}

// TCPOpener opens Modbus TCP sessions.
type TCPOpener struct {
	// Timeout applies to connecting and to every request. Zero keeps the
	// library default.
	Timeout time.Duration
}

// NewOpener returns a TCP opener with the given timeout.
func NewOpener(timeout time.Duration) *TCPOpener {
	return &TCPOpener{Timeout: timeout}
}

// handler is the subset of the goburrow TCP handler a session needs.
type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Open resolves the device endpoint and connects to it.
func (o *TCPOpener) Open(d *device.Device) (Session, error) {
	address, err := d.Endpoint()
	if err != nil {
		return nil, err
	}

	h := modbus.NewTCPClientHandler(address)
	if o.Timeout != 0 {
		h.Timeout = o.Timeout
	}
	h.SlaveId = d.Unit()

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("%w %s (device %s): %v", ErrConnectionFailed, address, d.Name, err)
	}

	return newSession(h), nil
}

type session struct {
	handler handler
	client  modbus.Client
}

func newSession(h handler) *session {
	return &session{handler: h, client: modbus.NewClient(h)}
}

// modbus read function type
type modbusFunc func(address, quantity uint16) ([]byte, error)

func (s *session) ReadRegisters(kind device.RegisterKind, address, count uint16) ([]uint16, error) {
	var f modbusFunc
	switch kind {
	case device.Holding:
		f = s.client.ReadHoldingRegisters
	case device.Input:
		f = s.client.ReadInputRegisters
	default:
		return nil, fmt.Errorf("%w: unknown register kind %q", ErrReadFailed, kind)
	}
	if count == 0 {
		count = 1
	}

	raw, err := f(address, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %s register %d: %v", ErrReadFailed, kind, address, err)
	}
	words, err := decodeRegisters(raw, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %s register %d: %v", ErrReadFailed, kind, address, err)
	}
	return words, nil
}

func (s *session) ReadCoils(kind device.CoilKind, address, count uint16) ([]bool, error) {
	var f modbusFunc
	switch kind {
	case device.Coil:
		f = s.client.ReadCoils
	case device.Discrete:
		f = s.client.ReadDiscreteInputs
	default:
		return nil, fmt.Errorf("%w: unknown coil kind %q", ErrReadFailed, kind)
	}
	if count == 0 {
		count = 1
	}

	raw, err := f(address, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %d: %v", ErrReadFailed, kind, address, err)
	}
	bits, err := decodeBits(raw, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %d: %v", ErrReadFailed, kind, address, err)
	}
	return bits, nil
}

func (s *session) WriteRegister(address, value uint16) error {
	if _, err := s.client.WriteSingleRegister(address, value); err != nil {
		return fmt.Errorf("%w: holding register %d: %v", ErrWriteFailed, address, err)
	}
	return nil
}

func (s *session) WriteCoil(address uint16, value bool) error {
	v := coilOff
	if value {
		v = coilOn
	}
	if _, err := s.client.WriteSingleCoil(address, v); err != nil {
		return fmt.Errorf("%w: coil %d: %v", ErrWriteFailed, address, err)
	}
	return nil
}

func (s *session) Close() error {
	return s.handler.Close()
}
