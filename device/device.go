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

// Package device contains the model of the polled Modbus devices, their
// validation rules and the shared table holding every known device.
package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
)

var (
	// ErrMalformedInput is returned when a device description cannot be decoded.
	ErrMalformedInput = errors.New("malformed device description")
	// ErrInvalidName is returned for device or point names not matching
	// ^[a-z0-9_]+$ or repeated within their list.
	ErrInvalidName = errors.New("invalid name")
	// ErrUnsupportedProtocol is returned for any protocol but tcp.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrUnsupportedDataType is returned for register data types other than
	// int16 and uint16.
	ErrUnsupportedDataType = errors.New("unsupported data type")
	// ErrUnsupportedPointKind is returned for unknown register or coil object
	// types.
	ErrUnsupportedPointKind = errors.New("unsupported object type")
	// ErrInvalidAddress is returned when the device endpoint cannot be parsed.
	ErrInvalidAddress = errors.New("invalid address")
)

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Protocol is the transport used to reach a device.
type Protocol string

// ProtocolTCP is Modbus TCP, the only supported transport.
const ProtocolTCP Protocol = "tcp"

// DataType tells how the raw register word is interpreted.
type DataType string

const (
	Int16  DataType = "int16"
	UInt16 DataType = "uint16"
)

// RegisterKind is the Modbus object type of a register.
type RegisterKind string

const (
	// Holding registers are read/write.
	Holding RegisterKind = "holding"
	// Input registers are read-only.
	Input RegisterKind = "input"
)

// CoilKind is the Modbus object type of a single bit point.
type CoilKind string

const (
	// Coil is a read/write bit.
	Coil CoilKind = "coil"
	// Discrete is a read-only discrete input.
	Discrete CoilKind = "discrete"
)

// DefaultUnitID is used when a description carries no unit_id. 0xFF is the
// unit identifier Modbus TCP gateways expect for directly attached devices.
const DefaultUnitID uint8 = 0xFF

// Device is one Modbus TCP device and the points polled from it.
type Device struct {
	Name      string          `json:"name"`
	IPAddress string          `json:"ip_address"`
	Port      uint16          `json:"port"`
	Protocol  Protocol        `json:"protocol"`
	UnitID    *uint8          `json:"unit_id,omitempty"`
	Registers []RegisterPoint `json:"registers"`
	Coils     []CoilPoint     `json:"coils"`
}

// RegisterPoint is a 16 bit measurement point.
type RegisterPoint struct {
	Name       string       `json:"name"`
	ObjectType RegisterKind `json:"objecttype"`
	Address    uint16       `json:"address"`
	// Length is kept for the record format; only the first word read is used.
	Length   uint16   `json:"length"`
	DataType DataType `json:"datatype"`
	// Factor is the decimal exponent applied to the raw value.
	Factor int8   `json:"factor"`
	Value  uint16 `json:"value"`
}

// CoilPoint is a boolean measurement point.
type CoilPoint struct {
	Name       string   `json:"name"`
	ObjectType CoilKind `json:"objecttype"`
	Address    uint16   `json:"address"`
	Value      bool     `json:"value"`
}

// Keys every record must carry, spelled exactly like this. unit_id is the
// only optional key.
var (
	deviceKeys   = []string{"name", "ip_address", "port", "protocol", "registers", "coils"}
	registerKeys = []string{"name", "objecttype", "address", "length", "datatype", "factor", "value"}
	coilKeys     = []string{"name", "objecttype", "address", "value"}
)

// Parse decodes a JSON device description and validates it. Records with
// missing, null or unknown keys are malformed.
func Parse(data []byte) (*Device, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after device object", ErrMalformedInput)
	}
	if err := checkRecord(raw); err != nil {
		return nil, err
	}

	d := &Device{}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func checkRecord(raw json.RawMessage) error {
	fields, err := checkKeys("device", raw, deviceKeys, "unit_id")
	if err != nil {
		return err
	}

	for _, list := range []struct {
		key  string
		kind string
		keys []string
	}{
		{"registers", "register", registerKeys},
		{"coils", "coil", coilKeys},
	} {
		var points []json.RawMessage
		if err := json.Unmarshal(fields[list.key], &points); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedInput, list.key, err)
		}
		for i, p := range points {
			if _, err := checkKeys(fmt.Sprintf("%s %d", list.kind, i), p, list.keys); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkKeys decodes a JSON object and checks that every required key is
// present and not null, and that no other key than required or optional
// ones appears. Keys are compared case-sensitively.
func checkKeys(what string, raw json.RawMessage, required []string, optional ...string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedInput, what, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: %s must be an object", ErrMalformedInput, what)
	}

	known := make(map[string]struct{}, len(required)+len(optional))
	for _, k := range append(append([]string(nil), required...), optional...) {
		known[k] = struct{}{}
	}
	for k := range fields {
		if _, ok := known[k]; !ok {
			return nil, fmt.Errorf("%w: %s has unknown key %q", ErrMalformedInput, what, k)
		}
	}
	for _, k := range required {
		v, ok := fields[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing key %q", ErrMalformedInput, what, k)
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: %s key %q must not be null", ErrMalformedInput, what, k)
		}
	}
	return fields, nil
}

// Validate checks the device against the naming and type rules. The first
// violated rule is returned.
func (d *Device) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: device name %q must only contain lowercase letters, numbers or underscores", ErrInvalidName, d.Name)
	}

	if d.Protocol != ProtocolTCP {
		return fmt.Errorf("%w: %q, supported protocols are: %s", ErrUnsupportedProtocol, d.Protocol, ProtocolTCP)
	}

	seen := make(map[string]struct{}, len(d.Registers))
	for _, r := range d.Registers {
		if err := checkPointName(seen, "register", r.Name); err != nil {
			return err
		}
		switch r.DataType {
		case Int16, UInt16:
		default:
			return fmt.Errorf("%w: register %q has datatype %q, supported datatypes are: %s, %s",
				ErrUnsupportedDataType, r.Name, r.DataType, UInt16, Int16)
		}
		switch r.ObjectType {
		case Holding, Input:
		default:
			return fmt.Errorf("%w: register %q has objecttype %q, supported objecttypes are: %s, %s",
				ErrUnsupportedPointKind, r.Name, r.ObjectType, Input, Holding)
		}
	}

	seen = make(map[string]struct{}, len(d.Coils))
	for _, c := range d.Coils {
		if err := checkPointName(seen, "coil", c.Name); err != nil {
			return err
		}
		switch c.ObjectType {
		case Coil, Discrete:
		default:
			return fmt.Errorf("%w: coil %q has objecttype %q, supported objecttypes are: %s, %s",
				ErrUnsupportedPointKind, c.Name, c.ObjectType, Coil, Discrete)
		}
	}

	return nil
}

func checkPointName(seen map[string]struct{}, kind, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %s name %q must only contain lowercase letters, numbers or underscores", ErrInvalidName, kind, name)
	}
	if _, ok := seen[name]; ok {
		return fmt.Errorf("%w: duplicate %s name %q", ErrInvalidName, kind, name)
	}
	seen[name] = struct{}{}
	return nil
}

// Endpoint returns the host:port address of the device. Only IPv4 dotted
// quads are accepted.
func (d *Device) Endpoint() (string, error) {
	ip := net.ParseIP(d.IPAddress).To4()
	if ip == nil {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidAddress, d.IPAddress)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(d.Port))), nil
}

// Unit returns the Modbus unit identifier to address the device with.
func (d *Device) Unit() uint8 {
	if d.UnitID == nil {
		return DefaultUnitID
	}
	return *d.UnitID
}

// Register returns the register with the given name.
func (d *Device) Register(name string) (RegisterPoint, bool) {
	for _, r := range d.Registers {
		if r.Name == name {
			return r, true
		}
	}
	return RegisterPoint{}, false
}

// Coil returns the coil with the given name.
func (d *Device) Coil(name string) (CoilPoint, bool) {
	for _, c := range d.Coils {
		if c.Name == name {
			return c, true
		}
	}
	return CoilPoint{}, false
}

// MetricName builds the name under which a point is exported.
func MetricName(device, point string) string {
	return device + "_" + point
}

// MetricNames lists the exported names of every register and coil, registers
// first.
func (d *Device) MetricNames() []string {
	names := make([]string, 0, len(d.Registers)+len(d.Coils))
	for _, r := range d.Registers {
		names = append(names, MetricName(d.Name, r.Name))
	}
	for _, c := range d.Coils {
		names = append(names, MetricName(d.Name, c.Name))
	}
	return names
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	c := *d
	if d.UnitID != nil {
		u := *d.UnitID
		c.UnitID = &u
	}
	if d.Registers != nil {
		c.Registers = make([]RegisterPoint, len(d.Registers))
		copy(c.Registers, d.Registers)
	}
	if d.Coils != nil {
		c.Coils = make([]CoilPoint, len(d.Coils))
		copy(c.Coils, d.Coils)
	}
	return &c
}
