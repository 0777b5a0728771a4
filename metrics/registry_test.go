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

package metrics

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/RichiH/modbus_gateway/device"
)

func testDevice(name string, registers, coils []string) *device.Device {
	d := &device.Device{Name: name, Protocol: device.ProtocolTCP}
	for _, r := range registers {
		d.Registers = append(d.Registers, device.RegisterPoint{
			Name:       r,
			ObjectType: device.Holding,
			DataType:   device.Int16,
			Length:     1,
		})
	}
	for _, c := range coils {
		d.Coils = append(d.Coils, device.CoilPoint{Name: c, ObjectType: device.Discrete})
	}
	return d
}

// expectedKeys returns the sorted metric names of the given devices.
func expectedKeys(devices ...*device.Device) []string {
	keys := []string{}
	for _, d := range devices {
		keys = append(keys, d.MetricNames()...)
	}
	sort.Strings(keys)
	return keys
}

func assertKeys(t *testing.T, r *Registry, devices ...*device.Device) {
	t.Helper()

	got := strings.Join(r.Keys(), ",")
	want := strings.Join(expectedKeys(devices...), ",")
	if got != want {
		t.Fatalf("expected keys %q but got %q", want, got)
	}
}

func TestInitialize(t *testing.T) {
	a := testDevice("a", []string{"r1", "r2"}, []string{"c1"})
	b := testDevice("b", []string{"r1"}, nil)

	r := New()
	if err := r.Initialize([]*device.Device{a, b}); err != nil {
		t.Fatal(err)
	}
	assertKeys(t, r, a, b)

	// A second run hits the already registered gauges.
	if err := r.Initialize([]*device.Device{a, b}); !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected %v but got %v", ErrRegistration, err)
	}
	assertKeys(t, r, a, b)
}

func TestInitializeInvalidName(t *testing.T) {
	r := New()

	err := r.Initialize([]*device.Device{testDevice("1st", []string{"r"}, nil)})
	if !errors.Is(err, ErrGaugeCreation) {
		t.Fatalf("expected %v but got %v", ErrGaugeCreation, err)
	}
}

func TestRegisterUnregisterKeepsKeysInStep(t *testing.T) {
	a := testDevice("a", []string{"r1"}, []string{"c1", "c2"})
	b := testDevice("b", []string{"r1", "r2"}, []string{"c1"})
	c := testDevice("c", nil, []string{"c1"})

	r := New()
	for _, d := range []*device.Device{a, b, c} {
		if err := r.RegisterDevice(d); err != nil {
			t.Fatal(err)
		}
	}
	assertKeys(t, r, a, b, c)

	if err := r.UnregisterDevice(b); err != nil {
		t.Fatal(err)
	}
	assertKeys(t, r, a, c)

	if err := r.RegisterDevice(b); err != nil {
		t.Fatal(err)
	}
	if err := r.UnregisterDevice(a); err != nil {
		t.Fatal(err)
	}
	assertKeys(t, r, b, c)

	if err := r.UnregisterDevice(a); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("expected %v but got %v", ErrInstrumentNotFound, err)
	}
	assertKeys(t, r, b, c)
}

func TestUnregisterDeviceKeepsGaugesOnFailure(t *testing.T) {
	a := testDevice("a", []string{"r1", "r2"}, []string{"c1"})

	r := New()
	if err := r.RegisterDevice(a); err != nil {
		t.Fatal(err)
	}

	// a_r3 has no gauge, a_r1 and a_r2 must stay registered.
	extra := testDevice("a", []string{"r1", "r2", "r3"}, []string{"c1"})
	if err := r.UnregisterDevice(extra); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("expected %v but got %v", ErrInstrumentNotFound, err)
	}
	assertKeys(t, r, a)

	// The registry no longer knows a_r2, a_r1 must be registered again.
	r.reg.Unregister(r.gauges["a_r2"])
	if err := r.UnregisterDevice(a); !errors.Is(err, ErrUnregistration) {
		t.Fatalf("expected %v but got %v", ErrUnregistration, err)
	}
	assertKeys(t, r, a)

	r.Set("a_r1", 4)
	out, err := r.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "a_r1 4\n") {
		t.Fatalf("expected a_r1 to be exposed but got %q", out)
	}
}

func TestRegisterDeviceRollback(t *testing.T) {
	a := testDevice("a", []string{"r1"}, nil)

	r := New()
	if err := r.RegisterDevice(a); err != nil {
		t.Fatal(err)
	}

	// a_r1 collides after a_r0 was registered, a_r0 must be dropped again.
	clash := testDevice("a", []string{"r0", "r1"}, nil)
	if err := r.RegisterDevice(clash); !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected %v but got %v", ErrRegistration, err)
	}
	assertKeys(t, r, a)

	// Register and coil names are only unique within their own list.
	same := testDevice("same", []string{"x"}, []string{"x"})
	if err := r.RegisterDevice(same); !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected %v but got %v", ErrRegistration, err)
	}
	assertKeys(t, r, a)
}

func TestSetAndRender(t *testing.T) {
	a := testDevice("a", []string{"temp"}, []string{"alarm"})

	r := New()
	if err := r.RegisterDevice(a); err != nil {
		t.Fatal(err)
	}

	r.Set("a_temp", -12.8)
	r.Set("a_alarm", 1)
	r.Set("a_unknown", 3)

	out, err := r.Render()
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"# HELP a_temp int16 holding",
		"# TYPE a_temp gauge",
		"a_temp -12.8",
		"# HELP a_alarm discrete",
		"a_alarm 1",
	} {
		if !strings.Contains(string(out), want) {
			t.Fatalf("expected output to contain %q but got:\n%s", want, out)
		}
	}
	if strings.Contains(string(out), "a_unknown") {
		t.Fatalf("expected unknown key to be ignored but got:\n%s", out)
	}

	if err := r.UnregisterDevice(a); err != nil {
		t.Fatal(err)
	}
	out, err = r.Render()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty exposition but got:\n%s", out)
	}
}
