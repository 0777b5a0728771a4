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

// Package metrics keeps one Prometheus gauge per device point, in step with
// the devices known to the gateway.
package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/RichiH/modbus_gateway/device"
)

var (
	// ErrGaugeCreation is returned when a gauge cannot be built for a point,
	// e.g. because the resulting metric name is invalid.
	ErrGaugeCreation = errors.New("could not create gauge")
	// ErrRegistration is returned when the registry refuses a gauge, e.g.
	// because its name is already taken.
	ErrRegistration = errors.New("could not register gauge")
	// ErrInstrumentNotFound is returned by UnregisterDevice for points that
	// have no gauge.
	ErrInstrumentNotFound = errors.New("gauge not found")
	// ErrUnregistration is returned when the registry refuses to drop a gauge.
	ErrUnregistration = errors.New("could not unregister gauge")
)

// Registry owns the device gauges and the Prometheus registry they are
// exposed through.
type Registry struct {
	mtx    sync.RWMutex
	reg    *prometheus.Registry
	gauges map[string]prometheus.Gauge
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		reg:    prometheus.NewRegistry(),
		gauges: map[string]prometheus.Gauge{},
	}
}

type point struct {
	name string
	help string
}

func points(d *device.Device) []point {
	ps := make([]point, 0, len(d.Registers)+len(d.Coils))
	for _, r := range d.Registers {
		ps = append(ps, point{
			name: device.MetricName(d.Name, r.Name),
			help: fmt.Sprintf("%s %s", r.DataType, r.ObjectType),
		})
	}
	for _, c := range d.Coils {
		ps = append(ps, point{
			name: device.MetricName(d.Name, c.Name),
			help: string(c.ObjectType),
		})
	}
	return ps
}

// Initialize registers the gauges of every given device. It stops at the
// first failure.
func (r *Registry) Initialize(devices []*device.Device) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	for _, d := range devices {
		for _, p := range points(d) {
			if err := r.register(p); err != nil {
				return fmt.Errorf("device %s: %w", d.Name, err)
			}
		}
	}
	return nil
}

// RegisterDevice registers the gauges of one device. On failure the gauges
// already registered for the device are dropped again.
func (r *Registry) RegisterDevice(d *device.Device) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	var done []string
	for _, p := range points(d) {
		if err := r.register(p); err != nil {
			for _, name := range done {
				r.reg.Unregister(r.gauges[name])
				delete(r.gauges, name)
			}
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		done = append(done, p.name)
	}
	return nil
}

func (r *Registry) register(p point) error {
	if !model.IsValidMetricName(model.LabelValue(p.name)) {
		return fmt.Errorf("%w: %q is not a valid metric name", ErrGaugeCreation, p.name)
	}
	if _, ok := r.gauges[p.name]; ok {
		return fmt.Errorf("%w: %q already registered", ErrRegistration, p.name)
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: p.name,
		Help: p.help,
	})
	if err := r.reg.Register(g); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrRegistration, p.name, err)
	}
	r.gauges[p.name] = g
	return nil
}

// UnregisterDevice removes every gauge of the device. Nothing is removed
// unless every point of the device has a gauge.
func (r *Registry) UnregisterDevice(d *device.Device) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	names := d.MetricNames()
	for _, name := range names {
		if _, ok := r.gauges[name]; !ok {
			return fmt.Errorf("device %s: %w: %q", d.Name, ErrInstrumentNotFound, name)
		}
	}

	for i, name := range names {
		if !r.reg.Unregister(r.gauges[name]) {
			for _, prev := range names[:i] {
				r.reg.MustRegister(r.gauges[prev])
			}
			return fmt.Errorf("device %s: %w: %q", d.Name, ErrUnregistration, name)
		}
	}
	for _, name := range names {
		delete(r.gauges, name)
	}
	return nil
}

// Set updates the gauge registered under key. Unknown keys are ignored.
func (r *Registry) Set(key string, value float64) {
	r.mtx.RLock()
	g, ok := r.gauges[key]
	r.mtx.RUnlock()
	if ok {
		g.Set(value)
	}
}

// Keys returns the sorted names of all registered gauges.
func (r *Registry) Keys() []string {
	r.mtx.RLock()
	keys := make([]string, 0, len(r.gauges))
	for k := range r.gauges {
		keys = append(keys, k)
	}
	r.mtx.RUnlock()

	sort.Strings(keys)
	return keys
}

// Gatherer exposes the underlying registry, e.g. for promhttp.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Render returns the text exposition of all registered gauges.
func (r *Registry) Render() ([]byte, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("encode metrics: %w", err)
		}
	}
	return buf.Bytes(), nil
}
