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

// Package poller reads every known device on a fixed interval and publishes
// the values through the metrics registry.
//
// Failures never leave the poller: a device that cannot be reached is
// skipped for the current tick, a point that cannot be read is skipped for
// the current pass over its device.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RichiH/modbus_gateway/device"
	"github.com/RichiH/modbus_gateway/glog"
	"github.com/RichiH/modbus_gateway/metrics"
	"github.com/RichiH/modbus_gateway/modbus"
)

// Config is the runtime configuration of the poller.
type Config struct {
	Interval time.Duration
}

// Poller is the background task polling the device table.
type Poller struct {
	cfg       Config
	table     *device.Table
	registry  *metrics.Registry
	opener    modbus.Opener
	logger    log.Logger
	errs      *glog.Limiter
	telemetry *Metrics
}

// New creates a poller. Telemetry is registered with reg unless reg is nil.
func New(cfg Config, table *device.Table, registry *metrics.Registry, opener modbus.Opener, logger log.Logger, reg prometheus.Registerer) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if table == nil || registry == nil || opener == nil {
		return nil, errors.New("poller: table, registry and opener are required")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	telemetry := NewMetrics()
	if reg != nil {
		if err := telemetry.Register(reg); err != nil {
			return nil, fmt.Errorf("poller: %w", err)
		}
	}

	return &Poller{
		cfg:       cfg,
		table:     table,
		registry:  registry,
		opener:    opener,
		logger:    logger,
		errs:      glog.New(logger, 2*cfg.Interval),
		telemetry: telemetry,
	}, nil
}

// Run polls once right away and then once per interval until ctx is
// cancelled. Ticks that fall due while a pass is still running are not
// dropped: the poller runs the missed passes back to back until it has
// caught up with the schedule.
func (p *Poller) Run(ctx context.Context) {
	level.Info(p.logger).Log("msg", "Starting poller", "interval", p.cfg.Interval)

	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		// Both may be ready while catching up.
		if ctx.Err() != nil {
			level.Info(p.logger).Log("msg", "Stopping poller")
			return
		}

		p.PollOnce()
		next = next.Add(p.cfg.Interval)
		if behind := time.Since(next); behind > 0 {
			level.Debug(p.logger).Log("msg", "Poll pass overran the interval, catching up", "behind", behind)
		}
		timer.Reset(time.Until(next))
	}
}

// PollOnce performs one pass over every device of the table. Devices are
// polled concurrently; the call returns once all of them are done.
func (p *Poller) PollOnce() {
	start := time.Now()

	// The table lock is only held while the snapshot is taken.
	devices := p.table.Snapshot()
	p.telemetry.devices.Set(float64(len(devices)))

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d *device.Device) {
			defer wg.Done()
			p.pollDevice(d)
		}(d)
	}
	wg.Wait()

	p.errs.Forget()
	p.telemetry.duration.Observe(time.Since(start).Seconds())
}

func (p *Poller) pollDevice(d *device.Device) {
	defer func() {
		if r := recover(); r != nil {
			p.telemetry.errors.WithLabelValues(stagePanic).Inc()
			level.Error(p.logger).Log("msg", "Recovered from panic while polling device", "device", d.Name, "panic", r)
		}
	}()

	level.Debug(p.logger).Log("msg", "Reading from device", "device", d.Name, "address", d.IPAddress, "port", d.Port)

	s, err := p.opener.Open(d)
	if err != nil {
		p.fail(stageConnect, err, "msg", "Could not connect to device, skip reading from this device", "device", d.Name)
		return
	}
	defer func() {
		if err := s.Close(); err != nil {
			p.fail(stageClose, err, "msg", "Could not close session", "device", d.Name)
		}
	}()

	for _, r := range d.Registers {
		words, err := s.ReadRegisters(r.ObjectType, r.Address, r.Length)
		if err != nil {
			p.fail(stageRead, err, "msg", "Could not read register, skip reading from this register", "device", d.Name, "register", r.Name)
			continue
		}
		if len(words) == 0 {
			p.fail(stageRead, fmt.Errorf("empty response for register %d", r.Address), "msg", "Could not read register, skip reading from this register", "device", d.Name, "register", r.Name)
			continue
		}

		r.Value = words[0]
		p.table.SetRegisterValue(d.Name, r.Name, r.Value)

		v, err := r.Exported()
		if err != nil {
			p.fail(stageValue, err, "msg", "Could not calculate value, skip writing to registry", "device", d.Name, "register", r.Name)
			continue
		}
		level.Debug(p.logger).Log("msg", "Read register", "device", d.Name, "register", r.Name, "raw", r.Value, "value", v)
		p.registry.Set(device.MetricName(d.Name, r.Name), v)
	}

	for _, c := range d.Coils {
		bits, err := s.ReadCoils(c.ObjectType, c.Address, 1)
		if err != nil {
			p.fail(stageRead, err, "msg", "Could not read coil, skip reading from this coil", "device", d.Name, "coil", c.Name)
			continue
		}
		if len(bits) == 0 {
			p.fail(stageRead, fmt.Errorf("empty response for coil %d", c.Address), "msg", "Could not read coil, skip reading from this coil", "device", d.Name, "coil", c.Name)
			continue
		}

		c.Value = bits[0]
		p.table.SetCoilValue(d.Name, c.Name, c.Value)
		level.Debug(p.logger).Log("msg", "Read coil", "device", d.Name, "coil", c.Name, "value", c.Value)
		p.registry.Set(device.MetricName(d.Name, c.Name), c.Exported())
	}
}

func (p *Poller) fail(stage string, err error, keyvals ...interface{}) {
	p.telemetry.errors.WithLabelValues(stage).Inc()
	p.errs.Error(err, keyvals...)
}
