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

package poller

import "github.com/prometheus/client_golang/prometheus"

const namespace = "modbus_gateway"

// Failure stages counted by modbus_gateway_poll_errors_total.
const (
	stageConnect = "connect"
	stageRead    = "read"
	stageValue   = "value"
	stageClose   = "close"
	stagePanic   = "panic"
)

// Metrics is the telemetry the poller exports about itself.
type Metrics struct {
	duration prometheus.Histogram
	errors   *prometheus.CounterVec
	devices  prometheus.Gauge
}

// NewMetrics creates the poller telemetry.
func NewMetrics() *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a full poll pass over all devices.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll failures by stage.",
		}, []string{"stage"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Number of devices polled in the last pass.",
		}),
	}
	for _, stage := range []string{stageConnect, stageRead, stageValue, stageClose, stagePanic} {
		m.errors.WithLabelValues(stage)
	}
	return m
}

// Register adds the telemetry to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.duration, m.errors, m.devices} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
