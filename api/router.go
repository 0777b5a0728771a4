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

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the control API.
type Server struct {
	svc       *Service
	telemetry prometheus.Gatherer
	logger    log.Logger
}

// NewServer returns a server for svc. Gateway telemetry is served on
// /telemetry unless telemetry is nil.
func NewServer(svc *Service, telemetry prometheus.Gatherer, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{svc: svc, telemetry: telemetry, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/clients", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Post("/", s.handleCreateDevice)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Delete("/", s.handleDeleteDevice)
			r.Put("/set-register", s.handleSetRegister)
			r.Put("/set-coil", s.handleSetCoil)
		})
	})

	r.Get("/metrics", s.handleMetrics)
	if s.telemetry != nil {
		r.Handle("/telemetry", promhttp.HandlerFor(s.telemetry, promhttp.HandlerOpts{}))
	}

	return r
}
