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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/expfmt"

	"github.com/RichiH/modbus_gateway/device"
)

// handleListDevices returns the device names, one per line.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	for _, name := range s.svc.List() {
		b.WriteString(name)
		b.WriteByte('\n')
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, b.String())
}

// handleCreateDevice creates a device from the JSON record in the body.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, fmt.Errorf("%w: limit is %d bytes", ErrRequestTooLarge, mbe.Limit))
			return
		}
		writeError(w, fmt.Errorf("%w: %v", device.ErrMalformedInput, err))
		return
	}

	d, err := s.svc.Create(body)
	if err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns the record of a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice deletes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(chi.URLParam(r, "name")); err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetRegister writes ?<register>=<value> to a holding register.
func (s *Server) handleSetRegister(w http.ResponseWriter, r *http.Request) {
	point, raw, err := writeParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: register value %q is not an integer", ErrInvalidRequest, raw))
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.svc.WriteRegister(name, point, value); err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"device": name, "register": point, "value": value})
}

// handleSetCoil writes ?<coil>=<true|false> to a coil.
func (s *Server) handleSetCoil(w http.ResponseWriter, r *http.Request) {
	point, raw, err := writeParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, fmt.Errorf("%w: coil value %q is not a boolean", ErrInvalidRequest, raw))
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.svc.WriteCoil(name, point, value); err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"device": name, "coil": point, "value": value})
}

// writeParam returns the single point=value pair of a write request.
func writeParam(r *http.Request) (string, string, error) {
	q := r.URL.Query()
	if len(q) != 1 {
		return "", "", fmt.Errorf("%w: expected exactly one <point>=<value> parameter but got %d", ErrInvalidRequest, len(q))
	}
	for point, values := range q {
		if len(values) != 1 {
			return "", "", fmt.Errorf("%w: point %q given %d times", ErrInvalidRequest, point, len(values))
		}
		return point, values[0], nil
	}
	return "", "", nil
}

// handleMetrics serves the current value of every device gauge.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.MetricsSnapshot()
	if err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))
	w.Write(out)
}

func (s *Server) logFailure(r *http.Request, err error) {
	status, _ := statusFor(err)
	logger := level.Warn(s.logger)
	if status >= http.StatusInternalServerError {
		logger = level.Error(s.logger)
	}
	logger.Log("msg", "Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
}
