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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/RichiH/modbus_gateway/device"
	"github.com/RichiH/modbus_gateway/modbus"
)

var (
	// ErrDeviceAlreadyExists is returned when creating a device whose name is
	// taken in memory or on disk.
	ErrDeviceAlreadyExists = errors.New("device already exists")
	// ErrInstrumentCreationFailed is returned when the gauges of a new device
	// cannot be registered.
	ErrInstrumentCreationFailed = errors.New("could not create instruments")
	// ErrInstrumentRemovalFailed is returned when the gauges of a device
	// cannot be unregistered.
	ErrInstrumentRemovalFailed = errors.New("could not remove instruments")
	// ErrPersistence is returned when a device record cannot be written or
	// removed.
	ErrPersistence = errors.New("could not persist device")
	// ErrPointNotFound is returned for unknown point names.
	ErrPointNotFound = errors.New("point not found")
	// ErrPointNotWritable is returned for input registers and discrete inputs.
	ErrPointNotWritable = errors.New("point not writable")
	// ErrValueOutOfRange is returned for register values outside 0..65535.
	ErrValueOutOfRange = errors.New("value out of range")
	// ErrInvalidRequest is returned for requests the router cannot map onto
	// an operation, e.g. a write without a point.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRequestTooLarge is returned for bodies over maxRequestBodySize.
	ErrRequestTooLarge = errors.New("request body too large")
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeTooLarge    = "too_large"
	ErrCodeForbidden   = "forbidden"
	ErrCodeUnavailable = "unavailable"
	ErrCodeBadGateway  = "bad_gateway"
	ErrCodeInternal    = "internal_error"
)

// statusFor maps an operation error onto a status code and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrMalformedInput),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrUnsupportedProtocol),
		errors.Is(err, device.ErrUnsupportedDataType),
		errors.Is(err, device.ErrUnsupportedPointKind),
		errors.Is(err, ErrValueOutOfRange),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, ErrPointNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, ErrDeviceAlreadyExists):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeTooLarge
	case errors.Is(err, ErrPointNotWritable):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, modbus.ErrConnectionFailed),
		errors.Is(err, modbus.ErrInvalidAddress):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, modbus.ErrWriteFailed):
		return http.StatusBadGateway, ErrCodeBadGateway
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the structured response for err.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: err.Error(),
	})
}
