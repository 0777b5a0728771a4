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

package device

import (
	"fmt"
	"strconv"
)

// Exported returns the value published for the register: the raw word
// interpreted according to the data type, times 10^Factor.
func (r RegisterPoint) Exported() (float64, error) {
	var v int64
	switch r.DataType {
	case Int16:
		v = int64(int16(r.Value))
	case UInt16:
		v = int64(r.Value)
	default:
		return 0, fmt.Errorf("%w: register %q has datatype %q", ErrUnsupportedDataType, r.Name, r.DataType)
	}
	return scale(v, r.Factor), nil
}

// scale returns the float64 nearest to v*10^exp. Going through the decimal
// representation keeps the result correctly rounded, math.Pow(10, n) is not
// for large negative n.
func scale(v int64, exp int8) float64 {
	f, err := strconv.ParseFloat(strconv.FormatInt(v, 10)+"e"+strconv.Itoa(int(exp)), 64)
	if err != nil {
		// Unreachable for 16 bit values and int8 exponents.
		panic(err)
	}
	return f
}

// Writable reports whether the register may be written through the control
// API.
func (r RegisterPoint) Writable() bool {
	return r.ObjectType == Holding
}

// Exported returns 1 for a set coil and 0 otherwise.
func (c CoilPoint) Exported() float64 {
	if c.Value {
		return 1
	}
	return 0
}

// Writable reports whether the coil may be written through the control API.
func (c CoilPoint) Writable() bool {
	return c.ObjectType == Coil
}
