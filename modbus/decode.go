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

package modbus

import (
	"encoding/binary"
	"fmt"
)

// InsufficientRegistersError is returned whenever a response carries fewer
// registers or bits than requested.
type InsufficientRegistersError struct {
	e string
}

// Error implements the Golang error interface.
func (e *InsufficientRegistersError) Error() string {
	return fmt.Sprintf("insufficient amount of registers provided: %v", e.e)
}

// decodeRegisters splits a response into big endian 16 bit words.
func decodeRegisters(rawData []byte, count uint16) ([]uint16, error) {
	if len(rawData) < int(count)*2 {
		return nil, &InsufficientRegistersError{fmt.Sprintf("expected at least %v, got %v bytes", count, len(rawData))}
	}

	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(rawData[i*2:])
	}
	return words, nil
}

// decodeBits unpacks a coil or discrete input response, least significant
// bit first.
func decodeBits(rawData []byte, count uint16) ([]bool, error) {
	if len(rawData) < (int(count)+7)/8 {
		return nil, &InsufficientRegistersError{fmt.Sprintf("expected %v bits, got %v bytes", count, len(rawData))}
	}

	bits := make([]bool, count)
	for i := range bits {
		bits[i] = rawData[i/8]&(1<<uint(i%8)) != 0
	}
	return bits, nil
}
