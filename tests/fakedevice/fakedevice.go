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

// Package fakedevice runs an in-process Modbus TCP server to poll and write
// against in tests and in the fake_server tool.
package fakedevice

import (
	"net"
	"strconv"

	"github.com/tbrandon/mbserver"
)

// Server is a Modbus TCP server listening on a local port.
type Server struct {
	*mbserver.Server

	Host string
	Port uint16
}

// Listen starts a server on address. An empty port ("127.0.0.1:0") picks a
// free one.
func Listen(address string) (*Server, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if port == "0" {
		if port, err = freePort(host); err != nil {
			return nil, err
		}
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, err
	}

	serv := mbserver.NewServer()
	if err := serv.ListenTCP(net.JoinHostPort(host, port)); err != nil {
		return nil, err
	}
	return &Server{Server: serv, Host: host, Port: uint16(p)}, nil
}

// UnusedAddress returns a local address nothing listens on.
func UnusedAddress() (string, uint16, error) {
	port, err := freePort("127.0.0.1")
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	return "127.0.0.1", uint16(p), err
}

func freePort(host string) (string, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", err
	}
	defer l.Close()
	_, port, err := net.SplitHostPort(l.Addr().String())
	return port, err
}
