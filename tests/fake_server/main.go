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

// fake_server runs a Modbus TCP device matching examples/devices/fake_server.json.
package main

import (
	"os"
	"os/signal"
	"syscall"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/promlog"
	"github.com/prometheus/common/promlog/flag"

	"github.com/RichiH/modbus_gateway/tests/fakedevice"
)

func main() {
	address := kingpin.Flag("listen-address", "Address to serve Modbus TCP on.").Default("127.0.0.1:1502").String()
	promlogConfig := &promlog.Config{}
	flag.AddFlags(kingpin.CommandLine, promlogConfig)
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := promlog.New(promlogConfig)

	serv, err := fakedevice.Listen(*address)
	if err != nil {
		level.Error(logger).Log("msg", "Could not listen", "address", *address, "err", err)
		os.Exit(1)
	}
	defer serv.Close()

	serv.HoldingRegisters[22] = uint16(240)
	serv.HoldingRegisters[23] = uint16(250)
	// -12.8 with factor -1 as int16.
	serv.InputRegisters[1] = uint16(65408)
	serv.Coils[24] = byte(1)
	serv.DiscreteInputs[2] = byte(1)

	level.Info(logger).Log("msg", "Listening", "address", *address)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
