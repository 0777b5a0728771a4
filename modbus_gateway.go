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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/promlog"
	"github.com/prometheus/common/promlog/flag"
	"github.com/prometheus/common/version"
	"github.com/prometheus/exporter-toolkit/web"
	webflag "github.com/prometheus/exporter-toolkit/web/kingpinflag"

	"github.com/RichiH/modbus_gateway/api"
	"github.com/RichiH/modbus_gateway/config"
	"github.com/RichiH/modbus_gateway/device"
	"github.com/RichiH/modbus_gateway/metrics"
	"github.com/RichiH/modbus_gateway/modbus"
	"github.com/RichiH/modbus_gateway/poller"
)

const program = "modbus_gateway"

func main() {
	configFile := kingpin.Flag(
		"config.file",
		"Sets the configuration file.",
	).Default(program + ".yml").String()
	webConfig := webflag.AddFlags(kingpin.CommandLine, ":9602")
	promlogConfig := &promlog.Config{}
	flag.AddFlags(kingpin.CommandLine, promlogConfig)

	kingpin.Version(version.Print(program))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := promlog.New(promlogConfig)
	level.Info(logger).Log("msg", "Starting "+program, "version", version.Info())
	level.Info(logger).Log("msg", "Build context", "context", version.BuildContext())

	level.Info(logger).Log("msg", "Loading configuration file", "file", *configFile)
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		level.Error(logger).Log("msg", "Error loading config", "err", err)
		os.Exit(1)
	}

	telemetryRegistry := prometheus.NewRegistry()
	telemetryRegistry.MustRegister(collectors.NewGoCollector())
	telemetryRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	g, err := newGateway(cfg, telemetryRegistry, logger)
	if err != nil {
		level.Error(logger).Log("msg", "Error initializing gateway", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		g.poller.Run(ctx)
		close(done)
	}()

	srv := &http.Server{Handler: g.handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			level.Warn(logger).Log("msg", "Error shutting down HTTP server", "err", err)
		}
	}()

	if err := web.ListenAndServe(srv, webConfig, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		level.Error(logger).Log("msg", "Error running HTTP server", "err", err)
		os.Exit(1)
	}
	<-done
}

// gateway bundles the long running parts of the process.
type gateway struct {
	poller  *poller.Poller
	handler http.Handler
}

// newGateway loads the stored devices, registers their gauges and wires the
// poller and the control API. Any failure here is fatal for the process.
func newGateway(cfg *config.Config, telemetry *prometheus.Registry, logger log.Logger) (*gateway, error) {
	dir := config.DeviceDir(cfg.DeviceDir)
	devices, err := dir.Load()
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}
	level.Info(logger).Log("msg", "Loaded devices", "dir", cfg.DeviceDir, "count", len(devices))

	table := device.NewTable(devices...)
	registry := metrics.New()
	if err := registry.Initialize(devices); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	opener := modbus.NewOpener(time.Duration(cfg.Modbus.Timeout))
	p, err := poller.New(
		poller.Config{Interval: time.Duration(cfg.PollInterval)},
		table, registry, opener,
		log.With(logger, "component", "poller"),
		telemetry,
	)
	if err != nil {
		return nil, err
	}

	svc := api.NewService(table, registry, opener, dir, log.With(logger, "component", "api"))
	srv := api.NewServer(svc, telemetry, log.With(logger, "component", "http"))

	return &gateway{poller: p, handler: srv.Handler()}, nil
}
