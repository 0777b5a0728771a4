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

// Package glog keeps repeated poll errors from flooding the log. An error is
// logged at error level the first time it is seen and again once it has not
// been seen for a while; repeats in between go to debug level.
package glog

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Limiter logs errors through a go-kit logger, demoting repeats.
type Limiter struct {
	logger log.Logger
	window time.Duration
	now    func() time.Time

	mtx       sync.Mutex
	trackLogs map[string]time.Time
}

// New returns a limiter that demotes an error seen again within window.
func New(logger log.Logger, window time.Duration) *Limiter {
	return &Limiter{
		logger:    logger,
		window:    window,
		now:       time.Now,
		trackLogs: make(map[string]time.Time),
	}
}

// Error logs err with the given key/value pairs. Errors are identified by
// their message.
func (l *Limiter) Error(err error, keyvals ...interface{}) {
	msg := err.Error()
	now := l.now()

	l.mtx.Lock()
	t, ok := l.trackLogs[msg]
	l.trackLogs[msg] = now
	l.mtx.Unlock()

	keyvals = append(keyvals, "err", err)
	// logs the error if it has not been logged yet or
	// if the error didn't happen in the last window.
	if !ok || now.Sub(t) >= l.window {
		level.Error(l.logger).Log(keyvals...)
		return
	}
	level.Debug(l.logger).Log(keyvals...)
}

// Forget drops errors not seen for a full window, so the map does not grow
// with every device ever removed.
func (l *Limiter) Forget() {
	now := l.now()

	l.mtx.Lock()
	defer l.mtx.Unlock()
	for msg, t := range l.trackLogs {
		if now.Sub(t) >= l.window {
			delete(l.trackLogs, msg)
		}
	}
}
