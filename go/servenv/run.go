// Copyright 2026 Supabase, Inc.
//
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

package servenv

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

// RunDefault calls Run with the configured bind address and port.
func (sv *ServEnv) RunDefault() error {
	return sv.Run(sv.bindAddress.Get(), sv.httpPort.Get())
}

// Run starts listening for HTTP requests and blocks until the process gets
// SIGTERM or SIGINT, or Shutdown is called. It then runs the OnTerm hooks,
// waits out the lameduck period, stops the HTTP server and runs the OnClose
// hooks.
func (sv *ServEnv) Run(bindAddress string, port int) error {
	logger := sv.GetLogger()
	if err := sv.FireRunHooks(); err != nil {
		return fmt.Errorf("run hooks: %w", err)
	}

	l, err := net.Listen("tcp", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port %d: %w", port, err)
	}
	sv.mu.Lock()
	sv.listener = l
	sv.mu.Unlock()

	// If port was 0, log the actual allocated port
	if port == 0 {
		if addr, ok := l.Addr().(*net.TCPAddr); ok {
			logger.Info("HTTP port was dynamically allocated", "requested_port", port, "actual_port", addr.Port)
		}
	}
	srv := sv.newHTTPServer()
	go func() {
		if err := sv.HTTPServe(srv, l); err != nil {
			logger.Error("http serve returned unexpected error", "err", err)
		}
	}()

	signal.Notify(sv.exitChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sv.exitChan)
	logger.Info("service successfully started", "port", port)
	// Wait for signal
	<-sv.exitChan

	startTime := time.Now()
	logger.Info("entering lameduck mode", "period", sv.lameduckPeriod.Get())
	logger.Info("firing asynchronous OnTerm hooks")
	go sv.onTermHooks.fire()

	sv.fireHooksWithTimeout(sv.onTermTimeout.Get(), "OnTermSync", sv.onTermSyncHooks.fire)
	if remain := sv.lameduckPeriod.Get() - time.Since(startTime); remain > 0 {
		logger.Info(fmt.Sprintf("sleeping an extra %v after OnTermSync to finish lameduck period", remain))
		time.Sleep(remain)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sv.onCloseTimeout.Get())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", "err", err)
	}

	logger.Info("shutting down gracefully")
	sv.fireHooksWithTimeout(sv.onCloseTimeout.Get(), "OnClose", sv.onCloseHooks.fire)
	sv.mu.Lock()
	sv.listener = nil
	sv.mu.Unlock()
	return nil
}

// Shutdown makes a running Run return as if the process got SIGTERM.
func (sv *ServEnv) Shutdown() {
	select {
	case sv.exitChan <- syscall.SIGTERM:
	default:
	}
}

// ListenAddr returns the address Run is listening on, or nil when it is
// not running.
func (sv *ServEnv) ListenAddr() net.Addr {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.listener == nil {
		return nil
	}
	return sv.listener.Addr()
}
