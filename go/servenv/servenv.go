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

// Package servenv holds the process environment shared by lensql binaries:
// flags and config loading, logging, the HTTP mux and the lifecycle hooks
// fired between startup and shutdown.
package servenv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lensql/lensql/go/telemetry"
	"github.com/lensql/lensql/go/viperutil"
)

// ServEnv holds the service environment configuration and state.
type ServEnv struct {
	reg       *viperutil.Registry
	vc        *viperutil.ViperConfig
	lg        *Logger
	telemetry *telemetry.Telemetry

	httpPort       viperutil.Value[int]
	bindAddress    viperutil.Value[string]
	lameduckPeriod viperutil.Value[time.Duration]
	onTermTimeout  viperutil.Value[time.Duration]
	onCloseTimeout viperutil.Value[time.Duration]
	httpPprof      viperutil.Value[bool]

	onTermHooks     hooks
	onTermSyncHooks hooks
	onRunHooks      hooks
	onRunEHooks     errorHooks
	onCloseHooks    hooks

	mu       sync.Mutex
	listener net.Listener

	mux *http.ServeMux
	// exitChan waits for a signal that tells the process to terminate
	exitChan chan os.Signal
}

// NewServEnv creates a new ServEnv whose values live in reg.
func NewServEnv(reg *viperutil.Registry) *ServEnv {
	return NewServEnvWithTelemetry(reg, telemetry.NewTelemetry())
}

// NewServEnvWithTelemetry creates a ServEnv that installs tel.
func NewServEnvWithTelemetry(reg *viperutil.Registry, tel *telemetry.Telemetry) *ServEnv {
	return &ServEnv{
		reg:       reg,
		vc:        viperutil.NewViperConfig(reg),
		lg:        NewLogger(reg, tel),
		telemetry: tel,
		httpPort: viperutil.Configure(reg, "http-port", viperutil.Options[int]{
			Default:  8080,
			FlagName: "http-port",
			EnvVars:  []string{"LENSQL_HTTP_PORT"},
		}),
		bindAddress: viperutil.Configure(reg, "bind-address", viperutil.Options[string]{
			Default:  "",
			FlagName: "bind-address",
		}),
		lameduckPeriod: viperutil.Configure(reg, "lameduck-period", viperutil.Options[time.Duration]{
			Default:  50 * time.Millisecond,
			FlagName: "lameduck-period",
		}),
		onTermTimeout: viperutil.Configure(reg, "onterm-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "onterm-timeout",
		}),
		onCloseTimeout: viperutil.Configure(reg, "onclose-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "onclose-timeout",
		}),
		httpPprof: viperutil.Configure(reg, "pprof-http", viperutil.Options[bool]{
			Default:  false,
			FlagName: "pprof-http",
		}),
		mux:      http.NewServeMux(),
		exitChan: make(chan os.Signal, 1),
	}
}

// Registry returns the config registry the environment reads from.
func (sv *ServEnv) Registry() *viperutil.Registry {
	return sv.reg
}

// RegisterFlags installs the server, lifecycle, logging and config flags.
func (sv *ServEnv) RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("http-port", sv.httpPort.Default(), "HTTP port for the server")
	fs.String("bind-address", sv.bindAddress.Default(), "Bind address for the server. If empty, the server will listen on all available unicast and anycast IP addresses of the local system.")
	fs.Bool("pprof-http", sv.httpPprof.Default(), "enable pprof http endpoints")

	fs.Duration("lameduck-period", sv.lameduckPeriod.Default(), "keep running at least this long after SIGTERM before stopping")
	fs.Duration("onterm-timeout", sv.onTermTimeout.Default(), "wait no more than this for OnTermSync handlers before stopping")
	fs.Duration("onclose-timeout", sv.onCloseTimeout.Default(), "wait no more than this for OnClose handlers before stopping")

	viperutil.BindFlags(fs, sv.httpPort, sv.bindAddress, sv.httpPprof, sv.lameduckPeriod, sv.onTermTimeout, sv.onCloseTimeout)

	sv.lg.RegisterFlags(fs)
	sv.vc.RegisterFlags(fs)
}

// CobraPreRunE loads the config file, installs OpenTelemetry and sets up
// logging. It is meant to be called from a cobra command's PreRunE.
func (sv *ServEnv) CobraPreRunE(cmd *cobra.Command) error {
	if err := sv.vc.LoadConfig(sv.reg); err != nil {
		if sv.vc.ExitOnMissingConfig() {
			slog.Error("failed to read in config", "cmd", cmd.Name(), "err", err)
			os.Exit(1)
		}
		return fmt.Errorf("%s: failed to read in config: %w", cmd.Name(), err)
	}
	if err := sv.telemetry.InitTelemetry(cmd.Context(), cmd.Name()); err != nil {
		// Run without telemetry rather than refuse to start.
		slog.Error("failed to initialize OpenTelemetry", "cmd", cmd.Name(), "error", err)
	}
	sv.lg.SetupLogging()
	return nil
}

// Telemetry returns the OpenTelemetry providers of the environment.
func (sv *ServEnv) Telemetry() *telemetry.Telemetry {
	return sv.telemetry
}

// ShutdownTelemetry flushes and stops the OpenTelemetry providers, waiting
// at most timeout.
func (sv *ServEnv) ShutdownTelemetry(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sv.telemetry.ShutdownTelemetry(ctx)
}

// GetLogger returns the configured logger.
func (sv *ServEnv) GetLogger() *slog.Logger {
	return sv.lg.GetLogger()
}

// GetHTTPPort returns the HTTP port value.
func (sv *ServEnv) GetHTTPPort() int {
	return sv.httpPort.Get()
}

// GetBindAddress returns the bind address value.
func (sv *ServEnv) GetBindAddress() string {
	return sv.bindAddress.Get()
}

// OnTerm registers a function to be run when the process receives a SIGTERM.
// This allows the program to change its behavior during the lameduck period.
//
// All hooks are run in parallel, and there is no guarantee that the process
// will wait for them to finish before dying when the lameduck period expires.
func (sv *ServEnv) OnTerm(f func()) {
	sv.onTermHooks.add(f)
}

// OnTermSync registers a function to be run when the process receives
// SIGTERM. The process waits up to --onterm-timeout for these hooks.
func (sv *ServEnv) OnTermSync(f func()) {
	sv.onTermSyncHooks.add(f)
}

// OnRun registers f to be run right at the beginning of Run.
func (sv *ServEnv) OnRun(f func()) {
	sv.onRunHooks.add(f)
}

// OnRunE registers an error-returning function to be run right at the
// beginning of Run. A failure aborts Run.
func (sv *ServEnv) OnRunE(f func() error) {
	sv.onRunEHooks.add(f)
}

// OnClose registers f to be run at the end of the app lifecycle.
// This happens after the lameduck period just before the program exits.
// All hooks are run in parallel.
func (sv *ServEnv) OnClose(f func()) {
	sv.onCloseHooks.add(f)
}

// FireRunHooks fires the hooks registered by OnRun and OnRunE.
func (sv *ServEnv) FireRunHooks() error {
	sv.onRunHooks.fire()
	return sv.onRunEHooks.fire()
}

// fireHooksWithTimeout returns true iff all the hooks finish before the timeout.
func (sv *ServEnv) fireHooksWithTimeout(timeout time.Duration, name string, hookFn func()) bool {
	logger := sv.GetLogger()
	logger.Info("Firing hooks and waiting for them", "name", name, "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	go func() {
		hookFn()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(fmt.Sprintf("%s hooks finished", name))
		return true
	case <-timer.C:
		logger.Info(fmt.Sprintf("%s hooks timed out", name))
		return false
	}
}
