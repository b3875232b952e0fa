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

package main

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/lensql/lensql/go/server"
)

func newCommand(t *testing.T) (*cobra.Command, *Lensqld) {
	t.Helper()
	prev := slog.Default()
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	cmd, ld := CreateLensqldCommand()
	t.Cleanup(func() { _ = ld.sv.ShutdownTelemetry(time.Second) })
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd, ld
}

func TestDefaults(t *testing.T) {
	cmd, ld := newCommand(t)
	require.NoError(t, cmd.ParseFlags(nil))

	assert.Equal(t, "localhost", ld.dbHost.Get())
	assert.Equal(t, 5432, ld.dbPort.Get())
	assert.Equal(t, "disable", ld.dbSSLMode.Get())
	assert.True(t, ld.dbAutocommit.Get())
	assert.Equal(t, time.Hour, ld.maxConnectionAge.Get())
	assert.Equal(t, time.Minute, ld.cleanupInterval.Get())
	assert.Equal(t, server.DefaultIdentityHeader, ld.identityHeader.Get())
	assert.Equal(t, 8080, ld.sv.GetHTTPPort())

	for _, name := range []string{"db-host", "http-port", "log-level", "config-file", "pprof-http"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestFlagsAndEnv(t *testing.T) {
	t.Setenv("USER_DB_HOST", "pg.env")
	t.Setenv("USER_DB_PORT", "6432")
	t.Setenv("LENSQL_MAX_CONNECTION_AGE", "30m")

	cmd, ld := newCommand(t)
	require.NoError(t, cmd.ParseFlags([]string{
		"--db-port=7432",
		"--db-autocommit=false",
		"--cleanup-interval=15s",
		"--identity-header=X-User",
	}))

	assert.Equal(t, "pg.env", ld.dbHost.Get())
	// Flags win over the environment.
	assert.Equal(t, 7432, ld.dbPort.Get())
	assert.Equal(t, 30*time.Minute, ld.maxConnectionAge.Get())
	assert.False(t, ld.dbAutocommit.Get())
	assert.Equal(t, 15*time.Second, ld.cleanupInterval.Get())
	assert.Equal(t, "X-User", ld.identityHeader.Get())

	d := ld.dialer()
	assert.Equal(t, "pg.env", d.Host)
	assert.Equal(t, 7432, d.Port)
	assert.Equal(t, "disable", d.SSLMode)
	assert.Equal(t, 10*time.Second, d.ConnectTimeout)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lensqld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db-host: pg.internal
db-sslmode: require
max-connection-age: 2h
log-level: error
`), 0o644))

	cmd, ld := newCommand(t)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config-file=" + path,
		"--log-output=" + filepath.Join(dir, "lensqld.log"),
	}))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	assert.Equal(t, path, ld.sv.Registry().ConfigFileUsed())
	assert.Equal(t, "pg.internal", ld.dbHost.Get())
	assert.Equal(t, "require", ld.dbSSLMode.Get())
	assert.Equal(t, 2*time.Hour, ld.maxConnectionAge.Get())
	assert.Equal(t, 5432, ld.dbPort.Get())
}

func TestMissingConfigFile(t *testing.T) {
	cmd, _ := newCommand(t)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config-file=" + filepath.Join(t.TempDir(), "missing.yaml"),
		"--config-file-not-found-handling=error",
	}))
	assert.Error(t, cmd.PreRunE(cmd, nil))
}

func TestRejectsArgs(t *testing.T) {
	cmd, _ := newCommand(t)
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	cmd, ld := newCommand(t)
	cmd.SetArgs([]string{
		"--http-port=0",
		"--bind-address=127.0.0.1",
		"--lameduck-period=1ms",
		"--cleanup-interval=10ms",
		"--config-file-not-found-handling=ignore",
		"--config-path=" + dir,
		"--log-output=" + filepath.Join(dir, "lensqld.log"),
	})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()
	require.Eventually(t, func() bool { return ld.sv.ListenAddr() != nil }, 5*time.Second, 5*time.Millisecond)
	base := "http://" + ld.sv.ListenAddr().String()
	// PreRunE installed the process-wide providers.
	assert.Equal(t, ld.sv.Telemetry().GetTracerProvider(), otel.GetTracerProvider())
	assert.Equal(t, ld.sv.Telemetry().GetMeterProvider(), otel.GetMeterProvider())

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/debug/config")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "max-connection-age")

	// No session yet.
	req, err := http.NewRequest(http.MethodPost, base+"/run", nil)
	require.NoError(t, err)
	req.Header.Set(server.DefaultIdentityHeader, "alice")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ld.sv.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lensqld did not stop")
	}
}
