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

// lensqld keeps one PostgreSQL session per user and runs their SQL scripts
// statement by statement, reporting a result for every statement.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lensql/lensql/go/connmanager"
	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/executor"
	"github.com/lensql/lensql/go/queryservice"
	"github.com/lensql/lensql/go/servenv"
	"github.com/lensql/lensql/go/server"
	"github.com/lensql/lensql/go/viperutil"
	viperdebug "github.com/lensql/lensql/go/viperutil/debug"
)

// Lensqld holds the service configuration.
type Lensqld struct {
	sv               *servenv.ServEnv
	dbHost           viperutil.Value[string]
	dbPort           viperutil.Value[int]
	dbSSLMode        viperutil.Value[string]
	dbConnectTimeout viperutil.Value[time.Duration]
	dbAutocommit     viperutil.Value[bool]
	maxConnectionAge viperutil.Value[time.Duration]
	cleanupInterval  viperutil.Value[time.Duration]
	identityHeader   viperutil.Value[string]
}

// CreateLensqldCommand creates the root command and the Lensqld it
// configures.
func CreateLensqldCommand() (*cobra.Command, *Lensqld) {
	reg := viperutil.NewRegistry()
	ld := &Lensqld{
		sv: servenv.NewServEnv(reg),
		dbHost: viperutil.Configure(reg, "db-host", viperutil.Options[string]{
			Default:  "localhost",
			FlagName: "db-host",
			EnvVars:  []string{"USER_DB_HOST"},
		}),
		dbPort: viperutil.Configure(reg, "db-port", viperutil.Options[int]{
			Default:  5432,
			FlagName: "db-port",
			EnvVars:  []string{"USER_DB_PORT"},
		}),
		dbSSLMode: viperutil.Configure(reg, "db-sslmode", viperutil.Options[string]{
			Default:  "disable",
			FlagName: "db-sslmode",
		}),
		dbConnectTimeout: viperutil.Configure(reg, "db-connect-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "db-connect-timeout",
		}),
		dbAutocommit: viperutil.Configure(reg, "db-autocommit", viperutil.Options[bool]{
			Default:  true,
			FlagName: "db-autocommit",
		}),
		maxConnectionAge: viperutil.Configure(reg, "max-connection-age", viperutil.Options[time.Duration]{
			Default:  time.Hour,
			FlagName: "max-connection-age",
			EnvVars:  []string{"LENSQL_MAX_CONNECTION_AGE"},
		}),
		cleanupInterval: viperutil.Configure(reg, "cleanup-interval", viperutil.Options[time.Duration]{
			Default:  time.Minute,
			FlagName: "cleanup-interval",
			EnvVars:  []string{"LENSQL_CLEANUP_INTERVAL"},
		}),
		identityHeader: viperutil.Configure(reg, "identity-header", viperutil.Options[string]{
			Default:  server.DefaultIdentityHeader,
			FlagName: "identity-header",
		}),
	}

	cmd := &cobra.Command{
		Use:   "lensqld",
		Short: "Lensqld runs SQL scripts for learners against their own PostgreSQL sessions.",
		Long: `Lensqld keeps one PostgreSQL session per authenticated user and runs submitted
SQL scripts one statement at a time, streaming a result for every statement. A
failed statement does not stop the ones after it.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return ld.sv.CobraPreRunE(cmd)
		},
		RunE: ld.run,
		PostRunE: func(cmd *cobra.Command, args []string) error {
			// Flush pending spans and metrics once the server has stopped.
			if err := ld.sv.ShutdownTelemetry(5 * time.Second); err != nil {
				return fmt.Errorf("failed to shutdown OpenTelemetry: %w", err)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.String("db-host", ld.dbHost.Default(), "PostgreSQL host that holds the user databases")
	fs.Int("db-port", ld.dbPort.Default(), "PostgreSQL port")
	fs.String("db-sslmode", ld.dbSSLMode.Default(), "sslmode used when connecting to PostgreSQL")
	fs.Duration("db-connect-timeout", ld.dbConnectTimeout.Default(), "timeout for opening a user session")
	fs.Bool("db-autocommit", ld.dbAutocommit.Default(), "run every statement in its own transaction")
	fs.Duration("max-connection-age", ld.maxConnectionAge.Default(), "close sessions idle for longer than this")
	fs.Duration("cleanup-interval", ld.cleanupInterval.Default(), "how often idle sessions are swept")
	fs.String("identity-header", ld.identityHeader.Default(), "request header carrying the authenticated user name")
	viperutil.BindFlags(fs,
		ld.dbHost,
		ld.dbPort,
		ld.dbSSLMode,
		ld.dbConnectTimeout,
		ld.dbAutocommit,
		ld.maxConnectionAge,
		ld.cleanupInterval,
		ld.identityHeader,
	)
	ld.sv.RegisterFlags(fs)

	return cmd, ld
}

func (ld *Lensqld) dialer() *dbconn.PgDialer {
	return &dbconn.PgDialer{
		Host:           ld.dbHost.Get(),
		Port:           ld.dbPort.Get(),
		SSLMode:        ld.dbSSLMode.Get(),
		ConnectTimeout: ld.dbConnectTimeout.Get(),
	}
}

func (ld *Lensqld) run(cmd *cobra.Command, args []string) error {
	logger := ld.sv.GetLogger()
	mp := ld.sv.Telemetry().GetMeterProvider()

	mgr := connmanager.NewManager(logger, ld.dialer(), connmanager.Config{
		MaxAge:        ld.maxConnectionAge.Get(),
		Autocommit:    ld.dbAutocommit.Get(),
		MeterProvider: mp,
	})
	svc := queryservice.NewService(logger, mgr, executor.NewExecutor(logger, mp), queryservice.NewLogRecorder(logger))
	srv := server.NewServer(logger, svc, ld.identityHeader.Get())

	srv.RegisterHandlers(ld.sv.HTTPHandleFunc)
	ld.sv.HTTPHandleFunc("GET /debug/config", viperdebug.HandlerFunc(ld.sv.Registry(), cmd.Flags()))
	ld.sv.HTTPRegisterProfile()

	sweeper := connmanager.NewSweeper(context.WithoutCancel(cmd.Context()), mgr, ld.cleanupInterval.Get(), logger)

	ld.sv.OnRun(func() {
		logger.Info("lensqld starting up",
			"http_port", ld.sv.GetHTTPPort(),
			"db_host", ld.dbHost.Get(),
			"db_port", ld.dbPort.Get(),
			"autocommit", ld.dbAutocommit.Get(),
			"max_connection_age", ld.maxConnectionAge.Get(),
		)
		sweeper.Start()
	})
	ld.sv.OnClose(func() {
		logger.Info("lensqld shutting down")
		sweeper.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.CloseAll(ctx)
	})

	return ld.sv.RunDefault()
}

func main() {
	cmd, _ := CreateLensqldCommand()
	if err := cmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
