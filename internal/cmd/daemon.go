// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiqicao/warpy/internal/daemon"
	"github.com/shiqicao/warpy/internal/telemetry"
)

var (
	daemonPort  string
	daemonToken string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Serve module invocations over JSON-RPC",
	Long: `Start a JSON-RPC 2.0 server exposing Interp.Invoke, which loads a wasm
module (by path or inline base64) and runs one of its exports. A health
endpoint is served at /health.

The server stops on SIGINT/SIGTERM.

Examples:
  warpy daemon
  warpy daemon --port 7323 --token s3cret`,
	Args: cobra.NoArgs,
	RunE: daemonExec,
}

func daemonExec(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry,
		ExporterURL: cfg.TelemetryEndpoint,
		ServiceName: "warpy-daemon",
	})
	if err != nil {
		return err
	}
	defer shutdown()

	token := daemonToken
	if token == "" {
		token = cfg.DaemonToken
	}

	srv := daemon.NewServer(daemon.Config{Port: daemonPort, AuthToken: token})
	return srv.Start(ctx, daemonPort)
}

func init() {
	daemonCmd.Flags().StringVar(&daemonPort, "port", "7323", "Port to listen on")
	daemonCmd.Flags().StringVar(&daemonToken, "token", "", "Bearer token required on requests")
	rootCmd.AddCommand(daemonCmd)
}
