// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shiqicao/warpy/internal/config"
	"github.com/shiqicao/warpy/internal/db"
	"github.com/shiqicao/warpy/internal/host"
	"github.com/shiqicao/warpy/internal/logger"
	"github.com/shiqicao/warpy/internal/telemetry"
	"github.com/shiqicao/warpy/internal/updater"
	"github.com/shiqicao/warpy/internal/wasm"
)

// Global flag variables
var (
	dumpFlag     bool
	traceFlag    bool
	logLevelFlag string
)

// cfg is the loaded configuration, available to every command.
var cfg *config.Config

// rootCmd represents the base command. Invoking warpy with a module path
// runs it directly; everything else lives in subcommands.
var rootCmd = &cobra.Command{
	Use:   "warpy <module.wasm> [entry [arg...]]",
	Short: "Interpreter for the early (version 0xc) WebAssembly binary format",
	Long: `Warpy loads a wasm binary module (magic "\0asm", version 0xc), indexes
its control-flow structure and executes a named export against a linear
memory, honoring the core.* host imports.

Arguments are decimal signed 32-bit integers; the entry defaults to "main".
A produced result prints as 0x<hex>:<kind> for integers and
<decimal>:<kind> for floats.

Examples:
  warpy ./fib.wasm                 Run the "main" export
  warpy ./math.wasm add 2 3        Run "add" with two i32 arguments
  warpy dump ./math.wasm --disasm  Show decoded tables and code
  warpy daemon --port 7323         Serve invocations over JSON-RPC`,
	Args:          cobra.MinimumNArgs(1),
	RunE:          runModule,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if logLevelFlag != "" {
			level = logLevelFlag
		}
		if traceFlag {
			level = "debug"
		}
		logger.SetLevel(logger.ParseLevel(level))

		if !cfg.NoUpdateCheck {
			checkForUpdatesAsync()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// checkForUpdatesAsync runs the update check without blocking CLI startup
func checkForUpdatesAsync() {
	go func() {
		checker := updater.NewChecker(Version)
		checker.CheckForUpdates()
	}()
}

func runModule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry,
		ExporterURL: cfg.TelemetryEndpoint,
		ServiceName: "warpy",
	})
	if err != nil {
		return err
	}
	defer shutdown()

	modulePath := args[0]
	entry := "main"
	if len(args) >= 2 {
		entry = args[1]
	}
	callArgs := args[2:]

	data, err := os.ReadFile(modulePath)
	if err != nil {
		return fmt.Errorf("reading module: %w", err)
	}

	tracer := telemetry.GetTracer()
	ctx, span := tracer.Start(ctx, "run_module")
	span.SetAttributes(
		attribute.String("module.path", modulePath),
		attribute.String("entry", entry),
	)
	defer span.End()

	start := time.Now()
	m, loadErr := wasm.Load(data, host.New().Call)
	if loadErr != nil {
		span.RecordError(loadErr)
		recordRun(modulePath, entry, callArgs, "", loadErr, start)
		return loadErr
	}
	if dumpFlag {
		m.Dump(os.Stderr)
	}

	res, runErr := m.Run(entry, callArgs)
	if runErr != nil {
		span.RecordError(runErr)
		recordRun(modulePath, entry, callArgs, "", runErr, start)
		return runErr
	}

	repr := ""
	if res != nil {
		repr = res.String()
		fmt.Println(repr)
	}
	recordRun(modulePath, entry, callArgs, repr, nil, start)
	return nil
}

// recordRun appends the invocation to the history store when enabled.
// History failures are logged, never fatal.
func recordRun(modulePath, entry string, args []string, result string, runErr error, start time.Time) {
	if cfg == nil || !cfg.History {
		return
	}
	store, err := db.Open(cfg.HistoryPath)
	if err != nil {
		logger.Logger.Warn("history store unavailable", "error", err)
		return
	}
	defer store.Close()

	run := &db.Run{
		ModulePath: modulePath,
		Entry:      entry,
		Args:       args,
		Result:     result,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		run.ErrorMsg = runErr.Error()
	}
	if err := store.SaveRun(run); err != nil {
		logger.Logger.Warn("failed to record run", "error", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&logLevelFlag,
		"log-level",
		"",
		"Log level: debug, info, warn, error",
	)

	rootCmd.Flags().BoolVar(
		&dumpFlag,
		"dump",
		false,
		"Print the decoded module tables to stderr before running",
	)

	rootCmd.Flags().BoolVar(
		&traceFlag,
		"trace",
		false,
		"Trace every executed instruction (implies debug logging)",
	)
}
