/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/calrem/internal/config"
	"github.com/friendsincode/calrem/internal/logbuffer"
	"github.com/friendsincode/calrem/internal/logging"
	"github.com/friendsincode/calrem/internal/server"
	"github.com/friendsincode/calrem/internal/telemetry"
	"github.com/friendsincode/calrem/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logs   *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "calrem",
	Short: "calrem - calendar reminders from a plain text file",
	Long: "calrem parses a plain text calendar kept in object storage, " +
		"delivers reminders to a chat room ahead of each entry and serves the parsed calendar and to-do list over HTTP.",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the periodic notifier",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.LogBuffer > 0 {
		logs = logbuffer.New(cfg.LogBuffer)
		logger = logging.Setup(cfg.Environment, cfg.LogLevel, logbuffer.NewWriter(logs))
		return nil
	}
	logger = logging.Setup(cfg.Environment, cfg.LogLevel)
	return nil
}

func initTracer(ctx context.Context) (*telemetry.TracerProvider, error) {
	return telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "calrem",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
}

func shutdownTracer(tp *telemetry.TracerProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown tracer provider")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.String()).Msg("calrem starting")

	tracerProvider, err := initTracer(context.Background())
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer shutdownTracer(tracerProvider)

	srv, err := server.New(context.Background(), cfg, logger, logs)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()
	serveErr := make(chan error, 1)

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	srv.Start()
	logger.Info().Str("schedule", cfg.Schedule).Str("delivery", string(cfg.Delivery)).Msg("notifier scheduled")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info().Msg("shutting down gracefully...")
	case runErr = <-serveErr:
		logger.Error().Err(runErr).Msg("http server error")
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("calrem stopped")
	return runErr
}
