package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/phrelis/ops-agent/internal/collab"
	"github.com/phrelis/ops-agent/internal/config"
	"github.com/phrelis/ops-agent/internal/gateway"
	"github.com/phrelis/ops-agent/internal/ops"
	"github.com/phrelis/ops-agent/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ops-agent",
		Short: "Hospital operations dashboard agent",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			port, _ := cmd.Flags().GetString("port")
			return runServer(envFile, port)
		},
	}
	cmd.Flags().String("env-file", ".env", "Path to the env file")
	cmd.Flags().String("port", "", "Listen port (overrides PORT)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runServer(envFile, portOverride string) error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if portOverride != "" {
		cfg.Port = portOverride
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Collaborator client
	client := collab.NewClient(cfg.CollabBaseURL, cfg.CollabAPIToken, cfg.HTTPTimeout, logger)

	// Metrics
	metrics := telemetry.NewMetrics()

	// State core
	rec := ops.NewReconciler(cfg.SurgeThreshold, logger)
	alerts := ops.NewAlertManager(cfg.AlertTTL, logger)
	admission := ops.NewAdmissionController(client, rec, logger)
	dispatch := ops.NewDispatchController(client, rec, logger)
	poller := ops.NewPoller(client, rec, cfg.PollInterval, metrics, logger)

	// View fan-out hub; the reconciler and alert manager publish into it
	// and the metrics gauges ride the same fan-out.
	hub := gateway.NewHub(logger)
	rec.SetPublisher(ops.MultiPublisher{hub, metrics})
	alerts.SetPublisher(hub)
	defer alerts.Close()

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := collab.NewStreamListener(cfg.CollabWSURL,
		func(event collab.StreamEvent) {
			if event.Type != ops.KindCriticalVitals {
				return
			}
			alerts.Raise(event.Type, event.Message)
			metrics.AlertRaised()
		},
		func(connected bool) {
			rec.SetStreamConnected(connected)
			if !connected {
				metrics.StreamReconnect()
			}
		},
		logger)

	go poller.Run(ctx)
	go stream.Run(ctx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(gateway.Recovery(logger))
	e.Use(gateway.RequestID())
	e.Use(gateway.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	// Metrics exposition
	e.GET("/metrics", metrics.Handler())

	// View WebSocket
	e.GET("/ws", hub.HandleConnect)

	// API routes
	handler := gateway.NewHandler(rec, alerts, admission, dispatch, client)
	handler.SetMutationRecorder(metrics)
	handler.RegisterRoutes(e.Group("/api/v1"))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
