// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/CanaryCommerce/CanaryOSS/pkg/logging"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage/badgerstore"
)

// ServerConfig is the serve command's effective configuration.
//
// Precedence, lowest to highest: YAML config file, CANARY_* environment
// variables, command-line flags.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`
	Debug    bool   `yaml:"debug"`
	Trace    bool   `yaml:"trace"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the experiment engine HTTP server",
	Long: `Starts the HTTP server exposing the experiment engine under /v1:
activation, sticky assignment, impression/conversion ingestion, allocation
recompute, decision evaluation, and read/reconcile endpoints. Prometheus
metrics are served on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", defaultDataDir(), "Directory for the Badger database")
	serveCmd.Flags().String("log-level", "info", "Minimum stderr log level (debug, info, warn, error)")
	serveCmd.Flags().String("log-dir", "", "Directory for JSON log files (empty disables)")
	serveCmd.Flags().Bool("debug", false, "Enable Gin debug mode and request logging")
	serveCmd.Flags().Bool("trace", false, "Export OpenTelemetry spans to stdout")
	serveCmd.Flags().String("config", "", "Optional YAML config file")

	rootCmd.AddCommand(serveCmd)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".canary/data"
	}
	return home + "/.canary/data"
}

// loadServerConfig merges config file, environment and flags.
func loadServerConfig(cmd *cobra.Command) (ServerConfig, error) {
	cfg := ServerConfig{}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("CANARY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return cfg, err
	}

	// Flags and environment override file values only when set.
	if v.IsSet("port") || cfg.Port == 0 {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("data-dir") || cfg.DataDir == "" {
		cfg.DataDir = v.GetString("data-dir")
	}
	if v.IsSet("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = v.GetString("log-level")
	}
	if v.IsSet("log-dir") || cfg.LogDir == "" {
		cfg.LogDir = v.GetString("log-dir")
	}
	if v.GetBool("debug") {
		cfg.Debug = true
	}
	if v.GetBool("trace") {
		cfg.Trace = true
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "engine",
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if cfg.Trace {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				slog.Warn("trace provider shutdown", "error", err)
			}
		}()
	}

	db, err := badgerstore.Open(badgerstore.Config{
		Path:           cfg.DataDir,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
		Logger:         logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store := badgerstore.New(db)
	defer store.Close()

	engine := experiments.NewEngine(store,
		experiments.WithLogger(logger.Logger),
		experiments.WithHook(experiments.LoggingHook{Logger: logger.Logger}),
	)
	handlers := experiments.NewHandlers(engine)

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	experiments.RegisterRoutes(router.Group("/v1"), handlers)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("experiment engine listening",
			slog.Int("port", cfg.Port),
			slog.String("data_dir", cfg.DataDir))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
