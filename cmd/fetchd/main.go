package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/config"
	"github.com/JakeFAU/webwrapper/internal/logging"
	"github.com/JakeFAU/webwrapper/internal/server"
	"github.com/JakeFAU/webwrapper/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fetchd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		// Sync fails on stderr-backed cores; nothing useful to do about it.
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, logging.Service, cfg.Tracing.SampleRatio)
		if err != nil {
			return fmt.Errorf("tracer init: %w", err)
		}
		defer func() {
			if err := telemetry.Shutdown(tp); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return app.Run(ctx)
}
