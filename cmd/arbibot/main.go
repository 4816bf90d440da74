package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"arbibot/internal/bootstrap"
	"arbibot/internal/config"
	"arbibot/pkg/cli"
	"arbibot/pkg/logging"
	"arbibot/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/arbibot.yaml", "Path to configuration file")
	symbols := flag.String("symbols", "", "Comma separated symbols (overrides config)")
	closeOnExit := flag.Bool("close-on-exit", false, "Close all open hedges on shutdown")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arbibot version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	overrides, err := cli.ParseSymbols(*symbols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -symbols: %v\n", err)
		os.Exit(2)
	}

	cfg, err := bootstrap.LoadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *closeOnExit {
		cfg.System.CloseOnExit = true
	}

	opts := telemetry.Options{}
	if cfg.System.TraceStdout {
		opts = telemetry.StdoutOptions()
	}
	tel, err := telemetry.SetupWithOptions("arbibot", opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup telemetry: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	code := run(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := tel.Shutdown(ctx); err != nil {
		logger.Warn("Telemetry shutdown failed", "error", err)
	}
	cancel()
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, logger *logging.ZapLogger) int {
	ctx := context.Background()
	app, err := bootstrap.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return 1
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("Arbibot exited with error", "error", err)
		return 1
	}
	return 0
}
