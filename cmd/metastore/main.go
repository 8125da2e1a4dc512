package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"metastore/internal/config"
	"metastore/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "snapshot directory, enables snapshots (overrides config)")
	uiDir := flag.String("ui-dir", "", "static front-end directory to serve (overrides config)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	logFormat := flag.String("log-format", "", "text or json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// CLI flags override config file values
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Snapshot.DataDir = *dataDir
		cfg.Snapshot.Enabled = true
	}
	if *uiDir != "" {
		cfg.UI.Dir = *uiDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logging.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("logging: %v", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("metastore stopped", "err", err)
		stop()
		os.Exit(1)
	}
}
