package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	privacy "github.com/i5heu/ouroboros-privacy"
	"github.com/i5heu/ouroboros-privacy/internal/config"
	"github.com/i5heu/ouroboros-privacy/pkg/logging"
)

const (
	logKeyConfig    = "config"
	logKeyURL       = "url"
	logKeyTransport = "transport"
	logKeySignal    = "signal"
	logKeyError     = "error"
)

func main() { // A
	cfg := parseFlags()

	settings, err := config.Load(cfg.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "privacyd: %v\n", err)
		os.Exit(2)
	}
	if cfg.debug {
		settings.Log.Level = "debug"
	}
	logger := logging.New(logging.Options{
		Level:   logging.ParseLevel(settings.Log.Level),
		NoColor: settings.Log.NoColor,
	})

	logger.Info("starting privacy manager",
		logKeyConfig, cfg.configPath,
		logKeyURL, settings.Server.AdvertisedURL,
		logKeyTransport, settings.Server.Transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	node, err := privacy.New(privacy.Config{
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("invalid configuration", logKeyError, err)
		os.Exit(2)
	}
	if err := node.Run(ctx); err != nil {
		logger.Error("privacy manager stopped", logKeyError, err)
		os.Exit(1)
	}
}

// daemonConfig holds the parsed command line flags.
type daemonConfig struct {
	configPath string
	debug      bool
}

func parseFlags() daemonConfig { // A
	cfg := daemonConfig{}
	flag.StringVar(&cfg.configPath, "config", "privacyd.yaml",
		"Path to the YAML configuration file")
	flag.BoolVar(&cfg.debug, "debug", false,
		"Enable debug logging")
	flag.Parse()
	return cfg
}
