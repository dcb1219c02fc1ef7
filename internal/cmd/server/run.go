package server

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"cloudcrate/internal/config"
	"cloudcrate/internal/daemon"
	"cloudcrate/internal/logging"
	"cloudcrate/internal/version"
)

func Run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var configPath, logLevel string
	var showVersion bool
	fs.StringVar(&configPath, "config", "./cloudcrate.yaml", "path to cloudcrate.yaml")
	fs.StringVar(&logLevel, "log-level", "", "override log level: debug|info|warning|error")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("cloudcrate server %s\n", version.Version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if strings.TrimSpace(logLevel) != "" {
		level = logLevel
	}
	lg, err := logging.New(logging.Options{Level: level, JSON: cfg.Log.JSON, DefaultSlog: true})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return daemon.Run(ctx, cfg, lg)
}
