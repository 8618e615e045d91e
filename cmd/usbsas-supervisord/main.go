// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-supervisord is the session-long supervisor process. It loads configuration, spawns the worker roster, and
// serves exactly one frontend over a Unix domain socket until that
// frontend ends the session in an orderly way.
//
// Exit codes: 0 on an orderly end, 1 when configuration or
// worker spawning fails before a frontend ever connects, 2 when a
// connected frontend violates the framing protocol.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/usbsas/usbsas/lib/clock"
	"github.com/usbsas/usbsas/lib/config"
	"github.com/usbsas/usbsas/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	var socketPath string
	var configPath string
	flag.StringVar(&socketPath, "socket", "/run/usbsas/usbsas.sock", "Unix domain socket the frontend connects to")
	flag.StringVar(&configPath, "config", "", "path to the usbsas YAML config (defaults to $USBSAS_CONFIG)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "usbsas-supervisord: %v\n", err)
		return 1
	}
	if err := cfg.EnsureOutDirectory(); err != nil {
		fmt.Fprintf(os.Stderr, "usbsas-supervisord: %v\n", err)
		return 1
	}

	sup, err := supervisor.New(cfg, logger, clock.Real())
	if err != nil {
		fmt.Fprintf(os.Stderr, "usbsas-supervisord: spawning worker roster: %v\n", err)
		return 1
	}
	defer sup.Close()

	if err := sup.Serve(socketPath); err != nil {
		if errors.Is(err, supervisor.ErrProtocolViolation) {
			logger.Error("usbsas-supervisord: frontend protocol violation", "error", err)
			return 2
		}
		logger.Error("usbsas-supervisord: serve failed", "error", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
