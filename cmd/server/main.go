// Package main is the entry point for the phonebook server.
//
// main stays minimal: load configuration, build the logger, hand both to
// internal/server and block in Start. Everything else lives in internal/.
//
// Configuration comes from flags, PHONEBOOK_* environment variables and an
// optional config file; run with --help for the flag list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/sakif/phonebook/internal/config"
	"github.com/sakif/phonebook/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "phonebook: %v\n", err)
		os.Exit(2)
	}

	// === 2. SET UP LOGGING ===
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
