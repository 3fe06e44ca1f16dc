package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/botwarden/warden/core/config"
	"github.com/botwarden/warden/core/ledger"
	"github.com/botwarden/warden/core/registry"
	"github.com/botwarden/warden/core/store"
)

func runServe(arguments []string) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var listen string
	var dbPath string
	var devMode bool

	flagSet.StringVar(&configPath, "config", config.DefaultPath, "service config file")
	flagSet.StringVar(&listen, "listen", "", "listen address (overrides config)")
	flagSet.StringVar(&dbPath, "db", "", "sqlite database path (overrides config)")
	flagSet.BoolVar(&devMode, "dev", false, "dev mode: plain-http manifests and endpoints allowed")

	if err := flagSet.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		return exitInvalidInput
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath, true)
	if err != nil {
		logger.Error("load config", "error", err)
		return exitInvalidInput
	}
	if listen == "" {
		listen = cfg.Server.Listen
	}
	if listen == "" {
		listen = "127.0.0.1:8787"
	}
	if dbPath == "" {
		dbPath = cfg.Server.DBPath
	}
	if dbPath == "" {
		dbPath = ".warden/registry.db"
	}
	if cfg.Server.DevMode {
		devMode = true
	}

	st, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	if err != nil {
		logger.Error("open store", "error", err)
		return exitInternalFailure
	}

	reg, err := registry.New(registry.Config{
		Store:           st,
		Logger:          logger,
		DevMode:         devMode,
		ProbeTimeout:    config.Duration(cfg.Registry.ProbeTimeout, 30*time.Second),
		ProbeParallel:   cfg.Registry.ProbeParallel,
		FetchTimeout:    config.Duration(cfg.Registry.FetchTimeout, 5*time.Second),
		TrapRate:        cfg.Registry.TrapRate,
		TrapSeed:        cfg.Registry.TrapSeed,
		ReviewerMinRank: ledger.Rank(cfg.Registry.ReviewerMinRank),
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
	})
	if err != nil {
		logger.Error("build registry", "error", err)
		_ = st.Close()
		return exitInternalFailure
	}
	defer func() { _ = reg.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeInterval := config.Duration(cfg.Registry.ProbeInterval, 5*time.Minute)
	go reg.RunProbeLoop(ctx, probeInterval)

	server := &http.Server{
		Addr:              listen,
		Handler:           reg.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("registry listening",
		"addr", listen,
		"db", dbPath,
		"dev_mode", devMode,
		"probe_interval", probeInterval.String(),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
		return exitInternalFailure
	}
	return exitOK
}
