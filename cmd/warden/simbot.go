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

	"github.com/botwarden/warden/core/simbot"
)

func runSimbot(arguments []string) int {
	flagSet := flag.NewFlagSet("simbot", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var listen string
	var model string
	var maxLatencyMS int64
	var seed int64

	flagSet.StringVar(&listen, "listen", "127.0.0.1:9100", "listen address")
	flagSet.StringVar(&model, "model", "example-large", "model name declared in the manifest")
	flagSet.Int64Var(&maxLatencyMS, "max-latency-ms", 2000, "declared latency bound in milliseconds")
	flagSet.Int64Var(&seed, "seed", time.Now().UnixNano(), "drift machine seed")

	if err := flagSet.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "simbot: %v\n", err)
		return exitInvalidInput
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	agent := simbot.New(seed, model, maxLatencyMS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              listen,
		Handler:           agent.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("simbot listening", "addr", listen, "model", model, "seed", seed)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("simbot", "error", err)
		return exitInternalFailure
	}
	return exitOK
}
