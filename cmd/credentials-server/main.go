package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-credentials/adapters/gologger"
)

func main() {
	cfg, err := parseConfig(nil)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	provider := gologger.NewSlogProvider(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))
	logger := provider.GetLogger("credentials-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, provider); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("credentials server stopped", "error", err)
	}
}

func logLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
