package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/signagedisplay/internal/config"
	"github.com/Lllllllleong/signagedisplay/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	display, err := services.NewDisplay(ctx, config.Load())
	if err != nil {
		slog.Error("Critical error during display initialization", "error", err)
		os.Exit(1)
	}
	defer display.Close()

	if err := display.Run(ctx); err != nil {
		slog.Error("Display stopped with an error", "error", err)
		display.Close()
		os.Exit(1)
	}
	slog.Info("Display stopped.")
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}
