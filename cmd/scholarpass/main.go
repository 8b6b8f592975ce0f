package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"scholarpass/internal/app"
)

func main() {
	// Configuration comes from SCHOLARPASS_* variables and an optional
	// config.yaml (SCHOLARPASS_CONFIG names another path).
	application, err := app.NewApplication("")
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
