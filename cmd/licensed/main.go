// Command licensed runs the license server: activation, heartbeats, billing
// webhooks, and the admin control surface.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"halocore/internal/app"
)

func main() {
	// A missing .env is fine; configuration falls back to process env and
	// the optional config file.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	application, err := app.NewApplication(context.Background())
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
