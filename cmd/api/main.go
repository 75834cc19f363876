package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"docflow/internal/app"
	"docflow/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLogger(cfg)
	config.LogWithLogger(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()
	if err := app.Serve(ctx, a); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
