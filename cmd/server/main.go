package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chitbox/chitbox/internal/app"
	"github.com/chitbox/chitbox/internal/config"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ChitBox stopped with error")
	}
	log.Info().Msg("ChitBox stopped")
}

func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseConnection(pool)

	log.Info().Msg("connected to database")

	chitbox, err := app.New(ctx, cfg, pool)
	if err != nil {
		return err
	}

	if err := chitbox.Listen(); err != nil {
		return err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("http", chitbox.HTTPAddr()).
		Str("smtp", chitbox.SMTPAddr()).
		Str("imap", chitbox.IMAPAddr()).
		Str("relay", chitbox.Relay().Name()).
		Msg("ChitBox started")

	return chitbox.Serve(ctx)
}
