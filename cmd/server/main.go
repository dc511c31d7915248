package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel, os.Stdout)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "init failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "server stopped", "error", err)
		app.Close()
		os.Exit(1)
	}

}
