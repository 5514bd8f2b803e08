package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	_ "github.com/noah-isme/studyhub-api/api/swagger"
	"github.com/noah-isme/studyhub-api/internal/server"
	"github.com/noah-isme/studyhub-api/migrations"
	"github.com/noah-isme/studyhub-api/pkg/config"
	"github.com/noah-isme/studyhub-api/pkg/database"
	"github.com/noah-isme/studyhub-api/pkg/logger"
)

// @title StudyHub API
// @version 1.0.0
// @description Study groups, realtime chat, moderation and transcript exports.
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	app := &cli.App{
		Name:  "studyhub-api",
		Usage: "StudyHub API server",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP and realtime server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("studyhub-api: %v", err)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logr, nil
}

func serve(c *cli.Context) error {
	cfg, logr, err := bootstrap()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app, err := server.New(ctx, cfg, logr)
	if err != nil {
		logr.Error("failed to initialise server", zap.Error(err))
		return err
	}
	return app.Run(ctx)
}

func migrate(c *cli.Context) error {
	cfg, logr, err := bootstrap()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db, migrations.Files, logr)
	if err != nil {
		return err
	}
	logr.Info("migrations applied", zap.Int("count", len(applied)), zap.Strings("versions", applied))
	return nil
}
