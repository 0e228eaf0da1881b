package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tech-arch1tect/verifyd/app"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "verifyd",
		Usage:   "Email verification code service",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Usage: "Override SERVER_HOST",
					},
					&cli.StringFlag{
						Name:  "port",
						Usage: "Override SERVER_PORT",
					},
				},
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema and exit",
				Action: runMigrate,
			},
			{
				Name:  "purge",
				Usage: "Delete verification tokens that expired before the retention window",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "retention",
						Usage: "Override VERIFICATION_PURGE_RETENTION",
					},
				},
				Action: runPurge,
			},
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host := cmd.String("host"); host != "" {
		cfg.Server.Host = host
	}
	if port := cmd.String("port"); port != "" {
		cfg.Server.Port = port
	}

	application, err := app.NewApp().WithConfig(cfg).WithHTTP().Build()
	if err != nil {
		return err
	}
	return application.Run()
}

func runMigrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Database.AutoMigrate = true
	cfg.Verification.PurgeInterval = 0

	// building the application opens the database and migrates it
	application, err := app.NewApp().WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	application.Logger().Info("migration complete", zap.String("driver", cfg.Database.Driver))

	return stop(ctx, application)
}

func runPurge(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if retention := cmd.Duration("retention"); retention > 0 {
		cfg.Verification.PurgeRetention = retention
	}
	if cfg.Verification.PurgeRetention <= 0 {
		return fmt.Errorf("purge requires a positive retention (VERIFICATION_PURGE_RETENTION or --retention)")
	}
	// the one-shot command never runs the background worker
	cfg.Verification.PurgeInterval = 0

	application, err := app.NewApp().WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	deleted, err := application.Verification().PurgeExpired(ctx)
	if err != nil {
		_ = stop(ctx, application)
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "purged %d verification tokens\n", deleted)

	return stop(ctx, application)
}

func stop(ctx context.Context, application *app.App) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return application.Stop(ctx)
}
