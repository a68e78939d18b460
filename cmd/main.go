package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gpuindex/pkg/config"
	"gpuindex/pkg/logger"

	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "gpuindex",
		Usage: "GPU rental price ingestion and aggregation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"CONFIG_PATH"},
				Value:   config.DefaultPath,
				Usage:   "path to the YAML config file",
			},
			&cli.StringSliceFlag{
				Name:    "roles",
				EnvVars: []string{"GPUINDEX_ROLES"},
				Usage:   "roles to run (api, worker, scheduler); overrides the config file",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Value: defaultShutdownTimeout,
				Usage: "how long in-flight scrapes get to finalize on exit",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the configured roles until SIGINT or SIGTERM",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "create or alter tables and seed the catalog, then exit",
				Action: func(cctx *cli.Context) error {
					return NewApplication(options(cctx)).Migrate()
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.FatalCtx(context.Background(), "%v", err)
	}
}

func options(cctx *cli.Context) Options {
	return Options{
		ConfigPath: cctx.String("config"),
		Roles:      cctx.StringSlice("roles"),
	}
}

func serve(cctx *cli.Context) error {
	app := NewApplication(options(cctx))

	if err := app.Initialize(); err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.InfoCtx(app.ctx, "Received exit signal: %v", sig)

	if err := app.Shutdown(cctx.Duration("shutdown-timeout")); err != nil {
		return err
	}
	logger.InfoCtx(app.ctx, "Application safely exited")
	return nil
}
