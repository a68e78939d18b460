// gpuctl is the operator console of the price pipeline.
package main

import (
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	FlagServer  = "server"
	FlagAPIKey  = "api-key"
	FlagTimeout = "timeout"
)

func newApp() *cli.App {
	return &cli.App{
		Name:                 "gpuctl",
		Usage:                "Inspect and steer GPU price ingestion",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    FlagServer,
				EnvVars: []string{"GPUINDEX_SERVER"},
				Usage:   "API base URL",
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    FlagAPIKey,
				EnvVars: []string{"GPUINDEX_API_KEY"},
				Usage:   "ops API key",
			},
			&cli.DurationFlag{
				Name:  FlagTimeout,
				Usage: "request timeout",
				Value: 15 * time.Second,
			},
		},
		Commands: []*cli.Command{
			jobsCmd,
			anomaliesCmd,
			reconcileCmd,
			queuesCmd,
			triggersCmd,
			triggerCmd,
			rollupCmd,
		},
	}
}

func main() {
	app := newApp()
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
