package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/journeys/pkg/cmd"
	"github.com/dukex/journeys/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091

	// The API only enqueues delayed jobs; workers run them.
	defaultConcurrency = 0
)

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "journeys-api",
		Usage:                 "Trigger workflows and inspect enrollments over HTTP",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.EngineFlags(defaultConcurrency)...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger.InfoContext(ctx, "Initializing journeys API")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.RuntimeConfigFromCommand("journeys-api", command))
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				_ = runtime.Close(shutdownCtx)
			}()

			return NewAPI(logger, runtime.Engine).Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
