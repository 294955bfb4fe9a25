package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dukex/journeys/pkg/cmd"
	"github.com/dukex/journeys/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultConcurrency = 5
	shutdownTimeout    = 30 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "journeys-worker",
		EnableShellCompletion: true,
		Usage:                 "Consume contact triggers and run workflow steps",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
		}, cmd.EngineFlags(defaultConcurrency)...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("journeys-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing journeys worker")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.RuntimeConfigFromCommand("journeys-worker", command))
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				_ = runtime.Close(shutdownCtx)
			}()

			if runtime.EventBus == nil {
				return errors.New("worker requires an event bus (--event-bus)")
			}

			worker := NewWorkerManager(workerID, runtime.Engine, runtime.EventBus, logger)

			return worker.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
