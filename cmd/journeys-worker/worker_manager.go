package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dukex/journeys/pkg/eventbus"
	"github.com/dukex/journeys/pkg/events"
	"github.com/dukex/journeys/pkg/workflow"
)

type WorkerManager struct {
	id       string
	logger   *slog.Logger
	engine   *workflow.Engine
	eventBus eventbus.EventSubscriber
}

func NewWorkerManager(
	id string,
	engine *workflow.Engine,
	eventBus eventbus.EventSubscriber,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "journeys-worker", "worker_id", id),
		engine:   engine,
		eventBus: eventBus,
	}
}

// Start registers the trigger handler and begins consuming. It does not block.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.ContactTriggeredEvent, w.engine.Dispatcher().HandleContactTriggered)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Run starts the worker and blocks until ctx is done or the process is
// interrupted.
func (w *WorkerManager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := w.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()
	w.logger.Info("Shutting down worker...")

	return nil
}
