package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/journeys/pkg/eventbus"
	"github.com/dukex/journeys/pkg/otelhelper"
	"github.com/dukex/journeys/pkg/workflow"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// Flags shared by every binary that runs the engine.
func EngineFlags(defaultConcurrency int) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL (postgres://... or memory://[seed.yaml])",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "broker-url",
			Usage:   "Redis URL of the durable job store; empty runs delay steps immediately",
			Sources: cli.EnvVars("BROKER_URL"),
		},
		&cli.IntFlag{
			Name:    "scheduler-concurrency",
			Usage:   "Number of job workers (0 only enqueues jobs)",
			Value:   defaultConcurrency,
			Sources: cli.EnvVars("SCHEDULER_CONCURRENCY"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel); empty disables the bus",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka broker addresses",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "mail-queue",
			Usage:   "Mail dispatch (eventbus, log)",
			Value:   "log",
			Sources: cli.EnvVars("MAIL_QUEUE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// RuntimeConfig is read from the flags returned by EngineFlags.
type RuntimeConfig struct {
	ServiceName  string
	DatabaseURL  string
	BrokerURL    string
	Concurrency  int
	EventBus     string
	KafkaBrokers string
	MailQueue    string
	Tracing      bool
}

func RuntimeConfigFromCommand(serviceName string, command *cli.Command) RuntimeConfig {
	return RuntimeConfig{
		ServiceName:  serviceName,
		DatabaseURL:  command.String("database-url"),
		BrokerURL:    command.String("broker-url"),
		Concurrency:  command.Int("scheduler-concurrency"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		MailQueue:    command.String("mail-queue"),
		Tracing:      command.Bool("tracing"),
	}
}

// Runtime owns every resource of a running engine process.
type Runtime struct {
	Engine   *workflow.Engine
	EventBus eventbus.EventBus

	logger         *slog.Logger
	shutdownTracer func(context.Context) error
}

// NewRuntime opens the store, the scheduler, the event bus and the mail
// queue, then starts the engine.
func NewRuntime(ctx context.Context, logger *slog.Logger, cfg RuntimeConfig) (*Runtime, error) {
	r := &Runtime{logger: logger}

	var tracer trace.Tracer

	if cfg.Tracing {
		var err error

		tracer, r.shutdownTracer, err = otelhelper.NewTracer(ctx, cfg.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	store, err := NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Join(err, r.Close(ctx))
	}

	sched, err := NewScheduler(ctx, logger, SchedulerConfig{
		BrokerURL:   cfg.BrokerURL,
		Concurrency: cfg.Concurrency,
		Tracer:      tracer,
	})
	if err != nil {
		return nil, errors.Join(err, store.Close(ctx), r.Close(ctx))
	}

	if cfg.EventBus != "" {
		r.EventBus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, errors.Join(err, sched.Close(ctx), store.Close(ctx), r.Close(ctx))
		}
	}

	var publisher eventbus.EventPublisher
	if r.EventBus != nil {
		publisher = r.EventBus
	}

	mailQueue, err := NewMailQueue(cfg.MailQueue, publisher, logger)
	if err != nil {
		return nil, errors.Join(err, sched.Close(ctx), store.Close(ctx), r.Close(ctx))
	}

	r.Engine = workflow.NewEngine(store, sched, mailQueue, logger)

	err = r.Engine.Start(ctx)
	if err != nil {
		return nil, errors.Join(err, r.Close(ctx))
	}

	return r, nil
}

// Close drains the engine, then closes the bus and flushes traces.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	if r.Engine != nil {
		errs = append(errs, r.Engine.Close(ctx))
	}

	if r.EventBus != nil {
		errs = append(errs, r.EventBus.Close())
	}

	if r.shutdownTracer != nil {
		errs = append(errs, r.shutdownTracer(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.ErrorContext(ctx, "shutdown finished with errors", "error", err)
	}

	return err
}
