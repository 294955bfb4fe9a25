package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/journeys/pkg/scheduler"
	"github.com/dukex/journeys/pkg/scheduler/redis"
	"go.opentelemetry.io/otel/trace"
)

// SchedulerConfig selects and tunes the delay scheduler.
type SchedulerConfig struct {
	// BrokerURL is the redis:// URL of the durable job store. Empty selects
	// the immediate scheduler.
	BrokerURL   string
	Concurrency int
	Tracer      trace.Tracer
}

// NewScheduler builds the scheduler once at startup. Without a broker,
// delays collapse to immediate execution.
func NewScheduler(ctx context.Context, logger *slog.Logger, cfg SchedulerConfig) (scheduler.Scheduler, error) {
	if cfg.BrokerURL == "" {
		logger.Warn("no broker configured, running delay steps immediately; pending delays do not survive restarts")

		return scheduler.NewImmediate(logger), nil
	}

	if !strings.HasPrefix(cfg.BrokerURL, "redis://") && !strings.HasPrefix(cfg.BrokerURL, "rediss://") {
		return nil, fmt.Errorf("unsupported broker url %q", cfg.BrokerURL)
	}

	store, err := redis.NewFromURL(ctx, cfg.BrokerURL)
	if err != nil {
		return nil, err
	}

	opts := []scheduler.Option{scheduler.WithConcurrency(cfg.Concurrency)}
	if cfg.Tracer != nil {
		opts = append(opts, scheduler.WithTracer(cfg.Tracer))
	}

	return scheduler.NewDurable(store, logger, opts...), nil
}
