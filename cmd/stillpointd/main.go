// Command stillpointd runs the Stillpoint projection daemon: it polls
// the event log and keeps the habit read models up to date.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/stillpoint/stillpoint/pkg/habit"
	"github.com/stillpoint/stillpoint/pkg/observability"
	"github.com/stillpoint/stillpoint/pkg/projection"
	"github.com/stillpoint/stillpoint/pkg/runner"
	"github.com/stillpoint/stillpoint/pkg/runtime/projections"
	"github.com/stillpoint/stillpoint/pkg/sqlite"
)

type config struct {
	DBPath          string        `env:"STILLPOINT_DB" envDefault:"stillpoint.db"`
	PollInterval    time.Duration `env:"STILLPOINT_POLL_INTERVAL" envDefault:"1s"`
	BatchSize       int           `env:"STILLPOINT_BATCH_SIZE" envDefault:"100"`
	ErrorThreshold  int           `env:"STILLPOINT_ERROR_THRESHOLD" envDefault:"10"`
	LogLevel        slog.Level    `env:"STILLPOINT_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"STILLPOINT_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stillpointd:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:    "stillpointd",
		ServiceVersion: "dev",
		Environment:    "dev",
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer tel.Shutdown(ctx)

	events, err := sqlite.NewEventStore(sqlite.WithDSN(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer events.Close()

	checkpoints, err := sqlite.NewCheckpointStore(events.DB())
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	rt := projection.NewRuntime(events, checkpoints,
		projection.WithInterval(cfg.PollInterval),
		projection.WithBatchSize(cfg.BatchSize),
		projection.WithErrorThreshold(cfg.ErrorThreshold),
		projection.WithLogger(logger),
		projection.WithMetrics(tel.Metrics),
	)

	streaks, err := habit.NewStreakProjection(events.DB())
	if err != nil {
		return fmt.Errorf("create streak projection: %w", err)
	}
	if err := rt.Register(streaks); err != nil {
		return fmt.Errorf("register streak projection: %w", err)
	}

	activity, err := habit.NewActivityProjection(events.DB())
	if err != nil {
		return fmt.Errorf("create activity projection: %w", err)
	}
	if err := rt.Register(activity); err != nil {
		return fmt.Errorf("register activity projection: %w", err)
	}

	svc := projections.New(rt,
		projections.WithLogger(logger),
		projections.WithTracer(tel.TracerProvider.Tracer("stillpointd")),
	)

	r := runner.New([]runner.Service{svc},
		runner.WithLogger(logger),
		runner.WithShutdownTimeout(cfg.ShutdownTimeout),
	)

	return r.Run(ctx)
}
