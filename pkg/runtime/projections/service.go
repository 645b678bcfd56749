// Package projections provides a runner.Service adapter for the
// projection Runtime, bridging pkg/projection with pkg/runner for
// lifecycle management.
package projections

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stillpoint/stillpoint/pkg/projection"
)

// Service wraps a projection.Runtime as a runner.Service.
//
// Example usage:
//
//	svc := projections.New(rt,
//	    projections.WithLogger(logger),
//	)
//	r := runner.New([]runner.Service{svc})
//	r.Run(ctx)
type Service struct {
	runtime *projection.Runtime
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures the projections service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for the service.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New creates a projections service for use with runner.
func New(runtime *projection.Runtime, opts ...Option) *Service {
	s := &Service{
		runtime: runtime,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("projections"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the service name for logging.
func (s *Service) Name() string {
	return "projections"
}

// Start marks every registered projection running and launches the
// polling scheduler.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "projections.Start")
	defer span.End()

	s.logger.Info("starting projection runtime")

	// The scheduler must outlive the startup context, which the
	// runner cancels once Start returns.
	if err := s.runtime.StartAll(context.WithoutCancel(ctx)); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to start projection runtime", "error", err)
		return fmt.Errorf("failed to start projection runtime: %w", err)
	}

	return nil
}

// Stop cancels the scheduler and waits for any in-flight cycle to drain.
func (s *Service) Stop(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "projections.Stop")
	defer span.End()

	s.logger.Info("stopping projection runtime")
	s.runtime.StopAll()

	return nil
}

// HealthCheck reports unhealthy when the scheduler is not active.
func (s *Service) HealthCheck(context.Context) error {
	status, err := s.runtime.GetStatus()
	if err != nil {
		return fmt.Errorf("projection status: %w", err)
	}
	if !status.SchedulerActive {
		return fmt.Errorf("projection scheduler not running")
	}
	return nil
}
