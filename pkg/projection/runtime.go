package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stillpoint/stillpoint/pkg/observability"
	"github.com/stillpoint/stillpoint/pkg/store"
)

const (
	// DefaultInterval is the scheduler tick interval.
	DefaultInterval = time.Second

	// DefaultBatchSize caps how many events one projection reads per cycle.
	DefaultBatchSize = 100

	// DefaultErrorThreshold is the number of consecutive handler
	// failures after which a projection is stopped.
	DefaultErrorThreshold = 10
)

// Runtime owns the projection registry and the polling scheduler.
// It replays the event log into every running projection, persists
// per-projection checkpoints, and stops a projection whose handler
// keeps failing.
//
// A Runtime assumes it is the only instance working against its
// checkpoint store; running two instances concurrently produces
// duplicate processing.
type Runtime struct {
	events      store.EventStore
	checkpoints store.CheckpointStore

	interval       time.Duration
	batchSize      int
	errorThreshold int
	logger         *slog.Logger
	metrics        *observability.Metrics

	mu          sync.RWMutex
	projections map[string]Projection
	cancel      context.CancelFunc
	done        chan struct{}

	// cycleActive guards against overlapping cycles: a tick that fires
	// while the previous cycle is still in flight is skipped.
	cycleActive atomic.Bool
}

// runtimeConfig holds internal configuration for the Runtime.
type runtimeConfig struct {
	interval       time.Duration
	batchSize      int
	errorThreshold int
	logger         *slog.Logger
	metrics        *observability.Metrics
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		interval:       DefaultInterval,
		batchSize:      DefaultBatchSize,
		errorThreshold: DefaultErrorThreshold,
		logger:         slog.Default(),
	}
}

// Option is a function that configures a Runtime.
type Option func(*runtimeConfig)

// WithInterval sets the scheduler tick interval.
func WithInterval(interval time.Duration) Option {
	return func(c *runtimeConfig) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithBatchSize sets the per-projection batch size per cycle.
func WithBatchSize(n int) Option {
	return func(c *runtimeConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithErrorThreshold sets the consecutive-failure count at which a
// projection is stopped.
func WithErrorThreshold(n int) Option {
	return func(c *runtimeConfig) {
		if n > 0 {
			c.errorThreshold = n
		}
	}
}

// WithLogger sets the logger for the runtime.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metric instruments recorded by the runtime.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *runtimeConfig) {
		c.metrics = m
	}
}

// NewRuntime creates a projection runtime backed by the given stores.
func NewRuntime(events store.EventStore, checkpoints store.CheckpointStore, opts ...Option) *Runtime {
	config := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &Runtime{
		events:         events,
		checkpoints:    checkpoints,
		interval:       config.interval,
		batchSize:      config.batchSize,
		errorThreshold: config.errorThreshold,
		logger:         config.logger,
		metrics:        config.metrics,
		projections:    make(map[string]Projection),
	}
}

// Register registers a projection and ensures its checkpoint row
// exists. Registering the same name twice replaces the in-memory
// handler but never resets the persisted checkpoint, so a process
// that re-registers on boot resumes where it left off.
func (r *Runtime) Register(projection Projection) error {
	name := projection.Name()

	r.mu.Lock()
	r.projections[name] = projection
	r.mu.Unlock()

	if err := r.checkpoints.Ensure(name); err != nil {
		return fmt.Errorf("ensure checkpoint for %s: %w", name, err)
	}

	r.logger.Debug("projection registered", "projection", name)
	return nil
}

// StartAll marks every registered projection running and starts the
// scheduler if it is not already active. Calling StartAll on an
// active runtime only re-flags the projections; it is idempotent.
func (r *Runtime) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.namesLocked() {
		if err := r.checkpoints.SetRunning(name, true); err != nil {
			return fmt.Errorf("start projection %s: %w", name, err)
		}
	}

	if r.cancel != nil {
		r.logger.Info("scheduler already running")
		return nil
	}

	schedCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(schedCtx, r.done)

	r.logger.Info("projection scheduler started",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"projections", len(r.projections))

	return nil
}

// StopAll cancels the scheduler, waits for any in-flight cycle to
// drain, and marks every registered projection stopped.
func (r *Runtime) StopAll() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	names := r.namesLocked()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for _, name := range names {
		if err := r.checkpoints.SetRunning(name, false); err != nil {
			r.logger.Error("failed to mark projection stopped",
				"projection", name, "error", err)
		}
	}

	r.logger.Info("projection scheduler stopped")
}

// Start resumes a single projection, typically after it was stopped
// by the circuit breaker.
func (r *Runtime) Start(name string) error {
	if !r.registered(name) {
		return fmt.Errorf("start %s: %w", name, ErrProjectionNotFound)
	}
	return r.checkpoints.SetRunning(name, true)
}

// Stop pauses a single projection without touching its checkpoint.
func (r *Runtime) Stop(name string) error {
	if !r.registered(name) {
		return fmt.Errorf("stop %s: %w", name, ErrProjectionNotFound)
	}
	return r.checkpoints.SetRunning(name, false)
}

// Reset zeroes the checkpoint of a registered projection, forcing a
// full replay from the start of the log on the next cycle. A reset
// that races an in-flight cycle wins: the cycle's checkpoint write is
// discarded.
func (r *Runtime) Reset(name string) error {
	if !r.registered(name) {
		return fmt.Errorf("reset %s: %w", name, ErrProjectionNotFound)
	}

	if err := r.checkpoints.Reset(name); err != nil {
		return fmt.Errorf("reset %s: %w", name, err)
	}

	r.logger.Info("projection reset", "projection", name)
	return nil
}

// Status is a point-in-time summary of the runtime.
type Status struct {
	// SchedulerActive reports whether the polling scheduler is running.
	SchedulerActive bool

	// Registered is the number of registered projections.
	Registered int

	// Running is how many registered projections are flagged running.
	Running int

	// TotalPosition is the sum of checkpoint positions across all
	// registered projections - a coarse throughput proxy.
	TotalPosition int64
}

// GetStatus returns a summary across all registered projections.
func (r *Runtime) GetStatus() (Status, error) {
	r.mu.RLock()
	active := r.cancel != nil
	registered := len(r.projections)
	names := r.namesLocked()
	r.mu.RUnlock()

	status := Status{
		SchedulerActive: active,
		Registered:      registered,
	}

	for _, name := range names {
		cp, err := r.checkpoints.Load(name)
		if err != nil {
			return Status{}, fmt.Errorf("load checkpoint for %s: %w", name, err)
		}
		if cp.Running {
			status.Running++
		}
		status.TotalPosition += cp.Position
	}

	return status, nil
}

// GetProjectionState returns the persisted checkpoint row for a
// registered projection.
func (r *Runtime) GetProjectionState(name string) (*store.ProjectionCheckpoint, error) {
	if !r.registered(name) {
		return nil, fmt.Errorf("projection state %s: %w", name, ErrProjectionNotFound)
	}
	return r.checkpoints.Load(name)
}

// GetAllProjections returns the checkpoint rows of every registered
// projection, ordered by name.
func (r *Runtime) GetAllProjections() ([]*store.ProjectionCheckpoint, error) {
	r.mu.RLock()
	names := r.namesLocked()
	r.mu.RUnlock()

	checkpoints := make([]*store.ProjectionCheckpoint, 0, len(names))
	for _, name := range names {
		cp, err := r.checkpoints.Load(name)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint for %s: %w", name, err)
		}
		checkpoints = append(checkpoints, cp)
	}

	return checkpoints, nil
}

// run is the scheduler loop. It fires on a fixed interval until the
// context is cancelled; a tick that arrives while a cycle is still in
// flight is skipped rather than overlapped.
func (r *Runtime) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	// Cancelling ctx stops the ticking, not the work: the in-flight
	// batch runs under an uncancelled context so a shutdown never
	// surfaces as handler errors in the checkpoint rows.
	cycleCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunCycle(cycleCtx)
		}
	}
}

// RunCycle performs one synchronous pass over every registered
// projection. The scheduler calls it on each tick; it is exported so
// callers can drive the runtime manually (tests, cron-style jobs).
// If a cycle is already in flight the call is a no-op.
func (r *Runtime) RunCycle(ctx context.Context) {
	if !r.cycleActive.CompareAndSwap(false, true) {
		r.logger.Debug("previous cycle still in flight, skipping tick")
		return
	}
	defer r.cycleActive.Store(false)

	start := time.Now()

	r.mu.RLock()
	projections := make([]Projection, 0, len(r.projections))
	for _, name := range r.namesLocked() {
		projections = append(projections, r.projections[name])
	}
	r.mu.RUnlock()

	for _, p := range projections {
		r.dispatch(ctx, p)
	}

	if r.metrics != nil {
		r.metrics.CycleDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// dispatch contains one projection's processing, so a failure or panic
// in one projection never aborts the others in the same cycle.
func (r *Runtime) dispatch(ctx context.Context, p Projection) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("projection panicked",
				"projection", p.Name(), "panic", rec)
		}
	}()

	r.process(ctx, p)
}

// process advances one projection by at most one batch.
func (r *Runtime) process(ctx context.Context, p Projection) {
	name := p.Name()

	cp, err := r.checkpoints.Load(name)
	if err != nil {
		r.logger.Error("failed to load checkpoint",
			"projection", name, "error", err)
		return
	}

	if !cp.Running {
		return
	}
	loaded := *cp

	events, err := r.events.ReadEvents(cp.Position, r.batchSize)
	if err != nil {
		r.logger.Error("failed to read events",
			"projection", name, "after_position", cp.Position, "error", err)
		return
	}

	// Caught up: no checkpoint write, no error-count change.
	if len(events) == 0 {
		return
	}

	position := cp.Position
	errorCount := cp.ErrorCount
	lastError := cp.LastError
	running := true
	applied := 0

	for _, event := range events {
		if err := p.Handle(ctx, event); err != nil {
			errorCount++
			lastError = err.Error()

			r.logger.Error("projection failed to handle event",
				"projection", name,
				"event_type", event.EventType,
				"position", event.Position,
				"error_count", errorCount,
				"error", err)
			if r.metrics != nil {
				r.metrics.HandlerErrors.Add(ctx, 1,
					metric.WithAttributes(attribute.String("projection", name)))
			}

			if errorCount >= r.errorThreshold {
				// Circuit breaker: stop the projection and abandon
				// the remainder of the batch.
				running = false
				r.logger.Error("projection stopped after repeated failures",
					"projection", name,
					"error_count", errorCount,
					"threshold", r.errorThreshold)
				break
			}
			continue
		}

		applied++
		errorCount = 0
		if event.Position > position {
			position = event.Position
		}
	}

	// A Reset or Stop may have rewritten the row while the batch was
	// in flight. The admin write wins: discard this cycle's result
	// and let the next cycle re-read from the admin-set position.
	current, err := r.checkpoints.Load(name)
	if err != nil {
		r.logger.Error("failed to reload checkpoint",
			"projection", name, "error", err)
		return
	}
	if current.Position != loaded.Position || current.Running != loaded.Running ||
		current.ErrorCount != loaded.ErrorCount || current.LastError != loaded.LastError {
		r.logger.Info("checkpoint changed during cycle, discarding cycle result",
			"projection", name)
		return
	}

	now := time.Now().UTC()
	cp.Position = position
	cp.ErrorCount = errorCount
	cp.LastError = lastError
	cp.Running = running
	cp.LastProcessedAt = now
	cp.UpdatedAt = now

	if err := r.checkpoints.Save(cp); err != nil {
		// The durable row is untouched, so the same batch is re-read
		// and re-applied on the next cycle (at-least-once delivery).
		r.logger.Error("failed to persist checkpoint",
			"projection", name, "position", position, "error", err)
		if r.metrics != nil {
			r.metrics.CheckpointFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("projection", name)))
		}
		return
	}

	if r.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("projection", name))
		r.metrics.EventsApplied.Add(ctx, int64(applied), attrs)
		r.metrics.Position.Record(ctx, position, attrs)
	}
}

// registered reports whether a handler for name is present in this
// process. A checkpoint row alone is not enough.
func (r *Runtime) registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.projections[name]
	return ok
}

// namesLocked returns registered projection names in sorted order.
// Callers must hold at least a read lock.
func (r *Runtime) namesLocked() []string {
	names := make([]string, 0, len(r.projections))
	for name := range r.projections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
