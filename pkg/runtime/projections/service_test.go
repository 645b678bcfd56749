package projections_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stillpoint/stillpoint/pkg/projection"
	"github.com/stillpoint/stillpoint/pkg/runtime/projections"
	"github.com/stillpoint/stillpoint/pkg/sqlite"
	"github.com/stillpoint/stillpoint/pkg/store"
)

type nopProjection struct{ name string }

func (p nopProjection) Name() string { return p.name }

func (p nopProjection) Handle(context.Context, *store.StoredEvent) error { return nil }

func TestServiceLifecycle(t *testing.T) {
	events, err := sqlite.NewEventStore(
		sqlite.WithDSN(":memory:"),
		sqlite.WithWALMode(false),
	)
	require.NoError(t, err)
	defer events.Close()

	checkpoints, err := sqlite.NewCheckpointStore(events.DB())
	require.NoError(t, err)

	rt := projection.NewRuntime(events, checkpoints)
	require.NoError(t, rt.Register(nopProjection{name: "noop"}))

	svc := projections.New(rt, projections.WithLogger(slog.Default()))
	require.Equal(t, "projections", svc.Name())

	ctx := context.Background()

	// Not started yet: unhealthy.
	require.Error(t, svc.HealthCheck(ctx))

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.HealthCheck(ctx))

	require.NoError(t, svc.Stop(ctx))
	require.Error(t, svc.HealthCheck(ctx))
}

func TestServiceStartOutlivesStartupContext(t *testing.T) {
	events, err := sqlite.NewEventStore(
		sqlite.WithDSN(":memory:"),
		sqlite.WithWALMode(false),
	)
	require.NoError(t, err)
	defer events.Close()

	checkpoints, err := sqlite.NewCheckpointStore(events.DB())
	require.NoError(t, err)

	rt := projection.NewRuntime(events, checkpoints)
	svc := projections.New(rt)

	// The runner cancels the startup context once Start returns; the
	// scheduler must keep running regardless.
	startCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(startCtx))
	cancel()

	require.NoError(t, svc.HealthCheck(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
}
