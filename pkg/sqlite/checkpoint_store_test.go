package sqlite_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stillpoint/stillpoint/pkg/sqlite"
	"github.com/stillpoint/stillpoint/pkg/store"
)

func newTestCheckpointStore(t *testing.T) *sqlite.CheckpointStore {
	t.Helper()

	events := newTestEventStore(t)

	checkpoints, err := sqlite.NewCheckpointStore(events.DB())
	require.NoError(t, err)

	return checkpoints
}

func TestCheckpointStoreEnsureCreatesInitialRow(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	require.NoError(t, checkpoints.Ensure("habit-streaks"))

	cp, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	require.Equal(t, "habit-streaks", cp.ProjectionName)
	require.Equal(t, int64(0), cp.Position)
	require.False(t, cp.Running)
	require.Equal(t, 0, cp.ErrorCount)
	require.Empty(t, cp.LastError)
	require.True(t, cp.LastProcessedAt.IsZero())
	require.False(t, cp.CreatedAt.IsZero())
}

func TestCheckpointStoreEnsureIsIdempotent(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	require.NoError(t, checkpoints.Ensure("habit-streaks"))

	cp, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	cp.Position = 42
	cp.Running = true
	cp.LastProcessedAt = time.Now()
	require.NoError(t, checkpoints.Save(cp))

	// A second Ensure must not reset the existing row.
	require.NoError(t, checkpoints.Ensure("habit-streaks"))

	loaded, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	require.Equal(t, int64(42), loaded.Position)
	require.True(t, loaded.Running)
}

func TestCheckpointStoreSaveRoundTrip(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	require.NoError(t, checkpoints.Ensure("habit-streaks"))

	cp, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	cp.Position = 100
	cp.Running = true
	cp.ErrorCount = 3
	cp.LastError = "boom"
	cp.LastProcessedAt = time.Now()
	require.NoError(t, checkpoints.Save(cp))

	loaded, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	require.Equal(t, int64(100), loaded.Position)
	require.True(t, loaded.Running)
	require.Equal(t, 3, loaded.ErrorCount)
	require.Equal(t, "boom", loaded.LastError)
	require.False(t, loaded.LastProcessedAt.IsZero())
}

func TestCheckpointStoreSaveUnknownProjection(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	err := checkpoints.Save(&store.ProjectionCheckpoint{ProjectionName: "ghost"})
	require.ErrorIs(t, err, store.ErrCheckpointNotFound)
}

func TestCheckpointStoreLoadUnknownProjection(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	_, err := checkpoints.Load("ghost")
	require.ErrorIs(t, err, store.ErrCheckpointNotFound)
}

func TestCheckpointStoreSetRunning(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	require.NoError(t, checkpoints.Ensure("habit-streaks"))
	require.NoError(t, checkpoints.SetRunning("habit-streaks", true))

	cp, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	require.True(t, cp.Running)

	require.NoError(t, checkpoints.SetRunning("habit-streaks", false))

	cp, err = checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	require.False(t, cp.Running)
}

func TestCheckpointStoreResetZeroesProgress(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	require.NoError(t, checkpoints.Ensure("habit-streaks"))

	cp, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	cp.Position = 55
	cp.ErrorCount = 9
	cp.LastError = "boom"
	cp.Running = true
	require.NoError(t, checkpoints.Save(cp))

	require.NoError(t, checkpoints.Reset("habit-streaks"))

	loaded, err := checkpoints.Load("habit-streaks")
	require.NoError(t, err)
	require.Equal(t, int64(0), loaded.Position)
	require.Equal(t, 0, loaded.ErrorCount)
	require.Empty(t, loaded.LastError)
	// Reset does not touch the running flag.
	require.True(t, loaded.Running)
}

func TestCheckpointStoreLoadAll(t *testing.T) {
	checkpoints := newTestCheckpointStore(t)

	require.NoError(t, checkpoints.Ensure("b-projection"))
	require.NoError(t, checkpoints.Ensure("a-projection"))

	all, err := checkpoints.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a-projection", all[0].ProjectionName)
	require.Equal(t, "b-projection", all[1].ProjectionName)
}
