package habit_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stillpoint/stillpoint/pkg/habit"
	"github.com/stillpoint/stillpoint/pkg/projection"
	"github.com/stillpoint/stillpoint/pkg/sqlite"
	"github.com/stillpoint/stillpoint/pkg/store"
)

// testEnv wires the sqlite stores and runtime the way stillpointd does.
type testEnv struct {
	events   *sqlite.EventStore
	runtime  *projection.Runtime
	streaks  *habit.StreakProjection
	activity *habit.ActivityProjection
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	events, err := sqlite.NewEventStore(
		sqlite.WithDSN(":memory:"),
		sqlite.WithWALMode(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	checkpoints, err := sqlite.NewCheckpointStore(events.DB())
	require.NoError(t, err)

	streaks, err := habit.NewStreakProjection(events.DB())
	require.NoError(t, err)

	activity, err := habit.NewActivityProjection(events.DB())
	require.NoError(t, err)

	rt := projection.NewRuntime(events, checkpoints)
	require.NoError(t, rt.Register(streaks))
	require.NoError(t, rt.Register(activity))
	require.NoError(t, rt.Start(streaks.Name()))
	require.NoError(t, rt.Start(activity.Name()))

	return &testEnv{
		events:   events,
		runtime:  rt,
		streaks:  streaks,
		activity: activity,
	}
}

func TestStreakGrowsOnConsecutiveDays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habitID := uuid.NewString()

	require.NoError(t, env.events.Append(habitID,
		habit.Created(habitID, "Morning meditation", "daily"),
		habit.CheckedIn(habitID, "2026-03-01"),
		habit.CheckedIn(habitID, "2026-03-02"),
		habit.CheckedIn(habitID, "2026-03-03"),
	))

	env.runtime.RunCycle(ctx)

	streak, err := env.streaks.Streak(ctx, habitID)
	require.NoError(t, err)
	require.Equal(t, "Morning meditation", streak.Name)
	require.Equal(t, 3, streak.CurrentStreak)
	require.Equal(t, 3, streak.LongestStreak)
	require.Equal(t, "2026-03-03", streak.LastCheckinDay)
	require.Equal(t, 3, streak.TotalCheckins)
}

func TestStreakResetsAfterGap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habitID := uuid.NewString()

	require.NoError(t, env.events.Append(habitID,
		habit.Created(habitID, "Evening prayer", "daily"),
		habit.CheckedIn(habitID, "2026-03-01"),
		habit.CheckedIn(habitID, "2026-03-02"),
		habit.CheckedIn(habitID, "2026-03-05"),
	))

	env.runtime.RunCycle(ctx)

	streak, err := env.streaks.Streak(ctx, habitID)
	require.NoError(t, err)
	require.Equal(t, 1, streak.CurrentStreak)
	require.Equal(t, 2, streak.LongestStreak)
	require.Equal(t, 3, streak.TotalCheckins)
}

func TestDuplicateCheckinDayIsNotCounted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habitID := uuid.NewString()

	require.NoError(t, env.events.Append(habitID,
		habit.CheckedIn(habitID, "2026-03-01"),
		habit.CheckedIn(habitID, "2026-03-01"),
	))

	env.runtime.RunCycle(ctx)

	streak, err := env.streaks.Streak(ctx, habitID)
	require.NoError(t, err)
	require.Equal(t, 1, streak.CurrentStreak)
	require.Equal(t, 1, streak.TotalCheckins)
}

func TestStreakHandlerIsIdempotentOnRedelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habitID := uuid.NewString()

	event := &store.StoredEvent{
		ID:        "evt-1",
		EventType: habit.EventCheckedIn,
		Payload:   []byte(`{"habit_id":"` + habitID + `","day":"2026-03-01"}`),
		Position:  1,
	}

	// Simulates at-least-once redelivery after a failed checkpoint write.
	require.NoError(t, env.streaks.Handle(ctx, event))
	require.NoError(t, env.streaks.Handle(ctx, event))

	streak, err := env.streaks.Streak(ctx, habitID)
	require.NoError(t, err)
	require.Equal(t, 1, streak.CurrentStreak)
	require.Equal(t, 1, streak.TotalCheckins)
}

func TestStreakRedeliveredMultiDayBatchIsNotDoubleCounted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habitID := uuid.NewString()

	day1 := &store.StoredEvent{
		ID:        "evt-1",
		EventType: habit.EventCheckedIn,
		Payload:   []byte(`{"habit_id":"` + habitID + `","day":"2026-03-01"}`),
		Position:  1,
	}
	day2 := &store.StoredEvent{
		ID:        "evt-2",
		EventType: habit.EventCheckedIn,
		Payload:   []byte(`{"habit_id":"` + habitID + `","day":"2026-03-02"}`),
		Position:  2,
	}

	// First delivery, then the whole multi-day batch again, as after
	// a failed checkpoint write.
	for i := 0; i < 2; i++ {
		require.NoError(t, env.streaks.Handle(ctx, day1))
		require.NoError(t, env.streaks.Handle(ctx, day2))
	}

	streak, err := env.streaks.Streak(ctx, habitID)
	require.NoError(t, err)
	require.Equal(t, 2, streak.TotalCheckins)
	require.Equal(t, 2, streak.CurrentStreak)
	require.Equal(t, 2, streak.LongestStreak)
	require.Equal(t, "2026-03-02", streak.LastCheckinDay)
}

func TestStreakUnchangedByFullReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habitID := uuid.NewString()

	require.NoError(t, env.events.Append(habitID,
		habit.Created(habitID, "Morning meditation", "daily"),
		habit.CheckedIn(habitID, "2026-03-01"),
		habit.CheckedIn(habitID, "2026-03-02"),
	))

	env.runtime.RunCycle(ctx)

	require.NoError(t, env.runtime.Reset(env.streaks.Name()))
	env.runtime.RunCycle(ctx)

	streak, err := env.streaks.Streak(ctx, habitID)
	require.NoError(t, err)
	require.Equal(t, 2, streak.TotalCheckins)
	require.Equal(t, 2, streak.CurrentStreak)
}

func TestArchivedHabitRemovedFromReadModel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habitID := uuid.NewString()

	require.NoError(t, env.events.Append(habitID,
		habit.Created(habitID, "Fasting", "weekly"),
		habit.CheckedIn(habitID, "2026-03-01"),
		habit.Archived(habitID),
	))

	env.runtime.RunCycle(ctx)

	streak, err := env.streaks.Streak(ctx, habitID)
	require.NoError(t, err)
	require.Empty(t, streak.Name)
	require.Equal(t, 0, streak.TotalCheckins)
}
