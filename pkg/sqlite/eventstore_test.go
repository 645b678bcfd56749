package sqlite_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stillpoint/stillpoint/pkg/sqlite"
	"github.com/stillpoint/stillpoint/pkg/store"
)

func newTestEventStore(t *testing.T) *sqlite.EventStore {
	t.Helper()

	events, err := sqlite.NewEventStore(
		sqlite.WithDSN(":memory:"),
		sqlite.WithWALMode(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	return events
}

func TestEventStoreAppendAssignsIncreasingPositions(t *testing.T) {
	events := newTestEventStore(t)

	err := events.Append("habit-1",
		store.NewEvent{EventType: "habit.Created", Payload: []byte(`{}`)},
		store.NewEvent{EventType: "habit.CheckedIn", Payload: []byte(`{}`)},
	)
	require.NoError(t, err)

	err = events.Append("habit-2",
		store.NewEvent{EventType: "habit.Created", Payload: []byte(`{}`)},
	)
	require.NoError(t, err)

	read, err := events.ReadEvents(0, 10)
	require.NoError(t, err)
	require.Len(t, read, 3)

	for i, event := range read {
		require.Equal(t, int64(i+1), event.Position)
		require.NotEmpty(t, event.ID)
		require.False(t, event.RecordedAt.IsZero())
	}
}

func TestEventStoreReadEventsStrictlyAfterPosition(t *testing.T) {
	events := newTestEventStore(t)

	for i := 0; i < 5; i++ {
		err := events.Append("habit-1",
			store.NewEvent{EventType: "habit.CheckedIn", Payload: []byte(`{}`)})
		require.NoError(t, err)
	}

	read, err := events.ReadEvents(3, 10)
	require.NoError(t, err)
	require.Len(t, read, 2)
	require.Equal(t, int64(4), read[0].Position)
	require.Equal(t, int64(5), read[1].Position)
}

func TestEventStoreReadEventsCapsBatch(t *testing.T) {
	events := newTestEventStore(t)

	for i := 0; i < 5; i++ {
		err := events.Append("habit-1",
			store.NewEvent{EventType: "habit.CheckedIn", Payload: []byte(`{}`)})
		require.NoError(t, err)
	}

	read, err := events.ReadEvents(0, 2)
	require.NoError(t, err)
	require.Len(t, read, 2)
	require.Equal(t, int64(1), read[0].Position)
	require.Equal(t, int64(2), read[1].Position)
}

func TestEventStoreEmptyReadMeansCaughtUp(t *testing.T) {
	events := newTestEventStore(t)

	read, err := events.ReadEvents(0, 10)
	require.NoError(t, err)
	require.Empty(t, read)
}
