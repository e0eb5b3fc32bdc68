package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/domain/rules"
)

// TestMemoryRepository_Snapshot verifies ErrNotFound and copy semantics.
func TestMemoryRepository_Snapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository(0)

	_, err := repo.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	s := alarm.NewDisarmed(time.Now().UTC(), "default")
	require.NoError(t, repo.Save(ctx, s))

	s.CurrentState = alarm.StateTriggered

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, alarm.StateDisarmed, got.CurrentState)
}

// TestMemoryRepository_EventsBounded keeps only the newest events.
func TestMemoryRepository_EventsBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository(3)

	for i := range 5 {
		require.NoError(t, repo.AppendEvent(ctx, &alarm.Event{ID: fmt.Sprint(i), Type: alarm.EventArmed}))
	}

	events, err := repo.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "4", events[0].ID)
	require.Equal(t, "2", events[2].ID)

	events, err = repo.ListEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "4", events[0].ID)
}

// TestMemoryRepository_Runtime upserts and lists runtime rows.
func TestMemoryRepository_Runtime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository(0)
	now := time.Now().UTC()

	row := rules.NewRuntimeState(7)
	row.ScheduledFor = &now
	require.NoError(t, repo.SaveRuntime(ctx, row))

	row.ScheduledFor = nil

	rows, err := repo.ListRuntime(ctx)
	require.NoError(t, err)
	require.NotNil(t, rows[7].ScheduledFor)

	require.NoError(t, repo.AppendActionLog(ctx, &rules.ActionLog{ID: "a", RuleID: 7}))

	logs, err := repo.ListActionLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
