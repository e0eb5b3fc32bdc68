package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/domain/rules"
)

func openTestRepository(t *testing.T) *Repository {
	t.Helper()

	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	ctx := context.Background()

	repo, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.EnsureSchema(ctx))

	for _, table := range []string{"alarm_state_snapshots", "alarm_events", "rule_runtime_states", "rule_action_logs"} {
		_, err = repo.db.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}

	return repo
}

// TestRepository_Postgres exercises every table against a live database.
func TestRepository_Postgres(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	exitAt := now.Add(time.Minute)
	snapshot := &alarm.Snapshot{
		CurrentState:     alarm.StateArming,
		PreviousState:    alarm.StateDisarmed,
		TargetArmedState: alarm.StateArmedAway,
		EnteredAt:        now,
		ExitAt:           &exitAt,
		LastReason:       "test",
		LastActor:        &alarm.Actor{Username: "alice"},
		Timing:           &alarm.Timing{ArmingSeconds: 60},
		ProfileName:      "default",
	}
	require.NoError(t, repo.Save(ctx, snapshot))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, snapshot, got)

	row := rules.NewRuntimeState(1)
	row.ScheduledFor = &exitAt
	row.UpdatedAt = now
	require.NoError(t, repo.SaveRuntime(ctx, row))

	rows, err := repo.ListRuntime(ctx)
	require.NoError(t, err)
	require.Equal(t, exitAt, *rows[1].ScheduledFor)

	codeID := int64(9)
	require.NoError(t, repo.AppendEvent(ctx, &alarm.Event{
		ID:        uuid.NewString(),
		Type:      alarm.EventCodeUsed,
		Timestamp: now,
		CodeID:    &codeID,
		Metadata:  map[string]any{"action": "arm"},
	}))

	events, err := repo.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, codeID, *events[0].CodeID)

	require.NoError(t, repo.AppendActionLog(ctx, &rules.ActionLog{
		ID:       uuid.NewString(),
		RuleID:   1,
		RuleName: "r",
		FiredAt:  now,
		Results:  []rules.ActionResult{{Type: rules.ActionAlarmTrigger, OK: true}},
	}))

	logs, err := repo.ListActionLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Results[0].OK)
}
