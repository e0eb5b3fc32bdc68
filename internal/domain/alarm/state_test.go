package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestActorClone verifies that Clone returns a deep copy and handles nil safely.
func TestActorClone(t *testing.T) {
	t.Parallel()
	require.Nil(t, (*Actor)(nil).Clone())

	a := &Actor{
		Hostname: "keypad-1",
		Username: "alice",
		Source:   "grpc",
	}

	b := a.Clone()

	require.Equal(t, a, b)
	require.NotSame(t, a, b)
	require.Equal(t, "alice@keypad-1 (grpc)", a.String())
}

// TestSnapshotClone verifies pointers inside the snapshot are not shared.
func TestSnapshotClone(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	exitAt := now.Add(time.Minute)
	s := &Snapshot{
		CurrentState: StateArming,
		EnteredAt:    now,
		ExitAt:       &exitAt,
		LastActor:    &Actor{Username: "alice"},
		Timing:       &Timing{ArmingSeconds: 60},
	}

	c := s.Clone()
	require.Equal(t, s, c)
	require.NotSame(t, s.ExitAt, c.ExitAt)
	require.NotSame(t, s.LastActor, c.LastActor)
	require.NotSame(t, s.Timing, c.Timing)
}

// TestStatePredicates checks armed/valid classification of every state.
func TestStatePredicates(t *testing.T) {
	t.Parallel()

	for _, s := range ArmedStates {
		require.True(t, s.IsArmed())
		require.True(t, s.Valid())
	}

	for _, s := range []State{StateDisarmed, StateArming, StatePending, StateTriggered} {
		require.False(t, s.IsArmed())
		require.True(t, s.Valid())
	}

	require.False(t, State("bogus").Valid())

	_, err := ParseArmedState("armed_away")
	require.NoError(t, err)

	_, err = ParseArmedState("pending")
	require.Error(t, err)
}

// TestTimerDue checks the inclusive due comparison.
func TestTimerDue(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewDisarmed(now, "default")
	require.False(t, s.TimerDue(now))

	s.ExitAt = &now
	require.True(t, s.TimerDue(now))
	require.False(t, s.TimerDue(now.Add(-time.Second)))
}
