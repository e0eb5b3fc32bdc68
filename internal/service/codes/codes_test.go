package codes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func intPtr(v int) *int { return &v }

// TestValidator_Validate covers every validation outcome.
func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	hash, err := bcrypt.GenerateFromPassword([]byte("9999"), bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewValidator([]Definition{
		{ID: 1, Username: "alice", PIN: "1234", Enabled: true},
		{ID: 2, Username: "bob", Hash: string(hash), Enabled: true},
		{ID: 3, PIN: "5555", ExpiresAt: &past, Enabled: true},
		{ID: 4, PIN: "6666", MaxUses: intPtr(1), Enabled: true},
		{ID: 5, PIN: "7777", Enabled: false},
	})
	require.NoError(t, err)

	_, err = v.Validate("", "", now)
	require.ErrorIs(t, err, ErrCodeRequired)

	code, err := v.Validate("", "1234", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), code.ID)

	code, err = v.Validate("bob", "9999", now)
	require.NoError(t, err)
	require.Equal(t, int64(2), code.ID)

	_, err = v.Validate("bob", "1234", now)
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = v.Validate("", "5555", now)
	require.ErrorIs(t, err, ErrCodeExpired)

	_, err = v.Validate("", "7777", now)
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = v.Validate("", "6666", now)
	require.NoError(t, err)

	_, err = v.Reserve("", "6666", now)
	require.NoError(t, err)

	_, err = v.Validate("", "6666", now)
	require.ErrorIs(t, err, ErrCodeExhausted)
}

// TestValidator_MarkUsed verifies a reserved use is stamped and unknown ids fail.
func TestValidator_MarkUsed(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	v, err := NewValidator([]Definition{{ID: 1, PIN: "1234", Enabled: true}})
	require.NoError(t, err)

	_, err = v.Reserve("", "1234", now)
	require.NoError(t, err)
	require.NoError(t, v.MarkUsed(context.Background(), 1, now))
	require.ErrorIs(t, v.MarkUsed(context.Background(), 2, now), ErrUnknownCode)

	code, ok := v.Get(1)
	require.True(t, ok)
	require.Equal(t, 1, code.UseCount)
	require.Equal(t, now, *code.LastUsedAt)
}

// TestNewValidator_MissingSecret verifies a code without pin or hash is rejected.
func TestNewValidator_MissingSecret(t *testing.T) {
	t.Parallel()

	_, err := NewValidator([]Definition{{ID: 1, Enabled: true}})
	require.Error(t, err)
}

// TestValidator_ReserveConcurrent verifies a single-use code is granted to exactly one of many callers.
func TestValidator_ReserveConcurrent(t *testing.T) {
	t.Parallel()

	const callers = 8

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	hash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewValidator([]Definition{{ID: 1, Hash: string(hash), MaxUses: intPtr(1), Enabled: true}})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		results   = make(chan error, callers)
		exhausted int
	)

	for range callers {
		wg.Go(func() {
			<-start

			_, reserveErr := v.Reserve("", "4321", now)
			results <- reserveErr
		})
	}

	close(start)
	wg.Wait()
	close(results)

	granted := 0

	for reserveErr := range results {
		switch {
		case reserveErr == nil:
			granted++
		default:
			require.ErrorIs(t, reserveErr, ErrCodeExhausted)

			exhausted++
		}
	}

	require.Equal(t, 1, granted)
	require.Equal(t, callers-1, exhausted)

	code, ok := v.Get(1)
	require.True(t, ok)
	require.Equal(t, 1, code.UseCount)

	// A released reservation makes the use available again.
	v.Release(1)

	_, err = v.Reserve("", "4321", now)
	require.NoError(t, err)
}
