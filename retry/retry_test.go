package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/kv"
	"refinedb/retry"
)

func TestDoRetriesOnConflictThenSucceeds(t *testing.T) {
	attempts := 0
	err := retry.Do(context.Background(), retry.DefaultOptions(), func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return kv.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	attempts := 0
	sentinel := errors.New("boom")
	err := retry.Do(context.Background(), retry.DefaultOptions(), func(_ context.Context) error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	opts := retry.DefaultOptions()
	opts.MaxAttempts = 2
	err := retry.Do(context.Background(), opts, func(_ context.Context) error {
		attempts++
		return kv.ErrConflict
	})
	require.ErrorIs(t, err, kv.ErrConflict)
	require.Equal(t, 2, attempts)
}
