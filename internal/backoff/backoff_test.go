package backoff_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/backoff"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	cfg := backoff.Config{MaxAttempts: 3, Initial: 0, Max: 0, Multiplier: 2}
	attempts := 0
	err := backoff.Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoExhausted(t *testing.T) {
	cfg := backoff.Config{MaxAttempts: 2, Initial: 0, Max: 0, Multiplier: 2}
	err := backoff.Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	var exhausted *backoff.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	cfg := backoff.Config{MaxAttempts: 5, Initial: 0, Max: 0, Multiplier: 2}
	attempts := 0
	err := backoff.Do(context.Background(), cfg, func(error) bool { return false }, func(ctx context.Context) error {
		attempts++
		return errors.New("fatal")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
