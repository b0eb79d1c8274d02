package util

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMountBusy(t *testing.T) {
	t.Parallel()

	assert.False(t, IsMountBusy(nil))
	assert.False(t, IsMountBusy(errors.New("permission denied")))
	assert.True(t, IsMountBusy(syscall.EBUSY))
	assert.True(t, IsMountBusy(errors.New("umount: /mnt/x: resource busy")))
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("stops after first success", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), func() error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		}, retry.Attempts(3), retry.Delay(0))
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("returns the last error when exhausted", func(t *testing.T) {
		t.Parallel()
		err := Retry(context.Background(), func() error {
			return errors.New("always")
		}, retry.Attempts(2), retry.Delay(0))
		assert.Error(t, err)
	})

	t.Run("unmount options skip non-busy errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), func() error {
			calls++
			return errors.New("not a mount point")
		}, UnmountRetryOptions(context.Background())...)
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryWithResult(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := RetryWithResult(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, retry.Attempts(5), retry.Delay(0))
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
