package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	locks := newKeyedLock()
	ctx := context.Background()

	unlock, err := locks.acquire(ctx, "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := locks.acquire(ctx, "a")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder admitted while the key was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never admitted")
	}
	assert.Eventually(t, func() bool { return locks.held() == 0 }, time.Second, time.Millisecond)
}

func TestKeyedLock_OtherKeysProceed(t *testing.T) {
	locks := newKeyedLock()
	ctx := context.Background()

	unlockA, err := locks.acquire(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locks.acquire(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, locks.held())
	unlockB()
	assert.Equal(t, 1, locks.held())
}

func TestKeyedLock_WaitHonoursContext(t *testing.T) {
	locks := newKeyedLock()
	unlock, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "a")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.held(), "the abandoned waiter is released")
}

func TestKeyedLock_UnlockTwiceIsSafe(t *testing.T) {
	locks := newKeyedLock()
	unlock, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)

	unlock()
	unlock()

	assert.Zero(t, locks.held())
	_, err = locks.acquire(context.Background(), "a")
	assert.NoError(t, err)
}
