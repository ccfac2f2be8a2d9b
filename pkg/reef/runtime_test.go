package reef_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbpydev/reef/pkg/reef"
)

// TestOffloadBlocking_ReturnsResult tests the happy path.
func TestOffloadBlocking_ReturnsResult(t *testing.T) {
	got, err := reef.OffloadBlocking(context.Background(), func() (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

// TestOffloadBlocking_PropagatesError tests error pass-through.
func TestOffloadBlocking_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := reef.OffloadBlocking(context.Background(), func() (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

// TestHandle_AbortAbandonsResult tests that aborting a handle unblocks
// Await with ErrAborted while the function keeps running.
func TestHandle_AbortAbandonsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := reef.SpawnBlocking(func() (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started
	h.Abort()
	h.Abort() // idempotent

	_, err := h.Await(context.Background())
	assert.ErrorIs(t, err, reef.ErrAborted)
	close(release)
}

// TestHandle_AwaitHonorsContext tests context cancellation while waiting.
func TestHandle_AwaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	h := reef.SpawnBlocking(func() (int, error) {
		<-release
		return 1, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
