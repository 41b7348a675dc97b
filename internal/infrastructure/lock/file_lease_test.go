package lock

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

func TestFileLease_ExclusiveAndReleasable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.lock")
	ctx := context.Background()

	first := NewFileLeaseProvider(path, nil)
	second := NewFileLeaseProvider(path, nil)

	lease, err := first.TryAcquire(ctx)
	require.NoError(t, err)

	// flock locks belong to the open file description, so a second open
	// in the same process contends like another process would.
	_, err = second.TryAcquire(ctx)
	assert.ErrorIs(t, err, shared.ErrUpdateInProgress)
	assert.True(t, shared.IsLocked(err))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx), "second release is a no-op")

	again, err := second.TryAcquire(ctx)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestFileLease_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileLeaseProvider(filepath.Join(t.TempDir(), "x.lock"), nil).TryAcquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileLease_UnopenablePath(t *testing.T) {
	_, err := NewFileLeaseProvider(filepath.Join(t.TempDir(), "missing", "dir", "x.lock"), nil).TryAcquire(context.Background())
	require.Error(t, err)
	assert.False(t, shared.IsLocked(err))
}
