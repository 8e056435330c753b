package diskuse

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedrive/backend/internal/storage/errs"
)

func stubStatfs(calls *int, blocks, bfree, bavail uint64) func(string, *syscall.Statfs_t) error {
	return func(_ string, stat *syscall.Statfs_t) error {
		*calls++
		stat.Bsize = 4096
		stat.Blocks = blocks
		stat.Bfree = bfree
		stat.Bavail = bavail
		return nil
	}
}

func TestGet(t *testing.T) {
	m := New(t.TempDir(), time.Minute)
	calls := 0
	// 1000 blocks total, 400 free, 350 available to unprivileged users.
	m.statfs = stubStatfs(&calls, 1000, 400, 350)

	usage, err := m.Get()
	require.NoError(t, err)

	assert.Equal(t, uint64(1000*4096), usage.TotalBytes)
	assert.Equal(t, uint64(600*4096), usage.UsedBytes)
	assert.Equal(t, uint64(350*4096), usage.FreeBytes)
	assert.InDelta(t, 60.0, usage.Percent, 0.01)
}

func TestGetCachesWithinTTL(t *testing.T) {
	m := New(t.TempDir(), time.Minute)
	calls := 0
	m.statfs = stubStatfs(&calls, 1000, 400, 350)

	_, err := m.Get()
	require.NoError(t, err)
	_, err = m.Get()
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestGetRefreshesAfterTTL(t *testing.T) {
	m := New(t.TempDir(), time.Nanosecond)
	calls := 0
	m.statfs = stubStatfs(&calls, 1000, 400, 350)

	_, err := m.Get()
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = m.Get()
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestGetStatfsFailure(t *testing.T) {
	m := New(t.TempDir(), time.Minute)
	m.statfs = func(string, *syscall.Statfs_t) error {
		return errors.New("stale mount")
	}

	_, err := m.Get()
	assert.ErrorIs(t, err, errs.ErrIO)
}

func TestHasSpaceFor(t *testing.T) {
	m := New(t.TempDir(), time.Minute)
	calls := 0
	m.statfs = stubStatfs(&calls, 1000, 400, 350)
	free := uint64(350 * 4096)

	ok, err := m.HasSpaceFor(free-1024, 1024)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.HasSpaceFor(free, 1024)
	require.NoError(t, err)
	assert.False(t, ok)
}
