package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedrive/backend/internal/storage/errs"
)

func TestAcquireRelease(t *testing.T) {
	m := New(time.Second)

	g, err := m.Acquire(context.Background(), "/a", "/b")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	g.Release()
	assert.Equal(t, 0, m.Len(), "lock table entries must be reclaimed")
}

func TestReleaseIdempotent(t *testing.T) {
	m := New(time.Second)

	g, err := m.Acquire(context.Background(), "/a")
	require.NoError(t, err)
	g.Release()
	g.Release()

	g2, err := m.Acquire(context.Background(), "/a")
	require.NoError(t, err)
	g2.Release()
}

func TestContendedPathTimesOut(t *testing.T) {
	m := New(50 * time.Millisecond)

	g, err := m.Acquire(context.Background(), "/a")
	require.NoError(t, err)
	defer g.Release()

	_, err = m.Acquire(context.Background(), "/a")
	assert.ErrorIs(t, err, errs.ErrBusy)
}

func TestTimeoutReleasesPartialAcquisition(t *testing.T) {
	m := New(50 * time.Millisecond)

	held, err := m.Acquire(context.Background(), "/b")
	require.NoError(t, err)

	// /a acquires, /b times out, /a must be handed back.
	_, err = m.Acquire(context.Background(), "/a", "/b")
	require.ErrorIs(t, err, errs.ErrBusy)

	held.Release()

	g, err := m.Acquire(context.Background(), "/a", "/b")
	require.NoError(t, err)
	g.Release()
	assert.Equal(t, 0, m.Len())
}

func TestCancelledContext(t *testing.T) {
	m := New(time.Minute)

	g, err := m.Acquire(context.Background(), "/a")
	require.NoError(t, err)
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, "/a")
	assert.ErrorIs(t, err, errs.ErrBusy)
}

func TestDuplicatePathsDeduplicated(t *testing.T) {
	m := New(time.Second)

	g, err := m.Acquire(context.Background(), "/a", "/a", "/a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	g.Release()
}

// Two workers repeatedly taking overlapping path sets in opposite textual
// order must never deadlock; the sorted acquisition order makes the sets
// compatible.
func TestOverlappingSetsNoDeadlock(t *testing.T) {
	m := New(2 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		order := []string{"/x", "/y", "/z"}
		if i == 1 {
			order = []string{"/z", "/y", "/x"}
		}
		go func(paths []string) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				g, err := m.Acquire(context.Background(), paths...)
				if assert.NoError(t, err) {
					g.Release()
				}
			}
		}(order)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("deadlock between overlapping acquisitions")
	}
}
