// Package diskuse reports capacity of the filesystem backing the storage
// root from filesystem statistics, never a tree walk.
package diskuse

import (
	"sync"
	"syscall"
	"time"

	"github.com/homedrive/backend/internal/storage/errs"
)

// DefaultTTL bounds statfs frequency under periodic polling.
const DefaultTTL = 10 * time.Second

// Usage is a capacity snapshot.
type Usage struct {
	UsedBytes  uint64  `json:"used_bytes"`
	TotalBytes uint64  `json:"total_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	Percent    float64 `json:"percent"`
}

// Monitor caches the snapshot for a short TTL.
type Monitor struct {
	root string
	ttl  time.Duration

	mu      sync.Mutex
	cached  Usage
	fetched time.Time

	// statfs is swapped in tests.
	statfs func(path string, stat *syscall.Statfs_t) error
}

// New creates a monitor for the filesystem backing root. Zero ttl means
// DefaultTTL.
func New(root string, ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Monitor{root: root, ttl: ttl, statfs: syscall.Statfs}
}

// Get returns the current snapshot, served from cache within the TTL.
func (m *Monitor) Get() (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.fetched) < m.ttl && !m.fetched.IsZero() {
		return m.cached, nil
	}

	var stat syscall.Statfs_t
	if err := m.statfs(m.root, &stat); err != nil {
		return Usage{}, errs.IO("disk usage", err)
	}

	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bavail * bsize
	used := total - stat.Bfree*bsize

	usage := Usage{
		UsedBytes:  used,
		TotalBytes: total,
		FreeBytes:  free,
	}
	if total > 0 {
		usage.Percent = float64(used) / float64(total) * 100
	}

	m.cached = usage
	m.fetched = time.Now()
	return usage, nil
}

// HasSpaceFor reports whether an upload of size bytes fits while keeping
// minFree bytes of headroom.
func (m *Monitor) HasSpaceFor(size, minFree uint64) (bool, error) {
	usage, err := m.Get()
	if err != nil {
		return false, err
	}
	return usage.FreeBytes >= size+minFree, nil
}
