// Package lock provides per-path mutual exclusion with deadlock-free
// multi-path acquisition. Locks are keyed by canonical absolute path, created
// lazily, and live only for the duration of an operation.
package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/homedrive/backend/internal/storage/errs"
)

// DefaultTimeout bounds how long an acquisition may wait before failing with
// Busy. Callers are expected to retry.
const DefaultTimeout = 5 * time.Second

// Manager is the lock table. All acquisitions go through a single ordering
// rule (lexicographic by path) so concurrent multi-path operations cannot
// deadlock by circular wait.
type Manager struct {
	mu      sync.Mutex
	locks   map[string]*pathLock
	timeout time.Duration
}

type pathLock struct {
	sem  chan struct{}
	refs int
}

// New creates a manager with the given acquisition timeout; zero or negative
// means DefaultTimeout.
func New(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		locks:   make(map[string]*pathLock),
		timeout: timeout,
	}
}

// Guard holds one or more acquired path locks. Release is idempotent and must
// run on every exit path.
type Guard struct {
	m    *Manager
	held []string
	once sync.Once
}

// Acquire locks the given paths in sorted order, deduplicated. On timeout or
// context cancellation every lock already taken is released and the call
// fails with Busy.
func (m *Manager) Acquire(ctx context.Context, paths ...string) (*Guard, error) {
	uniq := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			uniq = append(uniq, p)
		}
	}
	sort.Strings(uniq)

	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()

	g := &Guard{m: m}
	for _, p := range uniq {
		sem := m.ref(p)
		select {
		case sem <- struct{}{}:
			g.held = append(g.held, p)
		case <-deadline.C:
			m.unref(p)
			g.Release()
			return nil, errs.ErrBusy
		case <-ctx.Done():
			m.unref(p)
			g.Release()
			return nil, errs.ErrBusy
		}
	}
	return g, nil
}

// Release unlocks every held path in reverse acquisition order.
func (g *Guard) Release() {
	g.once.Do(func() {
		for i := len(g.held) - 1; i >= 0; i-- {
			g.m.release(g.held[i])
		}
		g.held = nil
	})
}

func (m *Manager) ref(path string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[path]
	if !ok {
		l = &pathLock{sem: make(chan struct{}, 1)}
		m.locks[path] = l
	}
	l.refs++
	return l.sem
}

func (m *Manager) unref(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[path]
	if !ok {
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(m.locks, path)
	}
}

func (m *Manager) release(path string) {
	m.mu.Lock()
	l, ok := m.locks[path]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-l.sem
	m.unref(path)
}

// Len reports how many paths currently have live lock entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
