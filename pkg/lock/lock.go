// Package lock implements the advisory lock manager: cross-process mutual
// exclusion backed by Postgres's session-level advisory locks, paired with
// in-process re-entrancy detection so a reaper sweep and a request handler
// can never both believe they hold the same (namespace, id) pair.
//
// Go has no thread-local storage, so the "held set" the re-entrancy check
// needs travels on the context.Context of the call chain that is attempting
// the acquisition, not in goroutine-local state. A lock acquired by one
// goroutine and checked by a context derived from it is re-entrant; the same
// key reached through an unrelated context is not — matching the semantics
// of a thread-local set when every protected body runs start-to-finish on
// its own goroutine, as handlers and reaper passes do here.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// Namespace is the small enum of advisory-lock namespaces.
type Namespace = models.LockNamespace

const (
	NamespaceAgent = models.LockNamespaceAgent
)

// ErrLockTimeout is returned when Lock could not acquire within its timeout.
var ErrLockTimeout = errors.New("lock: timed out waiting for advisory lock")

// ErrReentrant is returned when Lock is called with a key already held by
// an ancestor context in the same call chain.
var ErrReentrant = errors.New("lock: re-entrant acquisition of an already-held key")

type heldSetKey struct{}

type lockKey struct {
	ns Namespace
	id int64
}

func key64(ns Namespace, id int64) (int64, int64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ns))
	return int64(h.Sum32()), id
}

// Release unlocks a previously acquired lock. It is safe to call at most
// once; callers obtain it from Lock/TryLock and should defer it immediately.
type Release func(ctx context.Context)

// Manager acquires and releases advisory locks against a database pool. Each
// acquisition checks out its own dedicated *sql.Conn so that advisory-lock
// state never shares a connection with the transaction scope of the
// protected body.
type Manager struct {
	db *sql.DB

	acquired       int64
	timeouts       int64
	totalWaitNanos int64
}

// New builds a Manager over the given pool.
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Stats is a snapshot of a Manager's running acquisition counters, polled by
// the metrics exporter.
type Stats struct {
	Acquired       int64
	Timeouts       int64
	TotalWaitNanos int64
}

// Stats returns a snapshot of the Manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Acquired:       atomic.LoadInt64(&m.acquired),
		Timeouts:       atomic.LoadInt64(&m.timeouts),
		TotalWaitNanos: atomic.LoadInt64(&m.totalWaitNanos),
	}
}

func withHeld(ctx context.Context, k lockKey) context.Context {
	existing, _ := ctx.Value(heldSetKey{}).(map[lockKey]struct{})
	next := make(map[lockKey]struct{}, len(existing)+1)
	for existingKey := range existing {
		next[existingKey] = struct{}{}
	}
	next[k] = struct{}{}
	return context.WithValue(ctx, heldSetKey{}, next)
}

func isHeld(ctx context.Context, k lockKey) bool {
	held, _ := ctx.Value(heldSetKey{}).(map[lockKey]struct{})
	_, ok := held[k]
	return ok
}

// Lock blocks for up to timeout acquiring (ns, id). On success it returns a
// context carrying the key in its held set and a Release that unconditionally
// releases the lock — callers should `defer release(ctx)` immediately so the
// lock is released on every exit path, including panics.
//
// A re-entrant call — the same key already present in ctx's held set — fails
// immediately with ErrReentrant without touching the database.
func (m *Manager) Lock(ctx context.Context, ns Namespace, id int64, timeout time.Duration) (context.Context, Release, error) {
	k := lockKey{ns: ns, id: id}
	if isHeld(ctx, k) {
		return ctx, noopRelease, ErrReentrant
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitStart := time.Now()
	conn, err := m.db.Conn(acquireCtx)
	if err != nil {
		return ctx, noopRelease, fmt.Errorf("lock: checkout connection: %w", err)
	}

	k1, k2 := key64(ns, id)
	if _, err := conn.ExecContext(acquireCtx, `SELECT pg_advisory_lock($1, $2)`, k1, k2); err != nil {
		_ = conn.Close()
		atomic.AddInt64(&m.totalWaitNanos, int64(time.Since(waitStart)))
		if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			atomic.AddInt64(&m.timeouts, 1)
			return ctx, noopRelease, ErrLockTimeout
		}
		return ctx, noopRelease, fmt.Errorf("lock: pg_advisory_lock: %w", err)
	}
	atomic.AddInt64(&m.totalWaitNanos, int64(time.Since(waitStart)))
	atomic.AddInt64(&m.acquired, 1)

	heldCtx := withHeld(ctx, k)
	release := func(releaseCtx context.Context) {
		_, _ = conn.ExecContext(releaseCtx, `SELECT pg_advisory_unlock($1, $2)`, k1, k2)
		_ = conn.Close()
	}
	return heldCtx, release, nil
}

// TryLock attempts (ns, id) without blocking. A re-entrant call — or a
// connection error, treated as best-effort failure — yields (ctx, false,
// nil): the caller never executes its protected body but no error
// propagates, matching the fail-closed, log-and-continue posture a periodic
// reaper sweep needs.
func (m *Manager) TryLock(ctx context.Context, ns Namespace, id int64) (context.Context, Release, bool) {
	k := lockKey{ns: ns, id: id}
	if isHeld(ctx, k) {
		return ctx, noopRelease, false
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return ctx, noopRelease, false
	}

	k1, k2 := key64(ns, id)
	var acquired bool
	row := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1, $2)`, k1, k2)
	if err := row.Scan(&acquired); err != nil || !acquired {
		_ = conn.Close()
		return ctx, noopRelease, false
	}

	heldCtx := withHeld(ctx, k)
	release := func(releaseCtx context.Context) {
		_, _ = conn.ExecContext(releaseCtx, `SELECT pg_advisory_unlock($1, $2)`, k1, k2)
		_ = conn.Close()
	}
	return heldCtx, release, true
}

func noopRelease(context.Context) {}
