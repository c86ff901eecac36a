package lock

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestDB(t *testing.T) *sql.DB {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestManager_LockAndRelease(t *testing.T) {
	db := newTestDB(t)
	m := New(db)
	ctx := context.Background()

	heldCtx, release, err := m.Lock(ctx, NamespaceAgent, 1, time.Second)
	require.NoError(t, err)
	defer release(heldCtx)

	assert.True(t, isHeld(heldCtx, lockKey{ns: NamespaceAgent, id: 1}))
}

func TestManager_Lock_ReentrantFailsImmediately(t *testing.T) {
	db := newTestDB(t)
	m := New(db)
	ctx := context.Background()

	heldCtx, release, err := m.Lock(ctx, NamespaceAgent, 2, time.Second)
	require.NoError(t, err)
	defer release(heldCtx)

	_, _, err = m.Lock(heldCtx, NamespaceAgent, 2, time.Second)
	assert.ErrorIs(t, err, ErrReentrant)
}

func TestManager_Lock_TimesOutWhenHeldByAnotherAcquisition(t *testing.T) {
	db := newTestDB(t)
	m := New(db)
	ctx := context.Background()

	// Acquire on a derived, unrelated context so the second attempt is not
	// considered re-entrant — simulating a second goroutine/request.
	heldCtx, release, err := m.Lock(ctx, NamespaceAgent, 3, time.Second)
	require.NoError(t, err)
	defer release(heldCtx)

	otherCtx := context.Background()
	_, _, err = m.Lock(otherCtx, NamespaceAgent, 3, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestManager_TryLock_ReturnsFalseWhenHeld(t *testing.T) {
	db := newTestDB(t)
	m := New(db)
	ctx := context.Background()

	heldCtx, release, err := m.Lock(ctx, NamespaceAgent, 4, time.Second)
	require.NoError(t, err)
	defer release(heldCtx)

	otherCtx := context.Background()
	_, _, ok := m.TryLock(otherCtx, NamespaceAgent, 4)
	assert.False(t, ok)
}

func TestManager_TryLock_ReentrantReturnsFalseWithoutAttempt(t *testing.T) {
	db := newTestDB(t)
	m := New(db)
	ctx := context.Background()

	heldCtx, release, err := m.Lock(ctx, NamespaceAgent, 5, time.Second)
	require.NoError(t, err)
	defer release(heldCtx)

	_, _, ok := m.TryLock(heldCtx, NamespaceAgent, 5)
	assert.False(t, ok)
}

func TestManager_TryLock_SucceedsWhenFree(t *testing.T) {
	db := newTestDB(t)
	m := New(db)
	ctx := context.Background()

	heldCtx, release, ok := m.TryLock(ctx, NamespaceAgent, 6)
	require.True(t, ok)
	defer release(heldCtx)
}
