package ddbvfs

import (
	"testing"

	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/vfs"
	"github.com/stretchr/testify/require"

	"github.com/LorenzoBoccaccia/sqlite-s3vfs/vfs/ddbvfs/internal/memtable"
)

func newTestVFSFile(t *testing.T, tbl *memtable.Table, path string) *File {
	t.Helper()
	v := New(tbl, testTable)
	f, _, err := v.Open(path, vfs.OPEN_MAIN_DB|vfs.OPEN_CREATE)
	require.NoError(t, err)
	return f.(*File)
}

func TestSharedLocksAreConcurrentlyHeld(t *testing.T) {
	tbl := memtable.New()
	a := newTestVFSFile(t, tbl, "/db")
	b := newTestVFSFile(t, tbl, "/db")

	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.NoError(t, b.Lock(vfs.LOCK_SHARED))
	require.Equal(t, vfs.LOCK_SHARED, a.LockState())
	require.Equal(t, vfs.LOCK_SHARED, b.LockState())
}

func TestReservedLockExcludesOtherReserved(t *testing.T) {
	tbl := memtable.New()
	a := newTestVFSFile(t, tbl, "/db")
	b := newTestVFSFile(t, tbl, "/db")

	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.NoError(t, a.Lock(vfs.LOCK_RESERVED))

	require.NoError(t, b.Lock(vfs.LOCK_SHARED))
	err := b.Lock(vfs.LOCK_RESERVED)
	require.ErrorIs(t, err, sqlite3.BUSY)
}

func TestExclusiveRequiresSoleReader(t *testing.T) {
	tbl := memtable.New()
	a := newTestVFSFile(t, tbl, "/db")
	b := newTestVFSFile(t, tbl, "/db")

	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.NoError(t, a.Lock(vfs.LOCK_RESERVED))
	require.NoError(t, b.Lock(vfs.LOCK_SHARED))

	err := a.Lock(vfs.LOCK_EXCLUSIVE)
	require.ErrorIs(t, err, sqlite3.BUSY)
	require.Equal(t, vfs.LOCK_PENDING, a.LockState())

	require.NoError(t, b.Unlock(vfs.LOCK_NONE))
	require.NoError(t, a.Lock(vfs.LOCK_EXCLUSIVE))
	require.Equal(t, vfs.LOCK_EXCLUSIVE, a.LockState())
}

func TestCheckReservedLockReflectsOtherHandle(t *testing.T) {
	tbl := memtable.New()
	a := newTestVFSFile(t, tbl, "/db")
	b := newTestVFSFile(t, tbl, "/db")

	reserved, err := b.CheckReservedLock()
	require.NoError(t, err)
	require.False(t, reserved)

	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.NoError(t, a.Lock(vfs.LOCK_RESERVED))

	reserved, err = b.CheckReservedLock()
	require.NoError(t, err)
	require.True(t, reserved)
}

func TestUnlockFromExclusiveToSharedDropsOwnership(t *testing.T) {
	tbl := memtable.New()
	a := newTestVFSFile(t, tbl, "/db")
	b := newTestVFSFile(t, tbl, "/db")

	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.NoError(t, a.Lock(vfs.LOCK_RESERVED))
	require.NoError(t, a.Lock(vfs.LOCK_EXCLUSIVE))

	require.NoError(t, a.Unlock(vfs.LOCK_SHARED))
	require.Equal(t, vfs.LOCK_SHARED, a.LockState())

	require.NoError(t, b.Lock(vfs.LOCK_SHARED))
	require.NoError(t, b.Lock(vfs.LOCK_RESERVED))
}

func TestUnlockToNoneFromSharedDecrementsCount(t *testing.T) {
	tbl := memtable.New()
	a := newTestVFSFile(t, tbl, "/db")
	b := newTestVFSFile(t, tbl, "/db")
	c := newTestVFSFile(t, tbl, "/db")

	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.NoError(t, b.Lock(vfs.LOCK_SHARED))
	require.NoError(t, c.Lock(vfs.LOCK_SHARED))
	require.NoError(t, a.Unlock(vfs.LOCK_NONE))

	// c still holds SHARED alongside b, so b cannot yet claim EXCLUSIVE.
	require.NoError(t, b.Lock(vfs.LOCK_RESERVED))
	err := b.Lock(vfs.LOCK_EXCLUSIVE)
	require.ErrorIs(t, err, sqlite3.BUSY)

	require.NoError(t, c.Unlock(vfs.LOCK_NONE))
	require.NoError(t, b.Lock(vfs.LOCK_EXCLUSIVE))
}

func TestLockNoopWhenAlreadyAttained(t *testing.T) {
	tbl := memtable.New()
	a := newTestVFSFile(t, tbl, "/db")
	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	require.Equal(t, vfs.LOCK_SHARED, a.LockState())
}

func TestReadOnlyHandleRejectsWriterLock(t *testing.T) {
	tbl := memtable.New()
	v := New(tbl, testTable)
	f, _, err := v.Open("/db", vfs.OPEN_MAIN_DB|vfs.OPEN_READONLY)
	require.NoError(t, err)
	a := f.(*File)

	require.NoError(t, a.Lock(vfs.LOCK_SHARED))
	err = a.Lock(vfs.LOCK_RESERVED)
	require.ErrorIs(t, err, sqlite3.IOERR_LOCK)
}
