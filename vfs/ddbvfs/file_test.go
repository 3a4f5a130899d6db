package ddbvfs

import (
	"context"
	"io"
	"testing"

	"github.com/ncruces/go-sqlite3/vfs"
	"github.com/stretchr/testify/require"

	"github.com/LorenzoBoccaccia/sqlite-s3vfs/vfs/ddbvfs/internal/memtable"
)

func newTestFile(t *testing.T, opts ...Option) *File {
	t.Helper()
	v := New(memtable.New(), testTable, opts...)
	f, _, err := v.Open("/db", vfs.OPEN_MAIN_DB|vfs.OPEN_CREATE)
	require.NoError(t, err)
	return f.(*File)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	f := newTestFile(t, WithBlockSize(16))

	n, err := f.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)
	require.Equal(t, 11, n)

	buf := make([]byte, 11)
	n, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(11), size)
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	f := newTestFile(t, WithBlockSize(4))

	payload := []byte("0123456789abcdef")
	_, err := f.WriteAt(payload, 0)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestReadPastEndOfFileReturnsShortReadAndEOF(t *testing.T) {
	f := newTestFile(t, WithBlockSize(8))
	_, err := f.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := f.ReadAt(buf, 0)
	require.Equal(t, 3, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestPartialOverwritePreservesSurroundingBytes(t *testing.T) {
	f := newTestFile(t, WithBlockSize(16))
	_, err := f.WriteAt([]byte("0123456789"), 0)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("XY"), 3)
	require.NoError(t, err)

	buf := make([]byte, 10)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "012XY56789", string(buf))
}

func TestTruncateShrinksAndDropsBlocks(t *testing.T) {
	f := newTestFile(t, WithBlockSize(4))
	_, err := f.WriteAt([]byte("0123456789ab"), 0)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(5))
	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(5), size)

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "01234", string(buf))
}

func TestTruncateGrowIsNoop(t *testing.T) {
	f := newTestFile(t, WithBlockSize(4))
	_, err := f.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(100))
	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(3), size)
}

func TestWriteAcrossLockPageHolePadsPrecedingBlock(t *testing.T) {
	const blockSize = 4096
	f := newTestFile(t, WithBlockSize(blockSize))

	lockBlock := lockPageOffset / int64(blockSize)
	_, err := f.WriteAt([]byte("short"), lockBlock*int64(blockSize))
	require.NoError(t, err)

	payload := make([]byte, blockSize)
	_, err = f.WriteAt(payload, lockPageOffset+int64(len(payload)))
	require.NoError(t, err)

	got, err := getBlock(context.Background(), f.vfs.table, f.vfs.tableName, f.path, uint64(lockBlock))
	require.NoError(t, err)
	require.Len(t, got, blockSize)
	require.Equal(t, "short", string(got[:5]))
}
