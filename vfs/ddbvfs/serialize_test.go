package ddbvfs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LorenzoBoccaccia/sqlite-s3vfs/vfs/ddbvfs/internal/memtable"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	tbl := memtable.New()
	v := New(tbl, testTable, WithBlockSize(8))

	original := []byte("the quick brown fox jumps over the lazy dog")
	_, err := putBlock(ctx, tbl, testTable, "/db", 0, original[:8])
	require.NoError(t, err)
	_, err = putBlock(ctx, tbl, testTable, "/db", 1, original[8:16])
	require.NoError(t, err)
	_, err = putBlock(ctx, tbl, testTable, "/db", 2, original[16:])
	require.NoError(t, err)

	r := v.SerializeFileObj(ctx, "/db")
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, original, out)

	v2 := New(memtable.New(), testTable, WithBlockSize(8))
	require.NoError(t, v2.DeserializeIter(ctx, "/db2", bytes.NewReader(out)))

	total, err := getTotal(ctx, v2.table, testTable, "/db2")
	require.NoError(t, err)
	require.Equal(t, int64(len(original)), total)

	r2 := v2.SerializeFileObj(ctx, "/db2")
	out2, err := io.ReadAll(r2)
	require.NoError(t, err)
	require.Equal(t, original, out2)
}

func TestSerializeEmptyFileIsEmptyReader(t *testing.T) {
	ctx := context.Background()
	tbl := memtable.New()
	v := New(tbl, testTable)

	r := v.SerializeFileObj(ctx, "/empty")
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSerializeSkipsEmptyChunks(t *testing.T) {
	ctx := context.Background()
	tbl := memtable.New()
	v := New(tbl, testTable, WithBlockSize(4))

	_, err := putBlock(ctx, tbl, testTable, "/db", 0, []byte("abcd"))
	require.NoError(t, err)
	_, err = putBlock(ctx, tbl, testTable, "/db", 1, nil)
	require.NoError(t, err)
	_, err = putBlock(ctx, tbl, testTable, "/db", 2, []byte("wxyz"))
	require.NoError(t, err)

	r := v.SerializeFileObj(ctx, "/db")
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "abcdwxyz", string(out))
}

func TestDeserializeShortInputStoresSinglePartialBlock(t *testing.T) {
	ctx := context.Background()
	tbl := memtable.New()
	v := New(tbl, testTable, WithBlockSize(1000))

	payload := bytes.Repeat([]byte{0x42}, 37)
	require.NoError(t, v.DeserializeIter(ctx, "/db", bytes.NewReader(payload)))

	data, err := getBlock(ctx, tbl, testTable, "/db", 0)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	total, err := getTotal(ctx, tbl, testTable, "/db")
	require.NoError(t, err)
	require.Equal(t, int64(37), total)
}
