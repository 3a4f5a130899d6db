package ddbvfs

import (
	"context"
	"io"
)

// SerializeIter streams the blocks of path in ascending block order.
// It is a lazy, finite, non-restartable sequence: each Next call either
// returns the next buffered block or fetches the next Query page.
// Empty chunks are never returned, since the engine treats an empty
// read as EOF.
type SerializeIter struct {
	blocks *blockIterator
}

// NewSerializeIter builds a SerializeIter over path.
func (v *VFS) NewSerializeIter(ctx context.Context, path string) *SerializeIter {
	return &SerializeIter{blocks: newBlockIterator(ctx, v.table, v.tableName, path)}
}

// Next returns the next non-empty chunk of block data, or io.EOF once
// every block has been consumed.
func (s *SerializeIter) Next() ([]byte, error) {
	for {
		blk, ok, err := s.blocks.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, io.EOF
		}
		if len(blk.Data) == 0 {
			continue
		}
		return blk.Data, nil
	}
}

// maxFileSize bounds Read(-1)-style "read everything" calls to the
// largest file this block scheme can address: 4294967294 blocks at
// 65536 bytes, the maximum SQLite database file size.
const maxFileSize = 4294967294 * 65536

// fileObj adapts a SerializeIter into an io.Reader: the natural Go
// analogue of the reference implementation's FileLikeObj, which wraps
// the same block iterator behind a read(n=-1) method. A single fileObj
// is not safe for concurrent use.
type fileObj struct {
	iter  *SerializeIter
	carry []byte
}

// SerializeFileObj wraps NewSerializeIter(ctx, path) in an io.Reader,
// bounded by maxFileSize when read to completion with io.ReadAll or
// io.Copy.
func (v *VFS) SerializeFileObj(ctx context.Context, path string) io.Reader {
	return io.LimitReader(&fileObj{iter: v.NewSerializeIter(ctx, path)}, maxFileSize)
}

func (r *fileObj) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.carry) == 0 {
			chunk, err := r.iter.Next()
			if err == io.EOF {
				if n == 0 {
					return 0, io.EOF
				}
				return n, nil
			}
			if err != nil {
				return n, err
			}
			r.carry = chunk
		}
		copied := copy(p[n:], r.carry)
		n += copied
		r.carry = r.carry[copied:]
	}
	return n, nil
}

// DeserializeIter reads src to completion, repacks it into blockSize
// chunks, writes each as a block item with an incrementing 10-digit
// sort key, and finally writes FSIZE/<path> to the total bytes consumed.
// Any blocks previously stored under path beyond what src supplies are
// left untouched by this call; callers that want an exact replacement
// should Delete path first.
func (v *VFS) DeserializeIter(ctx context.Context, path string, src io.Reader) error {
	buf := make([]byte, v.blockSize)
	var total int64
	var block uint64

	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if _, perr := putBlock(ctx, v.table, v.tableName, path, block, data); perr != nil {
				return perr
			}
			total += int64(n)
			block++
		}
		switch err {
		case nil:
			continue
		case io.EOF, io.ErrUnexpectedEOF:
			return putTotalAbsolute(ctx, v.table, v.tableName, path, total)
		default:
			return wrapIOErr("deserialize", path, err)
		}
	}
}
