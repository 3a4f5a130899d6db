package ddbvfs

import (
	"context"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3/vfs"
)

// DefaultBlockSize is the block size used when New is not given an
// explicit one.
const DefaultBlockSize = 4060

// VFS dispatches Open/Access/Delete/FullPathname against a single
// DynamoDB-shaped table. A process may construct more than one VFS,
// each over an independent table or block size; each carries its own
// generated Name so multiple instances can be registered at once.
type VFS struct {
	Name      string
	table     dynamoTable
	tableName string
	blockSize int
}

var _ vfs.VFS = (*VFS)(nil)

// Option configures a VFS constructed by New.
type Option func(*VFS)

// WithBlockSize overrides DefaultBlockSize.
func WithBlockSize(n int) Option {
	return func(v *VFS) { v.blockSize = n }
}

// WithName overrides the generated registration name.
func WithName(name string) Option {
	return func(v *VFS) { v.Name = name }
}

// New builds a VFS backed by table/tableName. It does not register
// itself; call Register to make it available to database/sql via
// go-sqlite3's driver.
func New(table dynamoTable, tableName string, opts ...Option) *VFS {
	v := &VFS{
		Name:      "ddbvfs-" + uuid.NewString(),
		table:     table,
		tableName: tableName,
		blockSize: DefaultBlockSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Register registers this VFS under its Name, so it can be selected
// with a "file:...?vfs=<Name>" DSN.
func (v *VFS) Register() {
	vfs.Register(v.Name, v)
}

// Open implements vfs.VFS.
func (v *VFS) Open(name string, flags vfs.OpenFlag) (vfs.File, vfs.OpenFlag, error) {
	f, err := openFile(v, name, flags)
	if err != nil {
		return nil, flags, err
	}
	return f, flags, nil
}

// Delete implements vfs.VFS: removes every block item for name, then
// the ACCESS marker. FSIZE and LK items are left as orphans — see
// DESIGN.md for the rationale, carried over unchanged from the
// reference behavior.
func (v *VFS) Delete(name string, syncDir bool) error {
	ctx := context.Background()
	if err := deleteAllBlocks(ctx, v.table, v.tableName, name); err != nil {
		return err
	}
	partition, sort := accessKey(name)
	return deleteAccessMarker(ctx, v.table, v.tableName, partition, sort)
}

// Access implements vfs.VFS. For ACCESS_EXISTS it reports whether the
// ACCESS marker exists; any other flag is reported true, since this VFS
// has no UNIX-style permission concept to check.
func (v *VFS) Access(name string, flag vfs.AccessFlag) (bool, error) {
	if flag != vfs.ACCESS_EXISTS {
		return true, nil
	}
	return accessExists(context.Background(), v.table, v.tableName, name)
}

// FullPathname implements vfs.VFS as the identity function: pathnames
// are opaque strings to this VFS, never resolved against a filesystem.
func (v *VFS) FullPathname(name string) (string, error) {
	return name, nil
}
