// Package ddbvfs implements the "ddbvfs" SQLite VFS.
//
// A ddbvfs.VFS stores a single SQLite database file as a set of
// fixed-size block items in a DynamoDB-shaped table, keyed by a
// composite (partition key, sort key) pair. Multiple processes can
// open the same pathname concurrently; a distributed five-level
// advisory lock built on conditional item updates implements the
// concurrency protocol the engine requires.
//
// Importing package ddbvfs does not register any VFS; call (*VFS).Register,
// which registers under the VFS's Name (a generated unique name unless
// WithName overrides it), or vfs.Register directly, since a process may
// want more than one ddbvfs instance backed by different tables.
package ddbvfs
