package ddbvfs

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ncruces/go-sqlite3"
)

// asBusy reports whether err is a conditional-check failure — the signal
// that a conflicting lock holder exists — and translates it to the
// engine's distinguished Busy error. Any other error is returned wrapped
// with op and path for diagnosability.
func asBusy(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return sqlite3.BUSY
	}
	return fmt.Errorf("ddbvfs: %s %s: %w", op, path, err)
}

// wrapIOErr wraps a store error as a generic I/O failure for op/path.
// go-sqlite3's VFS bridge maps any non-nil, non-sqlite3 error returned
// from a callback to SQLITE_IOERR, so this is the catch-all path for
// transient network/throttling failures from the KV store.
func wrapIOErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ddbvfs: %s %s: %w", op, path, err)
}

func boolPtr(b bool) *bool    { return aws.Bool(b) }
func strPtr(s string) *string { return aws.String(s) }
