package ddbvfs

import (
	"fmt"
	"strconv"
)

// Partition key prefixes. Disjoint regardless of pathname content, so a
// pathname is never escaped before being embedded in a key.
const (
	partitionAccess = "ACCESS"
	partitionSize   = "FSIZE"
	partitionLock   = "LK"
	blockPrefix     = "BL_"
)

// blockDigits is the fixed width of a zero-padded block sort key, chosen
// so ascending lexicographic order equals ascending numeric order.
const blockDigits = 10

func blockPartitionKey(path string) string {
	return blockPrefix + path
}

func blockSortKey(block uint64) string {
	return fmt.Sprintf("%0*d", blockDigits, block)
}

// blockNumber parses a zero-padded sort key produced by blockSortKey.
func blockNumber(sortKey string) (uint64, error) {
	n, err := strconv.ParseUint(sortKey, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ddbvfs: malformed block sort key %q: %w", sortKey, err)
	}
	return n, nil
}

func accessKey(path string) (partition, sort string) {
	return partitionAccess, path
}

func sizeKey(path string) (partition, sort string) {
	return partitionSize, path
}

func lockKey(path string) (partition, sort string) {
	return partitionLock, path
}
