package ddbvfs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// blockItem is one fixed-size chunk of file content as returned by a
// block Query, decoded from its raw attribute map.
type blockItem struct {
	Number uint64
	Data   []byte
	Size   int64
}

// getBlock performs a strongly consistent GetItem on (BL_<path>, block).
// A missing item contributes empty bytes — the engine tolerates short
// reads and treats this the same as a sparse/never-written block.
func getBlock(ctx context.Context, table dynamoTable, tableName, path string, block uint64) ([]byte, error) {
	out, err := table.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      strPtr(tableName),
		Key:            itemKey(blockPartitionKey(path), blockSortKey(block)),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, wrapIOErr("get-block", path, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	data, _ := attrBytes(out.Item, "data")
	return data, nil
}

// putBlock writes a block unconditionally and reports the signed delta
// in total file size this write produced (new size minus any previous
// block's stored size).
func putBlock(ctx context.Context, table dynamoTable, tableName, path string, block uint64, data []byte) (int64, error) {
	out, err := table.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: strPtr(tableName),
		Item: map[string]types.AttributeValue{
			"key":   stringAttr(blockPartitionKey(path)),
			"range": stringAttr(blockSortKey(block)),
			"data":  bytesAttr(data),
			"size":  numberAttr(int64(len(data))),
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return 0, wrapIOErr("put-block", path, err)
	}
	delta := int64(len(data))
	if out.Attributes != nil {
		if oldSize, ok, err := attrInt(out.Attributes, "size"); err != nil {
			return 0, wrapIOErr("put-block", path, err)
		} else if ok {
			delta -= oldSize
		}
	}
	return delta, nil
}

// deleteBlock removes a block item and reports the negative size delta
// the removal produced (0 if the block did not exist).
func deleteBlock(ctx context.Context, table dynamoTable, tableName, path string, block uint64) (int64, error) {
	out, err := table.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    strPtr(tableName),
		Key:          itemKey(blockPartitionKey(path), blockSortKey(block)),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return 0, wrapIOErr("delete-block", path, err)
	}
	if out.Attributes == nil {
		return 0, nil
	}
	oldSize, ok, err := attrInt(out.Attributes, "size")
	if err != nil {
		return 0, wrapIOErr("delete-block", path, err)
	}
	if !ok {
		return 0, nil
	}
	return -oldSize, nil
}

// updateTotal atomically adds delta to the running FSIZE/<path> counter,
// creating the item if it does not yet exist. Every VFS write or
// truncate calls this exactly once, at the end of the operation, never
// per block.
func updateTotal(ctx context.Context, table dynamoTable, tableName, path string, delta int64) error {
	if delta == 0 {
		return nil
	}
	partition, sort := sizeKey(path)
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name("size"), expression.Value(delta))).
		Build()
	if err != nil {
		return fmt.Errorf("ddbvfs: build update-total expression: %w", err)
	}
	_, err = table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 strPtr(tableName),
		Key:                       itemKey(partition, sort),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapIOErr("update-total", path, err)
}

// putTotalAbsolute unconditionally sets FSIZE/<path> to an exact value,
// rather than adding a delta. Used only by deserialization, which
// derives the whole counter from bytes actually consumed.
func putTotalAbsolute(ctx context.Context, table dynamoTable, tableName, path string, total int64) error {
	partition, sort := sizeKey(path)
	_, err := table.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: strPtr(tableName),
		Item: map[string]types.AttributeValue{
			"key":   stringAttr(partition),
			"range": stringAttr(sort),
			"size":  numberAttr(total),
		},
	})
	return wrapIOErr("put-total", path, err)
}

// getTotal returns the current FSIZE/<path> counter, or 0 if absent.
func getTotal(ctx context.Context, table dynamoTable, tableName, path string) (int64, error) {
	partition, sort := sizeKey(path)
	out, err := table.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      strPtr(tableName),
		Key:            itemKey(partition, sort),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return 0, wrapIOErr("get-total", path, err)
	}
	if out.Item == nil {
		return 0, nil
	}
	size, _, err := attrInt(out.Item, "size")
	if err != nil {
		return 0, wrapIOErr("get-total", path, err)
	}
	return size, nil
}

// blockIterator yields the blocks of a path in ascending order, paging
// through the underlying Query via ExclusiveStartKey/LastEvaluatedKey.
// It is a lazy, finite, non-restartable sequence: each call to Next
// either returns the next already-buffered block or fetches the next
// page. Shared by xDelete, xTruncate, and the serializer so the
// pagination loop is written once.
type blockIterator struct {
	ctx       context.Context
	table     dynamoTable
	tableName string
	path      string

	buf       []blockItem
	pos       int
	lek       map[string]types.AttributeValue
	exhausted bool
}

func newBlockIterator(ctx context.Context, table dynamoTable, tableName, path string) *blockIterator {
	return &blockIterator{ctx: ctx, table: table, tableName: tableName, path: path}
}

// Next returns the next block in ascending order, or ok=false once the
// sequence is exhausted.
func (it *blockIterator) Next() (blockItem, bool, error) {
	for it.pos >= len(it.buf) {
		if it.exhausted {
			return blockItem{}, false, nil
		}
		if err := it.fetchPage(); err != nil {
			return blockItem{}, false, err
		}
	}
	item := it.buf[it.pos]
	it.pos++
	return item, true, nil
}

func (it *blockIterator) fetchPage() error {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("key").Equal(expression.Value(blockPartitionKey(it.path)))).
		Build()
	if err != nil {
		return fmt.Errorf("ddbvfs: build query expression: %w", err)
	}

	out, err := it.table.Query(it.ctx, &dynamodb.QueryInput{
		TableName:                 strPtr(it.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            boolPtr(true),
		ExclusiveStartKey:         it.lek,
	})
	if err != nil {
		return wrapIOErr("query-blocks", it.path, err)
	}

	buf := make([]blockItem, 0, len(out.Items))
	for _, raw := range out.Items {
		sortKey, _ := attrString(raw, "range")
		n, err := blockNumber(sortKey)
		if err != nil {
			return err
		}
		data, _ := attrBytes(raw, "data")
		size, _, err := attrInt(raw, "size")
		if err != nil {
			return wrapIOErr("query-blocks", it.path, err)
		}
		buf = append(buf, blockItem{Number: n, Data: data, Size: size})
	}

	it.buf = buf
	it.pos = 0
	it.lek = out.LastEvaluatedKey
	it.exhausted = len(it.lek) == 0
	return nil
}
