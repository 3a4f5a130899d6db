package ddbvfs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// putAccessMarker unconditionally (re)writes the ACCESS/<path> sentinel
// that records a file's existence.
func putAccessMarker(ctx context.Context, table dynamoTable, tableName, partition, sort string) error {
	_, err := table.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: strPtr(tableName),
		Item:      itemKey(partition, sort),
	})
	return wrapIOErr("put-access", sort, err)
}

// deleteAccessMarker removes the ACCESS/<path> sentinel.
func deleteAccessMarker(ctx context.Context, table dynamoTable, tableName, partition, sort string) error {
	_, err := table.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: strPtr(tableName),
		Key:       itemKey(partition, sort),
	})
	return wrapIOErr("delete-access", sort, err)
}

// accessExists reports whether the ACCESS/<path> marker exists, via a
// strongly consistent Query against the ACCESS partition.
func accessExists(ctx context.Context, table dynamoTable, tableName, path string) (bool, error) {
	partition, sort := accessKey(path)
	expr, err := expression.NewBuilder().
		WithKeyCondition(
			expression.Key("key").Equal(expression.Value(partition)).
				And(expression.Key("range").Equal(expression.Value(sort))),
		).
		Build()
	if err != nil {
		return false, wrapIOErr("access", path, err)
	}

	out, err := table.Query(ctx, &dynamodb.QueryInput{
		TableName:                 strPtr(tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            boolPtr(true),
	})
	if err != nil {
		return false, wrapIOErr("access", path, err)
	}
	return len(out.Items) > 0, nil
}

// deleteAllBlocks removes every BL_<path> item, paging through the
// underlying Query. It does not touch the ACCESS marker (VFS.Delete
// removes that afterwards), and FSIZE and LK items are deliberately
// left behind as orphans (see DESIGN.md).
func deleteAllBlocks(ctx context.Context, table dynamoTable, tableName, path string) error {
	it := newBlockIterator(ctx, table, tableName, path)
	for {
		blk, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, err := deleteBlock(ctx, table, tableName, path, blk.Number); err != nil {
			return err
		}
	}
	return nil
}
