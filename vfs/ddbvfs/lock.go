package ddbvfs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/vfs"
)

// Lock implements the five-level advisory lock protocol of a single
// LK/<path> item via conditional updates. target must be SHARED,
// RESERVED, or EXCLUSIVE and greater than the level already attained;
// a no-op request (target == attained) returns immediately.
func (f *File) Lock(lock vfs.LockLevel) error {
	if lock <= f.attained {
		return nil
	}
	if f.readOnly && lock >= vfs.LOCK_RESERVED {
		return sqlite3.IOERR_LOCK
	}
	ctx := context.Background()
	if lock == vfs.LOCK_SHARED {
		return f.lockShared(ctx)
	}
	return f.lockWriter(ctx, lock)
}

func (f *File) lockShared(ctx context.Context) error {
	partition, sort := lockKey(f.path)

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(
			expression.Name("count"),
			expression.IfNotExists(expression.Name("count"), expression.Value(0)).Plus(expression.Value(1)),
		)).
		WithCondition(
			expression.Name("level").AttributeNotExists().
				Or(expression.Name("level").Equal(expression.Value(int(vfs.LOCK_RESERVED)))),
		).
		Build()
	if err != nil {
		return wrapIOErr("lock-shared", f.path, err)
	}

	_, err = f.vfs.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 strPtr(f.vfs.tableName),
		Key:                       itemKey(partition, sort),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return asBusy("lock-shared", f.path, err)
	}
	f.attained = vfs.LOCK_SHARED
	return nil
}

// lockWriter handles target RESERVED or EXCLUSIVE. Both first claim
// PENDING (unless already held), then attempt the final upgrade. On
// upgrade failure the handle is left at PENDING so the caller may retry
// under its own busy-timeout.
func (f *File) lockWriter(ctx context.Context, target vfs.LockLevel) error {
	partition, sort := lockKey(f.path)

	if f.attained < vfs.LOCK_PENDING {
		expr, err := expression.NewBuilder().
			WithUpdate(expression.Set(expression.Name("level"), expression.Value(int(vfs.LOCK_PENDING))).
				Set(expression.Name("owner"), expression.Value(f.clientID))).
			WithCondition(
				expression.Name("owner").AttributeNotExists().
					Or(expression.Name("owner").Equal(expression.Value(f.clientID))),
			).
			Build()
		if err != nil {
			return wrapIOErr("lock-pending", f.path, err)
		}

		_, err = f.vfs.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 strPtr(f.vfs.tableName),
			Key:                       itemKey(partition, sort),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		if err != nil {
			return asBusy("lock-pending", f.path, err)
		}
		f.attained = vfs.LOCK_PENDING
	}

	cond := expression.Name("owner").Equal(expression.Value(f.clientID))
	if target == vfs.LOCK_EXCLUSIVE {
		// Wait for readers to drain to 1 (ourself, if we hold SHARED).
		cond = cond.And(expression.Name("count").Equal(expression.Value(1)))
	}

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name("level"), expression.Value(int(target))).
			Set(expression.Name("owner"), expression.Value(f.clientID))).
		WithCondition(cond).
		Build()
	if err != nil {
		return wrapIOErr("lock-upgrade", f.path, err)
	}

	_, err = f.vfs.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 strPtr(f.vfs.tableName),
		Key:                       itemKey(partition, sort),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return asBusy("lock-upgrade", f.path, err)
	}
	f.attained = target
	return nil
}

// Unlock monotonically downgrades to target NONE, SHARED, or RESERVED,
// matching the exact update for each attained→target transition.
func (f *File) Unlock(lock vfs.LockLevel) error {
	if lock == f.attained {
		return nil
	}
	ctx := context.Background()
	partition, sort := lockKey(f.path)
	fromWriter := f.attained >= vfs.LOCK_RESERVED

	var err error
	switch lock {
	case vfs.LOCK_RESERVED:
		// writer → RESERVED: reset to a single-owner claim. Only reached
		// when count is already 1 in the engine's real locking sequence
		// (see DESIGN.md); this resets count regardless.
		expr, berr := expression.NewBuilder().
			WithCondition(expression.Name("owner").Equal(expression.Value(f.clientID))).
			Build()
		if berr != nil {
			return wrapIOErr("unlock-reserved", f.path, berr)
		}
		item := itemKey(partition, sort)
		item["level"] = numberAttr(int64(vfs.LOCK_RESERVED))
		item["owner"] = stringAttr(f.clientID)
		item["count"] = numberAttr(1)
		_, err = f.vfs.table.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 strPtr(f.vfs.tableName),
			Item:                      item,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
	case vfs.LOCK_SHARED:
		if fromWriter {
			expr, berr := expression.NewBuilder().
				WithUpdate(expression.Remove(expression.Name("level")).Remove(expression.Name("owner"))).
				WithCondition(expression.Name("owner").Equal(expression.Value(f.clientID))).
				Build()
			if berr != nil {
				return wrapIOErr("unlock-shared", f.path, berr)
			}
			_, err = f.vfs.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 strPtr(f.vfs.tableName),
				Key:                       itemKey(partition, sort),
				UpdateExpression:          expr.Update(),
				ConditionExpression:       expr.Condition(),
				ExpressionAttributeNames:  expr.Names(),
				ExpressionAttributeValues: expr.Values(),
			})
		}
	case vfs.LOCK_NONE:
		if fromWriter {
			expr, berr := expression.NewBuilder().
				WithUpdate(expression.Add(expression.Name("count"), expression.Value(-1)).
					Remove(expression.Name("level")).Remove(expression.Name("owner"))).
				WithCondition(expression.Name("owner").Equal(expression.Value(f.clientID))).
				Build()
			if berr != nil {
				return wrapIOErr("unlock-none", f.path, berr)
			}
			_, err = f.vfs.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 strPtr(f.vfs.tableName),
				Key:                       itemKey(partition, sort),
				UpdateExpression:          expr.Update(),
				ConditionExpression:       expr.Condition(),
				ExpressionAttributeNames:  expr.Names(),
				ExpressionAttributeValues: expr.Values(),
			})
		} else {
			expr, berr := expression.NewBuilder().
				WithUpdate(expression.Add(expression.Name("count"), expression.Value(-1))).
				Build()
			if berr != nil {
				return wrapIOErr("unlock-none", f.path, berr)
			}
			_, err = f.vfs.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 strPtr(f.vfs.tableName),
				Key:                       itemKey(partition, sort),
				UpdateExpression:          expr.Update(),
				ExpressionAttributeNames:  expr.Names(),
				ExpressionAttributeValues: expr.Values(),
			})
		}
	}

	if err != nil {
		return wrapIOErr("unlock", f.path, err)
	}
	f.attained = lock
	return nil
}

// CheckReservedLock reports whether any connection holds a RESERVED or
// stronger claim on the file.
func (f *File) CheckReservedLock() (bool, error) {
	ctx := context.Background()
	partition, sort := lockKey(f.path)

	out, err := f.vfs.table.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      strPtr(f.vfs.tableName),
		Key:            itemKey(partition, sort),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return false, wrapIOErr("check-reserved", f.path, err)
	}
	if out.Item == nil {
		return false, nil
	}
	level, ok, err := attrInt(out.Item, "level")
	if err != nil {
		return false, wrapIOErr("check-reserved", f.path, err)
	}
	if !ok {
		return false, nil
	}
	return level >= int64(vfs.LOCK_RESERVED), nil
}

// LockState reports the lock level this handle currently holds. It
// implements the optional vfs.FileLockState interface.
func (f *File) LockState() vfs.LockLevel {
	return f.attained
}
