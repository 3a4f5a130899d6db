package ddbvfs

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// itemKey builds the composite-key attribute map DynamoDB needs for
// GetItem/PutItem/UpdateItem/DeleteItem Key arguments.
func itemKey(partition, sort string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key":   &types.AttributeValueMemberS{Value: partition},
		"range": &types.AttributeValueMemberS{Value: sort},
	}
}

func attrString(item map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := item[name]
	if !ok {
		return "", false
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

func attrBytes(item map[string]types.AttributeValue, name string) ([]byte, bool) {
	v, ok := item[name]
	if !ok {
		return nil, false
	}
	b, ok := v.(*types.AttributeValueMemberB)
	if !ok {
		return nil, false
	}
	return b.Value, true
}

func attrInt(item map[string]types.AttributeValue, name string) (int64, bool, error) {
	v, ok := item[name]
	if !ok {
		return 0, false, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, fmt.Errorf("ddbvfs: attribute %q is not numeric", name)
	}
	i, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("ddbvfs: malformed numeric attribute %q: %w", name, err)
	}
	return i, true, nil
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func stringAttr(s string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: s}
}

func bytesAttr(b []byte) *types.AttributeValueMemberB {
	return &types.AttributeValueMemberB{Value: b}
}
