// Package memtable is an in-memory stand-in for a DynamoDB-shaped
// table, implementing just enough of GetItem/PutItem/UpdateItem/
// DeleteItem/Query — including the subset of the condition- and
// update-expression language package ddbvfs emits — to exercise that
// package's tests without a live AWS account.
//
// It generalizes the teacher's memDB (an in-process map keyed by block
// index) from a single backend-specific map into a generic composite-key
// item store, the same role DynamoDB itself plays for package ddbvfs.
package memtable

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table is a composite-key (partition, sort) item store.
type Table struct {
	// PageSize caps the number of items a single Query call returns,
	// forcing callers through ExclusiveStartKey/LastEvaluatedKey
	// pagination the same way a real table would for a large result
	// set. Zero means unlimited (a single page).
	PageSize int

	mu    sync.Mutex
	items map[compositeKey]map[string]types.AttributeValue
}

type compositeKey struct{ partition, sort string }

func (k compositeKey) less(o compositeKey) bool {
	if k.partition != o.partition {
		return k.partition < o.partition
	}
	return k.sort < o.sort
}

// New returns an empty Table.
func New() *Table {
	return &Table{items: map[compositeKey]map[string]types.AttributeValue{}}
}

func keyOf(attrs map[string]types.AttributeValue) (compositeKey, error) {
	p, ok := attrs["key"].(*types.AttributeValueMemberS)
	if !ok {
		return compositeKey{}, fmt.Errorf("memtable: missing string attribute %q", "key")
	}
	r, ok := attrs["range"].(*types.AttributeValueMemberS)
	if !ok {
		return compositeKey{}, fmt.Errorf("memtable: missing string attribute %q", "range")
	}
	return compositeKey{partition: p.Value, sort: r.Value}, nil
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// GetItem implements the dynamoTable GetItem method.
func (t *Table) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: cloneItem(t.items[key])}, nil
}

// PutItem implements the dynamoTable PutItem method.
func (t *Table) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key, err := keyOf(in.Item)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.items[key]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionalCheckFailed()
		}
	}

	t.items[key] = cloneItem(in.Item)

	out := &dynamodb.PutItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = cloneItem(old)
	}
	return out, nil
}

// UpdateItem implements the dynamoTable UpdateItem method.
func (t *Table) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	key, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.items[key]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionalCheckFailed()
		}
	}

	item := cloneItem(old)
	if item == nil {
		item = map[string]types.AttributeValue{}
	}
	for k, v := range in.Key {
		item[k] = v
	}

	if in.UpdateExpression != nil {
		if err := applyUpdate(item, *in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}

	t.items[key] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

// DeleteItem implements the dynamoTable DeleteItem method.
func (t *Table) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.items[key]
	delete(t.items, key)

	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = cloneItem(old)
	}
	return out, nil
}

// Query implements the dynamoTable Query method: it scans every item,
// evaluates KeyConditionExpression against each (a KeyConditionExpression
// has the same "name = value [AND name = value]" grammar as a
// ConditionExpression), sorts the matches by (partition, sort), and
// pages the result per Table.PageSize.
func (t *Table) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matches []compositeKey
	for key, item := range t.items {
		ok, err := evalCondition(*in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, key)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].less(matches[j]) })

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		lek, err := keyOf(in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for start < len(matches) && !lek.less(matches[start]) {
			start++
		}
	}
	matches = matches[start:]

	pageSize := len(matches)
	if t.PageSize > 0 && t.PageSize < pageSize {
		pageSize = t.PageSize
	}

	out := &dynamodb.QueryOutput{}
	for _, key := range matches[:pageSize] {
		out.Items = append(out.Items, cloneItem(t.items[key]))
	}
	out.Count = int32(len(out.Items))
	if pageSize < len(matches) {
		last := matches[pageSize-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"key":   &types.AttributeValueMemberS{Value: last.partition},
			"range": &types.AttributeValueMemberS{Value: last.sort},
		}
	}
	return out, nil
}

func conditionalCheckFailed() error {
	msg := "The conditional request failed"
	return &types.ConditionalCheckFailedException{Message: &msg}
}

// --- minimal condition/update expression evaluator ---
//
// This covers exactly the shapes the expression package builds for
// package ddbvfs: equality and attribute_not_exists terms joined by AND
// or OR for conditions; SET (optionally with if_not_exists(...)+value),
// REMOVE, and ADD clauses for updates. It is not a general DynamoDB
// expression parser.

func tokenize(expr string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch r {
		case '(', ')', ',', '+', '=':
			flush()
			toks = append(toks, string(r))
		case ' ', '\t', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

type exprParser struct {
	toks   []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
}

func (p *exprParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *exprParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) resolveName(tok string) (string, error) {
	if strings.HasPrefix(tok, "#") {
		name, ok := p.names[tok]
		if !ok {
			return "", fmt.Errorf("memtable: unresolved attribute name placeholder %q", tok)
		}
		return name, nil
	}
	return tok, nil
}

func (p *exprParser) resolveValue(tok string) (types.AttributeValue, error) {
	if strings.HasPrefix(tok, ":") {
		val, ok := p.values[tok]
		if !ok {
			return nil, fmt.Errorf("memtable: unresolved attribute value placeholder %q", tok)
		}
		return val, nil
	}
	return nil, fmt.Errorf("memtable: expected value placeholder, got %q", tok)
}

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	p := &exprParser{toks: tokenize(expr), names: names, values: values}
	return p.parseCondition(item)
}

func (p *exprParser) parseCondition(item map[string]types.AttributeValue) (bool, error) {
	left, err := p.parseCondTerm(item)
	if err != nil {
		return false, err
	}
	for {
		switch p.peek() {
		case "AND":
			p.next()
			right, err := p.parseCondTerm(item)
			if err != nil {
				return false, err
			}
			left = left && right
		case "OR":
			p.next()
			right, err := p.parseCondTerm(item)
			if err != nil {
				return false, err
			}
			left = left || right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseCondTerm(item map[string]types.AttributeValue) (bool, error) {
	tok := p.next()
	if tok == "(" {
		inner, err := p.parseCondition(item)
		if err != nil {
			return false, err
		}
		if closeParen := p.next(); closeParen != ")" {
			return false, fmt.Errorf("memtable: expected ')' in condition, got %q", closeParen)
		}
		return inner, nil
	}
	if tok == "attribute_not_exists" {
		p.next() // (
		nameTok := p.next()
		p.next() // )
		name, err := p.resolveName(nameTok)
		if err != nil {
			return false, err
		}
		_, ok := item[name]
		return !ok, nil
	}

	name, err := p.resolveName(tok)
	if err != nil {
		return false, err
	}
	if eq := p.next(); eq != "=" {
		return false, fmt.Errorf("memtable: expected '=' in condition, got %q", eq)
	}
	want, err := p.resolveValue(p.next())
	if err != nil {
		return false, err
	}
	got, ok := item[name]
	if !ok {
		return false, nil
	}
	return attributeValuesEqual(got, want), nil
}

func attributeValuesEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		an, aerr := strconv.ParseInt(av.Value, 10, 64)
		bn, berr := strconv.ParseInt(bv.Value, 10, 64)
		return aerr == nil && berr == nil && an == bn
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && string(av.Value) == string(bv.Value)
	default:
		return false
	}
}

func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	p := &exprParser{toks: tokenize(expr), names: names, values: values}
	for p.pos < len(p.toks) {
		switch section := p.next(); section {
		case "SET":
			for {
				name, err := p.resolveName(p.next())
				if err != nil {
					return err
				}
				if eq := p.next(); eq != "=" {
					return fmt.Errorf("memtable: expected '=' in SET clause, got %q", eq)
				}
				val, err := p.parseSetRHS(item, name)
				if err != nil {
					return err
				}
				item[name] = val
				if p.peek() == "," {
					p.next()
					continue
				}
				break
			}
		case "REMOVE":
			for {
				name, err := p.resolveName(p.next())
				if err != nil {
					return err
				}
				delete(item, name)
				if p.peek() == "," {
					p.next()
					continue
				}
				break
			}
		case "ADD":
			for {
				name, err := p.resolveName(p.next())
				if err != nil {
					return err
				}
				delta, err := p.resolveValue(p.next())
				if err != nil {
					return err
				}
				if err := addNumeric(item, name, delta); err != nil {
					return err
				}
				if p.peek() == "," {
					p.next()
					continue
				}
				break
			}
		default:
			return fmt.Errorf("memtable: unsupported update clause %q", section)
		}
	}
	return nil
}

func (p *exprParser) parseSetRHS(item map[string]types.AttributeValue, name string) (types.AttributeValue, error) {
	if p.peek() == "if_not_exists" {
		p.next()
		p.next() // (
		innerName, err := p.resolveName(p.next())
		if err != nil {
			return nil, err
		}
		if comma := p.next(); comma != "," {
			return nil, fmt.Errorf("memtable: expected ',' in if_not_exists, got %q", comma)
		}
		fallback, err := p.resolveValue(p.next())
		if err != nil {
			return nil, err
		}
		if closeParen := p.next(); closeParen != ")" {
			return nil, fmt.Errorf("memtable: expected ')' in if_not_exists, got %q", closeParen)
		}

		base, ok := item[innerName]
		if !ok {
			base = fallback
		}

		if p.peek() == "+" {
			p.next()
			addend, err := p.resolveValue(p.next())
			if err != nil {
				return nil, err
			}
			return numericSum(base, addend)
		}
		return base, nil
	}

	return p.resolveValue(p.next())
}

func addNumeric(item map[string]types.AttributeValue, name string, delta types.AttributeValue) error {
	base, ok := item[name]
	if !ok {
		base = &types.AttributeValueMemberN{Value: "0"}
	}
	sum, err := numericSum(base, delta)
	if err != nil {
		return err
	}
	item[name] = sum
	return nil
}

func numericSum(a, b types.AttributeValue) (types.AttributeValue, error) {
	an, ok := a.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("memtable: expected numeric attribute, got %T", a)
	}
	bn, ok := b.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("memtable: expected numeric value, got %T", b)
	}
	av, err := strconv.ParseInt(an.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	bv, err := strconv.ParseInt(bn.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(av+bv, 10)}, nil
}
