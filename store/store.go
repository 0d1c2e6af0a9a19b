package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key attribute names shared by every item in the table.
const (
	AttrPK = "PK"
	AttrSK = "SK"
)

// Key is the composite primary key of an item.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "|" + k.SK
}

// AttributeValues returns the key in DynamoDB wire form.
func (k Key) AttributeValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: k.PK},
		AttrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}

// Item is a raw stored item. It always carries PK and SK attributes.
type Item map[string]types.AttributeValue

// Key returns the item's primary key.
func (it Item) Key() Key {
	return Key{PK: it.StringAttr(AttrPK), SK: it.StringAttr(AttrSK)}
}

// StringAttr returns a string attribute, or "" if absent or not a string.
func (it Item) StringAttr(name string) string {
	if v, ok := it[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// NumberAttr returns a number attribute as int64, or 0 if absent or not a number.
func (it Item) NumberAttr(name string) int64 {
	if v, ok := it[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

// Condition guards a write on the existence of the target item.
type Condition int

const (
	// Always applies the write unconditionally.
	Always Condition = iota
	// IfNotExists applies the write only if no item exists at the key.
	IfNotExists
	// IfExists applies the write only if an item exists at the key.
	IfExists
)

func (c Condition) String() string {
	switch c {
	case IfNotExists:
		return "IfNotExists"
	case IfExists:
		return "IfExists"
	default:
		return "Always"
	}
}

// OpKind identifies the kind of write in a transaction.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
	OpAdd
)

// Op is a single write inside a transaction.
type Op struct {
	Kind OpKind
	Key  Key
	Cond Condition

	// Item is the full item for OpPut. Its PK/SK must match Key.
	Item Item

	// Attr and Delta describe the additive update for OpAdd.
	Attr  string
	Delta int64
}

// Put builds a put op. The key is taken from the item.
func Put(item Item, cond Condition) Op {
	return Op{Kind: OpPut, Key: item.Key(), Item: item, Cond: cond}
}

// Delete builds a delete op.
func Delete(key Key, cond Condition) Op {
	return Op{Kind: OpDelete, Key: key, Cond: cond}
}

// Add builds an additive update of a numeric attribute.
func Add(key Key, attr string, delta int64, cond Condition) Op {
	return Op{Kind: OpAdd, Key: key, Attr: attr, Delta: delta, Cond: cond}
}

func (o Op) String() string {
	switch o.Kind {
	case OpPut:
		return fmt.Sprintf("put %s (%s)", o.Key, o.Cond)
	case OpDelete:
		return fmt.Sprintf("delete %s (%s)", o.Key, o.Cond)
	default:
		return fmt.Sprintf("add %s %+d to %s (%s)", o.Attr, o.Delta, o.Key, o.Cond)
	}
}

// QueryInput selects items in one partition.
type QueryInput struct {
	// PK is the partition to read.
	PK string

	// SKPrefix restricts results to sort keys beginning with the prefix.
	SKPrefix string

	// Filter keeps only items whose string attributes equal the given values.
	Filter map[string]string

	// Limit is the maximum number of items to return (0 = no limit).
	Limit int

	// ScanForward determines sort order (true = ascending, false = descending).
	ScanForward bool

	// StartAfter resumes a previous query after the given key.
	StartAfter *Key
}

// QueryOutput is one page of query results.
type QueryOutput struct {
	Items []Item

	// LastKey is set when more items may remain; pass it as StartAfter.
	LastKey *Key
}

// Store is the item store every component writes through.
type Store interface {
	Get(ctx context.Context, key Key) (Item, error)
	Query(ctx context.Context, input QueryInput) (*QueryOutput, error)
	ConditionalPut(ctx context.Context, item Item, cond Condition) error
	ConditionalDelete(ctx context.Context, key Key, cond Condition) error
	Transact(ctx context.Context, ops []Op) error
	MaxBatchSize() int
}

// Chunk splits ops into consecutive slices of at most size ops.
// Atomicity only holds within a chunk.
func Chunk(ops []Op, size int) [][]Op {
	if size < 1 {
		size = DefaultMaxBatchSize
	}
	var chunks [][]Op
	for i := 0; i < len(ops); i += size {
		end := i + size
		if end > len(ops) {
			end = len(ops)
		}
		chunks = append(chunks, ops[i:end])
	}
	return chunks
}

// QueryAll pages through a query until exhausted or limit items are collected.
// input.Limit is used as the page size. The boolean result reports whether
// more than limit items matched. DynamoDB returns a LastEvaluatedKey whenever
// a page hits its Limit, so one item past the limit is read to tell a full
// result from a cut one.
func QueryAll(ctx context.Context, s Store, input QueryInput, limit int) ([]Item, bool, error) {
	var items []Item
	pageSize := input.Limit
	for {
		in := input
		if limit > 0 {
			if remaining := limit + 1 - len(items); pageSize == 0 || pageSize > remaining {
				in.Limit = remaining
			}
		}
		out, err := s.Query(ctx, in)
		if err != nil {
			return nil, false, err
		}
		items = append(items, out.Items...)
		if limit > 0 && len(items) > limit {
			return items[:limit], true, nil
		}
		if out.LastKey == nil {
			return items, false, nil
		}
		input.StartAfter = out.LastKey
	}
}
