package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Memory is an in-process Store. It applies the same transaction size limit,
// existence conditions and additive update rules as Dynamo.
type Memory struct {
	mu         sync.Mutex
	partitions map[string]map[string]Item
	config     Config
}

// NewMemory creates an empty in-memory store.
func NewMemory(config Config) *Memory {
	config.validate()
	return &Memory{
		partitions: make(map[string]map[string]Item),
		config:     config,
	}
}

// MaxBatchSize returns the maximum ops per transaction.
func (m *Memory) MaxBatchSize() int {
	return m.config.MaxBatchSize
}

// Get retrieves an item by key, returning ErrNotFound if missing.
func (m *Memory) Get(ctx context.Context, key Key) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(item), nil
}

// Query returns items in a partition ordered by sort key.
func (m *Memory) Query(ctx context.Context, input QueryInput) (*QueryOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	partition := m.partitions[input.PK]
	sks := make([]string, 0, len(partition))
	for sk := range partition {
		if strings.HasPrefix(sk, input.SKPrefix) {
			sks = append(sks, sk)
		}
	}
	sort.Strings(sks)
	if !input.ScanForward {
		for i, j := 0, len(sks)-1; i < j; i, j = i+1, j-1 {
			sks[i], sks[j] = sks[j], sks[i]
		}
	}

	out := &QueryOutput{}
	for _, sk := range sks {
		if after := input.StartAfter; after != nil {
			if input.ScanForward && sk <= after.SK || !input.ScanForward && sk >= after.SK {
				continue
			}
		}
		item := partition[sk]
		if !matchesFilter(item, input.Filter) {
			continue
		}
		if input.Limit > 0 && len(out.Items) == input.Limit {
			last := out.Items[len(out.Items)-1].Key()
			out.LastKey = &last
			break
		}
		out.Items = append(out.Items, maps.Clone(item))
	}
	return out, nil
}

// ConditionalPut writes an item if the condition holds.
func (m *Memory) ConditionalPut(ctx context.Context, item Item, cond Condition) error {
	return m.single(ctx, Put(item, cond))
}

// ConditionalDelete removes an item if the condition holds.
func (m *Memory) ConditionalDelete(ctx context.Context, key Key, cond Condition) error {
	return m.single(ctx, Delete(key, cond))
}

func (m *Memory) single(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.holds(op) {
		return fmt.Errorf("%s: %w", op, ErrConditionFailed)
	}
	return m.apply(op)
}

// Transact applies all ops atomically or none of them.
func (m *Memory) Transact(ctx context.Context, ops []Op) error {
	if len(ops) > m.config.MaxBatchSize {
		return fmt.Errorf("%d ops, max %d: %w", len(ops), m.config.MaxBatchSize, ErrTransactionSizeExceeded)
	}
	if len(ops) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[Key]bool, len(ops))
	for _, op := range ops {
		if seen[op.Key] {
			return fmt.Errorf("transaction touches %s twice", op.Key)
		}
		seen[op.Key] = true
	}

	reasons := make([]string, len(ops))
	failed := false
	for i, op := range ops {
		reasons[i] = ReasonNone
		if !m.holds(op) {
			reasons[i] = ReasonConditionFailed
			failed = true
		}
	}
	if failed {
		return &TransactionCanceledError{Reasons: reasons}
	}

	// Validate every add before mutating so a bad op cannot leave a partial write.
	for _, op := range ops {
		if op.Kind == OpAdd {
			if item, ok := m.lookup(op.Key); ok {
				if _, err := numberAttr(item, op.Attr); err != nil {
					return err
				}
			}
		}
	}
	for _, op := range ops {
		if err := m.apply(op); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored items. Intended for tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.partitions {
		n += len(p)
	}
	return n
}

func (m *Memory) lookup(key Key) (Item, bool) {
	item, ok := m.partitions[key.PK][key.SK]
	return item, ok
}

func (m *Memory) holds(op Op) bool {
	_, exists := m.lookup(op.Key)
	switch op.Cond {
	case IfNotExists:
		return !exists
	case IfExists:
		return exists
	default:
		return true
	}
}

// apply must be called with mu held and after conditions were checked.
func (m *Memory) apply(op Op) error {
	switch op.Kind {
	case OpPut:
		if op.Item.Key() != op.Key {
			return fmt.Errorf("put item key %s does not match op key %s", op.Item.Key(), op.Key)
		}
		partition, ok := m.partitions[op.Key.PK]
		if !ok {
			partition = make(map[string]Item)
			m.partitions[op.Key.PK] = partition
		}
		partition[op.Key.SK] = maps.Clone(op.Item)

	case OpDelete:
		if partition, ok := m.partitions[op.Key.PK]; ok {
			delete(partition, op.Key.SK)
			if len(partition) == 0 {
				delete(m.partitions, op.Key.PK)
			}
		}

	case OpAdd:
		item, ok := m.lookup(op.Key)
		if !ok {
			// ADD on a missing item creates it, as DynamoDB does.
			item = Item(op.Key.AttributeValues())
			partition, exists := m.partitions[op.Key.PK]
			if !exists {
				partition = make(map[string]Item)
				m.partitions[op.Key.PK] = partition
			}
			partition[op.Key.SK] = item
		}
		current, err := numberAttr(item, op.Attr)
		if err != nil {
			return err
		}
		item[op.Attr] = numberValue(current + op.Delta)

	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func numberAttr(item Item, name string) (int64, error) {
	v, ok := item[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", name)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

func matchesFilter(item Item, filter map[string]string) bool {
	for name, want := range filter {
		if item.StringAttr(name) != want {
			return false
		}
	}
	return true
}
