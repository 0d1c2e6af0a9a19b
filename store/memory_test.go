package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/flock/store"
)

func item(pk, sk string, attrs ...string) store.Item {
	it := store.Item(store.Key{PK: pk, SK: sk}.AttributeValues())
	for i := 0; i+1 < len(attrs); i += 2 {
		it[attrs[i]] = &types.AttributeValueMemberS{Value: attrs[i+1]}
	}
	return it
}

func newMemory() *store.Memory {
	return store.NewMemory(store.DefaultConfig())
}

func TestMemory_GetMissing(t *testing.T) {
	m := newMemory()
	_, err := m.Get(context.Background(), store.Key{PK: "USER#a", SK: "PROFILE"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	require.NoError(t, m.ConditionalPut(ctx, item("USER#a", "PROFILE", "name", "ann"), store.Always))

	got, err := m.Get(ctx, store.Key{PK: "USER#a", SK: "PROFILE"})
	require.NoError(t, err)
	got["name"] = &types.AttributeValueMemberS{Value: "changed"}

	again, err := m.Get(ctx, store.Key{PK: "USER#a", SK: "PROFILE"})
	require.NoError(t, err)
	assert.Equal(t, "ann", again.StringAttr("name"))
}

func TestMemory_ConditionalPut(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	it := item("USER#a", "PROFILE")

	require.NoError(t, m.ConditionalPut(ctx, it, store.IfNotExists))
	err := m.ConditionalPut(ctx, it, store.IfNotExists)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	assert.NoError(t, m.ConditionalPut(ctx, it, store.IfExists))
	assert.Error(t, m.ConditionalPut(ctx, item("USER#b", "PROFILE"), store.IfExists))
}

func TestMemory_ConditionalDelete(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	key := store.Key{PK: "USER#a", SK: "PROFILE"}

	assert.ErrorIs(t, m.ConditionalDelete(ctx, key, store.IfExists), store.ErrConditionFailed)
	assert.NoError(t, m.ConditionalDelete(ctx, key, store.Always))

	require.NoError(t, m.ConditionalPut(ctx, item(key.PK, key.SK), store.Always))
	require.NoError(t, m.ConditionalDelete(ctx, key, store.IfExists))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_TransactAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	require.NoError(t, m.ConditionalPut(ctx, item("USER#a", "FOLLOWS#b"), store.Always))

	err := m.Transact(ctx, []store.Op{
		store.Put(item("USER#x", "PROFILE"), store.Always),
		store.Put(item("USER#a", "FOLLOWS#b"), store.IfNotExists),
		store.Add(store.Key{PK: "USER#y", SK: "PROFILE"}, "followersCount", 1, store.IfExists),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	assert.Equal(t, 1, store.FailedOpIndex(err))

	var txErr *store.TransactionCanceledError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, []string{store.ReasonNone, store.ReasonConditionFailed, store.ReasonConditionFailed}, txErr.Reasons)

	_, err = m.Get(ctx, store.Key{PK: "USER#x", SK: "PROFILE"})
	assert.ErrorIs(t, err, store.ErrNotFound, "no op of a cancelled transaction may apply")
	assert.Equal(t, 1, m.Len())
}

func TestMemory_TransactSizeLimit(t *testing.T) {
	m := store.NewMemory(store.Config{MaxBatchSize: 2})
	ops := []store.Op{
		store.Put(item("P", "1"), store.Always),
		store.Put(item("P", "2"), store.Always),
		store.Put(item("P", "3"), store.Always),
	}
	err := m.Transact(context.Background(), ops)
	assert.ErrorIs(t, err, store.ErrTransactionSizeExceeded)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_TransactRejectsDuplicateKeys(t *testing.T) {
	m := newMemory()
	err := m.Transact(context.Background(), []store.Op{
		store.Put(item("P", "1"), store.Always),
		store.Delete(store.Key{PK: "P", SK: "1"}, store.Always),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_AddCounter(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	key := store.Key{PK: "POST#p", SK: "METADATA"}
	require.NoError(t, m.ConditionalPut(ctx, item(key.PK, key.SK), store.Always))

	require.NoError(t, m.Transact(ctx, []store.Op{store.Add(key, "likesCount", 1, store.IfExists)}))
	require.NoError(t, m.Transact(ctx, []store.Op{store.Add(key, "likesCount", 1, store.IfExists)}))
	require.NoError(t, m.Transact(ctx, []store.Op{store.Add(key, "likesCount", -1, store.IfExists)}))

	got, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.NumberAttr("likesCount"))
}

func TestMemory_AddCreatesMissingItemWhenUnconditioned(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	key := store.Key{PK: "USER#a", SK: "PROFILE"}

	require.NoError(t, m.Transact(ctx, []store.Op{store.Add(key, "postsCount", 3, store.Always)}))
	got, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.NumberAttr("postsCount"))
	assert.Equal(t, key, got.Key())
}

func TestMemory_AddNonNumeric(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	require.NoError(t, m.ConditionalPut(ctx, item("P", "1", "count", "x"), store.Always))

	err := m.Transact(ctx, []store.Op{
		store.Put(item("P", "2"), store.Always),
		store.Add(store.Key{PK: "P", SK: "1"}, "count", 1, store.Always),
	})
	assert.Error(t, err)
	_, err = m.Get(ctx, store.Key{PK: "P", SK: "2"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	key := store.Key{PK: "POST#p", SK: "METADATA"}
	require.NoError(t, m.ConditionalPut(ctx, item(key.PK, key.SK), store.Always))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Transact(ctx, []store.Op{store.Add(key, "likesCount", 1, store.IfExists)}))
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.NumberAttr("likesCount"))
}

func TestMemory_Query(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	for _, sk := range []string{"POST#003", "POST#001", "POST#002", "PROFILE"} {
		require.NoError(t, m.ConditionalPut(ctx, item("FEED#a", sk), store.Always))
	}
	require.NoError(t, m.ConditionalPut(ctx, item("FEED#b", "POST#009"), store.Always))

	sks := func(items []store.Item) []string {
		var out []string
		for _, it := range items {
			out = append(out, it.Key().SK)
		}
		return out
	}

	t.Run("ascending with prefix", func(t *testing.T) {
		out, err := m.Query(ctx, store.QueryInput{PK: "FEED#a", SKPrefix: "POST#", ScanForward: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"POST#001", "POST#002", "POST#003"}, sks(out.Items))
		assert.Nil(t, out.LastKey)
	})

	t.Run("descending with limit", func(t *testing.T) {
		out, err := m.Query(ctx, store.QueryInput{PK: "FEED#a", SKPrefix: "POST#", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"POST#003", "POST#002"}, sks(out.Items))
		require.NotNil(t, out.LastKey)
		assert.Equal(t, "POST#002", out.LastKey.SK)

		next, err := m.Query(ctx, store.QueryInput{PK: "FEED#a", SKPrefix: "POST#", Limit: 2, StartAfter: out.LastKey})
		require.NoError(t, err)
		assert.Equal(t, []string{"POST#001"}, sks(next.Items))
		assert.Nil(t, next.LastKey)
	})

	t.Run("exact limit has no last key", func(t *testing.T) {
		out, err := m.Query(ctx, store.QueryInput{PK: "FEED#a", SKPrefix: "POST#", Limit: 3, ScanForward: true})
		require.NoError(t, err)
		assert.Len(t, out.Items, 3)
		assert.Nil(t, out.LastKey)
	})

	t.Run("missing partition", func(t *testing.T) {
		out, err := m.Query(ctx, store.QueryInput{PK: "FEED#z"})
		require.NoError(t, err)
		assert.Empty(t, out.Items)
	})
}

func TestMemory_QueryFilter(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	require.NoError(t, m.ConditionalPut(ctx, item("FEED#a", "POST#1", "authorId", "x"), store.Always))
	require.NoError(t, m.ConditionalPut(ctx, item("FEED#a", "POST#2", "authorId", "y"), store.Always))
	require.NoError(t, m.ConditionalPut(ctx, item("FEED#a", "POST#3", "authorId", "x"), store.Always))

	out, err := m.Query(ctx, store.QueryInput{
		PK:          "FEED#a",
		Filter:      map[string]string{"authorId": "x"},
		ScanForward: true,
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "POST#1", out.Items[0].Key().SK)
	assert.Equal(t, "POST#3", out.Items[1].Key().SK)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newMemory()

	_, err := m.Get(ctx, store.Key{PK: "P", SK: "1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.Transact(ctx, []store.Op{store.Put(item("P", "1"), store.Always)}), context.Canceled)
}

func TestChunk(t *testing.T) {
	ops := make([]store.Op, 0, 60)
	for i := 0; i < 60; i++ {
		ops = append(ops, store.Put(item("P", fmt.Sprint(i)), store.Always))
	}

	chunks := store.Chunk(ops, 25)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 25)
	assert.Len(t, chunks[1], 25)
	assert.Len(t, chunks[2], 10)
	assert.Equal(t, "0", chunks[0][0].Key.SK)
	assert.Equal(t, "50", chunks[2][0].Key.SK)

	assert.Empty(t, store.Chunk(nil, 25))
	assert.Len(t, store.Chunk(ops[:3], 0), 1, "non-positive size falls back to the default")
}

func TestQueryAll(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	for i := 0; i < 7; i++ {
		require.NoError(t, m.ConditionalPut(ctx, item("USER#a", fmt.Sprintf("FOLLOWER#%02d", i)), store.Always))
	}
	input := store.QueryInput{PK: "USER#a", SKPrefix: "FOLLOWER#", Limit: 3, ScanForward: true}

	all, truncated, err := store.QueryAll(ctx, m, input, 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.False(t, truncated)

	capped, truncated, err := store.QueryAll(ctx, m, input, 5)
	require.NoError(t, err)
	assert.Len(t, capped, 5)
	assert.True(t, truncated)
	assert.Equal(t, "FOLLOWER#04", capped[4].Key().SK)

	exact, truncated, err := store.QueryAll(ctx, m, input, 7)
	require.NoError(t, err)
	assert.Len(t, exact, 7)
	assert.False(t, truncated)
}

func TestOpString(t *testing.T) {
	key := store.Key{PK: "USER#a", SK: "PROFILE"}
	assert.Equal(t, "add followersCount +1 to USER#a|PROFILE (IfExists)", store.Add(key, "followersCount", 1, store.IfExists).String())
	assert.Equal(t, "delete USER#a|PROFILE (Always)", store.Delete(key, store.Always).String())
	assert.Equal(t, "put USER#a|PROFILE (IfNotExists)", store.Put(item(key.PK, key.SK), store.IfNotExists).String())
}
