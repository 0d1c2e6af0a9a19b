package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/flock/store"
)

// fakeDynamo records requests and replays canned responses.
type fakeDynamo struct {
	getOut   *dynamodb.GetItemOutput
	pages    []*dynamodb.QueryOutput
	err      error
	txErr    error
	gets     []*dynamodb.GetItemInput
	puts     []*dynamodb.PutItemInput
	deletes  []*dynamodb.DeleteItemInput
	queries  []*dynamodb.QueryInput
	transact []*dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.gets = append(f.gets, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, f.err
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	return &dynamodb.DeleteItemOutput{}, f.err
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queries = append(f.queries, &cp)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transact = append(f.transact, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func newDynamo(f *fakeDynamo) *store.Dynamo {
	return store.NewDynamo(f, store.Config{TableName: "flock-test", MaxBatchSize: 25})
}

func TestDynamo_Get(t *testing.T) {
	f := &fakeDynamo{}
	d := newDynamo(f)
	key := store.Key{PK: "USER#a", SK: "PROFILE"}

	_, err := d.Get(context.Background(), key)
	assert.ErrorIs(t, err, store.ErrNotFound)

	f.getOut = &dynamodb.GetItemOutput{Item: item(key.PK, key.SK, "username", "ann")}
	got, err := d.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "ann", got.StringAttr("username"))

	require.Len(t, f.gets, 2)
	assert.Equal(t, "flock-test", aws.ToString(f.gets[0].TableName))
	assert.Equal(t, key.AttributeValues(), f.gets[0].Key)
}

func TestDynamo_GetTransient(t *testing.T) {
	f := &fakeDynamo{err: errors.New("throttled")}
	_, err := newDynamo(f).Get(context.Background(), store.Key{PK: "P", SK: "S"})
	assert.ErrorIs(t, err, store.ErrTransient)
}

func TestDynamo_ConditionalPut(t *testing.T) {
	f := &fakeDynamo{}
	d := newDynamo(f)

	require.NoError(t, d.ConditionalPut(context.Background(), item("USER#a", "PROFILE"), store.IfNotExists))
	require.Len(t, f.puts, 1)
	assert.Contains(t, aws.ToString(f.puts[0].ConditionExpression), "attribute_not_exists")
	assert.Equal(t, map[string]string{"#0": "PK"}, f.puts[0].ExpressionAttributeNames)

	require.NoError(t, d.ConditionalPut(context.Background(), item("USER#a", "PROFILE"), store.Always))
	assert.Nil(t, f.puts[1].ConditionExpression)

	f.err = &types.ConditionalCheckFailedException{}
	err := d.ConditionalPut(context.Background(), item("USER#a", "PROFILE"), store.IfNotExists)
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	assert.NotErrorIs(t, err, store.ErrTransient)
}

func TestDynamo_ConditionalDelete(t *testing.T) {
	f := &fakeDynamo{}
	d := newDynamo(f)

	require.NoError(t, d.ConditionalDelete(context.Background(), store.Key{PK: "P", SK: "S"}, store.IfExists))
	require.Len(t, f.deletes, 1)
	assert.Contains(t, aws.ToString(f.deletes[0].ConditionExpression), "attribute_exists")
}

func TestDynamo_QueryPages(t *testing.T) {
	f := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{item("FEED#a", "POST#3"), item("FEED#a", "POST#2")},
			LastEvaluatedKey: item("FEED#a", "POST#2"),
		},
		{
			Items: []map[string]types.AttributeValue{item("FEED#a", "POST#1")},
		},
	}}
	d := newDynamo(f)

	out, err := d.Query(context.Background(), store.QueryInput{PK: "FEED#a", SKPrefix: "POST#"})
	require.NoError(t, err)
	assert.Len(t, out.Items, 3)
	assert.Nil(t, out.LastKey)

	require.Len(t, f.queries, 2)
	first := f.queries[0]
	assert.Contains(t, aws.ToString(first.KeyConditionExpression), "begins_with")
	assert.False(t, aws.ToBool(first.ScanIndexForward))
	assert.Nil(t, first.Limit)
	assert.Equal(t, item("FEED#a", "POST#2"), store.Item(f.queries[1].ExclusiveStartKey))
}

func TestDynamo_QueryLimit(t *testing.T) {
	f := &fakeDynamo{pages: []*dynamodb.QueryOutput{{
		Items:            []map[string]types.AttributeValue{item("USER#a", "FOLLOWER#b"), item("USER#a", "FOLLOWER#c")},
		LastEvaluatedKey: item("USER#a", "FOLLOWER#c"),
	}}}
	d := newDynamo(f)

	out, err := d.Query(context.Background(), store.QueryInput{PK: "USER#a", SKPrefix: "FOLLOWER#", Limit: 2, ScanForward: true})
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
	require.NotNil(t, out.LastKey)
	assert.Equal(t, "FOLLOWER#c", out.LastKey.SK)
	assert.Equal(t, int32(2), aws.ToInt32(f.queries[0].Limit))
}

func TestDynamo_QueryFilterDoesNotPushLimit(t *testing.T) {
	f := &fakeDynamo{}
	d := newDynamo(f)

	_, err := d.Query(context.Background(), store.QueryInput{
		PK:     "FEED#a",
		Filter: map[string]string{"authorId": "x"},
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, f.queries, 1)
	assert.Nil(t, f.queries[0].Limit)
	assert.NotEmpty(t, aws.ToString(f.queries[0].FilterExpression))
}

func TestDynamo_Transact(t *testing.T) {
	f := &fakeDynamo{}
	d := newDynamo(f)
	profile := store.Key{PK: "USER#a", SK: "PROFILE"}

	err := d.Transact(context.Background(), []store.Op{
		store.Put(item("USER#a", "FOLLOWS#b"), store.IfNotExists),
		store.Delete(store.Key{PK: "USER#b", SK: "FOLLOWER#a"}, store.Always),
		store.Add(profile, "followingCount", 1, store.IfExists),
	})
	require.NoError(t, err)
	require.Len(t, f.transact, 1)

	items := f.transact[0].TransactItems
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Put)
	assert.Contains(t, aws.ToString(items[0].Put.ConditionExpression), "attribute_not_exists")
	require.NotNil(t, items[1].Delete)
	assert.Nil(t, items[1].Delete.ConditionExpression)
	require.NotNil(t, items[2].Update)
	assert.Equal(t, profile.AttributeValues(), items[2].Update.Key)
	assert.Contains(t, aws.ToString(items[2].Update.UpdateExpression), "ADD")
	assert.Contains(t, aws.ToString(items[2].Update.ConditionExpression), "attribute_exists")
}

func TestDynamo_TransactSizeLimit(t *testing.T) {
	f := &fakeDynamo{}
	d := store.NewDynamo(f, store.Config{MaxBatchSize: 1})
	err := d.Transact(context.Background(), []store.Op{
		store.Put(item("P", "1"), store.Always),
		store.Put(item("P", "2"), store.Always),
	})
	assert.ErrorIs(t, err, store.ErrTransactionSizeExceeded)
	assert.Empty(t, f.transact)
}

func TestDynamo_TransactCancellation(t *testing.T) {
	ops := []store.Op{
		store.Put(item("USER#a", "FOLLOWS#b"), store.IfNotExists),
		store.Put(item("USER#b", "FOLLOWER#a"), store.Always),
	}

	t.Run("condition failure maps to op index", func(t *testing.T) {
		f := &fakeDynamo{txErr: &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("ConditionalCheckFailed")},
				{Code: aws.String("None")},
			},
		}}
		err := newDynamo(f).Transact(context.Background(), ops)
		assert.ErrorIs(t, err, store.ErrConditionFailed)
		assert.Equal(t, 0, store.FailedOpIndex(err))
		assert.NotErrorIs(t, err, store.ErrTransient)
	})

	t.Run("conflict is transient", func(t *testing.T) {
		f := &fakeDynamo{txErr: &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("TransactionConflict")},
				{Code: aws.String("None")},
			},
		}}
		err := newDynamo(f).Transact(context.Background(), ops)
		assert.ErrorIs(t, err, store.ErrTransient)
		assert.Equal(t, -1, store.FailedOpIndex(err))
	})

	t.Run("other errors are transient", func(t *testing.T) {
		f := &fakeDynamo{txErr: errors.New("connection reset")}
		err := newDynamo(f).Transact(context.Background(), ops)
		assert.ErrorIs(t, err, store.ErrTransient)
	})
}

func TestTransactionCanceledError(t *testing.T) {
	err := &store.TransactionCanceledError{Reasons: []string{"None", "None", "ConditionalCheckFailed"}}
	assert.Equal(t, 2, err.FailedIndex())
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	assert.Contains(t, err.Error(), "ConditionalCheckFailed")

	none := &store.TransactionCanceledError{Reasons: []string{"None", "ThrottlingError"}}
	assert.Equal(t, -1, none.FailedIndex())
	assert.NotErrorIs(t, none, store.ErrConditionFailed)

	assert.Equal(t, -1, store.FailedOpIndex(nil))
	assert.Equal(t, -1, store.FailedOpIndex(errors.New("boom")))
}

func TestQueryAll_ExactLimitIsNotTruncated(t *testing.T) {
	// DynamoDB reports a LastEvaluatedKey when a page fills its Limit even
	// if nothing follows.
	f := &fakeDynamo{pages: []*dynamodb.QueryOutput{{
		Items:            []map[string]types.AttributeValue{item("USER#a", "FOLLOWER#b"), item("USER#a", "FOLLOWER#c")},
		LastEvaluatedKey: item("USER#a", "FOLLOWER#c"),
	}}}
	d := newDynamo(f)
	input := store.QueryInput{PK: "USER#a", SKPrefix: "FOLLOWER#", Limit: 2, ScanForward: true}

	items, truncated, err := store.QueryAll(context.Background(), d, input, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.False(t, truncated)

	require.Len(t, f.queries, 2)
	assert.Equal(t, int32(1), aws.ToInt32(f.queries[1].Limit))
	assert.Equal(t, item("USER#a", "FOLLOWER#c"), store.Item(f.queries[1].ExclusiveStartKey))
}

func TestQueryAll_OneBeyondLimitIsTruncated(t *testing.T) {
	f := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{item("USER#a", "FOLLOWER#b"), item("USER#a", "FOLLOWER#c")},
			LastEvaluatedKey: item("USER#a", "FOLLOWER#c"),
		},
		{
			Items:            []map[string]types.AttributeValue{item("USER#a", "FOLLOWER#d")},
			LastEvaluatedKey: item("USER#a", "FOLLOWER#d"),
		},
	}}
	d := newDynamo(f)
	input := store.QueryInput{PK: "USER#a", SKPrefix: "FOLLOWER#", Limit: 2, ScanForward: true}

	items, truncated, err := store.QueryAll(context.Background(), d, input, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.True(t, truncated)
	assert.Equal(t, "FOLLOWER#c", items[1].Key().SK)
}
