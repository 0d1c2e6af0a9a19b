package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by Dynamo.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Dynamo is a Store backed by a single DynamoDB table.
// Retries on throttling and 5xx are left to the client's retryer.
type Dynamo struct {
	client DynamoAPI
	config Config
}

// NewDynamo creates a new DynamoDB-backed store.
func NewDynamo(client DynamoAPI, config Config) *Dynamo {
	config.validate()
	return &Dynamo{
		client: client,
		config: config,
	}
}

// MaxBatchSize returns the maximum ops per transaction.
func (d *Dynamo) MaxBatchSize() int {
	return d.config.MaxBatchSize
}

// Get retrieves an item by key, returning ErrNotFound if missing.
func (d *Dynamo) Get(ctx context.Context, key Key) (Item, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.config.TableName),
		Key:       key.AttributeValues(),
	})
	if err != nil {
		return nil, d.wrap("get", key, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return Item(result.Item), nil
}

// Query reads one partition, paging internally until Limit items are collected.
func (d *Dynamo) Query(ctx context.Context, input QueryInput) (*QueryOutput, error) {
	keyCond := expression.Key(AttrPK).Equal(expression.Value(input.PK))
	if input.SKPrefix != "" {
		keyCond = keyCond.And(expression.Key(AttrSK).BeginsWith(input.SKPrefix))
	}
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter, ok := filterCondition(input.Filter); ok {
		builder = builder.WithFilter(filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}

	queryInput := &dynamodb.QueryInput{
		TableName:                 aws.String(d.config.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(input.ScanForward),
	}
	if input.StartAfter != nil {
		queryInput.ExclusiveStartKey = input.StartAfter.AttributeValues()
	}
	// DynamoDB applies Limit before the filter, so only push it down when unfiltered.
	if input.Limit > 0 && len(input.Filter) == 0 {
		queryInput.Limit = aws.Int32(int32(input.Limit))
	}

	out := &QueryOutput{}
	for {
		page, err := d.client.Query(ctx, queryInput)
		if err != nil {
			return nil, d.wrap("query", Key{PK: input.PK, SK: input.SKPrefix}, err)
		}
		for _, raw := range page.Items {
			if input.Limit > 0 && len(out.Items) == input.Limit {
				last := out.Items[len(out.Items)-1].Key()
				out.LastKey = &last
				return out, nil
			}
			out.Items = append(out.Items, Item(raw))
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		if input.Limit > 0 && len(out.Items) == input.Limit {
			last := Item(page.LastEvaluatedKey).Key()
			out.LastKey = &last
			return out, nil
		}
		queryInput.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// ConditionalPut writes an item if the condition holds.
func (d *Dynamo) ConditionalPut(ctx context.Context, item Item, cond Condition) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.config.TableName),
		Item:      item,
	}
	if c, ok := existenceCondition(cond); ok {
		expr, err := expression.NewBuilder().WithCondition(c).Build()
		if err != nil {
			return fmt.Errorf("build put condition: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	_, err := d.client.PutItem(ctx, input)
	return d.wrap("put", item.Key(), err)
}

// ConditionalDelete removes an item if the condition holds.
func (d *Dynamo) ConditionalDelete(ctx context.Context, key Key, cond Condition) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(d.config.TableName),
		Key:       key.AttributeValues(),
	}
	if c, ok := existenceCondition(cond); ok {
		expr, err := expression.NewBuilder().WithCondition(c).Build()
		if err != nil {
			return fmt.Errorf("build delete condition: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	_, err := d.client.DeleteItem(ctx, input)
	return d.wrap("delete", key, err)
}

// Transact commits all ops atomically with TransactWriteItems.
func (d *Dynamo) Transact(ctx context.Context, ops []Op) error {
	if len(ops) > d.config.MaxBatchSize {
		return fmt.Errorf("%d ops, max %d: %w", len(ops), d.config.MaxBatchSize, ErrTransactionSizeExceeded)
	}
	if len(ops) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		item, err := d.transactItem(op)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return d.mapTransactionError(err, len(ops))
}

func (d *Dynamo) transactItem(op Op) (types.TransactWriteItem, error) {
	table := aws.String(d.config.TableName)

	switch op.Kind {
	case OpPut:
		put := &types.Put{TableName: table, Item: op.Item}
		if c, ok := existenceCondition(op.Cond); ok {
			expr, err := expression.NewBuilder().WithCondition(c).Build()
			if err != nil {
				return types.TransactWriteItem{}, fmt.Errorf("build condition for %s: %w", op, err)
			}
			put.ConditionExpression = expr.Condition()
			put.ExpressionAttributeNames = expr.Names()
			put.ExpressionAttributeValues = expr.Values()
		}
		return types.TransactWriteItem{Put: put}, nil

	case OpDelete:
		del := &types.Delete{TableName: table, Key: op.Key.AttributeValues()}
		if c, ok := existenceCondition(op.Cond); ok {
			expr, err := expression.NewBuilder().WithCondition(c).Build()
			if err != nil {
				return types.TransactWriteItem{}, fmt.Errorf("build condition for %s: %w", op, err)
			}
			del.ConditionExpression = expr.Condition()
			del.ExpressionAttributeNames = expr.Names()
			del.ExpressionAttributeValues = expr.Values()
		}
		return types.TransactWriteItem{Delete: del}, nil

	case OpAdd:
		builder := expression.NewBuilder().WithUpdate(
			expression.Add(expression.Name(op.Attr), expression.Value(op.Delta)),
		)
		if c, ok := existenceCondition(op.Cond); ok {
			builder = builder.WithCondition(c)
		}
		expr, err := builder.Build()
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("build update for %s: %w", op, err)
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       op.Key.AttributeValues(),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("unknown op kind %d", op.Kind)
}

// mapTransactionError converts a TransactionCanceledException into a
// TransactionCanceledError with one reason per submitted op.
func (d *Dynamo) mapTransactionError(err error, n int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		reasons := make([]string, n)
		conditional := false
		for i := range reasons {
			reasons[i] = ReasonNone
			if i < len(txErr.CancellationReasons) {
				if code := aws.ToString(txErr.CancellationReasons[i].Code); code != "" {
					reasons[i] = code
				}
			}
			if reasons[i] == ReasonConditionFailed {
				conditional = true
			}
		}
		if conditional {
			return &TransactionCanceledError{Reasons: reasons}
		}
		// Conflicts with concurrent transactions and throttling are transient.
		return fmt.Errorf("%w: %w", ErrTransient, &TransactionCanceledError{Reasons: reasons})
	}
	return fmt.Errorf("%w: transact: %w", ErrTransient, err)
}

func (d *Dynamo) wrap(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%s %s: %w", op, key, ErrConditionFailed)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrTransient, op, key, err)
}

func existenceCondition(cond Condition) (expression.ConditionBuilder, bool) {
	switch cond {
	case IfNotExists:
		return expression.AttributeNotExists(expression.Name(AttrPK)), true
	case IfExists:
		return expression.AttributeExists(expression.Name(AttrPK)), true
	default:
		return expression.ConditionBuilder{}, false
	}
}

func filterCondition(filter map[string]string) (expression.ConditionBuilder, bool) {
	var cond expression.ConditionBuilder
	first := true
	for name, value := range filter {
		c := expression.Name(name).Equal(expression.Value(value))
		if first {
			cond = c
			first = false
		} else {
			cond = cond.And(c)
		}
	}
	return cond, !first
}

// numberValue renders an int64 as a DynamoDB number.
func numberValue(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
