package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo understands exactly the expressions DynamoStore issues.
type fakeDynamo struct {
	mu        sync.Mutex
	inventory map[string]dynamoInventory
	orders    map[string]map[string]types.AttributeValue

	TransactCalls []*dynamodb.TransactWriteItemsInput
	TransactErr   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		inventory: make(map[string]dynamoInventory),
		orders:    make(map[string]map[string]types.AttributeValue),
	}
}

func keyOf(key map[string]types.AttributeValue, name string) string {
	return key[name].(*types.AttributeValueMemberS).Value
}

func numberOf(values map[string]types.AttributeValue, name string) int {
	n, _ := strconv.Atoi(values[name].(*types.AttributeValueMemberN).Value)
	return n
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if aws.ToString(params.TableName) == "orders" {
		return &dynamodb.GetItemOutput{Item: f.orders[keyOf(params.Key, "order_id")]}, nil
	}
	rec, ok := f.inventory[keyOf(params.Key, "product_id")]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	av, err := attributevalue.MarshalMap(rec)
	return &dynamodb.GetItemOutput{Item: av}, err
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := keyOf(params.Key, "product_id")
	rec := f.inventory[id]
	rec.ProductID = id
	rec.StockCount = numberOf(params.ExpressionAttributeValues, ":stock")
	rec.Version += numberOf(params.ExpressionAttributeValues, ":one")
	f.inventory[id] = rec
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	userID := params.ExpressionAttributeValues[":uid"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range f.orders {
		if item["user_id"].(*types.AttributeValueMemberS).Value == userID {
			items = append(items, item)
		}
	}
	created := func(i int) string { return items[i]["created_at"].(*types.AttributeValueMemberS).Value }
	sort.Slice(items, func(i, j int) bool { return created(i) > created(j) })
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.TransactCalls = append(f.TransactCalls, params)
	if f.TransactErr != nil {
		return nil, f.TransactErr
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, item := range params.TransactItems {
		reasons[i].Code = aws.String("None")
		if !f.conditionHolds(item) {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, item := range params.TransactItems {
		switch {
		case item.Update != nil:
			id := keyOf(item.Update.Key, "product_id")
			rec := f.inventory[id]
			rec.StockCount = numberOf(item.Update.ExpressionAttributeValues, ":stock")
			rec.Version++
			f.inventory[id] = rec
		case item.Put != nil:
			f.orders[keyOf(item.Put.Item, "order_id")] = item.Put.Item
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) conditionHolds(item types.TransactWriteItem) bool {
	switch {
	case item.Update != nil:
		rec, ok := f.inventory[keyOf(item.Update.Key, "product_id")]
		return ok && rec.Version == numberOf(item.Update.ExpressionAttributeValues, ":version")
	case item.ConditionCheck != nil:
		rec, ok := f.inventory[keyOf(item.ConditionCheck.Key, "product_id")]
		if aws.ToString(item.ConditionCheck.ConditionExpression) == "attribute_not_exists(product_id)" {
			return !ok
		}
		return ok && rec.Version == numberOf(item.ConditionCheck.ExpressionAttributeValues, ":version")
	case item.Put != nil:
		_, exists := f.orders[keyOf(item.Put.Item, "order_id")]
		return !exists
	}
	return false
}

func newTestDynamoStore() (*DynamoStore, *fakeDynamo) {
	fake := newFakeDynamo()
	return NewDynamoStore(fake, "inventory", "orders"), fake
}

// ============================================
// Contract Tests
// ============================================

func TestDynamoStore_Conformance(t *testing.T) {
	s, _ := newTestDynamoStore()
	runConformance(t, s)
}

// ============================================
// TransactWriteItems Shape Tests
// ============================================

func TestDynamoStore_TransactItems(t *testing.T) {
	s, fake := newTestDynamoStore()
	ctx := context.Background()
	require.NoError(t, s.PutInventory(ctx, "prod-a", 5))
	require.NoError(t, s.PutInventory(ctx, "prod-b", 5))

	o := testOrder("user-1", testTime)
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ReadInventory(ctx, "prod-b"); err != nil {
			return err
		}
		rec, err := tx.ReadInventory(ctx, "prod-a")
		if err != nil {
			return err
		}
		if err := tx.WriteInventory(ctx, "prod-a", rec.StockCount-2); err != nil {
			return err
		}
		return tx.AppendOrder(ctx, o)
	})
	require.NoError(t, err)

	require.Len(t, fake.TransactCalls, 1)
	items := fake.TransactCalls[0].TransactItems
	require.Len(t, items, 3)

	require.NotNil(t, items[0].Update)
	assert.Equal(t, "version = :version", aws.ToString(items[0].Update.ConditionExpression))
	require.NotNil(t, items[1].ConditionCheck)
	assert.Equal(t, "prod-b", keyOf(items[1].ConditionCheck.Key, "product_id"))
	require.NotNil(t, items[2].Put)
	assert.Equal(t, "attribute_not_exists(order_id)", aws.ToString(items[2].Put.ConditionExpression))

	stored, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalAmount.String(), stored.TotalAmount.String())
	assert.Equal(t, o.ShippingAddress, stored.ShippingAddress)
}

func TestDynamoStore_NoActionsSkipsCall(t *testing.T) {
	s, fake := newTestDynamoStore()

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error { return nil })

	require.NoError(t, err)
	assert.Empty(t, fake.TransactCalls)
}

// ============================================
// Error Classification Tests
// ============================================

func TestClassifyDynamoError(t *testing.T) {
	cancelled := func(codes ...string) error {
		reasons := make([]types.CancellationReason, len(codes))
		for i, c := range codes {
			reasons[i].Code = aws.String(c)
		}
		return &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"condition failed", cancelled("None", "ConditionalCheckFailed"), ErrConflict},
		{"transaction conflict", cancelled("TransactionConflict"), ErrConflict},
		{"throttled cancellation", cancelled("ThrottlingError"), ErrUnavailable},
		{"conflict exception", &types.TransactionConflictException{}, ErrConflict},
		{"throughput exceeded", &types.ProvisionedThroughputExceededException{}, ErrUnavailable},
		{"transport failure", fmt.Errorf("dial tcp: connection refused"), ErrUnavailable},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyDynamoError(tt.err), tt.expected)
		})
	}
}

func TestDynamoStore_CommitFailureIsUnavailable(t *testing.T) {
	s, fake := newTestDynamoStore()
	ctx := context.Background()
	require.NoError(t, s.PutInventory(ctx, "prod-a", 5))
	fake.TransactErr = errors.New("connection reset by peer")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.ReadInventory(ctx, "prod-a")
		if err != nil {
			return err
		}
		return tx.WriteInventory(ctx, "prod-a", rec.StockCount-1)
	})

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUnmarshalDynamoOrder(t *testing.T) {
	item, err := marshalDynamoOrder(testOrder("user-1", testTime))
	require.NoError(t, err)

	tests := []struct {
		name    string
		field   string
		value   string
		wantErr bool
	}{
		{name: "round trip", wantErr: false},
		{name: "malformed created_at", field: "created_at", value: "yesterday", wantErr: true},
		{name: "empty created_at", field: "created_at", value: "", wantErr: true},
		{name: "malformed total", field: "total_amount", value: "ten", wantErr: true},
		{name: "malformed items", field: "items", value: "{", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			av := make(map[string]types.AttributeValue, len(item))
			for k, v := range item {
				av[k] = v
			}
			if tt.field != "" {
				av[tt.field] = &types.AttributeValueMemberS{Value: tt.value}
			}

			got, err := unmarshalDynamoOrder(av)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, got.ID)
				return
			}
			require.NoError(t, err)
			assert.True(t, testTime.Equal(got.CreatedAt))
		})
	}
}
