package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/shopspring/decimal"
)

// UserOrdersIndex is the orders table GSI keyed by user_id and created_at.
const UserOrdersIndex = "user_id-created_at-index"

// createdAtLayout is fixed width so created_at sorts lexically in the GSI.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps inventory and orders in two DynamoDB tables and commits
// both in a single TransactWriteItems call.
type DynamoStore struct {
	client         DynamoAPI
	inventoryTable string
	ordersTable    string
}

// dynamoInventory represents the DynamoDB item structure for inventory
type dynamoInventory struct {
	ProductID  string `dynamodbav:"product_id"`
	StockCount int    `dynamodbav:"stock_count"`
	Version    int    `dynamodbav:"version"`
}

// dynamoOrder represents the DynamoDB item structure for orders.
// Money is stored as decimal strings.
type dynamoOrder struct {
	OrderID          string `dynamodbav:"order_id"`
	UserID           string `dynamodbav:"user_id"`
	Items            string `dynamodbav:"items"`
	TotalAmount      string `dynamodbav:"total_amount"`
	ShippingAddress  string `dynamodbav:"shipping_address"`
	PaymentMethod    string `dynamodbav:"payment_method"`
	PaymentReference string `dynamodbav:"payment_reference"`
	Status           string `dynamodbav:"status"`
	CreatedAt        string `dynamodbav:"created_at"`
}

func NewDynamoStore(client DynamoAPI, inventoryTable, ordersTable string) *DynamoStore {
	return &DynamoStore{
		client:         client,
		inventoryTable: inventoryTable,
		ordersTable:    ordersTable,
	}
}

type dynamoTx struct {
	store  *DynamoStore
	reads  map[string]readMark
	writes map[string]int
	orders []order.Order
}

func (s *DynamoStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &dynamoTx{
		store:  s,
		reads:  make(map[string]readMark),
		writes: make(map[string]int),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	items, err := tx.transactItems()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return classifyDynamoError(err)
}

func (s *DynamoStore) inventoryKey(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

func (s *DynamoStore) getInventory(ctx context.Context, productID string) (inventory.Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.inventoryTable),
		Key:            s.inventoryKey(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return inventory.Record{}, classifyDynamoError(err)
	}
	if result.Item == nil {
		return inventory.Record{}, fmt.Errorf("inventory %s: %w", productID, ErrNotFound)
	}

	var item dynamoInventory
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return inventory.Record{}, fmt.Errorf("failed to unmarshal inventory: %w", err)
	}
	return inventory.Record{ProductID: item.ProductID, StockCount: item.StockCount, Version: item.Version}, nil
}

func (tx *dynamoTx) ReadInventory(ctx context.Context, productID string) (inventory.Record, error) {
	if stock, ok := tx.writes[productID]; ok {
		return inventory.Record{ProductID: productID, StockCount: stock, Version: tx.reads[productID].version}, nil
	}

	r, err := tx.store.getInventory(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		if _, seen := tx.reads[productID]; !seen {
			tx.reads[productID] = readMark{exists: false}
		}
		return inventory.Record{}, err
	}
	if err != nil {
		return inventory.Record{}, err
	}

	if _, seen := tx.reads[productID]; !seen {
		tx.reads[productID] = readMark{exists: true, version: r.Version}
	}
	return r, nil
}

func (tx *dynamoTx) WriteInventory(ctx context.Context, productID string, newStockCount int) error {
	mark, ok := tx.reads[productID]
	if !ok || !mark.exists {
		return fmt.Errorf("inventory %s: %w", productID, ErrNotRead)
	}
	if newStockCount < 0 {
		return fmt.Errorf("inventory %s: %w", productID, ErrNegativeStock)
	}
	tx.writes[productID] = newStockCount
	return nil
}

func (tx *dynamoTx) AppendOrder(ctx context.Context, o order.Order) error {
	tx.orders = append(tx.orders, o)
	return nil
}

// transactItems builds one action per read record and one put per order.
func (tx *dynamoTx) transactItems() ([]types.TransactWriteItem, error) {
	s := tx.store

	ids := make([]string, 0, len(tx.reads))
	for id := range tx.reads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]types.TransactWriteItem, 0, len(ids)+len(tx.orders))
	for _, id := range ids {
		mark := tx.reads[id]
		version := &types.AttributeValueMemberN{Value: strconv.Itoa(mark.version)}

		if stock, ok := tx.writes[id]; ok {
			items = append(items, types.TransactWriteItem{
				Update: &types.Update{
					TableName:           aws.String(s.inventoryTable),
					Key:                 s.inventoryKey(id),
					UpdateExpression:    aws.String("SET stock_count = :stock, version = version + :one"),
					ConditionExpression: aws.String("version = :version"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":stock":   &types.AttributeValueMemberN{Value: strconv.Itoa(stock)},
						":one":     &types.AttributeValueMemberN{Value: "1"},
						":version": version,
					},
				},
			})
			continue
		}

		check := &types.ConditionCheck{
			TableName: aws.String(s.inventoryTable),
			Key:       s.inventoryKey(id),
		}
		if mark.exists {
			check.ConditionExpression = aws.String("version = :version")
			check.ExpressionAttributeValues = map[string]types.AttributeValue{":version": version}
		} else {
			check.ConditionExpression = aws.String("attribute_not_exists(product_id)")
		}
		items = append(items, types.TransactWriteItem{ConditionCheck: check})
	}

	for _, o := range tx.orders {
		av, err := marshalDynamoOrder(o)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.ordersTable),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(order_id)"),
			},
		})
	}
	return items, nil
}

func marshalDynamoOrder(o order.Order) (map[string]types.AttributeValue, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, err
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return nil, err
	}

	av, err := attributevalue.MarshalMap(dynamoOrder{
		OrderID:          o.ID,
		UserID:           o.UserID,
		Items:            string(items),
		TotalAmount:      o.TotalAmount.String(),
		ShippingAddress:  string(shipping),
		PaymentMethod:    string(o.PaymentDetails.Method),
		PaymentReference: o.PaymentDetails.Reference,
		Status:           string(o.Status),
		CreatedAt:        o.CreatedAt.UTC().Format(createdAtLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return av, nil
}

func unmarshalDynamoOrder(item map[string]types.AttributeValue) (order.Order, error) {
	var do dynamoOrder
	if err := attributevalue.UnmarshalMap(item, &do); err != nil {
		return order.Order{}, fmt.Errorf("failed to unmarshal order: %w", err)
	}

	o := order.Order{
		ID:     do.OrderID,
		UserID: do.UserID,
		PaymentDetails: order.PaymentDetails{
			Method:    order.PaymentMethod(do.PaymentMethod),
			Reference: do.PaymentReference,
		},
		Status: order.Status(do.Status),
	}
	if err := json.Unmarshal([]byte(do.Items), &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("decode items of order %s: %w", do.OrderID, err)
	}
	if err := json.Unmarshal([]byte(do.ShippingAddress), &o.ShippingAddress); err != nil {
		return order.Order{}, fmt.Errorf("decode shipping address of order %s: %w", do.OrderID, err)
	}
	total, err := decimal.NewFromString(do.TotalAmount)
	if err != nil {
		return order.Order{}, fmt.Errorf("decode total of order %s: %w", do.OrderID, err)
	}
	o.TotalAmount = total
	createdAt, err := time.Parse(createdAtLayout, do.CreatedAt)
	if err != nil {
		return order.Order{}, fmt.Errorf("decode created_at of order %s: %w", do.OrderID, err)
	}
	o.CreatedAt = createdAt
	return o, nil
}

// PutInventory creates or overwrites a record. ADD starts a missing version at 1.
func (s *DynamoStore) PutInventory(ctx context.Context, productID string, stockCount int) error {
	if stockCount < 0 {
		return ErrNegativeStock
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.inventoryTable),
		Key:              s.inventoryKey(productID),
		UpdateExpression: aws.String("SET stock_count = :stock ADD version :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stock": &types.AttributeValueMemberN{Value: strconv.Itoa(stockCount)},
			":one":   &types.AttributeValueMemberN{Value: "1"},
		},
	})
	return classifyDynamoError(err)
}

func (s *DynamoStore) GetInventory(ctx context.Context, productID string) (inventory.Record, error) {
	r, err := s.getInventory(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		return inventory.Record{}, ErrNotFound
	}
	return r, err
}

func (s *DynamoStore) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ordersTable),
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return order.Order{}, classifyDynamoError(err)
	}
	if result.Item == nil {
		return order.Order{}, ErrNotFound
	}
	return unmarshalDynamoOrder(result.Item)
}

// ListOrdersByUser queries the user GSI newest first, following pagination.
func (s *DynamoStore) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.ordersTable),
		IndexName:              aws.String(UserOrdersIndex),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false), // Descending order by created_at
	})

	orders := make([]order.Order, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyDynamoError(err)
		}
		for _, item := range page.Items {
			o, err := unmarshalDynamoOrder(item)
			if err != nil {
				return nil, err
			}
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// classifyDynamoError maps SDK failures onto the store sentinels. A cancelled
// transaction is a conflict when any item failed its condition or collided
// with another transaction. Remaining service and transport failures are
// reported as unavailable.
func classifyDynamoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var inProgress *types.TransactionInProgressException
	if errors.As(err, &inProgress) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
