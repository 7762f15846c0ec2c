package opstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pawsuite/kennelsync/internal/core"
)

// DynamoStore implements core.OperationStore using DynamoDB. All operations
// of a namespace share one partition and sort on the numeric operation ID,
// so a Query returns them oldest first. A separate counter item provides
// atomic ID assignment via UpdateItem ADD.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	namespace string
	closed    bool
}

// NewDynamoStore creates a new DynamoDB-backed operation store.
func NewDynamoStore(region, tableName, endpoint, accessKeyID, secretAccessKey, namespace string) (*DynamoStore, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if namespace == "" {
		namespace = "kennelsync"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var optFns []func(*config.LoadOptions) error
	optFns = append(optFns, config.WithRegion(region))

	if accessKeyID != "" && secretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOptFns []func(*dynamodb.Options)
	if endpoint != "" {
		// Custom endpoint for LocalStack or DynamoDB Local.
		clientOptFns = append(clientOptFns, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	client := dynamodb.NewFromConfig(cfg, clientOptFns...)

	// Verify the table exists and is reachable.
	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	return &DynamoStore{client: client, tableName: tableName, namespace: namespace}, nil
}

func (s *DynamoStore) partition() string  { return s.namespace + "#ops" }
func (s *DynamoStore) counterKey() string { return s.namespace + "#seq" }

// nextID atomically increments and returns the namespace's ID counter.
func (s *DynamoStore) nextID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: s.counterKey()},
			"id": &types.AttributeValueMemberN{Value: "0"},
		},
		UpdateExpression: aws.String("ADD seq_value :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, err
	}

	attr, ok := out.Attributes["seq_value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter item returned no numeric seq_value")
	}
	return strconv.ParseInt(attr.Value, 10, 64)
}

// Enqueue persists a new operation and returns its assigned ID.
func (s *DynamoStore) Enqueue(ctx context.Context, in core.OperationInput) (int64, error) {
	if s.closed {
		return 0, core.NewPersistenceError("dynamodb", "enqueue", core.ErrStoreClosed)
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return 0, core.NewPersistenceError("dynamodb", "enqueue", err)
	}

	now := time.Now().UTC()
	item := map[string]types.AttributeValue{
		"pk":         &types.AttributeValueMemberS{Value: s.partition()},
		"id":         &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		"url":        &types.AttributeValueMemberS{Value: in.URL},
		"method":     &types.AttributeValueMemberS{Value: in.Method},
		"op_type":    &types.AttributeValueMemberS{Value: in.Type},
		"op_status":  &types.AttributeValueMemberS{Value: string(core.StatusPending)},
		"attempts":   &types.AttributeValueMemberN{Value: "0"},
		"created_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		"updated_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if len(in.Body) > 0 {
		item["body"] = &types.AttributeValueMemberB{Value: in.Body}
	}
	if len(in.Headers) > 0 {
		headers, err := json.Marshal(in.Headers)
		if err != nil {
			return 0, core.NewPersistenceError("dynamodb", "enqueue", err)
		}
		item["headers"] = &types.AttributeValueMemberS{Value: string(headers)}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return 0, core.NewPersistenceError("dynamodb", "enqueue", err)
	}
	return id, nil
}

// ListAll returns all operations oldest first.
func (s *DynamoStore) ListAll(ctx context.Context) ([]*core.QueuedOperation, error) {
	if s.closed {
		return nil, core.NewPersistenceError("dynamodb", "listAll", core.ErrStoreClosed)
	}
	return s.query(ctx, "")
}

// ListByType returns operations of one category, oldest first.
func (s *DynamoStore) ListByType(ctx context.Context, opType string) ([]*core.QueuedOperation, error) {
	if s.closed {
		return nil, core.NewPersistenceError("dynamodb", "listByType", core.ErrStoreClosed)
	}
	return s.query(ctx, opType)
}

func (s *DynamoStore) query(ctx context.Context, opType string) ([]*core.QueuedOperation, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: s.partition()},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if opType != "" {
		input.FilterExpression = aws.String("op_type = :t")
		input.ExpressionAttributeValues[":t"] = &types.AttributeValueMemberS{Value: opType}
	}

	var ops []*core.QueuedOperation
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, core.NewPersistenceError("dynamodb", "list", err)
		}
		for _, item := range page.Items {
			op, err := itemToOperation(item)
			if err != nil {
				continue
			}
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func itemToOperation(item map[string]types.AttributeValue) (*core.QueuedOperation, error) {
	op := &core.QueuedOperation{}

	idAttr, ok := item["id"].(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("item has no numeric id")
	}
	id, err := strconv.ParseInt(idAttr.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	op.ID = id

	if v, ok := item["url"].(*types.AttributeValueMemberS); ok {
		op.URL = v.Value
	}
	if v, ok := item["method"].(*types.AttributeValueMemberS); ok {
		op.Method = v.Value
	}
	if v, ok := item["op_type"].(*types.AttributeValueMemberS); ok {
		op.Type = v.Value
	}
	if v, ok := item["op_status"].(*types.AttributeValueMemberS); ok {
		op.Status = core.OperationStatus(v.Value)
	}
	if v, ok := item["attempts"].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			op.Attempts = n
		}
	}
	if v, ok := item["body"].(*types.AttributeValueMemberB); ok {
		op.Body = v.Value
	}
	if v, ok := item["headers"].(*types.AttributeValueMemberS); ok {
		_ = json.Unmarshal([]byte(v.Value), &op.Headers)
	}
	if v, ok := item["created_at"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
			op.Timestamp = t
		}
	}
	if v, ok := item["updated_at"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
			op.UpdatedAt = t
		}
	}
	return op, nil
}

// Remove deletes an operation. Unknown IDs are a no-op.
func (s *DynamoStore) Remove(ctx context.Context, id int64) error {
	if s.closed {
		return core.NewPersistenceError("dynamodb", "remove", core.ErrStoreClosed)
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: s.partition()},
			"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
	})
	if err != nil {
		return core.NewPersistenceError("dynamodb", "remove", err)
	}
	return nil
}

// UpdateStatus transitions an operation's status. A transition to
// StatusFailed increments the attempt counter.
func (s *DynamoStore) UpdateStatus(ctx context.Context, id int64, status core.OperationStatus) error {
	if s.closed {
		return core.NewPersistenceError("dynamodb", "updateStatus", core.ErrStoreClosed)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	update := "SET op_status = :s, updated_at = :u"
	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: string(status)},
		":u": &types.AttributeValueMemberS{Value: now},
	}
	if status == core.StatusFailed {
		update += " ADD attempts :one"
		values[":one"] = &types.AttributeValueMemberN{Value: "1"}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: s.partition()},
			"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return core.ErrNotFound
		}
		return core.NewPersistenceError("dynamodb", "updateStatus", err)
	}
	return nil
}

// Count returns the number of stored operations.
func (s *DynamoStore) Count(ctx context.Context) (int, error) {
	if s.closed {
		return 0, core.NewPersistenceError("dynamodb", "count", core.ErrStoreClosed)
	}

	total := 0
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: s.partition()},
		},
		Select: types.SelectCount,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, core.NewPersistenceError("dynamodb", "count", err)
		}
		total += int(page.Count)
	}
	return total, nil
}

// Clear removes all operations and resets the ID counter.
func (s *DynamoStore) Clear(ctx context.Context) error {
	if s.closed {
		return core.NewPersistenceError("dynamodb", "clear", core.ErrStoreClosed)
	}

	ops, err := s.query(ctx, "")
	if err != nil {
		return core.NewPersistenceError("dynamodb", "clear", err)
	}
	for _, op := range ops {
		if err := s.Remove(ctx, op.ID); err != nil {
			return err
		}
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: s.counterKey()},
			"id": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return core.NewPersistenceError("dynamodb", "clear", err)
	}
	return nil
}

// Close marks the store closed. The SDK client holds no long-lived
// connections that need teardown.
func (s *DynamoStore) Close() error {
	s.closed = true
	return nil
}

// DynamoStoreFactory implements the Factory interface for DynamoDB.
type DynamoStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoStoreFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoStoreFactory) Validate(config Config) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

// Create creates a new DynamoDB operation store from the configuration.
func (f *DynamoStoreFactory) Create(config Config) (core.OperationStore, error) {
	store, err := NewDynamoStore(
		config.Region,
		config.TableName,
		config.Endpoint,
		config.AccessKeyID,
		config.SecretAccessKey,
		config.Namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB operation store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&DynamoStoreFactory{})
}
