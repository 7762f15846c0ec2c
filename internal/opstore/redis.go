package opstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawsuite/kennelsync/internal/core"
)

// RedisStore implements core.OperationStore using Redis. Operations are
// stored as JSON values with an INCR-assigned ID; a Redis list keeps the
// insertion order and per-type lists serve the type index.
type RedisStore struct {
	client    *redis.Client
	namespace string
	closed    bool
}

// NewRedisStore creates a new Redis-backed operation store.
func NewRedisStore(endpoints []string, password string, db int, poolSize int, minIdleConns int, dialTimeout, readTimeout, writeTimeout time.Duration, namespace string) (*RedisStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	if namespace == "" {
		namespace = "kennelsync"
	}

	// Single-node Redis only; the offline queue of one tenant does not need
	// cluster mode.
	opts := &redis.Options{
		Addr:         endpoints[0],
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, namespace: namespace}, nil
}

func (s *RedisStore) seqKey() string          { return s.namespace + ":ops:seq" }
func (s *RedisStore) orderKey() string        { return s.namespace + ":ops:order" }
func (s *RedisStore) typesKey() string        { return s.namespace + ":ops:types" }
func (s *RedisStore) opKey(id int64) string   { return fmt.Sprintf("%s:ops:%d", s.namespace, id) }
func (s *RedisStore) typeKey(t string) string { return s.namespace + ":ops:type:" + t }

// Enqueue persists a new operation and returns its INCR-assigned ID.
func (s *RedisStore) Enqueue(ctx context.Context, in core.OperationInput) (int64, error) {
	if s.closed {
		return 0, core.NewPersistenceError("redis", "enqueue", core.ErrStoreClosed)
	}

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, core.NewPersistenceError("redis", "enqueue", err)
	}

	now := time.Now().UTC()
	op := &core.QueuedOperation{
		ID:        id,
		URL:       in.URL,
		Method:    in.Method,
		Headers:   in.Headers,
		Body:      in.Body,
		Type:      in.Type,
		Status:    core.StatusPending,
		Timestamp: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(op)
	if err != nil {
		return 0, core.NewPersistenceError("redis", "enqueue", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.opKey(id), data, 0)
	pipe.RPush(ctx, s.orderKey(), id)
	pipe.RPush(ctx, s.typeKey(in.Type), id)
	pipe.SAdd(ctx, s.typesKey(), in.Type)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, core.NewPersistenceError("redis", "enqueue", err)
	}

	log.Printf("[OPSTORE] Enqueued operation #%d (%s %s, type=%s)", id, in.Method, in.URL, in.Type)
	return id, nil
}

// ListAll returns all operations oldest first.
func (s *RedisStore) ListAll(ctx context.Context) ([]*core.QueuedOperation, error) {
	if s.closed {
		return nil, core.NewPersistenceError("redis", "listAll", core.ErrStoreClosed)
	}
	return s.listFrom(ctx, s.orderKey())
}

// ListByType returns operations of one category, oldest first.
func (s *RedisStore) ListByType(ctx context.Context, opType string) ([]*core.QueuedOperation, error) {
	if s.closed {
		return nil, core.NewPersistenceError("redis", "listByType", core.ErrStoreClosed)
	}
	return s.listFrom(ctx, s.typeKey(opType))
}

func (s *RedisStore) listFrom(ctx context.Context, indexKey string) ([]*core.QueuedOperation, error) {
	ids, err := s.client.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, core.NewPersistenceError("redis", "list", err)
	}

	ops := make([]*core.QueuedOperation, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		data, err := s.client.Get(ctx, s.opKey(id)).Bytes()
		if err == redis.Nil {
			// Removed concurrently; the stale index entry is harmless.
			continue
		}
		if err != nil {
			return nil, core.NewPersistenceError("redis", "list", err)
		}
		var op core.QueuedOperation
		if err := json.Unmarshal(data, &op); err != nil {
			continue
		}
		ops = append(ops, &op)
	}
	return ops, nil
}

// Remove deletes an operation. Unknown IDs are a no-op.
func (s *RedisStore) Remove(ctx context.Context, id int64) error {
	if s.closed {
		return core.NewPersistenceError("redis", "remove", core.ErrStoreClosed)
	}

	data, err := s.client.Get(ctx, s.opKey(id)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return core.NewPersistenceError("redis", "remove", err)
	}
	var op core.QueuedOperation
	opType := ""
	if err := json.Unmarshal(data, &op); err == nil {
		opType = op.Type
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.opKey(id))
	pipe.LRem(ctx, s.orderKey(), 1, id)
	if opType != "" {
		pipe.LRem(ctx, s.typeKey(opType), 1, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewPersistenceError("redis", "remove", err)
	}
	return nil
}

// UpdateStatus transitions an operation's status. A transition to
// StatusFailed increments the attempt counter.
func (s *RedisStore) UpdateStatus(ctx context.Context, id int64, status core.OperationStatus) error {
	if s.closed {
		return core.NewPersistenceError("redis", "updateStatus", core.ErrStoreClosed)
	}

	data, err := s.client.Get(ctx, s.opKey(id)).Bytes()
	if err == redis.Nil {
		return core.ErrNotFound
	}
	if err != nil {
		return core.NewPersistenceError("redis", "updateStatus", err)
	}

	var op core.QueuedOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return core.NewPersistenceError("redis", "updateStatus", err)
	}
	op.Status = status
	op.UpdatedAt = time.Now().UTC()
	if status == core.StatusFailed {
		op.Attempts++
	}

	updated, err := json.Marshal(&op)
	if err != nil {
		return core.NewPersistenceError("redis", "updateStatus", err)
	}
	if err := s.client.Set(ctx, s.opKey(id), updated, 0).Err(); err != nil {
		return core.NewPersistenceError("redis", "updateStatus", err)
	}
	return nil
}

// Count returns the number of stored operations via LLEN, which is O(1).
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	if s.closed {
		return 0, core.NewPersistenceError("redis", "count", core.ErrStoreClosed)
	}
	n, err := s.client.LLen(ctx, s.orderKey()).Result()
	if err != nil {
		return 0, core.NewPersistenceError("redis", "count", err)
	}
	return int(n), nil
}

// Clear removes all operations and indexes.
func (s *RedisStore) Clear(ctx context.Context) error {
	if s.closed {
		return core.NewPersistenceError("redis", "clear", core.ErrStoreClosed)
	}

	ids, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return core.NewPersistenceError("redis", "clear", err)
	}
	types, err := s.client.SMembers(ctx, s.typesKey()).Result()
	if err != nil {
		return core.NewPersistenceError("redis", "clear", err)
	}

	pipe := s.client.TxPipeline()
	for _, idStr := range ids {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			pipe.Del(ctx, s.opKey(id))
		}
	}
	for _, t := range types {
		pipe.Del(ctx, s.typeKey(t))
	}
	pipe.Del(ctx, s.orderKey(), s.typesKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewPersistenceError("redis", "clear", err)
	}
	return nil
}

// Close closes the connection to Redis.
func (s *RedisStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Client returns the underlying Redis client for advanced operations.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// RedisStoreFactory implements the Factory interface for Redis.
type RedisStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisStoreFactory) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration.
func (f *RedisStoreFactory) Validate(config Config) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if config.DB < 0 || config.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", config.DB)
	}
	if config.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", config.PoolSize)
	}
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %d", config.DialTimeout)
	}
	return nil
}

// Create creates a new Redis operation store from the configuration.
func (f *RedisStoreFactory) Create(config Config) (core.OperationStore, error) {
	store, err := NewRedisStore(
		config.Endpoints,
		config.Password,
		config.DB,
		config.PoolSize,
		config.MinIdleConns,
		config.DialTimeout,
		config.ReadTimeout,
		config.WriteTimeout,
		config.Namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis operation store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&RedisStoreFactory{})
}
