package intentRepository

import (
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/redis"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const recordKeyPrefix = "idempotency:"

// IRecordStore holds idempotency records. Callers serialize access per key,
// so implementations only need to be safe for concurrent use across keys.
type IRecordStore interface {
	Get(ctx context.Context, key string) (entity.IdempotencyRecord, bool, error)
	Put(ctx context.Context, record entity.IdempotencyRecord) error
}

type memoryRecordStore struct {
	mu    sync.Mutex
	items map[string]entity.IdempotencyRecord
}

func NewMemoryRecordStore() IRecordStore {
	return &memoryRecordStore{
		items: make(map[string]entity.IdempotencyRecord),
	}
}

func (s *memoryRecordStore) Get(_ context.Context, key string) (entity.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *memoryRecordStore) Put(_ context.Context, record entity.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[record.Key] = record
	return nil
}

type redisRecordStore struct {
	client redis.IRedis
	ttl    time.Duration
}

// NewRedisRecordStore keeps records in Redis so they survive restarts. A
// zero ttl keeps records forever.
func NewRedisRecordStore(client redis.IRedis, ttl time.Duration) IRecordStore {
	return &redisRecordStore{client: client, ttl: ttl}
}

func (s *redisRecordStore) Get(ctx context.Context, key string) (entity.IdempotencyRecord, bool, error) {
	var rec entity.IdempotencyRecord
	err := s.client.GetJSON(ctx, recordKeyPrefix+key, &rec)
	if errors.Is(err, redis.ErrNotFound) {
		return entity.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return entity.IdempotencyRecord{}, false, fmt.Errorf("get idempotency record %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *redisRecordStore) Put(ctx context.Context, record entity.IdempotencyRecord) error {
	if err := s.client.SetJSON(ctx, recordKeyPrefix+record.Key, record, s.ttl); err != nil {
		return fmt.Errorf("put idempotency record %s: %w", record.Key, err)
	}
	return nil
}
