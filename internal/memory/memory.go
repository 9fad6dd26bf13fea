package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/db"
	"github.com/brickworks/orchestrator/internal/metrics"
)

// Item is one stored memory entry
type Item struct {
	Key       string                 `json:"key"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Service stores analysis artifacts durably with a Redis read-through cache.
// Postgres is the source of truth; the cache only shortens reads.
type Service struct {
	store    *db.MemoryStore
	cache    redis.UniversalClient
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewService creates a memory service. cache may be nil.
func NewService(store *db.MemoryStore, cache redis.UniversalClient, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		cacheTTL: 15 * time.Minute,
		logger:   logger,
	}
}

func cacheKey(key string) string {
	return fmt.Sprintf("memory:%s", key)
}

// Put upserts an item by key and refreshes the cache
func (s *Service) Put(ctx context.Context, item Item) error {
	if item.Key == "" {
		return fmt.Errorf("memory key cannot be empty")
	}

	rec := db.MemoryRecord{
		Key:       item.Key,
		Content:   item.Content,
		Metadata:  db.JSONB(item.Metadata),
		CreatedAt: item.CreatedAt,
	}
	if err := s.store.Put(ctx, &rec); err != nil {
		return err
	}
	metrics.MemoryItemsStored.Inc()

	s.cachePut(ctx, *recordToItem(&rec))
	return nil
}

// Get returns an item by key, preferring the cache
func (s *Service) Get(ctx context.Context, key string) (*Item, error) {
	if s.cache != nil {
		data, err := s.cache.Get(ctx, cacheKey(key)).Bytes()
		if err == nil {
			var item Item
			if jerr := json.Unmarshal(data, &item); jerr == nil {
				metrics.MemoryCacheHits.Inc()
				return &item, nil
			}
		}
		metrics.MemoryCacheMisses.Inc()
	}

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	item := recordToItem(rec)

	s.cachePut(ctx, *item)
	return item, nil
}

// List returns the most recently updated items
func (s *Service) List(ctx context.Context, limit int) ([]Item, error) {
	recs, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(recs))
	for i := range recs {
		items = append(items, *recordToItem(&recs[i]))
	}
	return items, nil
}

func (s *Service) cachePut(ctx context.Context, item Item) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(item)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(item.Key), data, s.cacheTTL).Err(); err != nil {
		s.logger.Debug("Memory cache write failed",
			zap.String("key", item.Key),
			zap.Error(err),
		)
	}
}

func recordToItem(rec *db.MemoryRecord) *Item {
	return &Item{
		Key:       rec.Key,
		Content:   rec.Content,
		Metadata:  map[string]interface{}(rec.Metadata),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
