package messaging

import (
	"context"
	"fmt"
	"time"

	"support_server/core/port/out"
)

// KeyStore is the subset of a key-value cache needed for dedupe.
// Implemented by cache.RedisCache and cache.MemoryCache.
type KeyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// ProcessedStore remembers ingested source message ids for ttl.
type ProcessedStore struct {
	store KeyStore
	ttl   time.Duration
}

func NewProcessedStore(store KeyStore, ttl time.Duration) *ProcessedStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &ProcessedStore{store: store, ttl: ttl}
}

func processedKey(source, messageID string) string {
	return fmt.Sprintf("processed:%s:%s", source, messageID)
}

func (p *ProcessedStore) IsProcessed(ctx context.Context, source, messageID string) (bool, error) {
	return p.store.Exists(ctx, processedKey(source, messageID))
}

// MarkProcessed is idempotent; marking an already known id is not an error.
func (p *ProcessedStore) MarkProcessed(ctx context.Context, source, messageID string) error {
	_, err := p.store.SetNX(ctx, processedKey(source, messageID), time.Now().UTC().Format(time.RFC3339), p.ttl)
	return err
}

var _ out.ProcessedStore = (*ProcessedStore)(nil)
