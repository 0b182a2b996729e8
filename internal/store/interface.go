package store

import (
	"context"
	"encoding/json"
	"time"
)

type Store interface {
	// Cache
	CacheGet(ctx context.Context, key string) (*CacheEntry, error)
	CacheSet(ctx context.Context, key string, value any) error
	CacheGetFresh(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, error)
	CacheDelete(ctx context.Context, key string) error
	CacheClear(ctx context.Context) error

	// Mutation queue
	QueueAppend(ctx context.Context, m *QueuedMutation) (int64, error)
	QueueListPending(ctx context.Context) ([]*QueuedMutation, error)
	QueueListFailed(ctx context.Context) ([]*QueuedMutation, error)
	QueueCount(ctx context.Context) (int, error)
	QueueCountUnresolved(ctx context.Context) (int, error)
	QueueRemove(ctx context.Context, id int64) error
	QueueMarkFailed(ctx context.Context, id int64, errorMessage string) error
	QueueRetry(ctx context.Context, id int64) error
	QueueClear(ctx context.Context) error

	// General
	Close() error
}
