package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

type MutationStatus string

const (
	StatusPending MutationStatus = "pending"
	StatusFailed  MutationStatus = "failed"
)

// CacheEntry is the last known-good snapshot of a named dataset. At most one
// entry exists per key; writes overwrite, never merge.
type CacheEntry struct {
	Key      string          `db:"cache_key"`
	Value    json.RawMessage `db:"value"`
	StoredAt time.Time       `db:"stored_at"`
}

// QueuedMutation is a durable record of a write that could not (or should
// not) be applied immediately. IDs are auto-assigned in insertion order, so
// ascending id order is enqueue order.
type QueuedMutation struct {
	ID         int64           `db:"id"`
	ClientKey  string          `db:"client_key"` // idempotency key, set at enqueue time
	Action     Action          `db:"action"`
	Resource   string          `db:"resource"`
	Payload    json.RawMessage `db:"payload"`
	Status     MutationStatus  `db:"status"`
	Attempts   int             `db:"attempts"`
	LastError  sql.NullString  `db:"last_error"`
	EnqueuedAt time.Time       `db:"enqueued_at"`
}
