package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Backend is the remote collaborator the engine replays mutations against.
// Transport details (REST paths, auth, envelopes) live behind it.
type Backend interface {
	Insert(ctx context.Context, resource string, record json.RawMessage, idempotencyKey string) error
	Update(ctx context.Context, resource, id string, patch json.RawMessage) error
	Delete(ctx context.Context, resource, id string) error
	List(ctx context.Context, resource string, filters map[string]string) (json.RawMessage, error)
	GetByID(ctx context.Context, resource, id string) (json.RawMessage, error)
}

type EventType string

const (
	EventOnline     EventType = "online"
	EventOffline    EventType = "offline"
	EventQueued     EventType = "queued"
	EventSynced     EventType = "synced"
	EventSyncFailed EventType = "sync_failed"
)

// Event is a soft notification for observers (UI indicators, logs). Count
// carries the synced-mutation count for EventSynced and the pending count for
// EventQueued.
type Event struct {
	Type  EventType
	Count int
	Err   error
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] count=%d", e.Type, e.Count)
}

// Listener receives sync events. Listeners must not block.
type Listener func(Event)

// QueueResult reports how a write was handled: applied remotely right away,
// or parked in the durable queue.
type QueueResult struct {
	Synced bool `json:"synced"`
	Queued bool `json:"queued"`
}

type QueueOptions struct {
	ForceQueue bool
}

// Status is a point-in-time snapshot of the connectivity and sync state.
type Status struct {
	Online       bool       `json:"online"`
	Syncing      bool       `json:"syncing"`
	PendingCount int        `json:"pending_count"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}
