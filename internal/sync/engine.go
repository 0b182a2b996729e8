package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/logger"
	"fleetsync/internal/store"
)

// Drain replays all currently-pending mutations against the backend in
// enqueue order. At most one pass runs at a time; a second call while a pass
// is in flight is a no-op, as is any call while offline. One item's failure
// marks that item FAILED and moves on so later, independent mutations still
// replay. Mutations enqueued during the pass wait for the next trigger.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	if c.syncing || !c.online {
		c.mu.Unlock()
		return nil
	}
	c.syncing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	items, err := c.store.QueueListPending(ctx)
	if err != nil {
		c.notify(Event{Type: EventSyncFailed, Err: err})
		return fmt.Errorf("drain aborted: %w", err)
	}

	applied := 0
	for _, item := range items {
		itemCtx, cancel := context.WithTimeout(ctx, c.itemTimeout)
		applyErr := c.apply(itemCtx, item.Action, item.Resource, item.Payload, item.ClientKey)
		cancel()

		if applyErr != nil {
			logger.Log.Warn("Failed to sync queued mutation",
				zap.Int64("id", item.ID),
				zap.String("action", string(item.Action)),
				zap.String("resource", item.Resource),
				zap.Error(applyErr),
			)
			if err := c.store.QueueMarkFailed(ctx, item.ID, applyErr.Error()); err != nil {
				c.notify(Event{Type: EventSyncFailed, Err: err})
				return fmt.Errorf("drain aborted: %w", err)
			}
			continue
		}

		if err := c.store.QueueRemove(ctx, item.ID); err != nil {
			c.notify(Event{Type: EventSyncFailed, Err: err})
			return fmt.Errorf("drain aborted: %w", err)
		}
		applied++
	}

	c.refreshPendingCount(ctx)

	c.mu.Lock()
	c.lastSyncTime = time.Now()
	c.mu.Unlock()

	if applied > 0 {
		logger.Log.Info("Synced queued mutations", zap.Int("count", applied))
		c.notify(Event{Type: EventSynced, Count: applied})
	}
	return nil
}

// RetryMutation puts a failed mutation back into the pending set and kicks
// off a drain. The replay reuses the original idempotency key.
func (c *Coordinator) RetryMutation(ctx context.Context, id int64) error {
	if err := c.store.QueueRetry(ctx, id); err != nil {
		return err
	}
	c.refreshPendingCount(ctx)
	return c.Drain(ctx)
}

// DiscardMutation drops a queue item without applying it.
func (c *Coordinator) DiscardMutation(ctx context.Context, id int64) error {
	if err := c.store.QueueRemove(ctx, id); err != nil {
		return err
	}
	c.refreshPendingCount(ctx)
	return nil
}

// ClearQueue discards every queued mutation, pending and failed.
func (c *Coordinator) ClearQueue(ctx context.Context) error {
	if err := c.store.QueueClear(ctx); err != nil {
		return err
	}
	c.refreshPendingCount(ctx)
	return nil
}

func (c *Coordinator) apply(ctx context.Context, action store.Action, resource string, payload json.RawMessage, clientKey string) error {
	switch action {
	case store.ActionInsert:
		return c.backend.Insert(ctx, resource, payload, clientKey)

	case store.ActionUpdate:
		id, patch, err := splitUpdatePayload(payload)
		if err != nil {
			return err
		}
		return c.backend.Update(ctx, resource, id, patch)

	case store.ActionDelete:
		id, err := extractID(payload)
		if err != nil {
			return err
		}
		return c.backend.Delete(ctx, resource, id)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

// splitUpdatePayload pulls the target id out of an UPDATE payload; the
// remaining fields form the patch.
func splitUpdatePayload(payload json.RawMessage) (string, json.RawMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", nil, fmt.Errorf("invalid update payload: %w", err)
	}

	id, err := idToString(fields["id"])
	if err != nil {
		return "", nil, err
	}
	delete(fields, "id")

	patch, err := json.Marshal(fields)
	if err != nil {
		return "", nil, fmt.Errorf("invalid update payload: %w", err)
	}
	return id, patch, nil
}

func extractID(payload json.RawMessage) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	return idToString(fields["id"])
}

func idToString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("payload has empty id")
		}
		return id, nil
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	case nil:
		return "", fmt.Errorf("payload is missing id")
	default:
		return "", fmt.Errorf("payload has unsupported id type %T", v)
	}
}
