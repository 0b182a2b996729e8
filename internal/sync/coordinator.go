package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetsync/internal/config"
	"fleetsync/internal/logger"
	"fleetsync/internal/store"
)

// Coordinator owns the process-wide connectivity and sync state: whether the
// backend is reachable, whether a drain pass is in flight, and how many
// mutations are waiting. One instance per process, explicitly constructed and
// injected into its consumers.
type Coordinator struct {
	store       store.Store
	backend     Backend
	itemTimeout time.Duration

	mu           sync.Mutex
	online       bool
	syncing      bool
	pendingCount int
	lastSyncTime time.Time
	listeners    []Listener
}

func NewCoordinator(st store.Store, be Backend, cfg config.SyncConfig) *Coordinator {
	return &Coordinator{
		store:       st,
		backend:     be,
		itemTimeout: cfg.GetItemTimeout(),
	}
}

// Init rebuilds transient state at process start: the initial pending count
// comes from the durable queue, the initial reachability from the monitor's
// first probe (via InitOnline).
func (c *Coordinator) Init(ctx context.Context) error {
	count, err := c.store.QueueCountUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("failed to read initial queue count: %w", err)
	}
	c.mu.Lock()
	c.pendingCount = count
	c.mu.Unlock()

	if count > 0 {
		logger.Log.Info("Pending mutations found in queue", zap.Int("count", count))
	}
	return nil
}

// InitOnline seeds the reachability state without firing transition side
// effects. Used once at startup; later changes go through SetOnline.
func (c *Coordinator) InitOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

// SetOnline records a reachability transition. Going from offline to online
// triggers exactly one drain attempt; the drain's own guard makes overlapping
// attempts no-ops.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	c.mu.Unlock()

	if online {
		logger.Log.Info("Connectivity restored")
		c.notify(Event{Type: EventOnline})
		go func() {
			if err := c.Drain(context.Background()); err != nil {
				logger.Log.Error("Drain after reconnect failed", zap.Error(err))
			}
		}()
	} else {
		logger.Log.Info("Connectivity lost, writes will be queued")
		c.notify(Event{Type: EventOffline})
	}
}

func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Coordinator) IsSyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing
}

func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCount
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Online:       c.online,
		Syncing:      c.syncing,
		PendingCount: c.pendingCount,
	}
	if !c.lastSyncTime.IsZero() {
		t := c.lastSyncTime
		s.LastSyncTime = &t
	}
	return s
}

// Subscribe registers a listener for sync events.
func (c *Coordinator) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) notify(e Event) {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
}

// QueueAction is the single write path. When online it tries the remote call
// immediately; any failure degrades to queueing instead of surfacing a hard
// error, so a user-initiated write is never lost, only delayed.
func (c *Coordinator) QueueAction(ctx context.Context, action store.Action, resource string, payload any, opts QueueOptions) (QueueResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return QueueResult{}, fmt.Errorf("invalid payload for %s %s: %w", action, resource, err)
	}

	// The idempotency key is fixed before the first attempt so a replay of
	// the same logical write always carries the same key.
	clientKey := uuid.New().String()

	if !opts.ForceQueue && c.IsOnline() {
		if err := c.apply(ctx, action, resource, raw, clientKey); err == nil {
			return QueueResult{Synced: true}, nil
		} else {
			logger.Log.Warn("Immediate write failed, queuing",
				zap.String("action", string(action)),
				zap.String("resource", resource),
				zap.Error(err),
			)
		}
	}

	m := &store.QueuedMutation{
		ClientKey: clientKey,
		Action:    action,
		Resource:  resource,
		Payload:   raw,
	}
	if _, err := c.store.QueueAppend(ctx, m); err != nil {
		return QueueResult{}, err
	}

	pending := c.refreshPendingCount(ctx)
	c.notify(Event{Type: EventQueued, Count: pending})

	return QueueResult{Queued: true}, nil
}

// refreshPendingCount recomputes the user-visible pending indicator. Failed
// mutations still count: they are unresolved until retried or discarded.
func (c *Coordinator) refreshPendingCount(ctx context.Context) int {
	count, err := c.store.QueueCountUnresolved(ctx)
	if err != nil {
		logger.Log.Error("Failed to refresh pending count", zap.Error(err))
		return c.PendingCount()
	}
	c.mu.Lock()
	c.pendingCount = count
	c.mu.Unlock()
	return count
}
